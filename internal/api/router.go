package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Delete("/stats", s.handleResetCacheStats)
		})

		r.Get("/session", s.handleSession)
		r.Get("/history", s.handleListHistory)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/snapshot", s.handleSnapshot)
				r.Get("/feeding/{kind}", s.handleFeedingData)

				r.Group(func(r chi.Router) {
					r.Use(s.controlSourceMiddleware)

					r.Post("/feed/start", s.handleFeedStart)
					r.Post("/feed/stop", s.handleFeedStop)
					r.Post("/feed", s.handleFeed)
					r.Post("/rotate", s.handleRotate)
					r.Post("/tray", s.handleSetTray)
					r.Post("/audio", s.handlePlayAudio)
					r.Post("/settings/{endpoint}", s.handleApplySetting)
				})
			})
		})
	})

	return r
}
