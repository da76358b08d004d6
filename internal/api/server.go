package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Feeder is the feeder service surface the API exposes. *feeder.Service
// satisfies it.
type Feeder interface {
	Session(ctx context.Context, force bool) (feeder.SessionInfo, error)
	Devices(ctx context.Context, force bool) ([]petlibro.DeviceRecord, error)
	Snapshot(ctx context.Context, deviceID string, force bool) (petlibro.Snapshot, error)
	ActiveFeed(deviceID string) (petlibro.FeedSession, bool)

	FeedingPlanToday(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)
	GrainStatus(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)
	WetFeedingPlan(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)
	WorkRecord(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)
	DefaultMatrix(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)

	StartFeed(ctx context.Context, deviceID string) (petlibro.FeedSession, error)
	StopFeed(ctx context.Context, deviceID, feedID string) (petlibro.StopResult, error)
	Feed(ctx context.Context, deviceID string, portions int) (string, error)
	RotateOnce(ctx context.Context, deviceID string) error
	SetTrayPosition(ctx context.Context, deviceID string, pct int) (tray.Outcome, error)
	PlayAudio(ctx context.Context, deviceID string) error
	ApplySetting(ctx context.Context, deviceID string, setting petlibro.Setting) (json.RawMessage, error)

	CacheStats() cache.Stats
	ResetCacheStats()
}

// HealthChecker is a component whose health is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Feeder  Feeder
	History audit.Repository // optional: /history answers 503 without it

	// Components are reported by /health. Nil entries are skipped.
	Components map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	feeder     Feeder
	history    audit.Repository
	components map[string]HealthChecker
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Feeder == nil {
		return nil, fmt.Errorf("feeder service is required")
	}

	components := make(map[string]HealthChecker, len(deps.Components))
	for name, c := range deps.Components {
		if c != nil {
			components[name] = c
		}
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		feeder:     deps.Feeder,
		history:    deps.History,
		components: components,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return fmt.Errorf("API server not started")
	}
	return nil
}
