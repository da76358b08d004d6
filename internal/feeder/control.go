package feeder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// Control action names, used as dedupe keys and in the history.
const (
	ActionFeedStart = "feed_start"
	ActionFeedStop  = "feed_stop"
	ActionFeed      = "feed"
	ActionRotate    = "rotate"
	ActionSetTray   = "set_tray"
	ActionPlayAudio = "play_audio"
	ActionSetting   = "setting"
)

type sourceKey struct{}

// WithSource tags ctx with the origin of a control action (audit.SourceAPI,
// audit.SourceMQTT, ...) for the history.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return audit.SourceSystem
}

// control runs one control action on a device: resolve, lock, dedupe,
// perform, then invalidate and record. fn returns details for the history.
func (s *Service) control(ctx context.Context, action, deviceID string, feedAction bool,
	fn func(ctx context.Context, deviceID string) (map[string]any, error),
) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}

	id, err := s.ResolveDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}

	lock := s.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	dedupeKey := cache.ControlActionKey(action, id)
	if _, recent := s.cache.Peek(dedupeKey); recent {
		s.logger.Info("duplicate control action suppressed", "device_id", id, "action", action)
		return id, fmt.Errorf("%w: %s on %s", ErrDuplicateAction, action, id)
	}

	details, err := fn(ctx, id)
	s.record(ctx, action, id, details, err)
	if err != nil {
		s.onError(err)
		s.logger.Warn("control action failed",
			"device_id", id,
			"action", action,
			"error_kind", petlibro.KindOf(err),
			"error", err,
		)
		return id, err
	}

	s.cache.Invalidate(cache.RealInfoKey(id))
	if feedAction {
		s.cache.Invalidate(cache.FeedingStatusKey(id))
	}
	s.cache.Set(dedupeKey, true, s.ttl.ControlAction)

	s.logger.Info("control action completed", "device_id", id, "action", action)
	return id, nil
}

func (s *Service) record(ctx context.Context, action, deviceID string, details map[string]any, err error) {
	if s.history == nil {
		return
	}
	a := audit.Action{
		DeviceID: deviceID,
		Action:   action,
		Source:   sourceFrom(ctx),
		Success:  err == nil,
		Details:  details,
	}
	if err != nil {
		a.ErrorKind = string(petlibro.KindOf(err))
		if a.Details == nil {
			a.Details = map[string]any{}
		}
		a.Details["error"] = err.Error()
	}
	s.history.Record(a)
}

// StartFeed opens the feeder and remembers the feed session so StopFeed
// can close it.
func (s *Service) StartFeed(ctx context.Context, deviceID string) (petlibro.FeedSession, error) {
	var sess petlibro.FeedSession
	_, err := s.control(ctx, ActionFeedStart, deviceID, true, func(ctx context.Context, id string) (map[string]any, error) {
		var err error
		sess, err = s.vendor.StartManualFeed(ctx, id)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.feeds[id] = sess
		s.mu.Unlock()
		return map[string]any{"feed_id": sess.FeedID, "placeholder": sess.Placeholder}, nil
	})
	return sess, err
}

// StopFeed closes the feeder. With an empty feedID the session recorded by
// StartFeed is used. A successful stop forgets the session; a failed one
// keeps it for a retry.
func (s *Service) StopFeed(ctx context.Context, deviceID, feedID string) (petlibro.StopResult, error) {
	var res petlibro.StopResult
	_, err := s.control(ctx, ActionFeedStop, deviceID, true, func(ctx context.Context, id string) (map[string]any, error) {
		stopID := feedID
		if stopID == "" {
			sess, ok := s.ActiveFeed(id)
			if !ok {
				return nil, fmt.Errorf("%w: no feed in progress on %s", petlibro.ErrState, id)
			}
			stopID = sess.FeedID
		}

		var err error
		res, err = s.vendor.StopManualFeed(ctx, id, stopID)
		if err != nil {
			return map[string]any{"feed_id": stopID}, err
		}
		s.AbandonFeed(id)
		return map[string]any{"feed_id": res.FeedID, "strategy": res.Strategy}, nil
	})
	return res, err
}

// ActiveFeed returns the feed session recorded for a device.
func (s *Service) ActiveFeed(deviceID string) (petlibro.FeedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.feeds[deviceID]
	return sess, ok
}

// AbandonFeed forgets the feed session of a device without stopping it.
// It reports whether there was one.
func (s *Service) AbandonFeed(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[deviceID]
	delete(s.feeds, deviceID)
	return ok
}

// RotateOnce advances the tray by one position.
func (s *Service) RotateOnce(ctx context.Context, deviceID string) error {
	_, err := s.control(ctx, ActionRotate, deviceID, false, func(ctx context.Context, id string) (map[string]any, error) {
		return nil, s.vendor.RotateTray(ctx, id)
	})
	return err
}

// PlayAudio plays the feeding call.
func (s *Service) PlayAudio(ctx context.Context, deviceID string) error {
	_, err := s.control(ctx, ActionPlayAudio, deviceID, false, func(ctx context.Context, id string) (map[string]any, error) {
		return nil, s.vendor.PlayAudio(ctx, id)
	})
	return err
}

// Feed dispenses portions of dry food. portions <= 0 uses the configured
// default. It returns the vendor request id.
func (s *Service) Feed(ctx context.Context, deviceID string, portions int) (string, error) {
	if portions <= 0 {
		portions = s.portions
	}
	var requestID string
	_, err := s.control(ctx, ActionFeed, deviceID, true, func(ctx context.Context, id string) (map[string]any, error) {
		var err error
		requestID, err = s.vendor.ManualFeeding(ctx, id, portions)
		return map[string]any{"portions": portions, "request_id": requestID}, err
	})
	return requestID, err
}

// SetTrayPosition rotates the tray to the position for pct (0..100).
func (s *Service) SetTrayPosition(ctx context.Context, deviceID string, pct int) (tray.Outcome, error) {
	target := tray.PercentageToPosition(pct)
	var out tray.Outcome
	_, err := s.control(ctx, ActionSetTray, deviceID, false, func(ctx context.Context, id string) (map[string]any, error) {
		var err error
		out, err = s.planner.Execute(ctx, id, target)
		details := map[string]any{
			"percentage": pct,
			"target":     target,
			"steps":      out.Plan.Steps,
			"estimated":  out.Estimated,
			"reconciled": out.Reconciled,
		}
		return details, err
	})
	return out, err
}

// ApplySetting changes one device setting.
func (s *Service) ApplySetting(ctx context.Context, deviceID string, setting petlibro.Setting) (json.RawMessage, error) {
	var data json.RawMessage
	action := ActionSetting + ":" + setting.Endpoint
	_, err := s.control(ctx, action, deviceID, false, func(ctx context.Context, id string) (map[string]any, error) {
		var err error
		data, err = s.vendor.ApplySetting(ctx, id, setting)
		details := map[string]any{"endpoint": setting.Endpoint}
		if setting.Value != nil {
			details["value"] = setting.Value
		}
		return details, err
	})
	return data, err
}

// rotator gives the tray planner raw, unlocked access to the device. The
// planner runs inside a control action, which already holds the device
// lock.
type rotator struct {
	s *Service
}

func (r rotator) RotateTray(ctx context.Context, deviceID string) error {
	if err := r.s.vendor.RotateTray(ctx, deviceID); err != nil {
		r.s.onError(err)
		return err
	}
	r.s.cache.Invalidate(cache.RealInfoKey(deviceID))
	return nil
}

func (r rotator) TrayPosition(ctx context.Context, deviceID string) (int, error) {
	snap, err := r.s.snapshot(ctx, deviceID, true)
	if err != nil {
		return 0, err
	}
	return snap.TrayPosition, nil
}
