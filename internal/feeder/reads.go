package feeder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// SessionInfo describes the vendor session without its tokens.
type SessionInfo struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session returns the cached session, logging in when there is none.
func (s *Service) Session(ctx context.Context, force bool) (SessionInfo, error) {
	sess, err := cache.Fetch(ctx, s.cache, cache.AuthKey(s.email), s.ttl.Auth, force, s.vendor.EnsureSession)
	if err != nil {
		s.onError(err)
		return SessionInfo{}, err
	}
	return SessionInfo{Email: sess.Email, ExpiresAt: sess.ExpiresAt}, nil
}

// Devices returns the feeders on the account.
func (s *Service) Devices(ctx context.Context, force bool) ([]petlibro.DeviceRecord, error) {
	devices, err := cache.Fetch(ctx, s.cache, cache.DevicesKey(s.email), s.ttl.DeviceList, force, s.vendor.ListDevices)
	if err != nil {
		s.onError(err)
		return nil, err
	}
	return devices, nil
}

// Snapshot returns the real-time state of a feeder. force reads from the
// vendor even when a cached snapshot is live.
func (s *Service) Snapshot(ctx context.Context, deviceID string, force bool) (petlibro.Snapshot, error) {
	id, err := s.ResolveDevice(ctx, deviceID)
	if err != nil {
		return petlibro.Snapshot{}, err
	}
	snap, err := s.snapshot(ctx, id, force)
	if err != nil {
		return petlibro.Snapshot{}, err
	}
	s.watch(id)
	return snap, nil
}

func (s *Service) snapshot(ctx context.Context, deviceID string, force bool) (petlibro.Snapshot, error) {
	snap, err := cache.Fetch(ctx, s.cache, cache.RealInfoKey(deviceID), s.ttl.RealInfo, force,
		func(ctx context.Context) (petlibro.Snapshot, error) {
			return s.vendor.RealInfo(ctx, deviceID)
		})
	if err != nil {
		s.onError(err)
		return petlibro.Snapshot{}, err
	}
	return snap, nil
}

// watch starts background refresh of a device's snapshot the first time
// it is read.
func (s *Service) watch(deviceID string) {
	if !s.refresh {
		return
	}

	s.mu.Lock()
	if s.closed || s.watched[deviceID] {
		s.mu.Unlock()
		return
	}
	s.watched[deviceID] = true
	s.mu.Unlock()

	err := s.cache.StartBackgroundRefresh(cache.RealInfoKey(deviceID), s.refreshInterval,
		func(ctx context.Context) (any, error) {
			return s.vendor.RealInfo(ctx, deviceID)
		}, s.ttl.RealInfo)
	if err != nil {
		s.logger.Warn("starting snapshot refresh failed", "device_id", deviceID, "error", err)
		return
	}
	s.logger.Debug("snapshot refresh started", "device_id", deviceID, "interval", s.refreshInterval)
}

// TrayPercentage returns the tray position of a feeder as 0, 50 or 100.
func (s *Service) TrayPercentage(ctx context.Context, deviceID string) (int, error) {
	snap, err := s.Snapshot(ctx, deviceID, false)
	if err != nil {
		return 0, err
	}
	return tray.PositionToPercentage(snap.TrayPosition), nil
}

// feedingData reads one kind of feeding data through the cache.
func (s *Service) feedingData(ctx context.Context, deviceID string, key func(string) string, force bool,
	fetch func(ctx context.Context, deviceID string) (json.RawMessage, error),
) (json.RawMessage, error) {
	id, err := s.ResolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	data, err := cache.Fetch(ctx, s.cache, key(id), s.ttl.FeedingStatus, force,
		func(ctx context.Context) (json.RawMessage, error) {
			return fetch(ctx, id)
		})
	if err != nil {
		s.onError(err)
		return nil, err
	}
	return data, nil
}

func feedingDataKey(kind string) func(string) string {
	return func(deviceID string) string { return cache.FeedingDataKey(deviceID, kind) }
}

// FeedingPlanToday returns today's feeding plan.
func (s *Service) FeedingPlanToday(ctx context.Context, deviceID string, force bool) (json.RawMessage, error) {
	return s.feedingData(ctx, deviceID, cache.FeedingStatusKey, force, s.vendor.FeedingPlanToday)
}

// GrainStatus returns the food level and today's dispensing totals.
func (s *Service) GrainStatus(ctx context.Context, deviceID string, force bool) (json.RawMessage, error) {
	return s.feedingData(ctx, deviceID, feedingDataKey("grain"), force, s.vendor.GrainStatus)
}

// WetFeedingPlan returns the wet-food schedule.
func (s *Service) WetFeedingPlan(ctx context.Context, deviceID string, force bool) (json.RawMessage, error) {
	return s.feedingData(ctx, deviceID, feedingDataKey("wet"), force, s.vendor.WetFeedingPlan)
}

// WorkRecord returns the device's recent work log.
func (s *Service) WorkRecord(ctx context.Context, deviceID string, force bool) (json.RawMessage, error) {
	return s.feedingData(ctx, deviceID, feedingDataKey("work"), force, s.vendor.WorkRecord)
}

// DefaultMatrix returns the device's default feeding matrix.
func (s *Service) DefaultMatrix(ctx context.Context, deviceID string, force bool) (json.RawMessage, error) {
	return s.feedingData(ctx, deviceID, feedingDataKey("matrix"), force, s.vendor.DefaultMatrix)
}
