package feeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

func newTestService(t *testing.T, vendor *fakeVendor, opts Options) *Service {
	t.Helper()
	if opts.Email == "" {
		opts.Email = "owner@example.com"
	}
	s := New(vendor, opts)
	t.Cleanup(s.Close)
	return s
}

func TestDevices_CachedAfterFirstRead(t *testing.T) {
	vendor := newFakeVendor("SN1", "SN2")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	first, err := s.Devices(ctx, false)
	require.NoError(t, err)
	second, err := s.Devices(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, vendor.count("ListDevices"))
	stats := s.CacheStats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Hits)

	_, err = s.Devices(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, vendor.count("ListDevices"))
}

func TestResolveDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit id is used as given", func(t *testing.T) {
		vendor := newFakeVendor("SN1")
		s := newTestService(t, vendor, Options{DeviceID: "SN1"})
		id, err := s.ResolveDevice(ctx, "SN7")
		require.NoError(t, err)
		assert.Equal(t, "SN7", id)
		assert.Zero(t, vendor.count("ListDevices"))
	})

	t.Run("configured id present", func(t *testing.T) {
		s := newTestService(t, newFakeVendor("SN1", "SN2"), Options{DeviceID: "SN2"})
		id, err := s.ResolveDevice(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "SN2", id)
	})

	t.Run("configured id absent falls back to first", func(t *testing.T) {
		log := &recordingLogger{}
		s := newTestService(t, newFakeVendor("SN1", "SN2"), Options{DeviceID: "SN9"})
		s.SetLogger(log)

		id, err := s.ResolveDevice(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "SN1", id)
		assert.Equal(t, []string{"configured feeder not found on account, using first device"}, log.warnings())
	})

	t.Run("no configured id uses first", func(t *testing.T) {
		s := newTestService(t, newFakeVendor("SN3", "SN1"), Options{})
		id, err := s.ResolveDevice(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "SN3", id)
	})

	t.Run("empty account", func(t *testing.T) {
		s := newTestService(t, newFakeVendor(), Options{DeviceID: "SN1"})
		_, err := s.ResolveDevice(ctx, "")
		assert.ErrorIs(t, err, petlibro.ErrNotFound)
		assert.Equal(t, petlibro.KindNotFound, petlibro.KindOf(err))
	})
}

func TestSnapshot_FreshAfterMutation(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	snap, err := s.Snapshot(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TrayPosition)

	_, err = s.Snapshot(ctx, "SN1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.count("RealInfo"), "second read is served from cache")

	require.NoError(t, s.RotateOnce(ctx, "SN1"))

	snap, err = s.Snapshot(ctx, "SN1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TrayPosition)
	assert.Equal(t, 2, vendor.count("RealInfo"))

	snap, err = s.Snapshot(ctx, "SN1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TrayPosition)
	assert.Equal(t, 3, vendor.count("RealInfo"))
}

func TestControl_DuplicateSuppressed(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{TTLs: TTLs{ControlAction: 50 * time.Millisecond}})
	ctx := context.Background()

	require.NoError(t, s.RotateOnce(ctx, "SN1"))
	err := s.RotateOnce(ctx, "SN1")
	assert.ErrorIs(t, err, ErrDuplicateAction)
	assert.Equal(t, 1, vendor.count("RotateTray"))

	// A different action or device is not a duplicate.
	require.NoError(t, s.PlayAudio(ctx, "SN1"))
	require.NoError(t, s.RotateOnce(ctx, "SN2"))

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, s.RotateOnce(ctx, "SN1"))
	assert.Equal(t, 3, vendor.count("RotateTray"))
}

func TestControl_FailureIsNotDeduped(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	vendor.fail("PlayAudio", &petlibro.APIError{Endpoint: "/feedAudio", Code: 1009, Msg: "offline"})
	err := s.PlayAudio(ctx, "SN1")
	assert.ErrorIs(t, err, petlibro.ErrAPI)

	vendor.fail("PlayAudio", nil)
	require.NoError(t, s.PlayAudio(ctx, "SN1"))
	assert.Equal(t, 2, vendor.count("PlayAudio"))
}

func TestControl_SerialisedPerDevice(t *testing.T) {
	vendor := newFakeVendor("SN1")
	vendor.rotateDelay = 15 * time.Millisecond
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.SetTrayPosition(ctx, "SN1", 100)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, s.RotateOnce(ctx, "SN1"))
	}()
	wg.Wait()

	vendor.mu.Lock()
	trace := append([]string(nil), vendor.trace...)
	vendor.mu.Unlock()

	require.Len(t, trace, 2*vendor.count("RotateTray"))
	for i := 0; i < len(trace); i += 2 {
		assert.Equal(t, "rotate-begin:SN1", trace[i], "rotations interleaved: %v", trace)
		assert.Equal(t, "rotate-end:SN1", trace[i+1], "rotations interleaved: %v", trace)
	}
}

func TestSetTrayPosition(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	out, err := s.SetTrayPosition(ctx, "SN1", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Plan.Steps)
	assert.Equal(t, 2, out.Actual)
	assert.False(t, out.Reconciled)
	assert.Equal(t, 2, vendor.count("RotateTray"))

	pct, err := s.TrayPercentage(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, 100, pct)
}

func TestSetTrayPosition_AlreadyThere(t *testing.T) {
	vendor := newFakeVendor("SN1")
	vendor.setPosition("SN1", 1)
	s := newTestService(t, vendor, Options{})

	out, err := s.SetTrayPosition(context.Background(), "SN1", 50)
	require.NoError(t, err)
	assert.True(t, out.Plan.Noop())
	assert.Zero(t, vendor.count("RotateTray"))
}

func TestFeedSessionTracking(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{TTLs: TTLs{ControlAction: time.Millisecond}})
	ctx := context.Background()

	_, err := s.StopFeed(ctx, "SN1", "")
	assert.ErrorIs(t, err, petlibro.ErrState)
	assert.Zero(t, vendor.count("StopManualFeed"))

	sess, err := s.StartFeed(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, "7781", sess.FeedID)
	active, ok := s.ActiveFeed("SN1")
	require.True(t, ok)
	assert.Equal(t, sess, active)

	vendor.fail("StopManualFeed", fmt.Errorf("%w: timeout", petlibro.ErrNetwork))
	_, err = s.StopFeed(ctx, "SN1", "")
	assert.ErrorIs(t, err, petlibro.ErrNetwork)
	_, ok = s.ActiveFeed("SN1")
	assert.True(t, ok, "failed stop keeps the session")

	vendor.fail("StopManualFeed", nil)
	res, err := s.StopFeed(ctx, "SN1", "")
	require.NoError(t, err)
	assert.Equal(t, "7781", res.FeedID)
	_, ok = s.ActiveFeed("SN1")
	assert.False(t, ok)
}

func TestFeedSession_PlaceholderPassedThrough(t *testing.T) {
	vendor := newFakeVendor("SN1")
	vendor.feedID = petlibro.PlaceholderPrefix + "SN1_1"
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	sess, err := s.StartFeed(ctx, "SN1")
	require.NoError(t, err)
	assert.True(t, sess.Placeholder)

	_, err = s.StopFeed(ctx, "SN1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"stop:" + vendor.feedID}, vendor.trace)
}

func TestAbandonFeed(t *testing.T) {
	s := newTestService(t, newFakeVendor("SN1"), Options{})
	_, err := s.StartFeed(context.Background(), "SN1")
	require.NoError(t, err)

	assert.True(t, s.AbandonFeed("SN1"))
	assert.False(t, s.AbandonFeed("SN1"))
}

func TestFeed_InvalidatesFeedingStatus(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{Portions: 2})
	ctx := context.Background()

	_, err := s.FeedingPlanToday(ctx, "SN1", false)
	require.NoError(t, err)
	_, err = s.GrainStatus(ctx, "SN1", false)
	require.NoError(t, err)
	_, err = s.FeedingPlanToday(ctx, "SN1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.count("FeedingPlanToday"))

	requestID, err := s.Feed(ctx, "SN1", 0)
	require.NoError(t, err)
	assert.Equal(t, "req-2", requestID)

	_, err = s.FeedingPlanToday(ctx, "SN1", false)
	require.NoError(t, err)
	_, err = s.GrainStatus(ctx, "SN1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, vendor.count("FeedingPlanToday"))
	assert.Equal(t, 2, vendor.count("GrainStatus"))
}

func TestReadOnlyData(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	wet, err := s.WetFeedingPlan(ctx, "", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"WetFeedingPlan","device":"SN1"}`, string(wet))

	work, err := s.WorkRecord(ctx, "SN1", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"WorkRecord","device":"SN1"}`, string(work))

	matrix, err := s.DefaultMatrix(ctx, "SN1", false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"DefaultMatrix","device":"SN1"}`, string(matrix))

	assert.True(t, s.CacheInfo(cache.FeedingDataKey("SN1", "wet")).Exists)
}

func TestApplySetting(t *testing.T) {
	vendor := newFakeVendor("SN1")
	history := &memHistory{}
	s := newTestService(t, vendor, Options{History: history})
	ctx := WithSource(context.Background(), audit.SourceAPI)

	data, err := s.ApplySetting(ctx, "SN1", petlibro.Setting{Endpoint: petlibro.SettingLidCloseTime, Value: 30})
	require.NoError(t, err)
	assert.JSONEq(t, `{"endpoint":"setLidCloseTime"}`, string(data))

	_, err = s.ApplySetting(ctx, "SN1", petlibro.Setting{Endpoint: petlibro.SettingSoundOn})
	require.NoError(t, err, "different endpoints are different actions")

	actions := history.all()
	require.Len(t, actions, 2)
	assert.Equal(t, "setting:setLidCloseTime", actions[0].Action)
	assert.Equal(t, audit.SourceAPI, actions[0].Source)
	assert.Equal(t, 30, actions[0].Details["value"])
}

func TestHistory_RecordsOutcome(t *testing.T) {
	vendor := newFakeVendor("SN1")
	history := &memHistory{}
	s := newTestService(t, vendor, Options{History: history})
	ctx := WithSource(context.Background(), audit.SourceMQTT)

	require.NoError(t, s.RotateOnce(ctx, "SN1"))
	vendor.fail("PlayAudio", fmt.Errorf("%w: i/o timeout", petlibro.ErrNetwork))
	require.Error(t, s.PlayAudio(context.Background(), "SN1"))

	actions := history.all()
	require.Len(t, actions, 2)
	assert.Equal(t, ActionRotate, actions[0].Action)
	assert.True(t, actions[0].Success)
	assert.Equal(t, audit.SourceMQTT, actions[0].Source)

	assert.Equal(t, ActionPlayAudio, actions[1].Action)
	assert.False(t, actions[1].Success)
	assert.Equal(t, "network", actions[1].ErrorKind)
	assert.Equal(t, audit.SourceSystem, actions[1].Source)
	assert.Contains(t, actions[1].Details["error"], "i/o timeout")
}

func TestSession_AuthFailureDropsCachedSession(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{})
	ctx := context.Background()

	info, err := s.Session(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", info.Email)
	_, err = s.Session(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.count("EnsureSession"))

	vendor.fail("RotateTray", fmt.Errorf("%w: HTTP 401", petlibro.ErrAuth))
	require.ErrorIs(t, s.RotateOnce(ctx, "SN1"), petlibro.ErrAuth)

	_, err = s.Session(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, vendor.count("EnsureSession"))
}

func TestBackgroundRefresh(t *testing.T) {
	vendor := newFakeVendor("SN1")
	s := newTestService(t, vendor, Options{BackgroundRefresh: true, RefreshInterval: 10 * time.Millisecond})
	ctx := context.Background()

	_, err := s.Snapshot(ctx, "SN1", false)
	require.NoError(t, err)
	vendor.setPosition("SN1", 2)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx, "SN1", false)
		return err == nil && snap.TrayPosition == 2
	}, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	vendor := newFakeVendor("SN1")
	history := &memHistory{}
	s := New(vendor, Options{History: history, BackgroundRefresh: true, RefreshInterval: 10 * time.Millisecond})

	_, err := s.Snapshot(context.Background(), "SN1", false)
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.Equal(t, 1, history.closed)
	assert.Zero(t, s.CacheStats().Size)
	assert.True(t, errors.Is(s.RotateOnce(context.Background(), "SN1"), ErrClosed))
}
