package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

// fakeVendor simulates one account with rotating-tray feeders.
type fakeVendor struct {
	mu       sync.Mutex
	devices  []petlibro.DeviceRecord
	position map[string]int
	feedID   string
	calls    map[string]int
	errs     map[string]error

	// rotateDelay slows RotateTray to expose interleaving.
	rotateDelay time.Duration
	trace       []string
}

func newFakeVendor(ids ...string) *fakeVendor {
	f := &fakeVendor{
		position: make(map[string]int),
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		feedID:   "7781",
	}
	for _, id := range ids {
		f.devices = append(f.devices, petlibro.DeviceRecord{ID: id, Model: "PLAF109"})
	}
	return f
}

func (f *fakeVendor) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeVendor) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeVendor) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeVendor) setPosition(id string, p int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position[id] = p
}

func (f *fakeVendor) EnsureSession(context.Context) (petlibro.Session, error) {
	if err := f.hit("EnsureSession"); err != nil {
		return petlibro.Session{}, err
	}
	return petlibro.Session{Email: "owner@example.com", AccessToken: "abc123", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeVendor) ListDevices(context.Context) ([]petlibro.DeviceRecord, error) {
	if err := f.hit("ListDevices"); err != nil {
		return nil, err
	}
	return append([]petlibro.DeviceRecord(nil), f.devices...), nil
}

func (f *fakeVendor) RealInfo(_ context.Context, id string) (petlibro.Snapshot, error) {
	if err := f.hit("RealInfo"); err != nil {
		return petlibro.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return petlibro.Snapshot{
		DeviceID:     id,
		TrayPosition: f.position[id],
		Temperature:  4.5,
		FetchedAt:    time.Now(),
	}, nil
}

func (f *fakeVendor) raw(method, id string) (json.RawMessage, error) {
	if err := f.hit(method); err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"method":%q,"device":%q}`, method, id)), nil
}

func (f *fakeVendor) GrainStatus(_ context.Context, id string) (json.RawMessage, error) {
	return f.raw("GrainStatus", id)
}

func (f *fakeVendor) FeedingPlanToday(_ context.Context, id string) (json.RawMessage, error) {
	return f.raw("FeedingPlanToday", id)
}

func (f *fakeVendor) WetFeedingPlan(_ context.Context, id string) (json.RawMessage, error) {
	return f.raw("WetFeedingPlan", id)
}

func (f *fakeVendor) WorkRecord(_ context.Context, id string) (json.RawMessage, error) {
	return f.raw("WorkRecord", id)
}

func (f *fakeVendor) DefaultMatrix(_ context.Context, id string) (json.RawMessage, error) {
	return f.raw("DefaultMatrix", id)
}

func (f *fakeVendor) StartManualFeed(_ context.Context, id string) (petlibro.FeedSession, error) {
	if err := f.hit("StartManualFeed"); err != nil {
		return petlibro.FeedSession{}, err
	}
	return petlibro.FeedSession{DeviceID: id, FeedID: f.feedID, Placeholder: petlibro.IsPlaceholderFeedID(f.feedID)}, nil
}

func (f *fakeVendor) StopManualFeed(_ context.Context, id, feedID string) (petlibro.StopResult, error) {
	if err := f.hit("StopManualFeed"); err != nil {
		return petlibro.StopResult{}, err
	}
	f.mu.Lock()
	f.trace = append(f.trace, "stop:"+feedID)
	f.mu.Unlock()
	return petlibro.StopResult{DeviceID: id, FeedID: feedID, Strategy: petlibro.StrategyDirect}, nil
}

func (f *fakeVendor) RotateTray(_ context.Context, id string) error {
	if err := f.hit("RotateTray"); err != nil {
		return err
	}
	f.mu.Lock()
	f.trace = append(f.trace, "rotate-begin:"+id)
	delay := f.rotateDelay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.position[id] = (f.position[id] + 1) % petlibro.TrayPositions
	f.trace = append(f.trace, "rotate-end:"+id)
	return nil
}

func (f *fakeVendor) PlayAudio(context.Context, string) error {
	return f.hit("PlayAudio")
}

func (f *fakeVendor) ManualFeeding(_ context.Context, _ string, portions int) (string, error) {
	if err := f.hit("ManualFeeding"); err != nil {
		return "", err
	}
	return fmt.Sprintf("req-%d", portions), nil
}

func (f *fakeVendor) ApplySetting(_ context.Context, _ string, s petlibro.Setting) (json.RawMessage, error) {
	if err := f.hit("ApplySetting"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"endpoint":"` + s.Endpoint + `"}`), nil
}

// memHistory collects recorded actions.
type memHistory struct {
	mu      sync.Mutex
	actions []audit.Action
	closed  int
}

func (h *memHistory) Record(a audit.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
}

func (h *memHistory) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *memHistory) all() []audit.Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]audit.Action(nil), h.actions...)
}

// recordingLogger captures warnings.
type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}
