package petfeeder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu           sync.Mutex
	published    []mockPublish
	subscribed   []string
	unsubscribed []string
	connected    bool
	handler      mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, topic)
	m.handler = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateCommand delivers a command as if published on the broker.
func (m *MockMQTTClient) SimulateCommand(deviceID string, cmd CommandMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	return handler(mqtt.Topics{}.BridgeCommand(Protocol, deviceID), payload)
}

// On returns every message published on topic, decoded into T.
func On[T any](m *MockMQTTClient, topic string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []T
	for _, p := range m.published {
		if p.Topic != topic {
			continue
		}
		var v T
		if err := json.Unmarshal(p.Payload, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func (m *MockMQTTClient) retained(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.published {
		if p.Topic == topic {
			return p.Retained
		}
	}
	return false
}

// fakeController implements Controller over in-memory feeders.
type fakeController struct {
	mu        sync.Mutex
	devices   []petlibro.DeviceRecord
	positions map[string]int
	feeds     map[string]petlibro.FeedSession
	errs      map[string]error
	calls     []string

	portions []int
	percents []int
	settings []petlibro.Setting
	stopIDs  []string
}

func newFakeController(ids ...string) *fakeController {
	f := &fakeController{
		positions: make(map[string]int),
		feeds:     make(map[string]petlibro.FeedSession),
		errs:      make(map[string]error),
	}
	for _, id := range ids {
		f.devices = append(f.devices, petlibro.DeviceRecord{ID: id, Model: "PLAF109"})
	}
	return f
}

func (f *fakeController) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.errs[method]
}

func (f *fakeController) setErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeController) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeController) Devices(context.Context, bool) ([]petlibro.DeviceRecord, error) {
	if err := f.hit("Devices"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]petlibro.DeviceRecord(nil), f.devices...), nil
}

func (f *fakeController) Snapshot(_ context.Context, deviceID string, _ bool) (petlibro.Snapshot, error) {
	if err := f.hit("Snapshot"); err != nil {
		return petlibro.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return petlibro.Snapshot{
		DeviceID:     deviceID,
		TrayPosition: f.positions[deviceID],
		Temperature:  4.5,
		FetchedAt:    time.Date(2026, 9, 21, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeController) ActiveFeed(deviceID string) (petlibro.FeedSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.feeds[deviceID]
	return s, ok
}

func (f *fakeController) StartFeed(_ context.Context, deviceID string) (petlibro.FeedSession, error) {
	if err := f.hit("StartFeed"); err != nil {
		return petlibro.FeedSession{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := petlibro.FeedSession{DeviceID: deviceID, FeedID: "7781"}
	f.feeds[deviceID] = s
	return s, nil
}

func (f *fakeController) StopFeed(_ context.Context, deviceID, feedID string) (petlibro.StopResult, error) {
	if err := f.hit("StopFeed"); err != nil {
		return petlibro.StopResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopIDs = append(f.stopIDs, feedID)
	if feedID == "" {
		feedID = f.feeds[deviceID].FeedID
	}
	delete(f.feeds, deviceID)
	return petlibro.StopResult{DeviceID: deviceID, FeedID: feedID, Strategy: "stopFeedNow"}, nil
}

func (f *fakeController) Feed(_ context.Context, _ string, portions int) (string, error) {
	if err := f.hit("Feed"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portions = append(f.portions, portions)
	return "req-1", nil
}

func (f *fakeController) RotateOnce(_ context.Context, deviceID string) error {
	if err := f.hit("RotateOnce"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[deviceID] = (f.positions[deviceID] + 1) % tray.Positions
	return nil
}

func (f *fakeController) SetTrayPosition(_ context.Context, deviceID string, pct int) (tray.Outcome, error) {
	if err := f.hit("SetTrayPosition"); err != nil {
		return tray.Outcome{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.percents = append(f.percents, pct)
	plan := tray.NewPlan(f.positions[deviceID], tray.PercentageToPosition(pct))
	f.positions[deviceID] = plan.Target
	return tray.Outcome{Plan: plan, Estimated: plan.Target, Actual: plan.Target}, nil
}

func (f *fakeController) PlayAudio(context.Context, string) error {
	return f.hit("PlayAudio")
}

func (f *fakeController) ApplySetting(_ context.Context, _ string, s petlibro.Setting) (json.RawMessage, error) {
	if err := f.hit("ApplySetting"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, s)
	return json.RawMessage(`null`), nil
}

// recordingTelemetry captures snapshot writes.
type recordingTelemetry struct {
	mu     sync.Mutex
	points []string
}

func (r *recordingTelemetry) WriteSnapshot(deviceID string, _ int, _ float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, deviceID)
}

func (r *recordingTelemetry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}
