package petfeeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one command, including tray settle delays.
	commandTimeout = 45 * time.Second

	// pollTimeout bounds one poll of every feeder on the account.
	pollTimeout = 30 * time.Second

	// defaultPollInterval applies when Options.PollInterval is zero.
	defaultPollInterval = 60 * time.Second
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the part of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Controller is the feeder surface the bridge drives. *feeder.Service
// satisfies it.
type Controller interface {
	Devices(ctx context.Context, force bool) ([]petlibro.DeviceRecord, error)
	Snapshot(ctx context.Context, deviceID string, force bool) (petlibro.Snapshot, error)
	ActiveFeed(deviceID string) (petlibro.FeedSession, bool)
	StartFeed(ctx context.Context, deviceID string) (petlibro.FeedSession, error)
	StopFeed(ctx context.Context, deviceID, feedID string) (petlibro.StopResult, error)
	Feed(ctx context.Context, deviceID string, portions int) (string, error)
	RotateOnce(ctx context.Context, deviceID string) error
	SetTrayPosition(ctx context.Context, deviceID string, pct int) (tray.Outcome, error)
	PlayAudio(ctx context.Context, deviceID string) error
	ApplySetting(ctx context.Context, deviceID string, setting petlibro.Setting) (json.RawMessage, error)
}

// Telemetry records feeder snapshots. Optional.
type Telemetry interface {
	WriteSnapshot(deviceID string, trayPosition int, temperature float64, at time.Time)
}

// Options holds configuration for creating a bridge.
type Options struct {
	Controller Controller
	MQTT       MQTTClient

	// Telemetry receives every polled snapshot. Optional.
	Telemetry Telemetry

	// BridgeID names the bridge in health messages.
	BridgeID string
	Version  string
	QoS      byte

	// PollInterval is how often every feeder's state is republished.
	// Default: 60 seconds.
	PollInterval time.Duration

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	Logger Logger
}

// Bridge translates MQTT commands into feeder actions and publishes
// feeder state, acks and health.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	ctrl      Controller
	mqtt      MQTTClient
	telemetry Telemetry
	health    *HealthReporter
	qos       byte
	interval  time.Duration

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64
	pollErrors       atomic.Uint64

	// lastPollErr degrades health until a poll succeeds.
	lastPollErr   error
	lastPollErrMu sync.RWMutex

	// Shutdown coordination. stopped guards wg.Add against Stop.
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	stopped   bool

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:      opts.Controller,
		mqtt:      opts.MQTT,
		telemetry: opts.Telemetry,
		qos:       opts.QoS,
		interval:  interval,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    noopLogger{},
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		QoS:       opts.QoS,
		Publisher: opts.MQTT,
		Probe:     b.probe,
	})
	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics, starts health reporting and the
// state poller. The first poll runs immediately.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return fmt.Errorf("bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	if err := b.health.PublishStarting(); err != nil {
		b.getLogger().Warn("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.AllBridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.getLogger().Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.pollLoop(ctx)

	b.getLogger().Info("feeder bridge started", "poll_interval", b.interval)
	return nil
}

// Stop cancels in-flight commands, stops the poller and health reporting
// and unsubscribes. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	b.ctxCancel()
	b.wg.Wait()
	b.health.Stop()

	if started {
		if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllBridgeCommands(Protocol)); err != nil {
			b.getLogger().Warn("failed to unsubscribe from commands", "error", err)
		}
	}
	b.getLogger().Info("feeder bridge stopped")
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
		PollErrors:       b.pollErrors.Load(),
	}
}

func (b *Bridge) probe() (HealthStatus, string, BridgeStatistics) {
	stats := b.Statistics()

	b.lastPollErrMu.RLock()
	err := b.lastPollErr
	b.lastPollErrMu.RUnlock()

	if err != nil {
		return HealthDegraded, fmt.Sprintf("vendor %s error", petlibro.KindOf(err)), stats
	}
	return HealthHealthy, "", stats
}

// track runs fn on a bridge goroutine unless the bridge is stopping.
func (b *Bridge) track(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// handleMessage decodes a command and executes it off the MQTT callback
// goroutine, since tray moves take seconds.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding command on %s: %w", topic, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = mqtt.AddressFromTopic(topic)
	}

	b.commandsReceived.Add(1)
	b.getLogger().Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source,
	)

	if !b.track(func() { b.execute(cmd) }) {
		b.getLogger().Warn("bridge stopping, command dropped", "command_id", cmd.ID)
	}
	return nil
}

// execute runs cmd and publishes its ack, then the feeder's fresh state.
func (b *Bridge) execute(cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	ctx = feeder.WithSource(ctx, audit.SourceMQTT)

	ack := NewAckMessage(cmd, cmd.DeviceID)
	err := b.dispatch(ctx, cmd, &ack)
	if err != nil {
		b.commandsFailed.Add(1)
		b.getLogger().Warn("command failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"command", cmd.Command,
			"error", err,
		)
		failed := NewAckError(cmd, cmd.DeviceID, errorCode(err), err.Error())
		b.publish(mqtt.Topics{}.BridgeAck(Protocol, cmd.DeviceID), failed, false)
		return
	}

	b.publish(mqtt.Topics{}.BridgeAck(Protocol, cmd.DeviceID), ack, false)

	if err := b.publishState(ctx, cmd.DeviceID, cmd.Command == CommandRefresh); err != nil {
		b.getLogger().Warn("failed to publish state after command",
			"device_id", cmd.DeviceID,
			"error", err,
		)
	}
}

// dispatch performs one command, filling ack with its results.
func (b *Bridge) dispatch(ctx context.Context, cmd CommandMessage, ack *AckMessage) error {
	id := cmd.DeviceID

	switch cmd.Command {
	case CommandFeedStart:
		sess, err := b.ctrl.StartFeed(ctx, id)
		if err != nil {
			return err
		}
		ack.FeedID = sess.FeedID
		return nil

	case CommandFeedStop:
		feedID, err := stringParam(cmd.Parameters, "feed_id")
		if err != nil {
			return err
		}
		res, err := b.ctrl.StopFeed(ctx, id, feedID)
		if err != nil {
			return err
		}
		ack.FeedID = res.FeedID
		ack.Strategy = res.Strategy
		return nil

	case CommandFeed:
		portions, _, err := intParam(cmd.Parameters, "portions")
		if err != nil {
			return err
		}
		if portions < 0 {
			return fmt.Errorf("%w: portions must not be negative", ErrInvalidParameters)
		}
		requestID, err := b.ctrl.Feed(ctx, id, portions)
		if err != nil {
			return err
		}
		ack.RequestID = requestID
		return nil

	case CommandRotate:
		return b.ctrl.RotateOnce(ctx, id)

	case CommandSetTray:
		pct, ok, err := intParam(cmd.Parameters, "percentage")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: percentage is required", ErrInvalidParameters)
		}
		out, err := b.ctrl.SetTrayPosition(ctx, id, pct)
		if err != nil {
			return err
		}
		pos := out.Estimated
		if out.Reconciled {
			pos = out.Actual
		}
		ack.TrayPosition = &pos
		return nil

	case CommandPlayAudio:
		return b.ctrl.PlayAudio(ctx, id)

	case CommandSetting:
		setting, err := settingFrom(cmd.Parameters)
		if err != nil {
			return err
		}
		_, err = b.ctrl.ApplySetting(ctx, id, setting)
		return err

	case CommandSound, CommandDisplay:
		on, err := boolParam(cmd.Parameters, "on")
		if err != nil {
			return err
		}
		setting := petlibro.SoundSetting(on)
		if cmd.Command == CommandDisplay {
			setting = petlibro.DisplaySetting(on)
		}
		_, err = b.ctrl.ApplySetting(ctx, id, setting)
		return err

	case CommandOpenLid:
		_, err := b.ctrl.ApplySetting(ctx, id, petlibro.OpenLidSetting())
		return err

	case CommandRefresh:
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Command)
	}
}

func settingFrom(params map[string]any) (petlibro.Setting, error) {
	endpoint, err := stringParam(params, "endpoint")
	if err != nil {
		return petlibro.Setting{}, err
	}
	if endpoint == "" {
		return petlibro.Setting{}, fmt.Errorf("%w: endpoint is required", ErrInvalidParameters)
	}

	s := petlibro.Setting{Endpoint: endpoint, Value: params["value"]}
	if raw, ok := params["extra"]; ok && raw != nil {
		extra, ok := raw.(map[string]any)
		if !ok {
			return petlibro.Setting{}, fmt.Errorf("%w: extra must be an object", ErrInvalidParameters)
		}
		s.Extra = extra
	}
	return s, nil
}

// publishState reads a feeder's snapshot and publishes it retained.
func (b *Bridge) publishState(ctx context.Context, deviceID string, force bool) error {
	snap, err := b.ctrl.Snapshot(ctx, deviceID, force)
	if err != nil {
		return err
	}
	if snap.DeviceID == "" {
		snap.DeviceID = deviceID
	}

	state := FeederState{
		TrayPosition:   snap.TrayPosition,
		TrayPercentage: tray.PositionToPercentage(snap.TrayPosition),
		Temperature:    snap.Temperature,
	}
	if sess, ok := b.ctrl.ActiveFeed(snap.DeviceID); ok {
		state.Feeding = true
		state.FeedID = sess.FeedID
	}

	if err := b.publish(mqtt.Topics{}.BridgeState(Protocol, snap.DeviceID), NewStateMessage(snap.DeviceID, state), true); err != nil {
		return err
	}
	b.statesPublished.Add(1)

	if b.telemetry != nil {
		at := snap.FetchedAt
		if at.IsZero() {
			at = time.Now()
		}
		b.telemetry.WriteSnapshot(snap.DeviceID, snap.TrayPosition, snap.Temperature, at)
	}
	return nil
}

func (b *Bridge) publish(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		b.getLogger().Error("failed to marshal message", "topic", topic, "error", err)
		return err
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.getLogger().Warn("failed to publish", "topic", topic, "error", err)
		return err
	}
	return nil
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.poll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

// poll publishes the state of every feeder on the account. One failing
// feeder does not stop the others.
func (b *Bridge) poll() {
	ctx, cancel := context.WithTimeout(b.ctx, pollTimeout)
	defer cancel()

	devices, err := b.ctrl.Devices(ctx, false)
	if err != nil {
		b.pollFailed(err)
		return
	}
	b.health.SetDeviceCount(len(devices))

	var errs []error
	for _, d := range devices {
		if err := b.publishState(ctx, d.ID, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.pollFailed(err)
		return
	}

	b.lastPollErrMu.Lock()
	b.lastPollErr = nil
	b.lastPollErrMu.Unlock()
}

func (b *Bridge) pollFailed(err error) {
	if b.ctx.Err() != nil {
		return
	}
	b.pollErrors.Add(1)
	b.lastPollErrMu.Lock()
	b.lastPollErr = err
	b.lastPollErrMu.Unlock()
	b.getLogger().Warn("feeder poll failed", "error_kind", petlibro.KindOf(err), "error", err)
}
