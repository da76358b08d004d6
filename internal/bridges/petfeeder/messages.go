package petfeeder

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "petlibro"

// Command names accepted on the command topic.
const (
	CommandFeedStart = "feed_start"
	CommandFeedStop  = "feed_stop"
	CommandFeed      = "feed"
	CommandRotate    = "rotate"
	CommandSetTray   = "set_tray"
	CommandPlayAudio = "play_audio"
	CommandSetting   = "setting"
	CommandRefresh   = "refresh"
	CommandSound     = "sound"
	CommandDisplay   = "display"
	CommandOpenLid   = "open_lid"
)

// CommandMessage asks the bridge to act on a feeder.
// Topic: graylogic/command/petlibro/{device}
type CommandMessage struct {
	// ID correlates the command with its ack.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the feeder serial. When empty the topic address is used.
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters carries command values:
	//   {"portions": 2} for feed
	//   {"percentage": 50} for set_tray
	//   {"feed_id": "7781"} for feed_stop (optional)
	//   {"endpoint": "setLidSpeed", "value": 2, "extra": {...}} for setting
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source names the publisher, for logs.
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the feeder accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage reports the outcome of a command.
// Topic: graylogic/ack/petlibro/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// FeedID is set by feed_start and feed_stop.
	FeedID string `json:"feed_id,omitempty"`

	// Strategy names how feed_stop reached the feeder.
	Strategy string `json:"strategy,omitempty"`

	// RequestID is the vendor request id of a feed.
	RequestID string `json:"request_id,omitempty"`

	// TrayPosition is the position after set_tray.
	TrayPosition *int `json:"tray_position,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the latest state of a feeder.
// Topic: graylogic/state/petlibro/{device}
// QoS: configured, Retained: Yes
type StateMessage struct {
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Protocol  string      `json:"protocol"`
	State     FeederState `json:"state"`
}

// FeederState is the state body of a StateMessage.
type FeederState struct {
	TrayPosition   int     `json:"tray_position"`
	TrayPercentage int     `json:"tray_percentage"`
	Temperature    float64 `json:"temperature"`

	// Feeding is true while a manual feed opened by this process is open.
	Feeding bool   `json:"feeding"`
	FeedID  string `json:"feed_id,omitempty"`
}

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published periodically.
// Topic: graylogic/health/petlibro
// QoS: configured, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
}

// BridgeStatistics are counters since start.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatesPublished  uint64 `json:"states_published"`
	PollErrors       uint64 `json:"poll_errors"`
}

// NewAckMessage creates an accepted ack for cmd.
func NewAckMessage(cmd CommandMessage, deviceID string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed ack for cmd.
func NewAckError(cmd CommandMessage, deviceID, code, message string) AckMessage {
	ack := NewAckMessage(cmd, deviceID)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a feeder.
func NewStateMessage(deviceID string, state FeederState) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
		State:     state,
	}
}

// intParam reads an integer parameter. JSON numbers arrive as float64;
// numeric strings are accepted too. ok is false when the parameter is
// absent.
func intParam(params map[string]any, name string) (n int, ok bool, err error) {
	raw, present := params[name]
	if !present || raw == nil {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, true, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParameters, name)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, name, err)
		}
		return int(i), true, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, name, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%w: %s has type %T", ErrInvalidParameters, name, raw)
	}
}

// stringParam reads a string parameter. A number is formatted, since
// vendor ids are numeric.
func stringParam(params map[string]any, name string) (string, error) {
	raw, present := params[name]
	if !present || raw == nil {
		return "", nil
	}

	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrInvalidParameters, name, raw)
	}
}

// boolParam reads a required switch parameter. JSON booleans and the
// strings "on"/"off"/"true"/"false" are accepted.
func boolParam(params map[string]any, name string) (bool, error) {
	raw, present := params[name]
	if !present || raw == nil {
		return false, fmt.Errorf("%w: %s is required", ErrInvalidParameters, name)
	}

	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "on", "true":
			return true, nil
		case "off", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s must be on or off, got %v", ErrInvalidParameters, name, raw)
}
