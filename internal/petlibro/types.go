package petlibro

import (
	"strings"
	"time"
)

// TrayPositions is the number of compartments on a rotating tray feeder.
const TrayPositions = 3

// DefaultTemperature is reported when a snapshot carries no temperature.
const DefaultTemperature = 20.0

// PlaceholderPrefix marks a feed id synthesised locally because the
// vendor did not return one.
const PlaceholderPrefix = "manual_feed_"

// Session is an authenticated vendor session.
type Session struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the session holds a token whose expiry is strictly
// after now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && s.ExpiresAt.After(now)
}

// DeviceRecord is one feeder on the account.
type DeviceRecord struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Name  string         `json:"name"`
	Raw   map[string]any `json:"-"`
}

// Snapshot is the latest real-time state of a feeder.
type Snapshot struct {
	DeviceID     string    `json:"device_id"`
	TrayPosition int       `json:"tray_position"`
	Temperature  float64   `json:"temperature"`
	ActiveFeedID string    `json:"active_feed_id,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`

	Raw map[string]any `json:"-"`
}

// FeedSession is an open manual feed (the "door" is open).
type FeedSession struct {
	DeviceID    string    `json:"device_id"`
	FeedID      string    `json:"feed_id"`
	Placeholder bool      `json:"placeholder"`
	StartedAt   time.Time `json:"started_at"`
}

// StopResult reports how a manual feed was stopped.
type StopResult struct {
	DeviceID string `json:"device_id"`
	FeedID   string `json:"feed_id,omitempty"`
	Strategy string `json:"strategy"`
}

// IsPlaceholderFeedID reports whether id was synthesised locally.
func IsPlaceholderFeedID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// NormalizeTrayPosition maps any integer onto 0..TrayPositions-1.
func NormalizeTrayPosition(p int) int {
	return ((p % TrayPositions) + TrayPositions) % TrayPositions
}
