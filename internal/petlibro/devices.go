package petlibro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Device endpoints.
const (
	pathDeviceList       = "/device/device/list"
	pathRealInfo         = "/device/device/realInfo"
	pathGrainStatus      = "/device/data/grainStatus"
	pathFeedingPlanToday = "/device/device/getfeedingplantoday_new"
	pathWetFeedingPlan   = "/device/device/wetFeedingPlan"
	pathWorkRecord       = "/device/device/workRecord"
	pathDefaultMatrix    = "/device/device/getDefaultMatrix"
)

// ListDevices returns every feeder on the account.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	data, err := c.call(ctx, request{path: pathDeviceList})
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: decoding device list: %w", ErrNetwork, err)
		}
	}

	devices := make([]DeviceRecord, 0, len(items))
	for _, item := range items {
		id := firstField(item, "deviceSn", "deviceId", "id")
		if id == "" {
			c.logger.Warn("skipping device without identifier")
			continue
		}
		devices = append(devices, DeviceRecord{
			ID:    id,
			Model: firstField(item, "deviceModel", "productIdentifier", "model"),
			Name:  firstField(item, "deviceName", "name"),
			Raw:   item,
		})
	}
	return devices, nil
}

// RealInfo fetches the real-time snapshot of a feeder.
func (c *Client) RealInfo(ctx context.Context, deviceID string) (Snapshot, error) {
	data, err := c.idCall(ctx, pathRealInfo, deviceID)
	if err != nil {
		return Snapshot{}, err
	}

	var info map[string]any
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &info); err != nil {
			return Snapshot{}, fmt.Errorf("%w: decoding real-time info: %w", ErrNetwork, err)
		}
	}
	return parseSnapshot(deviceID, info, c.now()), nil
}

// parseSnapshot reads the tray position (0-based) and temperature from a
// realInfo payload, tolerating the field names used across models.
func parseSnapshot(deviceID string, info map[string]any, fetchedAt time.Time) Snapshot {
	s := Snapshot{
		DeviceID:    deviceID,
		Temperature: DefaultTemperature,
		FetchedAt:   fetchedAt,
		Raw:         info,
	}
	if p, ok := firstNumber(info, "platePosition", "plate", "currentPlate"); ok {
		s.TrayPosition = NormalizeTrayPosition(int(p))
	}
	if t, ok := firstNumber(info, "temperature", "temp", "currentTemp"); ok {
		s.Temperature = t
	}
	s.ActiveFeedID = firstField(info, "activeFeedId", "currentFeedId", "feedId", "manualFeedId")
	return s
}

// GrainStatus returns the food level report of a feeder.
func (c *Client) GrainStatus(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.idCall(ctx, pathGrainStatus, deviceID)
}

// FeedingPlanToday returns today's scheduled feeds.
func (c *Client) FeedingPlanToday(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.idCall(ctx, pathFeedingPlanToday, deviceID)
}

// WetFeedingPlan returns the wet-food schedule of a tray feeder.
func (c *Client) WetFeedingPlan(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.idCall(ctx, pathWetFeedingPlan, deviceID)
}

// WorkRecord returns the device's recent activity log.
func (c *Client) WorkRecord(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.idCall(ctx, pathWorkRecord, deviceID)
}

// DefaultMatrix returns the model's default settings matrix.
func (c *Client) DefaultMatrix(ctx context.Context, deviceID string) (json.RawMessage, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device id for %s", ErrState, pathDefaultMatrix)
	}
	return c.call(ctx, request{
		method: http.MethodGet,
		path:   pathDefaultMatrix,
		query:  url.Values{"deviceSn": []string{deviceID}},
	})
}

// firstField returns the first key of m holding a non-empty string or a
// number, formatted as a string.
func firstField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// firstNumber returns the first key of m holding a number or a numeric string.
func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
