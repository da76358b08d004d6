package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSnapshot = "feeder_snapshot"
	MeasurementAction   = "feeder_action"
)

// WriteSnapshot records a feeder's tray position and temperature.
func (c *Client) WriteSnapshot(deviceID string, trayPosition int, temperature float64, at time.Time) {
	c.WritePoint(MeasurementSnapshot,
		map[string]string{"device_id": deviceID},
		map[string]any{
			"tray_position": trayPosition,
			"temperature":   temperature,
		},
		at,
	)
}

// WriteAction records the outcome of a control action.
func (c *Client) WriteAction(deviceID, action string, success bool, errorKind string, at time.Time) {
	fields := map[string]any{"success": success}
	if errorKind != "" {
		fields["error_kind"] = errorKind
	}
	c.WritePoint(MeasurementAction,
		map[string]string{"device_id": deviceID, "action": action},
		fields,
		at,
	)
}

// WritePoint queues a point. Points written after Close are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
