// Package influxdb writes feeder telemetry to InfluxDB.
//
// It wraps influxdb-client-go v2's non-blocking write API. Two measurements
// are written:
//
//	feeder_snapshot  tags: device_id          fields: tray_position, temperature
//	feeder_action    tags: device_id, action  fields: success, error_kind
//
// Writes are batched and flushed on an interval; Close flushes what is
// pending. When InfluxDB is disabled in configuration, Connect returns
// ErrDisabled and the caller runs without telemetry.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSnapshot("SN1", 2, 4.5, time.Now())
package influxdb
