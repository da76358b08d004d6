// Package petfeeder bridges the feeder service onto MQTT.
//
// The bridge follows the Gray Logic bridge convention:
//
//	graylogic/command/petlibro/{device}   in   CommandMessage
//	graylogic/ack/petlibro/{device}       out  AckMessage
//	graylogic/state/petlibro/{device}     out  StateMessage (retained)
//	graylogic/health/petlibro             out  HealthMessage (retained)
//
// Commands are executed through the feeder service, so they share its
// cache, per-device serialisation, duplicate suppression and action
// history. A poller republishes the state of every feeder on the account
// at a fixed interval and, when telemetry is configured, records each
// snapshot.
package petfeeder
