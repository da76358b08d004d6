// Package api implements the HTTP status and control API of the feeder
// bridge.
//
// This package provides:
//   - Read endpoints for the account's feeders, their snapshots and
//     feeding data
//   - Control endpoints for manual feeds, tray moves, audio and settings
//   - Cache statistics and the control-action history
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Errors
//
// Failures from the feeder service are mapped by kind:
//
//	auth       401
//	not_found  404
//	state      409
//	duplicate  429
//	api        502
//	network    504
//
// Every error body is {"status", "code", "message"}.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
