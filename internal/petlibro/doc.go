// Package petlibro is a client for the PetLibro cloud API used by the
// PetLibro mobile app.
//
// The package has two halves:
//
//   - SessionManager keeps an access token valid. It logs in with the
//     app's fixed identifiers and an MD5 digest of the password (the
//     vendor protocol requires exactly this), refreshes when it can, and
//     collapses concurrent renewals into one request.
//   - Client issues typed device operations: device list, real-time
//     snapshot, manual feed start/stop, tray rotation, feed audio, portion
//     feeding, read-only plan/record endpoints and the settings family.
//
// Stopping a manual feed needs the id returned when it started. When the
// vendor omits that id, StartManualFeed returns a placeholder and
// StopManualFeed runs a StopChain of named strategies instead of sending
// the placeholder.
//
// Usage:
//
//	client := petlibro.New(petlibro.Options{
//	    Email:    cfg.Petlibro.Email,
//	    Password: cfg.Petlibro.Password,
//	    BaseURL:  cfg.Petlibro.BaseURL,
//	})
//	devices, err := client.ListDevices(ctx)
//
// Errors match one of ErrAuth, ErrNetwork, ErrAPI, ErrNotFound or ErrState;
// KindOf classifies them for acknowledgement and HTTP codes.
package petlibro
