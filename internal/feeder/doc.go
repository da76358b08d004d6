// Package feeder is the cached control surface for a PETLIBRO feeder.
//
// Service combines the vendor client, the request cache, the tray planner
// and the action history:
//
//   - Reads go through the cache; Snapshot(force=true) bypasses it.
//   - A successful control action invalidates the device's snapshot (and
//     feeding status for feed actions) and writes a short-lived dedupe
//     entry. Repeating the same action on the same device while that entry
//     is live returns ErrDuplicateAction without calling the vendor.
//   - Control actions on one device are serialised, so two tray plans
//     never interleave.
//   - Every control action is recorded in the history asynchronously.
//
// A Service is created once at startup and torn down with Close.
package feeder
