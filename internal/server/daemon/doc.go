// Package daemon runs fencevirtd: one listener feeding one backend.
//
// New builds the configured permission map, backend and listener from
// their registries. Run drives the listener's dispatch loop until its
// context is cancelled, alongside the status endpoint when http.addr is
// set. Close tears things down in dependency order:
// the listener first, then the backend, then the permission watcher.
package daemon
