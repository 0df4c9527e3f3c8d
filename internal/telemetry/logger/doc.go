// Package logger provides structured logging for fencevirt.
//
// It wraps log/slog:
//
//   - logger.go: handler construction and the global level
//   - context.go: per-interaction request ids carried in a context
//   - redact.go: masking of key material and handshake bytes
//   - adapter.go: bridges for libraries with their own logger types
//     (hclog for raft, io.Writer for memberlist, badger.Logger)
package logger
