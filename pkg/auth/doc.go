// Package auth provides the shared-key primitives of the fencing protocol.
//
//   - key.go: key file loading
//   - sign.go: keyed-hash signing and verification of fence requests
//   - challenge.go: symmetric challenge-response over stream connections
//
// Verification fails closed: a missing key is never treated as a pass
// when any hashing was requested.
package auth
