// Package wire implements the fixed-layout binary frames of the fencing protocol.
//
// Frames:
//
//   - Request: 176-byte fence request with a keyed hash, used over
//     multicast, TCP and vsock
//   - HostRecord: 132-byte host list entry; an all-zero record ends a list
//   - SerialRequest / SerialResponse: magic-prefixed frames for byte-stream
//     channels where framing must be found by scanning
//
// All integers are big-endian.
package wire
