// Package domain defines the fencing codes shared by every layer: actions,
// hash types, responses, host states, and the DomainError taxonomy.
//
// It has no I/O dependencies. Wire layouts live in pkg/wire.
package domain
