// Package buildinfo reports the version of the fencevirt binaries.
//
// Release builds set the version through ldflags:
//
//	go build -ldflags "-X github.com/yndnr/fencevirt-go/internal/infra/buildinfo.Version=v1.2.0" ./cmd/...
//
// Development builds fall back to the VCS stamp the Go toolchain embeds.
package buildinfo
