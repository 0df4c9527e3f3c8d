// Package config defines the fencevirtd configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation run before anything is opened
//   - sanitize.go: copy safe for logging
//
// Configuration is loaded with internal/infra/confloader from a YAML file
// and FENCEVIRT_ environment variables.
package config
