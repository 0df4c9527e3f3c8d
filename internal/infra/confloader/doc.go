// Package confloader loads layered configuration and watches files for
// changes.
//
// It uses koanf underneath. Sources are applied in this order, later ones
// overriding earlier ones:
//
//  1. Values from maps (defaults, flags)
//  2. YAML configuration file
//  3. FENCEVIRT_ environment variables
//
// A strict loader rejects file keys that match no configuration field.
//
// The Watcher wraps fsnotify. It is used both for configuration files that
// can be reloaded in place (the permission map) and for directories whose
// entries come and go (serial channel sockets).
package confloader
