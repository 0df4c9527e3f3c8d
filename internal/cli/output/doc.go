// Package output renders command results for the fencevirt binaries.
//
// Host lists and simulated domains are printed as aligned tables by
// default, or as JSON or YAML for scripting.
package output
