// Command fencevirtd is the fencing daemon. It runs on a hypervisor host,
// accepts signed fencing requests from cluster nodes over one listener and
// powers virtual machines off, on or through a reboot.
//
// Usage:
//
//	fencevirtd serve --config /etc/fencevirt/fencevirtd.yaml
//	fencevirtd config check --config /etc/fencevirt/fencevirtd.yaml
//	fencevirtd sim define --start web-1
package main
