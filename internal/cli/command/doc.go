// Package command defines the command lines of the fencevirt binaries.
//
// App is the requester, fencevirt. It takes its options as flags or, when
// started without any, as key=value lines on stdin, the way cluster
// managers drive fence agents. It exits with the daemon's response code.
//
// DaemonApp is fencevirtd: the serve command, a sim command group that
// manages the simulated hypervisor store, and a config command group.
package command
