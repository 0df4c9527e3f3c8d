// Package serialserver receives fencing requests from guests over serial
// channels.
//
// On the host each guest channel is a UNIX socket named <domain>.sock in
// one directory, created by the hypervisor's virtio-serial or vmchannel
// backend. A watcher attaches sockets as they appear and detaches them
// when they are removed. Every attached channel has a reader goroutine
// that finds request frames by scanning for the serial magic and queues
// them for Dispatch.
//
// The channel itself identifies the requester, so serial frames carry no
// keyed hash and no handshake is run.
package serialserver
