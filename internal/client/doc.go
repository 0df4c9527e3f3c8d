// Package client sends fencing requests to a fencevirtd listener.
//
// Each transport has one entry point that builds the frame, sends it and
// reads back the result:
//
//	res, err := client.TCP(ctx, "127.0.0.1:1229", req, opts)
//
// Network requests are signed with Options.Key before they are sent. The
// multicast requester also accepts the daemon's reply connection and
// answers its challenge.
package client
