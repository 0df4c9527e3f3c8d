package client

import (
	"context"
	"fmt"

	"github.com/mdlayher/vsock"

	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// HostCID is the context id of the hypervisor host.
const HostCID = vsock.Host

// Vsock sends req to a vsock listener at cid:port.
func Vsock(ctx context.Context, cid, port uint32, req *wire.Request, opts Options) (Result, error) {
	opts.defaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return Result{}, fmt.Errorf("connect vsock %d:%d: %w", cid, port, err)
	}
	defer conn.Close()
	return exchange(ctx, conn, req, opts)
}
