package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/yndnr/fencevirt-go/pkg/auth"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// multicastTTL is the hop limit of request datagrams.
const multicastTTL = 4

// Multicast sends req to addr (a multicast group and port, or any UDP
// address) and waits for the daemon to connect back to the reply address
// carried in the request. The same signed datagram is resent every
// Options.Retrans until the daemon connects or the timeout expires.
func Multicast(ctx context.Context, addr, ifname string, req *wire.Request, opts Options) (Result, error) {
	opts.defaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return Result{}, fmt.Errorf("open multicast socket: %w", err)
	}
	defer udp.Close()
	if raddr.IP.IsMulticast() {
		if err := setMulticastOptions(udp, raddr.IP, ifname); err != nil {
			return Result{}, err
		}
	}

	local := udp.LocalAddr().(*net.UDPAddr).IP
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: local})
	if err != nil {
		return Result{}, fmt.Errorf("open reply listener: %w", err)
	}
	defer ln.Close()

	if err := req.SetAddress(local, uint16(ln.Addr().(*net.TCPAddr).Port)); err != nil {
		return Result{}, err
	}
	if err := auth.Sign(req, opts.Key); err != nil {
		return Result{}, err
	}
	datagram, _ := req.MarshalBinary()

	for {
		if _, err := udp.Write(datagram); err != nil {
			return Result{}, fmt.Errorf("send request: %w", err)
		}
		opts.Logger.Debug("request sent", "addr", addr, "seq", req.SeqNo)

		wait := opts.Retrans
		if left := remaining(ctx); left < wait {
			wait = left
		}
		if wait <= 0 {
			return Result{}, ErrNoReply
		}
		_ = ln.SetDeadline(time.Now().Add(wait))
		conn, err := ln.AcceptTCP()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && ctx.Err() == nil {
				continue
			}
			if ctx.Err() != nil {
				return Result{}, ErrNoReply
			}
			return Result{}, fmt.Errorf("accept reply: %w", err)
		}
		defer conn.Close()
		return reply(ctx, conn, opts)
	}
}

// reply answers the daemon's challenge on its connection and reads the
// result.
func reply(ctx context.Context, conn net.Conn, opts Options) (Result, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := auth.ClientHandshake(conn, opts.Auth, opts.Key, remaining(ctx)); err != nil {
		return Result{}, err
	}
	return ReadResult(conn)
}

func setMulticastOptions(c *net.UDPConn, group net.IP, ifname string) error {
	var ifi *net.Interface
	if ifname != "" {
		var err error
		if ifi, err = net.InterfaceByName(ifname); err != nil {
			return fmt.Errorf("multicast interface: %w", err)
		}
	}

	if group.To4() != nil {
		p := ipv4.NewPacketConn(c)
		if err := p.SetMulticastTTL(multicastTTL); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
		if ifi != nil {
			return p.SetMulticastInterface(ifi)
		}
		return nil
	}

	p := ipv6.NewPacketConn(c)
	if err := p.SetMulticastHopLimit(multicastTTL); err != nil {
		return fmt.Errorf("set multicast hop limit: %w", err)
	}
	if ifi != nil {
		return p.SetMulticastInterface(ifi)
	}
	return nil
}

// JoinHostPort formats a listener address for Multicast or TCP.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
