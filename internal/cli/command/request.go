package command

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/client"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
	"github.com/yndnr/fencevirt-go/pkg/auth"
)

// Requester transports.
const (
	transportMulticast = "multicast"
	transportTCP       = "tcp"
	transportVsock     = "vsock"
	transportSerial    = "serial"
)

func requestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "action",
			Aliases: []string{"o"},
			Usage:   "Fencing action: off, on, reboot, status, monitor, list, metadata, validate-all",
			Value:   "reboot",
		},
		&cli.StringFlag{
			Name:    "domain",
			Aliases: []string{"H"},
			Usage:   "Virtual machine to act on, by name or UUID",
		},
		&cli.BoolFlag{
			Name:    "use-uuid",
			Aliases: []string{"u"},
			Usage:   "Treat --domain as a UUID",
		},
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"T"},
			Usage:   "How to reach the daemon: multicast, tcp, vsock, serial",
			Value:   transportMulticast,
		},
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "Multicast group or daemon address (default depends on transport)",
		},
		&cli.IntFlag{
			Name:    "ipport",
			Aliases: []string{"p"},
			Usage:   "Daemon port",
			Value:   config.DefaultPort,
		},
		&cli.StringFlag{
			Name:    "interface",
			Aliases: []string{"I"},
			Usage:   "Network interface for multicast",
		},
		&cli.UintFlag{
			Name:  "cid",
			Usage: "vsock context id of the daemon",
			Value: uint(client.HostCID),
		},
		&cli.StringFlag{
			Name:    "serial-device",
			Aliases: []string{"S"},
			Usage:   "Serial channel: a character device or UNIX socket",
			Value:   "/dev/virtio-ports/fencevirt",
		},
		&cli.StringFlag{
			Name:    "key-file",
			Aliases: []string{"k"},
			Usage:   "Shared key file",
			Value:   config.DefaultKeyFile,
		},
		&cli.StringFlag{
			Name:    "hash",
			Aliases: []string{"c"},
			Usage:   "Request signing hash: none, sha1, sha256, sha512",
			Value:   config.DefaultHash,
		},
		&cli.StringFlag{
			Name:    "auth",
			Aliases: []string{"C"},
			Usage:   "Challenge-response hash: none, sha1, sha256, sha512",
			Value:   config.DefaultHash,
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Give up after this long",
			Value:   client.DefaultTimeout,
		},
		&cli.DurationFlag{
			Name:    "retrans",
			Aliases: []string{"r"},
			Usage:   "Multicast retransmit interval",
			Value:   client.DefaultRetrans,
		},
		&cli.DurationFlag{
			Name:    "delay",
			Aliases: []string{"w"},
			Usage:   "Wait this long before fencing",
		},
		formatFlag(),
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"d"},
			Usage:   "Log protocol progress to stderr",
		},
	}
}

// requestOptions are the parsed requester options.
type requestOptions struct {
	action    domain.Action
	domain    string
	byUUID    bool
	transport string
	address   string
	port      int
	iface     string
	cid       uint32
	device    string
	keyFile   string
	hash      domain.HashType
	auth      domain.HashType
	timeout   time.Duration
	retrans   time.Duration
	delay     time.Duration
}

func parseRequestOptions(c *cli.Context) (*requestOptions, error) {
	action, err := domain.ParseAction(c.String("action"))
	if err != nil {
		return nil, err
	}
	hash, err := domain.ParseHashType(c.String("hash"))
	if err != nil {
		return nil, err
	}
	authHash, err := domain.ParseHashType(c.String("auth"))
	if err != nil {
		return nil, err
	}
	o := &requestOptions{
		action:    action,
		domain:    c.String("domain"),
		byUUID:    c.Bool("use-uuid"),
		transport: c.String("transport"),
		address:   c.String("address"),
		port:      c.Int("ipport"),
		iface:     c.String("interface"),
		cid:       uint32(c.Uint("cid")),
		device:    c.String("serial-device"),
		keyFile:   c.String("key-file"),
		hash:      hash,
		auth:      authHash,
		timeout:   c.Duration("timeout"),
		retrans:   c.Duration("retrans"),
		delay:     c.Duration("delay"),
	}
	if o.address == "" {
		switch o.transport {
		case transportMulticast:
			o.address = config.DefaultMulticastAddress
		case transportTCP:
			o.address = config.DefaultTCPAddress
		}
	}
	return o, nil
}

// validate checks everything that can be checked without contacting the
// daemon.
func (o *requestOptions) validate() error {
	switch o.transport {
	case transportMulticast, transportTCP:
		if net.ParseIP(o.address) == nil {
			return fmt.Errorf("address %q is not an IP address", o.address)
		}
		if o.port <= 0 || o.port > 65535 {
			return fmt.Errorf("port %d out of range", o.port)
		}
	case transportVsock:
		if o.port <= 0 {
			return fmt.Errorf("port %d out of range", o.port)
		}
	case transportSerial:
		if o.device == "" {
			return fmt.Errorf("serial transport needs --serial-device")
		}
	default:
		return fmt.Errorf("unknown transport %q", o.transport)
	}
	if o.action.NeedsDomain() && o.domain == "" {
		return fmt.Errorf("action %s needs --domain", o.action)
	}
	if o.usesKey() {
		if _, err := auth.ReadKeyFile(o.keyFile); err != nil {
			return err
		}
	}
	if o.timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// usesKey reports whether the transport signs or authenticates with the
// shared key.
func (o *requestOptions) usesKey() bool {
	return o.transport != transportSerial && (o.hash != domain.HashNone || o.auth != domain.HashNone)
}

func fence(c *cli.Context) error {
	o, err := parseRequestOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	switch o.action {
	case domain.ActionMetadata:
		return writeMetadata(c.App.Writer, c.App)
	case domain.ActionValidateAll:
		if err := o.validate(); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	}
	if err := o.validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	base, err := logger.New(logger.Config{Level: level, Format: "text", Output: c.App.ErrWriter})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log := base.With("transport", o.transport)

	if o.delay > 0 {
		log.Debug("delaying before fencing", "delay", o.delay)
		time.Sleep(o.delay)
	}

	res, err := send(c.Context, o, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s %s: %v", o.action, o.domain, err), 1)
	}

	if o.action == domain.ActionHostList && res.Response == domain.ResponseSuccess {
		if err := render(c, hostRows(res.Hosts)); err != nil {
			return err
		}
	}
	if o.action == domain.ActionStatus {
		switch res.Response {
		case domain.ResponseSuccess:
			fmt.Fprintln(c.App.Writer, "Status: ON")
		case domain.ResponseOff:
			fmt.Fprintln(c.App.Writer, "Status: OFF")
		}
	}
	return exitFor(res.Response)
}

// send delivers the request over the selected transport.
func send(ctx context.Context, o *requestOptions, log *slog.Logger) (client.Result, error) {
	var key []byte
	if o.usesKey() {
		var err error
		if key, err = auth.ReadKeyFile(o.keyFile); err != nil {
			return client.Result{}, err
		}
	}
	opts := client.Options{
		Key:     key,
		Auth:    o.auth,
		Timeout: o.timeout,
		Retrans: o.retrans,
		Logger:  log,
	}

	if o.transport == transportSerial {
		return sendSerial(ctx, o, opts)
	}

	req, err := client.NewRequest(o.action, o.domain, o.byUUID, o.hash)
	if err != nil {
		return client.Result{}, err
	}
	log.Debug("sending request", "action", o.action, "domain", o.domain, "seq", req.SeqNo)

	switch o.transport {
	case transportMulticast:
		return client.Multicast(ctx, client.JoinHostPort(o.address, o.port), o.iface, req, opts)
	case transportTCP:
		return client.TCP(ctx, client.JoinHostPort(o.address, o.port), req, opts)
	case transportVsock:
		return client.Vsock(ctx, o.cid, uint32(o.port), req, opts)
	}
	return client.Result{}, fmt.Errorf("unknown transport %q", o.transport)
}

// sendSerial writes the request on a serial channel, which is either a
// UNIX socket or a character device.
func sendSerial(ctx context.Context, o *requestOptions, opts client.Options) (client.Result, error) {
	req, err := client.NewSerialRequest(o.action, o.domain, o.byUUID)
	if err != nil {
		return client.Result{}, err
	}

	fi, err := os.Stat(o.device)
	if err != nil {
		return client.Result{}, err
	}
	if fi.Mode()&os.ModeSocket != 0 {
		conn, err := net.Dial("unix", o.device)
		if err != nil {
			return client.Result{}, err
		}
		defer conn.Close()
		return client.Serial(ctx, conn, req, opts)
	}

	f, err := os.OpenFile(o.device, os.O_RDWR, 0)
	if err != nil {
		return client.Result{}, err
	}
	defer f.Close()
	return client.Serial(ctx, f, req, opts)
}

// hostRow is one line of a host list.
type hostRow struct {
	Domain string            `json:"domain" yaml:"domain"`
	UUID   string            `json:"uuid" yaml:"uuid"`
	State  domain.PowerState `json:"state" yaml:"state"`
}

func hostRows(hosts []domain.HostState) []hostRow {
	rows := make([]hostRow, 0, len(hosts))
	for _, h := range hosts {
		rows = append(rows, hostRow{Domain: h.Domain, UUID: h.UUID, State: h.State})
	}
	return rows
}

// exitFor maps a response code to the process exit status.
func exitFor(r domain.Response) error {
	switch r {
	case domain.ResponseSuccess:
		return nil
	case domain.ResponseFail:
		return cli.Exit("operation failed", 1)
	case domain.ResponseOff:
		return cli.Exit("", 2)
	case domain.ResponsePermission:
		return cli.Exit("permission denied", 3)
	}
	return cli.Exit(fmt.Sprintf("unknown response code %d", uint8(r)), int(r))
}
