package listener

import (
	"net"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// ConnResponder answers on a stream connection: one result byte, or the
// host list marker, host records, an all-zero record and a result byte.
// Every write has its own deadline.
type ConnResponder struct {
	Conn    net.Conn
	Timeout time.Duration
}

func (c *ConnResponder) write(b []byte) error {
	if c.Timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
			return err
		}
	}
	_, err := c.Conn.Write(b)
	return err
}

// BeginHostList implements Responder.
func (c *ConnResponder) BeginHostList() error {
	return c.write([]byte{byte(domain.ResponseHostList)})
}

// WriteHost implements Responder.
func (c *ConnResponder) WriteHost(h domain.HostState) error {
	rec := wire.NewHostRecord(h)
	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return c.write(buf)
}

// EndHostList implements Responder.
func (c *ConnResponder) EndHostList() error {
	return c.write(make([]byte, wire.HostRecordSize))
}

// WriteResult implements Responder.
func (c *ConnResponder) WriteResult(resp domain.Response) error {
	return c.write([]byte{byte(resp)})
}
