package cluster

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// MessageType is the kind of a group message.
type MessageType uint8

const (
	// MessageRequest carries a fence request to every member.
	MessageRequest MessageType = 1

	// MessageReply carries one response byte back to the requester.
	MessageReply MessageType = 2

	// MessageStoreVM announces the sender's local VMs.
	MessageStoreVM MessageType = 3
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "REQUEST"
	case MessageReply:
		return "REPLY"
	case MessageStoreVM:
		return "STORE_VM"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// HeaderSize is the encoded size of a message header.
const HeaderSize = 16

// MaxPayload bounds the payload of a decoded message.
const MaxPayload = 1 << 20

// Message is one group message:
//
//	type u8 | pad [3] | seqno u32 | target u32 | length u32 | payload
type Message struct {
	Type    MessageType
	SeqNo   uint32
	Target  NodeID
	Payload []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[4:], m.SeqNo)
	binary.BigEndian.PutUint32(buf[8:], uint32(m.Target))
	binary.BigEndian.PutUint32(buf[12:], uint32(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The payload is
// copied out of buf.
func (m *Message) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return domain.ErrTruncated
	}
	n := binary.BigEndian.Uint32(buf[12:])
	if n > MaxPayload || int(n) > len(buf)-HeaderSize {
		return domain.ErrTruncated.WithDetails(fmt.Sprintf("payload length %d", n))
	}
	m.Type = MessageType(buf[0])
	m.SeqNo = binary.BigEndian.Uint32(buf[4:])
	m.Target = NodeID(binary.BigEndian.Uint32(buf[8:]))
	m.Payload = append([]byte(nil), buf[HeaderSize:HeaderSize+int(n)]...)
	return nil
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	return &c
}

// NewRequestMessage wraps a fence request for broadcast.
func NewRequestMessage(seq uint32, req *wire.Request) (*Message, error) {
	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageRequest, SeqNo: seq, Target: Broadcast, Payload: payload}, nil
}

// Request decodes the payload of a REQUEST.
func (m *Message) Request() (*wire.Request, error) {
	if m.Type != MessageRequest {
		return nil, fmt.Errorf("cluster: %s is not a request", m.Type)
	}
	return wire.DecodeRequest(m.Payload)
}

// NewReplyMessage answers request seq of member to.
func NewReplyMessage(seq uint32, to NodeID, resp domain.Response) *Message {
	return &Message{Type: MessageReply, SeqNo: seq, Target: to, Payload: []byte{byte(resp)}}
}

// Response decodes the payload of a REPLY.
func (m *Message) Response() (domain.Response, error) {
	if m.Type != MessageReply || len(m.Payload) != 1 {
		return 0, fmt.Errorf("cluster: malformed reply")
	}
	return domain.Response(m.Payload[0]), nil
}

// VMRecord is one ownership table entry.
type VMRecord struct {
	Domain string            `cbor:"1,keyasint"`
	UUID   string            `cbor:"2,keyasint"`
	Owner  NodeID            `cbor:"3,keyasint"`
	State  domain.PowerState `cbor:"4,keyasint"`
}

// HostState converts r to a host list entry.
func (r VMRecord) HostState() domain.HostState {
	return domain.HostState{Domain: r.Domain, UUID: r.UUID, State: r.State}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cluster: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic("cluster: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewStoreVMMessage announces records.
func NewStoreVMMessage(seq uint32, records []VMRecord) (*Message, error) {
	if records == nil {
		records = []VMRecord{}
	}
	payload, err := encMode.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode vm records: %w", err)
	}
	return &Message{Type: MessageStoreVM, SeqNo: seq, Target: Broadcast, Payload: payload}, nil
}

// Records decodes the payload of a STORE_VM.
func (m *Message) Records() ([]VMRecord, error) {
	if m.Type != MessageStoreVM {
		return nil, fmt.Errorf("cluster: %s is not a vm announcement", m.Type)
	}
	var records []VMRecord
	if err := decMode.Unmarshal(m.Payload, &records); err != nil {
		return nil, fmt.Errorf("decode vm records: %w", err)
	}
	return records, nil
}

// envelopeSize is the sender id prefixed to messages sent point to point.
const envelopeSize = 4

// seal prefixes the encoded message with the sender id.
func seal(from NodeID, m *Message) ([]byte, error) {
	body, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, envelopeSize, envelopeSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(from))
	return append(buf, body...), nil
}

// unseal reverses seal.
func unseal(buf []byte) (NodeID, *Message, error) {
	if len(buf) < envelopeSize {
		return 0, nil, domain.ErrTruncated
	}
	from := NodeID(binary.BigEndian.Uint32(buf))
	m := &Message{}
	if err := m.UnmarshalBinary(buf[envelopeSize:]); err != nil {
		return 0, nil, err
	}
	return from, m, nil
}
