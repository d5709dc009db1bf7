package amqp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire framing. Each frame is
//
//	size      uint32  total frame length, header included
//	type      byte    performative code
//	channel   uint16  session channel
//	body      ...     performative fields
//
// preceded once per connection by the 8-octet protocol header.

// ProtoHeader is exchanged by both peers before any frame.
var ProtoHeader = []byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

const frameHeaderSize = 7

// MaxFrameSize bounds a single frame on the wire. Larger frames are a
// protocol error.
const MaxFrameSize = 1 << 20

// Performative codes.
const (
	codeOpen     byte = 0x10
	codeBegin    byte = 0x11
	codeAttach   byte = 0x12
	codeFlow     byte = 0x13
	codeTransfer byte = 0x14
	codeDetach   byte = 0x16
	codeEnd      byte = 0x17
	codeClose    byte = 0x18
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum frame size")
	errShortFrame    = errors.New("truncated frame body")
)

// Role is the role a peer takes on a link.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// Frame is one decoded performative. The concrete types are Open, Begin,
// Attach, Flow, Transfer, Detach, End and Close.
type Frame interface {
	frameCode() byte
	channel() uint16
	encodeBody(dst []byte) []byte
}

// Open starts a connection. Carried on channel 0.
type Open struct {
	ContainerID string
}

// Begin starts a session on its channel.
type Begin struct {
	Channel uint16
}

// Attach opens one end of a link. Role is the role of the peer that sent
// the frame.
type Attach struct {
	Channel       uint16
	Name          string
	Handle        uint32
	Role          Role
	SourceAddress string
	SourceDynamic bool
	TargetAddress string
}

// Flow grants link credit. Credit is the absolute number of messages the
// issuing receiver is prepared to accept.
type Flow struct {
	Channel uint16
	Handle  uint32
	Credit  uint32
}

// Transfer carries one message on a link.
type Transfer struct {
	Channel uint16
	Handle  uint32
	Message Message
}

// Detach closes one end of a link, optionally with an error condition.
type Detach struct {
	Channel uint16
	Handle  uint32
	Closed  bool
	Error   Condition
}

// End closes a session.
type End struct {
	Channel uint16
	Error   Condition
}

// Close closes a connection. Carried on channel 0.
type Close struct {
	Error Condition
}

func (Open) frameCode() byte     { return codeOpen }
func (Begin) frameCode() byte    { return codeBegin }
func (Attach) frameCode() byte   { return codeAttach }
func (Flow) frameCode() byte     { return codeFlow }
func (Transfer) frameCode() byte { return codeTransfer }
func (Detach) frameCode() byte   { return codeDetach }
func (End) frameCode() byte      { return codeEnd }
func (Close) frameCode() byte    { return codeClose }

func (Open) channel() uint16       { return 0 }
func (f Begin) channel() uint16    { return f.Channel }
func (f Attach) channel() uint16   { return f.Channel }
func (f Flow) channel() uint16     { return f.Channel }
func (f Transfer) channel() uint16 { return f.Channel }
func (f Detach) channel() uint16   { return f.Channel }
func (f End) channel() uint16      { return f.Channel }
func (Close) channel() uint16      { return 0 }

func (f Open) encodeBody(dst []byte) []byte {
	return appendString(dst, f.ContainerID)
}

func (f Begin) encodeBody(dst []byte) []byte {
	return dst
}

func (f Attach) encodeBody(dst []byte) []byte {
	dst = appendString(dst, f.Name)
	dst = binary.BigEndian.AppendUint32(dst, f.Handle)
	dst = appendBool(dst, bool(f.Role))
	dst = appendString(dst, f.SourceAddress)
	dst = appendBool(dst, f.SourceDynamic)
	dst = appendString(dst, f.TargetAddress)
	return dst
}

func (f Flow) encodeBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.Handle)
	dst = binary.BigEndian.AppendUint32(dst, f.Credit)
	return dst
}

func (f Transfer) encodeBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.Handle)
	return appendMessage(dst, f.Message)
}

func (f Detach) encodeBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.Handle)
	dst = appendBool(dst, f.Closed)
	dst = appendCondition(dst, f.Error)
	return dst
}

func (f End) encodeBody(dst []byte) []byte {
	return appendCondition(dst, f.Error)
}

func (f Close) encodeBody(dst []byte) []byte {
	return appendCondition(dst, f.Error)
}

// AppendFrame encodes f, header included, onto dst.
func AppendFrame(dst []byte, f Frame) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0) // size, patched below
	dst = append(dst, f.frameCode())
	dst = binary.BigEndian.AppendUint16(dst, f.channel())
	dst = f.encodeBody(dst)
	binary.BigEndian.PutUint32(dst[start:], uint32(len(dst)-start))
	return dst
}

// ParseFrame decodes the first frame in buf. It returns the frame and the
// number of bytes consumed, or (nil, 0, nil) when buf does not yet hold a
// complete frame.
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	size := binary.BigEndian.Uint32(buf)
	if size > MaxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}
	if size < frameHeaderSize {
		return nil, 0, fmt.Errorf("invalid frame size %d", size)
	}
	if len(buf) < int(size) {
		return nil, 0, nil
	}
	code := buf[4]
	channel := binary.BigEndian.Uint16(buf[5:7])
	r := frameReader{buf: buf[frameHeaderSize:size]}

	var f Frame
	switch code {
	case codeOpen:
		f = Open{ContainerID: r.string()}
	case codeBegin:
		f = Begin{Channel: channel}
	case codeAttach:
		f = Attach{
			Channel:       channel,
			Name:          r.string(),
			Handle:        r.uint32(),
			Role:          Role(r.bool()),
			SourceAddress: r.string(),
			SourceDynamic: r.bool(),
			TargetAddress: r.string(),
		}
	case codeFlow:
		f = Flow{Channel: channel, Handle: r.uint32(), Credit: r.uint32()}
	case codeTransfer:
		f = Transfer{Channel: channel, Handle: r.uint32(), Message: r.message()}
	case codeDetach:
		f = Detach{Channel: channel, Handle: r.uint32(), Closed: r.bool(), Error: r.condition()}
	case codeEnd:
		f = End{Channel: channel, Error: r.condition()}
	case codeClose:
		f = Close{Error: r.condition()}
	default:
		return nil, 0, fmt.Errorf("unknown performative 0x%02x", code)
	}
	if r.err != nil {
		return nil, 0, fmt.Errorf("decoding performative 0x%02x: %w", code, r.err)
	}
	return f, int(size), nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func appendCondition(dst []byte, c Condition) []byte {
	dst = appendString(dst, c.Name)
	return appendString(dst, c.Description)
}

func appendMessage(dst []byte, m Message) []byte {
	dst = appendString(dst, m.Subject)
	dst = appendString(dst, m.ContentType)
	dst = appendString(dst, m.MessageID)
	dst = appendString(dst, m.CorrelationID)
	dst = appendString(dst, m.ReplyTo)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.ApplicationProperties)))
	for k, v := range m.ApplicationProperties {
		dst = appendString(dst, k)
		dst = appendString(dst, v)
	}
	return appendBytes(dst, m.Body)
}

type frameReader struct {
	buf []byte
	err error
}

func (r *frameReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errShortFrame
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *frameReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *frameReader) bool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

func (r *frameReader) string() string {
	n := r.uint32()
	return string(r.take(int(n)))
}

func (r *frameReader) bytes() []byte {
	n := r.uint32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *frameReader) condition() Condition {
	return Condition{Name: r.string(), Description: r.string()}
}

func (r *frameReader) message() Message {
	m := Message{
		Subject:       r.string(),
		ContentType:   r.string(),
		MessageID:     r.string(),
		CorrelationID: r.string(),
		ReplyTo:       r.string(),
	}
	if n := r.uint32(); n > 0 && r.err == nil {
		m.ApplicationProperties = make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			k := r.string()
			m.ApplicationProperties[k] = r.string()
		}
	}
	m.Body = r.bytes()
	return m
}
