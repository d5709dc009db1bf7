package internal

import (
	"bytes"
	"fmt"

	"github.com/ferretmq/ferret-mq/amqp"
)

// Handler is the callback surface for endpoint lifecycle events produced
// by a ConnectionDriver. All callbacks run synchronously inside
// Dispatch, on whatever goroutine is driving the connection.
type Handler interface {
	OnConnectionOpen(*Connection)
	OnConnectionClose(*Connection)
	OnConnectionError(*Connection)
	OnSessionOpen(*Session)
	OnSessionClose(*Session)
	OnSenderOpen(*Link)
	OnSenderClose(*Link)
	OnReceiverOpen(*Link)
	OnReceiverClose(*Link)
	OnSendable(*Link)
	OnMessage(Delivery, amqp.Message)
	OnTransportError(*Transport)
	OnTransportClose(*Transport)
	OnError(amqp.Condition)
}

// DefaultHandler is a no-op Handler for embedding, so implementations
// only spell out the callbacks they care about.
type DefaultHandler struct{}

func (DefaultHandler) OnConnectionOpen(*Connection)     {}
func (DefaultHandler) OnConnectionClose(*Connection)    {}
func (DefaultHandler) OnConnectionError(*Connection)    {}
func (DefaultHandler) OnSessionOpen(*Session)           {}
func (DefaultHandler) OnSessionClose(*Session)          {}
func (DefaultHandler) OnSenderOpen(*Link)               {}
func (DefaultHandler) OnSenderClose(*Link)              {}
func (DefaultHandler) OnReceiverOpen(*Link)             {}
func (DefaultHandler) OnReceiverClose(*Link)            {}
func (DefaultHandler) OnSendable(*Link)                 {}
func (DefaultHandler) OnMessage(Delivery, amqp.Message) {}
func (DefaultHandler) OnTransportError(*Transport)      {}
func (DefaultHandler) OnTransportClose(*Transport)      {}
func (DefaultHandler) OnError(amqp.Condition)           {}

// Transport represents the byte-stream side of a connection. Its error
// is set when the transport is aborted, independently of any AMQP-level
// close.
type Transport struct {
	err amqp.Condition
}

// Error returns the transport's error condition, empty while healthy.
func (t *Transport) Error() amqp.Condition { return t.err }

// ConnOptions configures connection negotiation.
type ConnOptions struct {
	// ContainerID identifies this end in the open frame. Empty means
	// the owning container's ID, or a blank ID on a standalone driver.
	ContainerID string
}

const readChunk = 4096

// ConnectionDriver is an I/O-agnostic AMQP endpoint: bytes are fed in
// through ReadBuffer/ReadDone, pending output is drained through
// WriteBuffer/WriteDone, and Dispatch advances the protocol state
// machine, invoking Handler callbacks for each event produced.
//
// The driver performs no locking; the caller is responsible for
// serializing all calls, typically on the connection's WorkQueue.
type ConnectionDriver struct {
	handler   Handler
	container *Container
	conn      *Connection
	transport Transport

	in  []byte // valid, not yet parsed input
	out []byte // encoded, not yet transmitted output

	server         bool
	headerSent     bool
	headerReceived bool

	readClosed      bool // the read side ended without an AMQP close
	disconnected    bool
	closeEventsSent bool

	// wq is the WorkQueue all access to this driver is serialized on,
	// when the driver is socket-driven. Standalone drivers have none.
	wq *WorkQueue
}

// NewConnectionDriver creates a standalone driver with the given
// handler. Drivers created by a Container are owned by it; standalone
// drivers have no container and Connection.Container fails on them.
func NewConnectionDriver(h Handler) *ConnectionDriver {
	d := &ConnectionDriver{handler: h}
	d.conn = newConnection(d)
	return d
}

func (c *Container) newConnectionDriver(h Handler) *ConnectionDriver {
	d := NewConnectionDriver(h)
	d.container = c
	d.conn.containerID = c.id
	return d
}

// Connection returns the driver's AMQP connection endpoint.
func (d *ConnectionDriver) Connection() *Connection { return d.conn }

// Transport returns the driver's transport.
func (d *ConnectionDriver) Transport() *Transport { return &d.transport }

// Connect initiates client-side negotiation: the protocol header is
// queued for transmission immediately.
func (d *ConnectionDriver) Connect(opts ConnOptions) {
	d.server = false
	if opts.ContainerID != "" {
		d.conn.containerID = opts.ContainerID
	}
	d.sendHeader()
}

// Accept initiates server-side negotiation: the driver waits for the
// peer's protocol header and answers with its own.
func (d *ConnectionDriver) Accept(opts ConnOptions) {
	d.server = true
	if opts.ContainerID != "" {
		d.conn.containerID = opts.ContainerID
	}
}

// ReadBuffer returns the region into which incoming bytes may be
// written. Declare how many were written with ReadDone.
func (d *ConnectionDriver) ReadBuffer() []byte {
	if cap(d.in)-len(d.in) < readChunk {
		grown := make([]byte, len(d.in), len(d.in)+2*readChunk)
		copy(grown, d.in)
		d.in = grown
	}
	return d.in[len(d.in):cap(d.in)]
}

// ReadDone declares that the first n bytes of the read buffer hold valid
// input.
func (d *ConnectionDriver) ReadDone(n int) {
	d.in = d.in[:len(d.in)+n]
}

// WriteBuffer returns the bytes the driver wants transmitted.
func (d *ConnectionDriver) WriteBuffer() []byte { return d.out }

// WriteDone declares that the first n bytes of the write buffer have
// been transmitted.
func (d *ConnectionDriver) WriteDone(n int) {
	d.out = d.out[n:]
}

// ReadClose marks the read side of the transport as ended. IO code calls
// this when it observes EOF or a read error, before Disconnected.
func (d *ConnectionDriver) ReadClose() {
	d.readClosed = true
}

// Disconnected aborts the transport with the given condition. After this
// call Dispatch returns false, the transport error is set, and the AMQP
// connection is left inactive but not closed: no close frame was
// exchanged, so Connection.Error stays empty.
//
// An empty condition is replaced with a default. When the read side was
// closed by the peer before any AMQP close arrived, the abort is not
// ours: " (connection aborted)" is appended to the description.
func (d *ConnectionDriver) Disconnected(cond amqp.Condition) {
	if d.disconnected {
		return
	}
	d.disconnected = true
	d.out = nil
	if d.transport.err.Empty() {
		eff := cond
		if eff.Empty() {
			eff = amqp.Condition{Name: "amqp:connection:framing-error", Description: "connection aborted"}
		} else if d.readClosed && d.headerReceived && !d.conn.remoteClosed {
			eff.Description += " (connection aborted)"
		}
		d.transport.err = eff
	}
}

// Dispatch advances the protocol state machine, parsing buffered input
// and invoking handler callbacks synchronously for each event produced.
// It returns false once the connection has reached a terminal state and
// no further dispatching is required; remaining output, if any, should
// still be flushed.
func (d *ConnectionDriver) Dispatch() bool {
	if d.disconnected {
		d.deliverClose(true)
		return false
	}

	for {
		if !d.headerReceived {
			if len(d.in) < len(amqp.ProtoHeader) {
				break
			}
			if !bytes.Equal(d.in[:len(amqp.ProtoHeader)], amqp.ProtoHeader) {
				d.abort(amqp.Condition{
					Name:        "amqp:connection:framing-error",
					Description: fmt.Sprintf("invalid protocol header %q", d.in[:len(amqp.ProtoHeader)]),
				})
				d.deliverClose(true)
				return false
			}
			d.in = d.in[len(amqp.ProtoHeader):]
			d.headerReceived = true
			d.sendHeader()
			continue
		}

		f, n, err := amqp.ParseFrame(d.in)
		if err != nil {
			d.abort(amqp.Condition{Name: "amqp:connection:framing-error", Description: err.Error()})
			d.deliverClose(true)
			return false
		}
		if n == 0 {
			break
		}
		d.in = d.in[n:]
		d.handleFrame(f)
		if d.disconnected {
			d.deliverClose(true)
			return false
		}
	}

	if d.conn.Closed() {
		d.deliverClose(false)
		return false
	}
	return true
}

// abort records a transport error raised by the driver itself.
func (d *ConnectionDriver) abort(cond amqp.Condition) {
	d.disconnected = true
	d.out = nil
	if d.transport.err.Empty() {
		d.transport.err = cond
	}
}

// deliverClose fires the terminal transport callbacks exactly once.
// The transport close callback always comes last.
func (d *ConnectionDriver) deliverClose(errored bool) {
	if d.closeEventsSent {
		return
	}
	d.closeEventsSent = true
	if errored && !d.transport.err.Empty() {
		d.handler.OnTransportError(&d.transport)
	}
	d.handler.OnTransportClose(&d.transport)
}

// send queues a frame for transmission. The protocol header always goes
// out first, even when an endpoint opens proactively before the peer's
// header has arrived.
func (d *ConnectionDriver) send(f amqp.Frame) {
	if d.disconnected {
		return
	}
	d.sendHeader()
	d.out = amqp.AppendFrame(d.out, f)
}

func (d *ConnectionDriver) sendHeader() {
	if d.headerSent {
		return
	}
	d.headerSent = true
	d.out = append(d.out, amqp.ProtoHeader...)
}

func (d *ConnectionDriver) session(channel uint16) *Session {
	s := d.conn.sessions[channel]
	if s == nil {
		s = newSession(d.conn, channel)
		d.conn.sessions[channel] = s
	}
	return s
}

func (d *ConnectionDriver) handleFrame(f amqp.Frame) {
	switch f := f.(type) {
	case amqp.Open:
		d.conn.remoteOpen = true
		d.conn.remoteContainerID = f.ContainerID
		d.handler.OnConnectionOpen(d.conn)

	case amqp.Begin:
		s := d.session(f.Channel)
		if s.remoteOpen {
			return
		}
		s.remoteOpen = true
		if !s.localOpen {
			s.localOpen = true
			d.send(amqp.Begin{Channel: s.channel})
		}
		d.handler.OnSessionOpen(s)

	case amqp.Attach:
		d.handleAttach(f)

	case amqp.Flow:
		s := d.conn.sessions[f.Channel]
		if s == nil {
			return
		}
		l := s.remoteLinks[f.Handle]
		if l == nil || !l.isSender {
			return
		}
		// Credit can arrive before the local end has attached; the
		// handler still hears about it, which is what makes the
		// broker's pre-binding credit window work.
		l.credit = int(f.Credit)
		if l.credit > 0 && !l.localClosed && !l.remoteClosed {
			d.handler.OnSendable(l)
		}

	case amqp.Transfer:
		s := d.conn.sessions[f.Channel]
		if s == nil {
			return
		}
		l := s.remoteLinks[f.Handle]
		if l == nil || l.isSender {
			return
		}
		if l.credit > 0 {
			l.credit--
		}
		// Keep the peer's window topped up.
		if l.creditWindow > 0 && l.credit <= l.creditWindow/2 {
			l.credit = l.creditWindow
			d.send(amqp.Flow{Channel: s.channel, Handle: l.handle, Credit: uint32(l.credit)})
		}
		d.handler.OnMessage(Delivery{link: l}, f.Message)

	case amqp.Detach:
		s := d.conn.sessions[f.Channel]
		if s == nil {
			return
		}
		l := s.remoteLinks[f.Handle]
		if l == nil || l.remoteClosed {
			return
		}
		l.remoteClosed = true
		l.err = f.Error
		if !f.Error.Empty() {
			d.handler.OnError(f.Error)
		}
		if l.isSender {
			d.handler.OnSenderClose(l)
		} else {
			d.handler.OnReceiverClose(l)
		}
		if !l.localClosed {
			l.localClosed = true
			d.send(amqp.Detach{Channel: s.channel, Handle: l.handle, Closed: true})
		}

	case amqp.End:
		s := d.conn.sessions[f.Channel]
		if s == nil || s.remoteClosed {
			return
		}
		s.remoteClosed = true
		s.err = f.Error
		if !f.Error.Empty() {
			d.handler.OnError(f.Error)
		}
		d.handler.OnSessionClose(s)
		if !s.localClosed {
			s.localClosed = true
			d.send(amqp.End{Channel: s.channel})
		}

	case amqp.Close:
		if d.conn.remoteClosed {
			return
		}
		d.conn.remoteClosed = true
		d.conn.err = f.Error
		if !f.Error.Empty() {
			d.handler.OnConnectionError(d.conn)
		} else {
			d.handler.OnConnectionClose(d.conn)
		}
		if !d.conn.localClosed {
			d.conn.localClosed = true
			d.send(amqp.Close{})
		}
	}
}

func (d *ConnectionDriver) handleAttach(f amqp.Attach) {
	s := d.session(f.Channel)
	if l := s.linksByName[f.Name]; l != nil {
		// The peer's half of a link we initiated.
		l.remoteOpen = true
		l.remoteHandle = f.Handle
		s.remoteLinks[f.Handle] = l
		if l.source.Dynamic && f.SourceAddress != "" {
			l.source = Terminus{Address: f.SourceAddress}
		}
		if l.isSender {
			d.handler.OnSenderOpen(l)
		} else {
			d.handler.OnReceiverOpen(l)
		}
		return
	}

	// A remotely initiated link: our role is the opposite of the peer's.
	l := &Link{
		session:      s,
		name:         f.Name,
		handle:       s.nextHandle,
		remoteHandle: f.Handle,
		isSender:     f.Role == amqp.RoleReceiver,
		source:       Terminus{Address: f.SourceAddress, Dynamic: f.SourceDynamic},
		target:       Terminus{Address: f.TargetAddress},
		remoteOpen:   true,
	}
	s.nextHandle++
	s.remoteLinks[f.Handle] = l
	s.linksByName[f.Name] = l
	if l.isSender {
		d.handler.OnSenderOpen(l)
	} else {
		d.handler.OnReceiverOpen(l)
	}
}
