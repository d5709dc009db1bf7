package internal

import (
	"errors"

	"github.com/ferretmq/ferret-mq/amqp"
)

// ErrNoContainer is returned by Connection.Container for a driver that
// was constructed standalone, outside any container.
var ErrNoContainer = errors.New("connection has no container")

// ErrLinkClosed is returned by Link.Send on a closed or half-open link.
var ErrLinkClosed = errors.New("link is closed")

// ErrNoCredit is returned by Link.Send when the peer has granted no
// credit.
var ErrNoCredit = errors.New("no credit to send")

// Terminus describes one end of a link: the source or target address and
// whether the address is dynamically assigned by the remote peer.
type Terminus struct {
	Address string
	Dynamic bool
}

// Connection is the AMQP connection endpoint owned by a ConnectionDriver.
type Connection struct {
	driver *ConnectionDriver

	containerID       string
	remoteContainerID string

	localOpen    bool
	remoteOpen   bool
	localClosed  bool
	remoteClosed bool
	err          amqp.Condition // condition from the peer's close frame

	sessions map[uint16]*Session
	namer    LinkNamer
}

func newConnection(d *ConnectionDriver) *Connection {
	return &Connection{
		driver:   d,
		sessions: make(map[uint16]*Session),
	}
}

// Open sends the connection open frame. On a server connection this is
// how a handler accepts the peer; on a client it initiates negotiation.
// Open is idempotent.
func (c *Connection) Open() {
	if c.localOpen || c.localClosed {
		return
	}
	c.localOpen = true
	c.driver.send(amqp.Open{ContainerID: c.containerID})
}

// Close sends the connection close frame with the given condition. The
// connection is fully closed once the peer's close arrives.
func (c *Connection) Close(cond amqp.Condition) {
	if c.localClosed {
		return
	}
	c.localClosed = true
	c.driver.send(amqp.Close{Error: cond})
}

// Active reports whether both ends have opened and neither has closed.
func (c *Connection) Active() bool {
	return c.localOpen && c.remoteOpen && !c.localClosed && !c.remoteClosed
}

// Closed reports whether both ends have closed.
func (c *Connection) Closed() bool {
	return c.localClosed && c.remoteClosed
}

// Error returns the condition the peer closed with, if any. A transport
// abort does not set this; see Transport.Error.
func (c *Connection) Error() amqp.Condition {
	return c.err
}

// ContainerID returns the local container identifier.
func (c *Connection) ContainerID() string {
	return c.containerID
}

// RemoteContainerID returns the peer's container identifier, known once
// the peer's open frame has arrived.
func (c *Connection) RemoteContainerID() string {
	return c.remoteContainerID
}

// Container returns the container that owns this connection's driver, or
// ErrNoContainer for a standalone driver.
func (c *Connection) Container() (*Container, error) {
	if c.driver.container == nil {
		return nil, ErrNoContainer
	}
	return c.driver.container, nil
}

// WorkQueue returns the serial executor this connection's work runs on,
// or nil for a standalone driver.
func (c *Connection) WorkQueue() *WorkQueue {
	return c.driver.wq
}

// SetLinkNamer installs a custom link namer used for locally initiated
// links opened without an explicit name.
func (c *Connection) SetLinkNamer(n LinkNamer) {
	c.namer = n
}

func (c *Connection) linkNamer() LinkNamer {
	if c.namer == nil {
		c.namer = newUUIDNamer()
	}
	return c.namer
}

// defaultSession returns the session on channel 0, beginning it locally
// on first use. If the peer already began a session on channel 0, that
// session is the one returned.
func (c *Connection) defaultSession() *Session {
	s := c.sessions[0]
	if s == nil {
		s = newSession(c, 0)
		c.sessions[0] = s
	}
	if !s.localOpen {
		s.localOpen = true
		c.driver.send(amqp.Begin{Channel: s.channel})
	}
	return s
}

// OpenSender opens a sending link targeting the given address. The
// connection and session are opened implicitly if needed.
func (c *Connection) OpenSender(target string) *Link {
	c.Open()
	s := c.defaultSession()
	l := s.newLocalLink(true)
	l.target = Terminus{Address: target}
	l.sendAttach()
	return l
}

// OpenReceiver opens a receiving link from the given source address and
// grants the publisher the given credit window.
func (c *Connection) OpenReceiver(source string, credit int) *Link {
	c.Open()
	s := c.defaultSession()
	l := s.newLocalLink(false)
	l.source = Terminus{Address: source}
	l.creditWindow = credit
	l.sendAttach()
	if credit > 0 {
		l.credit = credit
		c.driver.send(amqp.Flow{Channel: s.channel, Handle: l.handle, Credit: uint32(credit)})
	}
	return l
}

// OpenDynamicReceiver opens a receiving link whose source address is
// assigned by the peer. The assigned address appears in Source() once
// the peer's attach arrives.
func (c *Connection) OpenDynamicReceiver(credit int) *Link {
	c.Open()
	s := c.defaultSession()
	l := s.newLocalLink(false)
	l.source = Terminus{Dynamic: true}
	l.creditWindow = credit
	l.sendAttach()
	if credit > 0 {
		l.credit = credit
		c.driver.send(amqp.Flow{Channel: s.channel, Handle: l.handle, Credit: uint32(credit)})
	}
	return l
}

// Session groups links sharing a connection channel.
type Session struct {
	conn    *Connection
	channel uint16

	localOpen    bool
	remoteOpen   bool
	localClosed  bool
	remoteClosed bool
	err          amqp.Condition

	remoteLinks map[uint32]*Link // keyed by the peer's handle
	linksByName map[string]*Link
	nextHandle  uint32
}

func newSession(c *Connection, channel uint16) *Session {
	return &Session{
		conn:        c,
		channel:     channel,
		remoteLinks: make(map[uint32]*Link),
		linksByName: make(map[string]*Link),
	}
}

// Connection returns the session's connection.
func (s *Session) Connection() *Connection { return s.conn }

// Close ends the session with the given condition.
func (s *Session) Close(cond amqp.Condition) {
	if s.localClosed {
		return
	}
	s.localClosed = true
	s.conn.driver.send(amqp.End{Channel: s.channel, Error: cond})
}

// Closed reports whether both ends have ended the session.
func (s *Session) Closed() bool { return s.localClosed && s.remoteClosed }

// Error returns the condition the peer ended with, if any.
func (s *Session) Error() amqp.Condition { return s.err }

func (s *Session) newLocalLink(isSender bool) *Link {
	l := &Link{
		session:   s,
		name:      s.conn.linkNamer().LinkName(),
		handle:    s.nextHandle,
		isSender:  isSender,
		localOpen: true,
	}
	s.nextHandle++
	s.linksByName[l.name] = l
	return l
}

// LinkOptions configures the local end of a link when a handler accepts
// a remotely initiated attach.
type LinkOptions struct {
	// SourceAddress advertises the source address on a sending link.
	// For a dynamically requested source this is where the assigned
	// address goes.
	SourceAddress string

	// TargetAddress advertises the target address on a receiving link.
	TargetAddress string

	// Credit is the credit window granted to the peer on a receiving
	// link. The driver keeps the window topped up as transfers arrive.
	Credit int
}

// Link is one end of a unidirectional message flow.
type Link struct {
	session *Session
	name    string

	handle       uint32 // our handle, used on outgoing frames
	remoteHandle uint32 // the peer's handle, used on incoming frames

	isSender bool
	source   Terminus
	target   Terminus

	// For a sender: credit granted by the peer. For a receiver: credit
	// outstanding with the peer.
	credit       int
	creditWindow int

	localOpen    bool
	remoteOpen   bool
	localClosed  bool
	remoteClosed bool
	err          amqp.Condition
}

// Name returns the link name, identical on both peers.
func (l *Link) Name() string { return l.name }

// Session returns the session the link is attached to.
func (l *Link) Session() *Session { return l.session }

// IsSender reports whether the local end sends messages.
func (l *Link) IsSender() bool { return l.isSender }

// Source returns the link's source terminus.
func (l *Link) Source() Terminus { return l.source }

// Target returns the link's target terminus.
func (l *Link) Target() Terminus { return l.target }

// Credit returns the sendable credit on a sender link.
func (l *Link) Credit() int { return l.credit }

// Closed reports whether both ends have detached.
func (l *Link) Closed() bool { return l.localClosed && l.remoteClosed }

// Error returns the condition the peer detached with, if any.
func (l *Link) Error() amqp.Condition { return l.err }

// Open completes the local end of a remotely initiated link. A sender
// link advertises opts.SourceAddress as its source; a receiver link
// grants opts.Credit to the peer. Open is idempotent.
func (l *Link) Open(opts LinkOptions) {
	if l.localOpen || l.localClosed {
		return
	}
	l.localOpen = true
	if opts.SourceAddress != "" {
		l.source.Address = opts.SourceAddress
		l.source.Dynamic = false
	}
	if opts.TargetAddress != "" {
		l.target.Address = opts.TargetAddress
	}
	l.sendAttach()
	if !l.isSender && opts.Credit > 0 {
		l.creditWindow = opts.Credit
		l.credit = opts.Credit
		l.session.conn.driver.send(amqp.Flow{
			Channel: l.session.channel,
			Handle:  l.handle,
			Credit:  uint32(opts.Credit),
		})
	}
}

func (l *Link) sendAttach() {
	role := amqp.RoleReceiver
	if l.isSender {
		role = amqp.RoleSender
	}
	l.session.conn.driver.send(amqp.Attach{
		Channel:       l.session.channel,
		Name:          l.name,
		Handle:        l.handle,
		Role:          role,
		SourceAddress: l.source.Address,
		SourceDynamic: l.source.Dynamic,
		TargetAddress: l.target.Address,
	})
}

// Send transfers a message on a sender link, consuming one credit.
func (l *Link) Send(m amqp.Message) error {
	if !l.isSender || !l.localOpen || l.localClosed || l.remoteClosed {
		return ErrLinkClosed
	}
	if l.credit <= 0 {
		return ErrNoCredit
	}
	l.credit--
	l.session.conn.driver.send(amqp.Transfer{
		Channel: l.session.channel,
		Handle:  l.handle,
		Message: m,
	})
	return nil
}

// Flow grants the peer the given absolute credit on a receiver link.
func (l *Link) Flow(credit int) {
	if l.isSender || !l.localOpen || l.localClosed {
		return
	}
	l.credit = credit
	l.session.conn.driver.send(amqp.Flow{
		Channel: l.session.channel,
		Handle:  l.handle,
		Credit:  uint32(credit),
	})
}

// Close detaches the link with the given condition.
func (l *Link) Close(cond amqp.Condition) {
	if l.localClosed {
		return
	}
	l.localClosed = true
	l.session.conn.driver.send(amqp.Detach{
		Channel: l.session.channel,
		Handle:  l.handle,
		Closed:  true,
		Error:   cond,
	})
}

// Delivery identifies one received message and the link it arrived on.
type Delivery struct {
	link *Link
}

// Link returns the receiving link the delivery arrived on.
func (d Delivery) Link() *Link { return d.link }
