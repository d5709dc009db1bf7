package internal

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
)

// testBrokerPortCounter assigns unique ports to test brokers.
var testBrokerPortCounter = 5800
var portCounterMutex sync.Mutex

func getNextTestPort() int {
	portCounterMutex.Lock()
	defer portCounterMutex.Unlock()
	port := testBrokerPortCounter
	testBrokerPortCounter++
	return port
}

// setupTestBroker starts a broker on a fresh port and returns its
// address, a channel carrying Start's result, and a cleanup func.
func setupTestBroker(t *testing.T, opts ...BrokerOption) (b Broker, addr string, startErr <-chan error, cleanup func()) {
	t.Helper()
	addr = fmt.Sprintf("127.0.0.1:%d", getNextTestPort())
	opts = append([]BrokerOption{WithLogger(&logger.NilLogger{})}, opts...)
	b = NewBroker(opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Start(addr)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !b.IsReady() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !b.IsReady() {
		t.Fatalf("broker did not become ready on %s", addr)
	}

	cleanup = func() {
		b.Stop(amqp.Condition{})
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Logf("warning: broker on %s did not stop within timeout", addr)
		}
	}
	return b, addr, errCh, cleanup
}

// startTestContainer runs a container for unit tests and stops it on
// test cleanup.
func startTestContainer(t *testing.T) *Container {
	t.Helper()
	c := NewContainer("test-container", 4, &logger.NilLogger{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	t.Cleanup(func() {
		c.Stop(amqp.Condition{})
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Log("warning: test container did not drain within timeout")
		}
	})
	return c
}

// post adds a work item and fails the test if the queue refused it.
func post(t *testing.T, wq *WorkQueue, f func()) {
	t.Helper()
	if !wq.Add(f) {
		t.Fatal("work queue refused work: container stopped")
	}
}

// flushWQ waits until everything queued ahead of it on wq has run.
func flushWQ(t *testing.T, wq *WorkQueue) {
	t.Helper()
	done := make(chan struct{})
	post(t, wq, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work queue did not drain within timeout")
	}
}

// recordHandler records incoming endpoints, messages and errors. It is
// only safe for single-goroutine use, i.e. with in-memory driver pairs.
type recordHandler struct {
	DefaultHandler

	senders   []*Link
	receivers []*Link
	sessions  []*Session
	sendable  []*Link
	messages  []amqp.Message

	transportErrors  []string
	connectionErrors []string
	unhandledErrors  []string
}

func (h *recordHandler) OnConnectionOpen(c *Connection) { c.Open() }

func (h *recordHandler) OnSessionOpen(s *Session) { h.sessions = append(h.sessions, s) }

// Links the peer initiates are accepted immediately; receivers get a
// small default credit window. Open is a no-op on links this side
// initiated itself.
func (h *recordHandler) OnSenderOpen(l *Link) {
	h.senders = append(h.senders, l)
	l.Open(LinkOptions{})
}

func (h *recordHandler) OnReceiverOpen(l *Link) {
	h.receivers = append(h.receivers, l)
	l.Open(LinkOptions{Credit: 10})
}

func (h *recordHandler) OnSendable(l *Link) { h.sendable = append(h.sendable, l) }

func (h *recordHandler) OnMessage(d Delivery, m amqp.Message) {
	h.messages = append(h.messages, m)
}

func (h *recordHandler) OnTransportError(tr *Transport) {
	h.transportErrors = append(h.transportErrors, tr.Error().What())
}

func (h *recordHandler) OnConnectionError(c *Connection) {
	h.connectionErrors = append(h.connectionErrors, c.Error().What())
}

func (h *recordHandler) OnError(cond amqp.Condition) {
	h.unhandledErrors = append(h.unhandledErrors, cond.What())
}

func popLink(t *testing.T, links *[]*Link) *Link {
	t.Helper()
	if len(*links) == 0 {
		t.Fatal("expected a link")
	}
	l := (*links)[0]
	*links = (*links)[1:]
	return l
}

// driverPair is a pair of connection drivers that talk to each other in
// memory, simulating a connection. a is the client, b the server.
type driverPair struct {
	a, b *ConnectionDriver
}

func newDriverPair(ha, hb Handler) *driverPair {
	p := &driverPair{
		a: NewConnectionDriver(ha),
		b: NewConnectionDriver(hb),
	}
	p.a.Connect(ConnOptions{ContainerID: "a"})
	p.b.Accept(ConnOptions{ContainerID: "b"})
	return p
}

// process shuttles pending bytes between the two drivers and dispatches
// both until the pair is quiescent.
func (p *driverPair) process() {
	for i := 0; i < 1000; i++ {
		moved := movePending(p.a, p.b) + movePending(p.b, p.a)
		p.a.Dispatch()
		p.b.Dispatch()
		if moved == 0 {
			return
		}
	}
	panic("driver pair did not quiesce")
}

// movePending copies src's pending output into dst's read buffer.
func movePending(src, dst *ConnectionDriver) int {
	total := 0
	for {
		wb := src.WriteBuffer()
		if len(wb) == 0 {
			return total
		}
		rb := dst.ReadBuffer()
		n := copy(rb, wb)
		dst.ReadDone(n)
		src.WriteDone(n)
		total += n
	}
}

// abortPeer simulates the IO layer of the given driver observing the
// peer's abort: the read stream just ends.
func (p *driverPair) abortPeer(d *ConnectionDriver) {
	d.ReadClose()
}

// charNamer names links with successive single characters.
type charNamer struct {
	c byte
}

func (n *charNamer) LinkName() string {
	s := string(n.c)
	n.c++
	return s
}
