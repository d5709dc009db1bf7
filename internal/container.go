package internal

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// ListenHandler is notified of accepted transports and listener
// failures. OnAccept returns the Handler for the new connection.
type ListenHandler interface {
	OnAccept() Handler
	OnListenError(err error)
}

// Container owns a worker pool and a set of listeners, drives
// ConnectionDrivers over their sockets, and hosts the WorkQueues every
// entity serializes on.
type Container struct {
	id      string
	log     logger.Logger
	met     *metrics.Metrics
	workers int

	taskMu   sync.Mutex
	taskCond *sync.Cond
	tasks    []func()
	stopping bool

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	stopCond amqp.Condition

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*netConn]struct{}
}

// NewContainer creates a container with the given AMQP container ID.
// An empty ID gets a generated one. workers <= 0 means one worker per
// logical CPU.
func NewContainer(id string, workers int, log logger.Logger) *Container {
	if id == "" {
		id = "container_" + uuid.NewString()
	}
	if log == nil {
		log = &logger.NilLogger{}
	}
	c := &Container{
		id:      id,
		log:     log,
		workers: workers,
		stopCh:  make(chan struct{}),
		conns:   make(map[*netConn]struct{}),
	}
	c.taskCond = sync.NewCond(&c.taskMu)
	return c
}

// ID returns the AMQP container identifier.
func (c *Container) ID() string { return c.id }

// SetMetrics attaches a metric set. Must be called before Run.
func (c *Container) SetMetrics(m *metrics.Metrics) { c.met = m }

// Stopped reports whether Stop has been called.
func (c *Container) Stopped() bool { return c.stopped.Load() }

// Err returns the condition the container was stopped with.
func (c *Container) Err() amqp.Condition {
	select {
	case <-c.stopCh:
		return c.stopCond
	default:
		return amqp.Condition{}
	}
}

// submit hands a task to the worker pool.
func (c *Container) submit(f func()) {
	c.taskMu.Lock()
	c.tasks = append(c.tasks, f)
	c.taskMu.Unlock()
	c.taskCond.Signal()
}

func (c *Container) worker() {
	for {
		c.taskMu.Lock()
		for len(c.tasks) == 0 && !c.stopping {
			c.taskCond.Wait()
		}
		if len(c.tasks) == 0 {
			c.taskMu.Unlock()
			return
		}
		f := c.tasks[0]
		c.tasks[0] = nil
		c.tasks = c.tasks[1:]
		c.taskMu.Unlock()
		f()
	}
}

// Listen starts accepting transports on addr, a "host:port" address.
// Each accepted transport gets a ConnectionDriver bound to the handler
// the ListenHandler returns from OnAccept.
func (c *Container) Listen(addr string, lh ListenHandler) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	go c.acceptLoop(l, lh)
	return l, nil
}

func (c *Container) acceptLoop(l net.Listener, lh ListenHandler) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !c.stopped.Load() {
				lh.OnListenError(err)
			}
			return
		}
		c.log.Debug("accepted transport from %s", conn.RemoteAddr())
		nc := newNetConn(c, conn, lh.OnAccept(), true)
		nc.start()
	}
}

// Connect dials addr and starts a client-side connection driven by this
// container. Endpoint methods on the returned connection must run on
// its WorkQueue.
func (c *Container) Connect(addr string, h Handler) (*netConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	nc := newNetConn(c, conn, h, false)
	nc.start()
	return nc, nil
}

// Run executes work until Stop is called, then drains and returns the
// stop condition as an error, or nil for a clean stop.
func (c *Container) Run() error {
	workers := c.workers
	if workers <= 0 {
		workers = defaultWorkers()
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker()
		}()
	}

	<-c.stopCh
	wg.Wait()
	if !c.stopCond.Empty() {
		return c.stopCond
	}
	return nil
}

// Stop stops the container with the given condition: listeners close,
// live transports are aborted, outstanding WorkQueue adds start
// returning false, and accepted work runs to completion before Run
// returns.
func (c *Container) Stop(cond amqp.Condition) {
	c.stopOnce.Do(func() {
		c.stopCond = cond
		c.stopped.Store(true)

		c.mu.Lock()
		listeners := c.listeners
		conns := make([]*netConn, 0, len(c.conns))
		for nc := range c.conns {
			conns = append(conns, nc)
		}
		c.mu.Unlock()

		for _, l := range listeners {
			l.Close()
		}
		for _, nc := range conns {
			nc.conn.Close()
		}

		c.taskMu.Lock()
		c.stopping = true
		c.taskMu.Unlock()
		c.taskCond.Broadcast()
		close(c.stopCh)

		if !cond.Empty() {
			c.log.Info("container %s stopping: %s", c.id, cond.What())
		} else {
			c.log.Info("container %s stopping", c.id)
		}
	})
}

func (c *Container) addConn(nc *netConn) {
	c.mu.Lock()
	c.conns[nc] = struct{}{}
	c.mu.Unlock()
	c.met.ConnectionOpened()
}

func (c *Container) removeConn(nc *netConn) {
	c.mu.Lock()
	_, ok := c.conns[nc]
	delete(c.conns, nc)
	c.mu.Unlock()
	if ok {
		c.met.ConnectionClosed()
	}
}
