package internal

import (
	"context"
	"sync/atomic"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// defaultCreditWindow is the per-link credit granted to publishers when
// no other window is configured.
const defaultCreditWindow = 100

// Broker is the internal broker surface wrapped by the public API.
type Broker interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
	Stop(cond amqp.Condition)
	Logger() logger.Logger
	IsReady() bool
}

type broker struct {
	log          logger.Logger
	met          *metrics.Metrics
	containerID  string
	creditWindow int

	container *Container
	qm        *queueManager

	ready   atomic.Bool
	started atomic.Bool
	runDone chan struct{}
}

// BrokerOption configures a broker at construction time.
type BrokerOption func(*broker)

// WithLogger sets a custom logger implementing the Logger interface.
func WithLogger(l logger.Logger) BrokerOption {
	return func(b *broker) {
		if l != nil {
			b.log = l
		}
	}
}

// WithContainerID names the AMQP container; default is a generated ID.
func WithContainerID(id string) BrokerOption {
	return func(b *broker) { b.containerID = id }
}

// WithCreditWindow sets the credit granted to publishers per incoming
// link.
func WithCreditWindow(n int) BrokerOption {
	return func(b *broker) {
		if n > 0 {
			b.creditWindow = n
		}
	}
}

// WithMetrics attaches a Prometheus metric set.
func WithMetrics(m *metrics.Metrics) BrokerOption {
	return func(b *broker) { b.met = m }
}

// NewBroker creates a broker with the provided options.
func NewBroker(opts ...BrokerOption) Broker {
	b := &broker{
		log:          newStdLogger(),
		creditWindow: defaultCreditWindow,
		runDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.container = NewContainer(b.containerID, 0, b.log)
	b.container.SetMetrics(b.met)
	b.qm = newQueueManager(b.container, b.log, b.met)
	return b
}

// Start listens on addr, given as an AMQP URL ("0.0.0.0",
// "amqp://host:port", "host:5672", ...), and runs the container. It
// blocks until the broker is stopped and returns the stop condition as
// an error, or nil for a clean stop.
func (b *broker) Start(addr string) error {
	b.started.Store(true)
	defer close(b.runDone)

	u := amqp.ParseURL(addr)
	l, err := b.container.Listen(u.HostPort(), &listenHandler{b: b})
	if err != nil {
		return err
	}
	b.log.Info("broker listening on %s", l.Addr())
	b.ready.Store(true)
	defer b.ready.Store(false)
	return b.container.Run()
}

// Shutdown stops the broker cleanly and waits for the container to
// drain, or for ctx to expire.
func (b *broker) Shutdown(ctx context.Context) error {
	if !b.started.Load() {
		return nil
	}
	b.Stop(amqp.Condition{})
	select {
	case <-b.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the broker with the given condition.
func (b *broker) Stop(cond amqp.Condition) {
	b.container.Stop(cond)
}

// Logger returns the broker's logger.
func (b *broker) Logger() logger.Logger { return b.log }

// IsReady reports whether the broker is accepting connections.
func (b *broker) IsReady() bool { return b.ready.Load() }

// listenHandler hands each accepted transport a fresh
// connectionHandler. A listener failure stops the broker.
type listenHandler struct {
	b *broker
}

func (lh *listenHandler) OnAccept() Handler {
	return newConnectionHandler(lh.b.qm, lh.b.log, lh.b.met, lh.b.creditWindow)
}

func (lh *listenHandler) OnListenError(err error) {
	lh.b.log.Err("listen error: %v", err)
	lh.b.container.Stop(amqp.Condition{Name: "amqp:internal-error", Description: err.Error()})
}
