// Package ferretmq provides the public API for embedding the ferret-mq
// AMQP broker into a Go application. The broker keeps a set of named
// in-memory queues, created on demand; clients publish to a queue by
// opening a sender link targeting its name and subscribe by opening a
// receiver link sourced from it. Messages are dispatched to subscribers
// round-robin, governed by link credit.
package ferretmq

import (
	"context"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/internal"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// Broker is a ferret-mq broker instance. It wraps the internal
// implementation to provide a clean public API.
type Broker struct {
	b internal.Broker
}

// BrokerOption configures a Broker during initialization. Use the
// provided With* functions to create options.
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	internalOpts []internal.BrokerOption
}

// NewBroker creates a new broker with the provided options.
func NewBroker(opts ...BrokerOption) *Broker {
	options := &brokerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &Broker{b: internal.NewBroker(options.internalOpts...)}
}

// Start begins listening for AMQP connections on addr, which may be a
// bare host ("0.0.0.0"), a host:port, or a full AMQP URL. Start blocks
// until the broker stops; run it in a goroutine when embedding. The
// returned error is the stop condition, or nil after a clean shutdown.
func (b *Broker) Start(addr string) error {
	return b.b.Start(addr)
}

// Shutdown gracefully stops the broker: listeners close, in-flight work
// completes and the worker pool drains. The context bounds the wait.
func (b *Broker) Shutdown(ctx context.Context) error {
	return b.b.Shutdown(ctx)
}

// Stop stops the broker with an error condition, which Start returns.
func (b *Broker) Stop(name, description string) {
	b.b.Stop(amqp.Condition{Name: name, Description: description})
}

// Logger returns the broker's configured logger.
func (b *Broker) Logger() logger.Logger {
	return b.b.Logger()
}

// IsReady returns true once the broker is accepting connections.
func (b *Broker) IsReady() bool {
	return b.b.IsReady()
}

// WithLogger sets a custom logger implementing the logger.Logger
// interface. The default logs to stdout, colorized on a terminal.
func WithLogger(l logger.Logger) BrokerOption {
	return func(o *brokerOptions) {
		o.internalOpts = append(o.internalOpts, internal.WithLogger(l))
	}
}

// WithContainerID sets the AMQP container ID the broker announces.
func WithContainerID(id string) BrokerOption {
	return func(o *brokerOptions) {
		o.internalOpts = append(o.internalOpts, internal.WithContainerID(id))
	}
}

// WithCreditWindow sets how many messages the broker is prepared to
// buffer per publishing link before the publisher must wait for more
// credit. The default is 100.
func WithCreditWindow(n int) BrokerOption {
	return func(o *brokerOptions) {
		o.internalOpts = append(o.internalOpts, internal.WithCreditWindow(n))
	}
}

// WithMetrics registers the broker's Prometheus metric set with the
// given metrics instance.
func WithMetrics(m *metrics.Metrics) BrokerOption {
	return func(o *brokerOptions) {
		o.internalOpts = append(o.internalOpts, internal.WithMetrics(m))
	}
}
