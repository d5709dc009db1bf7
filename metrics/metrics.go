// Package metrics exposes the broker's Prometheus instrumentation. All
// methods are nil-safe so the broker can run without a metric set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the broker metric set, registered on a caller-supplied
// registry.
type Metrics struct {
	connectionsOpen   prometheus.Gauge
	queues            prometheus.Gauge
	subscribers       prometheus.Gauge
	messagesQueued    prometheus.Counter
	messagesDelivered prometheus.Counter
}

// NewMetrics creates and registers the broker metric set.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	f := promauto.With(reg)
	m := &Metrics{
		connectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ferretmq",
			Name:      "connections_open",
			Help:      "Number of currently open AMQP connections.",
		}),
		queues: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ferretmq",
			Name:      "queues",
			Help:      "Number of queues created since start.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ferretmq",
			Name:      "subscribers",
			Help:      "Number of active queue subscriptions.",
		}),
		messagesQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ferretmq",
			Name:      "messages_queued_total",
			Help:      "Messages accepted into queues.",
		}),
		messagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ferretmq",
			Name:      "messages_delivered_total",
			Help:      "Messages handed to subscribers.",
		}),
	}
	return m, nil
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsOpen.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsOpen.Dec()
	}
}

func (m *Metrics) QueueCreated() {
	if m != nil {
		m.queues.Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) MessageQueued() {
	if m != nil {
		m.messagesQueued.Inc()
	}
}

func (m *Metrics) MessageDelivered() {
	if m != nil {
		m.messagesDelivered.Inc()
	}
}
