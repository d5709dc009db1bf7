package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsOpen))

	m.QueueCreated()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queues))

	m.SubscriberAdded()
	m.SubscriberRemoved()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscribers))

	m.MessageQueued()
	m.MessageDelivered()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesQueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDelivered))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.QueueCreated()
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.MessageQueued()
	m.MessageDelivered()
}
