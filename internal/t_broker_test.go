package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferretmq/ferret-mq/logger"
)

// deferringHandler records sender links without accepting them, the way
// the broker defers its attach reply until the queue binding arrives.
type deferringHandler struct {
	recordHandler
}

func (h *deferringHandler) OnSenderOpen(l *Link) {
	h.senders = append(h.senders, l)
}

// brokerSenderLink opens a receiving link from the a side of a pair and
// returns the matching, not yet accepted, sender link on the b side.
func brokerSenderLink(t *testing.T, credit int) (*driverPair, *Link) {
	t.Helper()
	ha, hb := &recordHandler{}, &deferringHandler{}
	p := newDriverPair(ha, hb)
	p.a.Connection().OpenReceiver("q1", credit)
	p.process()
	return p, popLink(t, &hb.senders)
}

func TestSenderPendingCreditDrainedOnBinding(t *testing.T) {
	c := startTestContainer(t)
	_, link := brokerSenderLink(t, 0)

	s := newSender(link, c.NewWorkQueue(), &logger.NilLogger{}, nil)
	s.pendingCredit = 7

	q := newQueue(c, "q1", &logger.NilLogger{}, nil)
	post(t, s.wq, func() { s.boundQueue(q, "q1") })
	flushWQ(t, s.wq)
	flushWQ(t, q.wq)

	var credits []int
	post(t, q.wq, func() {
		for _, e := range q.subs {
			credits = append(credits, e.credit)
		}
	})
	flushWQ(t, q.wq)

	// The queue observed a flow with exactly the pre-binding credit.
	require.Equal(t, []int{7}, credits)

	var drained int
	post(t, s.wq, func() { drained = s.pendingCredit })
	flushWQ(t, s.wq)
	assert.Zero(t, drained, "pending credit is drained once")
	assert.Equal(t, "q1", s.queueName)
}

func TestSenderClosedBeforeBindingNeverSubscribes(t *testing.T) {
	c := startTestContainer(t)
	_, link := brokerSenderLink(t, 0)

	s := newSender(link, c.NewWorkQueue(), &logger.NilLogger{}, nil)
	s.closed = true

	q := newQueue(c, "q1", &logger.NilLogger{}, nil)
	post(t, s.wq, func() { s.boundQueue(q, "q1") })
	flushWQ(t, s.wq)
	flushWQ(t, q.wq)

	var subs int
	post(t, q.wq, func() { subs = len(q.subs) })
	flushWQ(t, q.wq)
	assert.Zero(t, subs)
	assert.Nil(t, s.queue)
}

func TestSenderBindingSubscribesAndAdvertisesSource(t *testing.T) {
	c := startTestContainer(t)
	p, link := brokerSenderLink(t, 0)

	s := newSender(link, c.NewWorkQueue(), &logger.NilLogger{}, nil)
	q := newQueue(c, "orders", &logger.NilLogger{}, nil)
	post(t, s.wq, func() { s.boundQueue(q, "orders") })
	flushWQ(t, s.wq)
	flushWQ(t, q.wq)

	var subs int
	post(t, q.wq, func() { subs = len(q.subs) })
	flushWQ(t, q.wq)
	assert.Equal(t, 1, subs)
	assert.Equal(t, "orders", link.Source().Address)

	// Delivering the attach reply to the peer leaves the advertised
	// source on this end in place.
	p.process()
	assert.Equal(t, "orders", link.Source().Address)
}
