package internal

import (
	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// sender bridges an outgoing AMQP link to a queue subscription. It lives
// on its connection's WorkQueue; the queue talks back to it only through
// scheduled work. A sender stays alive until the queue delivers its
// unsubscribed notification, after which no further work may target it.
type sender struct {
	l   *Link
	wq  *WorkQueue // the connection's work queue
	log logger.Logger
	met *metrics.Metrics

	queue     *queue
	queueName string

	// pendingCredit holds credit that arrived before the binding; it
	// is drained once by boundQueue.
	pendingCredit int

	// closed marks a link that detached before its binding arrived.
	// Such a sender is discarded at boundQueue time instead of ever
	// subscribing.
	closed bool
}

func newSender(l *Link, wq *WorkQueue, log logger.Logger, met *metrics.Metrics) *sender {
	return &sender{l: l, wq: wq, log: log, met: met}
}

func (s *sender) workQueue() *WorkQueue { return s.wq }

// boundQueue records the binding, subscribes to the queue, opens the
// AMQP link advertising the queue name as its source, and drains any
// credit that arrived before the binding.
func (s *sender) boundQueue(q *queue, name string) {
	if s.closed {
		s.log.Debug("sender %s detached before binding to %s, dropping", s.l.Name(), name)
		return
	}
	s.log.Debug("sender %s bound to queue %s", s.l.Name(), name)
	s.queue = q
	s.queueName = name

	q.wq.Add(func() { q.subscribe(s) })
	s.l.Open(LinkOptions{SourceAddress: name})
	if s.pendingCredit > 0 {
		credit := s.pendingCredit
		s.pendingCredit = 0
		q.wq.Add(func() { q.flow(s, credit) })
	}
	s.log.Info("sending from %s", name)
}

// sendMsg writes one dispatched message to the AMQP link.
func (s *sender) sendMsg(m amqp.Message) {
	if err := s.l.Send(m); err != nil {
		s.log.Warn("sender %s: dropping message: %v", s.l.Name(), err)
		return
	}
	s.met.MessageDelivered()
}

// unsubscribed is the queue's notice that the subscription is gone; the
// sender is dead from here on.
func (s *sender) unsubscribed() {
	s.log.Debug("sender %s unsubscribed", s.l.Name())
	s.queue = nil
}
