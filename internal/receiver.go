package internal

import (
	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
)

// receiver bridges an incoming AMQP link to queueMsg calls on a queue.
// Messages that arrive before the binding completes wait in a local
// FIFO. If the connection closes before the binding arrives, the FIFO
// is dropped: publishers that need the message delivered must keep the
// connection up until the binding completes.
type receiver struct {
	l   *Link
	wq  *WorkQueue // the connection's work queue
	log logger.Logger

	creditWindow int
	queue        *queue
	messages     []amqp.Message
}

func newReceiver(l *Link, wq *WorkQueue, log logger.Logger, creditWindow int) *receiver {
	return &receiver{l: l, wq: wq, log: log, creditWindow: creditWindow}
}

func (r *receiver) workQueue() *WorkQueue { return r.wq }

// boundQueue records the binding, opens the AMQP link granting the
// publisher its credit window, and drains the local FIFO.
func (r *receiver) boundQueue(q *queue, name string) {
	r.log.Debug("receiver %s bound to queue %s", r.l.Name(), name)
	r.queue = q
	r.l.Open(LinkOptions{TargetAddress: name, Credit: r.creditWindow})
	r.log.Info("receiving to %s", name)
	r.queueMsgs()
}

// queueMsgs posts every locally buffered message to the bound queue.
func (r *receiver) queueMsgs() {
	if len(r.messages) > 0 {
		r.log.Debug("receiver %s queueing %d msgs to %s", r.l.Name(), len(r.messages), r.queue.name)
	}
	q := r.queue
	for _, m := range r.messages {
		m := m
		q.wq.Add(func() { q.queueMsg(m) })
	}
	r.messages = r.messages[:0]
}
