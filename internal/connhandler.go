package internal

import (
	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// shutdownAddress is the sentinel receiver target that stops the broker.
const shutdownAddress = "shutdown"

// connectionHandler is the per-connection glue between endpoint events
// and the broker entities. It accepts endpoints, tracks the senders and
// receivers of its connection, and unsubscribes them when the
// connection goes away. All callbacks run on the connection's
// WorkQueue, so the maps need no locking.
type connectionHandler struct {
	DefaultHandler

	qm           *queueManager
	log          logger.Logger
	met          *metrics.Metrics
	creditWindow int

	senders   map[*Link]*sender
	receivers map[*Link]*receiver
}

func newConnectionHandler(qm *queueManager, log logger.Logger, met *metrics.Metrics, creditWindow int) *connectionHandler {
	return &connectionHandler{
		qm:           qm,
		log:          log,
		met:          met,
		creditWindow: creditWindow,
		senders:      make(map[*Link]*sender),
		receivers:    make(map[*Link]*receiver),
	}
}

func (h *connectionHandler) OnConnectionOpen(c *Connection) {
	c.Open() // accept the connection
}

// A sender sends messages from a queue to a subscriber.
func (h *connectionHandler) OnSenderOpen(l *Link) {
	qn := l.Source().Address
	if l.Source().Dynamic {
		qn = ""
	}
	s := newSender(l, l.Session().Connection().WorkQueue(), h.log, h.met)
	h.senders[l] = s
	h.qm.wq.Add(func() { h.qm.findQueue(s, qn) })
}

// We have credit to send a message.
func (h *connectionHandler) OnSendable(l *Link) {
	s := h.senders[l]
	if s == nil {
		return
	}
	credit := l.Credit()
	if q := s.queue; q != nil {
		q.wq.Add(func() { q.flow(s, credit) })
	} else {
		s.pendingCredit = credit
	}
}

// A receiver receives messages from a publisher to a queue.
func (h *connectionHandler) OnReceiverOpen(l *Link) {
	qn := l.Target().Address
	if qn == shutdownAddress {
		// Sending to the special "shutdown" queue stops the broker.
		h.log.Info("broker shutting down")
		if c, err := l.Session().Connection().Container(); err == nil {
			c.Stop(amqp.Condition{Name: "shutdown", Description: "stop broker"})
		}
		return
	}
	if qn == "" {
		h.log.Warn("attach to an empty target address")
	}
	r := newReceiver(l, l.Session().Connection().WorkQueue(), h.log, h.creditWindow)
	h.receivers[l] = r
	h.qm.wq.Add(func() { h.qm.findQueue(r, qn) })
}

// A message is received.
func (h *connectionHandler) OnMessage(d Delivery, m amqp.Message) {
	r := h.receivers[d.Link()]
	if r == nil {
		return
	}
	r.messages = append(r.messages, m)
	if r.queue != nil {
		r.queueMsgs()
	}
}

func (h *connectionHandler) OnSessionClose(s *Session) {
	// Unsubscribe all senders that belong to the session.
	for l, snd := range h.senders {
		if l.Session() == s {
			h.dropSender(l, snd)
		}
	}
}

func (h *connectionHandler) OnSenderClose(l *Link) {
	if s := h.senders[l]; s != nil {
		h.dropSender(l, s)
	}
}

func (h *connectionHandler) OnReceiverClose(l *Link) {
	// Any messages still waiting for the binding are dropped with it.
	delete(h.receivers, l)
}

func (h *connectionHandler) OnError(cond amqp.Condition) {
	h.log.Err("error: %s", cond.What())
}

func (h *connectionHandler) OnTransportError(t *Transport) {
	h.log.Debug("transport error: %s", t.Error().What())
}

// The driver delivers OnTransportClose last.
func (h *connectionHandler) OnTransportClose(*Transport) {
	for l, s := range h.senders {
		h.dropSender(l, s)
	}
	h.receivers = make(map[*Link]*receiver)
}

// dropSender removes a sender from the connection's tracking. A bound
// sender is unsubscribed from its queue, which owns its destruction; an
// unbound one is flagged so boundQueue discards it.
func (h *connectionHandler) dropSender(l *Link, s *sender) {
	if q := s.queue; q != nil {
		q.wq.Add(func() { q.unsubscribe(s) })
	} else {
		s.closed = true
	}
	delete(h.senders, l)
}
