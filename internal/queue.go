package internal

import (
	"fmt"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

// subscriber is the queue's view of a sender: a serial executor to
// schedule work on, a way to hand over a message, and the unsubscribed
// notification that ends its lifetime.
type subscriber interface {
	workQueue() *WorkQueue
	sendMsg(m amqp.Message)
	unsubscribed()
}

// subscription is one subscriber's standing in a queue: the subscriber
// plus the credit it currently holds.
type subscription struct {
	s      subscriber
	credit int
}

// queue is an in-memory FIFO of messages with round-robin dispatch to
// its subscribers. Queues are created on demand and never destroyed.
// Every method runs only on the queue's WorkQueue.
type queue struct {
	wq   *WorkQueue
	name string
	log  logger.Logger
	met  *metrics.Metrics

	messages []amqp.Message
	subs     []*subscription

	// cursor indexes the next subscription to consider; it persists
	// across dispatch rounds so bursts are spread over subscribers.
	// len(subs) means "end": the next round starts over.
	cursor int
}

func newQueue(c *Container, name string, log logger.Logger, met *metrics.Metrics) *queue {
	return &queue{
		wq:   c.NewWorkQueue(),
		name: name,
		log:  log,
		met:  met,
	}
}

// queueMsg appends m and dispatches whatever current credit allows.
func (q *queue) queueMsg(m amqp.Message) {
	q.log.Debug("queue %s: queueMsg (%d pending)", q.name, len(q.messages)+1)
	q.messages = append(q.messages, m)
	q.met.MessageQueued()
	q.tryToSend()
}

// subscribe adds s with zero credit. Re-subscribing resets credit.
func (q *queue) subscribe(s subscriber) {
	q.log.Debug("queue %s: subscribe %p", q.name, s)
	if e := q.find(s); e != nil {
		e.credit = 0
		return
	}
	q.subs = append(q.subs, &subscription{s: s})
	q.met.SubscriberAdded()
}

// flow sets s's credit to c and dispatches. The credit overwrites the
// previous value: the driver reports absolute link credit.
func (q *queue) flow(s subscriber, c int) {
	q.log.Debug("queue %s: flow %d to %p", q.name, c, s)
	if e := q.find(s); e != nil {
		e.credit = c
	} else {
		q.subs = append(q.subs, &subscription{s: s, credit: c})
		q.met.SubscriberAdded()
	}
	q.tryToSend()
}

// unsubscribe removes s and notifies it once the removal has taken
// effect. If the cursor sits on s it advances first, so the next
// dispatch round neither skips nor double-serves a subscriber.
func (q *queue) unsubscribe(s subscriber) {
	q.log.Debug("queue %s: unsubscribe %p", q.name, s)
	for i, e := range q.subs {
		if e.s != s {
			continue
		}
		if q.cursor > i {
			q.cursor--
		}
		q.subs = append(q.subs[:i], q.subs[i+1:]...)
		q.met.SubscriberRemoved()
		break
	}
	s.workQueue().Add(s.unsubscribed)
}

// tryToSend walks the subscriptions round-robin starting at the cursor,
// sending one message per unit of credit, until it runs out of messages
// or every subscriber is out of credit.
func (q *queue) tryToSend() {
	outOfCredit := 0
	for len(q.messages) > 0 && outOfCredit < len(q.subs) {
		if q.cursor >= len(q.subs) {
			q.cursor = 0
		}
		e := q.subs[q.cursor]
		if e.credit > 0 {
			m := q.messages[0]
			q.messages = q.messages[1:]
			e.credit--
			s := e.s
			s.workQueue().Add(func() { s.sendMsg(m) })
		} else {
			outOfCredit++
		}
		q.cursor++
	}
}

func (q *queue) find(s subscriber) *subscription {
	for _, e := range q.subs {
		if e.s == s {
			return e
		}
	}
	return nil
}

// bindable is an endpoint entity that can be bound to a queue: the
// broker-side sender and receiver both implement it.
type bindable interface {
	workQueue() *WorkQueue
	boundQueue(q *queue, name string)
}

// queueManager creates and looks up queues by name and assigns dynamic
// names. All methods run only on its WorkQueue.
type queueManager struct {
	c   *Container
	wq  *WorkQueue
	log logger.Logger
	met *metrics.Metrics

	queues map[string]*queue
	nextID int
}

func newQueueManager(c *Container, log logger.Logger, met *metrics.Metrics) *queueManager {
	return &queueManager{
		c:      c,
		wq:     c.NewWorkQueue(),
		log:    log,
		met:    met,
		queues: make(map[string]*queue),
	}
}

// findQueue resolves name to a queue, creating it on first lookup, and
// posts boundQueue back to the requesting endpoint. An empty name gets
// a fresh server-assigned one. The requester does not touch the queue
// until boundQueue arrives, so the binding always precedes any
// queue-originated traffic for it.
func (qm *queueManager) findQueue(b bindable, name string) {
	if name == "" {
		name = fmt.Sprintf("_dynamic_%d", qm.nextID)
		qm.nextID++
	}
	q := qm.queues[name]
	if q == nil {
		q = newQueue(qm.c, name, qm.log, qm.met)
		qm.queues[name] = q
		qm.met.QueueCreated()
		qm.log.Info("created queue %s", name)
	}
	qn := name
	b.workQueue().Add(func() { b.boundQueue(q, qn) })
}
