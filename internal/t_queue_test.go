package internal

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
)

// stubSub is a subscriber that records what the queue hands it.
type stubSub struct {
	wq *WorkQueue

	mu       sync.Mutex
	got      []string
	unsubbed bool
}

func newStubSub(c *Container) *stubSub {
	return &stubSub{wq: c.NewWorkQueue()}
}

func (s *stubSub) workQueue() *WorkQueue { return s.wq }

func (s *stubSub) sendMsg(m amqp.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, string(m.Body))
}

func (s *stubSub) unsubscribed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubbed = true
}

func (s *stubSub) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func (s *stubSub) wasUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubbed
}

func msg(i int) amqp.Message {
	return amqp.Message{Body: []byte(fmt.Sprintf("%d", i))}
}

// flushQueue drains the queue's work and then every subscriber's work.
func flushQueue(t *testing.T, q *queue, subs ...*stubSub) {
	t.Helper()
	flushWQ(t, q.wq)
	for _, s := range subs {
		flushWQ(t, s.wq)
	}
}

func TestQueueRoundRobinFairness(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a, b, s3 := newStubSub(c), newStubSub(c), newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.subscribe(b)
		q.subscribe(s3)
		q.flow(a, 4)
		q.flow(b, 4)
		q.flow(s3, 4)
	})
	for i := 0; i < 12; i++ {
		m := msg(i)
		post(t, q.wq, func() { q.queueMsg(m) })
	}
	flushQueue(t, q, a, b, s3)

	// Strict round robin: message i goes to subscriber i%3.
	assert.Equal(t, []string{"0", "3", "6", "9"}, a.messages())
	assert.Equal(t, []string{"1", "4", "7", "10"}, b.messages())
	assert.Equal(t, []string{"2", "5", "8", "11"}, s3.messages())
}

func TestQueueNoSubscribersMessagesRemain(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)

	for i := 0; i < 3; i++ {
		m := msg(i)
		post(t, q.wq, func() { q.queueMsg(m) })
	}
	var pending int
	post(t, q.wq, func() { pending = len(q.messages) })
	flushWQ(t, q.wq)
	assert.Equal(t, 3, pending)

	// A subscriber with credit drains the backlog in order.
	a := newStubSub(c)
	post(t, q.wq, func() {
		q.subscribe(a)
		q.flow(a, 5)
	})
	flushQueue(t, q, a)
	assert.Equal(t, []string{"0", "1", "2"}, a.messages())
}

func TestQueueNoCreditMessagesRemain(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a := newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.queueMsg(msg(0))
		q.queueMsg(msg(1))
	})
	flushQueue(t, q, a)
	assert.Empty(t, a.messages())

	post(t, q.wq, func() { q.flow(a, 2) })
	flushQueue(t, q, a)
	assert.Equal(t, []string{"0", "1"}, a.messages())
}

func TestQueueFlowOverwritesCredit(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a := newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.flow(a, 5)
		q.flow(a, 2) // overwrite, not accumulate
		for i := 0; i < 3; i++ {
			q.queueMsg(msg(i))
		}
	})
	flushQueue(t, q, a)

	assert.Equal(t, []string{"0", "1"}, a.messages())
	var pending int
	post(t, q.wq, func() { pending = len(q.messages) })
	flushWQ(t, q.wq)
	assert.Equal(t, 1, pending)
}

func TestQueueUnsubscribeUnderCursor(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a, b, s3 := newStubSub(c), newStubSub(c), newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.subscribe(b)
		q.subscribe(s3)
		q.flow(a, 1)
		q.queueMsg(msg(0)) // goes to a, cursor now on b
	})
	flushQueue(t, q, a)
	require.Equal(t, []string{"0"}, a.messages())

	// Erase the subscription the cursor sits on: the cursor must move
	// on, and the next dispatch serves the following subscriber.
	post(t, q.wq, func() {
		q.unsubscribe(b)
		q.flow(s3, 1)
		q.queueMsg(msg(1))
	})
	flushQueue(t, q, a, b, s3)

	assert.Equal(t, []string{"1"}, s3.messages())
	assert.Empty(t, b.messages())
	assert.True(t, b.wasUnsubscribed())
}

func TestQueueUnsubscribeBeforeCursor(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a, b, s3 := newStubSub(c), newStubSub(c), newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.subscribe(b)
		q.subscribe(s3)
		q.flow(b, 1)
		q.queueMsg(msg(0)) // goes to b, cursor now on s3
		q.unsubscribe(a)   // removal before the cursor shifts it back
		q.flow(s3, 1)
		q.queueMsg(msg(1)) // must go to s3, not skip back to b
	})
	flushQueue(t, q, a, b, s3)

	assert.Equal(t, []string{"0"}, b.messages())
	assert.Equal(t, []string{"1"}, s3.messages())
	assert.True(t, a.wasUnsubscribed())
}

func TestQueueUnsubscribeLastUnderCursorResets(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a, b := newStubSub(c), newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.subscribe(b)
		q.flow(a, 1)
		q.flow(b, 1)
		q.queueMsg(msg(0)) // a, cursor on b
		q.queueMsg(msg(1)) // b, cursor at end
		q.unsubscribe(b)   // cursor stays at end
		q.flow(a, 1)
		q.queueMsg(msg(2)) // wraps to a
	})
	flushQueue(t, q, a, b)

	assert.Equal(t, []string{"0", "2"}, a.messages())
	assert.Equal(t, []string{"1"}, b.messages())
}

func TestQueueResubscribeResetsCredit(t *testing.T) {
	c := startTestContainer(t)
	q := newQueue(c, "q", &logger.NilLogger{}, nil)
	a := newStubSub(c)

	post(t, q.wq, func() {
		q.subscribe(a)
		q.flow(a, 3)
		q.subscribe(a) // re-subscribe resets credit to zero
		q.queueMsg(msg(0))
	})
	flushQueue(t, q, a)
	assert.Empty(t, a.messages())
}

type boundEvent struct {
	q    *queue
	name string
}

// stubBind records boundQueue notifications from the queue manager.
type stubBind struct {
	wq *WorkQueue
	ch chan boundEvent
}

func newStubBind(c *Container) *stubBind {
	return &stubBind{wq: c.NewWorkQueue(), ch: make(chan boundEvent, 16)}
}

func (s *stubBind) workQueue() *WorkQueue { return s.wq }

func (s *stubBind) boundQueue(q *queue, name string) {
	s.ch <- boundEvent{q: q, name: name}
}

func waitBound(t *testing.T, b *stubBind) boundEvent {
	t.Helper()
	select {
	case e := <-b.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no boundQueue notification")
		return boundEvent{}
	}
}

func TestQueueManagerDynamicNames(t *testing.T) {
	c := startTestContainer(t)
	qm := newQueueManager(c, &logger.NilLogger{}, nil)
	b := newStubBind(c)

	for i := 0; i < 3; i++ {
		post(t, qm.wq, func() { qm.findQueue(b, "") })
		e := waitBound(t, b)
		assert.Equal(t, fmt.Sprintf("_dynamic_%d", i), e.name)
		require.NotNil(t, e.q)
	}
}

func TestQueueManagerFindQueueIdempotent(t *testing.T) {
	c := startTestContainer(t)
	qm := newQueueManager(c, &logger.NilLogger{}, nil)
	b := newStubBind(c)

	post(t, qm.wq, func() { qm.findQueue(b, "orders") })
	first := waitBound(t, b)
	assert.Equal(t, "orders", first.name)

	post(t, qm.wq, func() { qm.findQueue(b, "orders") })
	second := waitBound(t, b)
	assert.Same(t, first.q, second.q)

	post(t, qm.wq, func() { qm.findQueue(b, "invoices") })
	third := waitBound(t, b)
	assert.NotSame(t, first.q, third.q)
}
