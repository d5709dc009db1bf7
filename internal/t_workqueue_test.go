package internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/logger"
)

func TestWorkQueueFIFO(t *testing.T) {
	c := startTestContainer(t)
	wq := c.NewWorkQueue()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		post(t, wq, func() { got = append(got, i) })
	}
	flushWQ(t, wq)

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkQueueNeverRunsConcurrently(t *testing.T) {
	c := startTestContainer(t)
	wq := c.NewWorkQueue()

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				wq.Add(func() {
					if inFlight.Add(1) > 1 {
						overlapped.Store(true)
					}
					time.Sleep(time.Microsecond)
					inFlight.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	flushWQ(t, wq)

	assert.False(t, overlapped.Load(), "work items of one queue must never overlap")
}

func TestWorkQueuesRunInParallel(t *testing.T) {
	c := startTestContainer(t)
	wq1, wq2 := c.NewWorkQueue(), c.NewWorkQueue()

	// Each item waits for the other: this only completes if the two
	// queues run on different workers at the same time.
	ready1, ready2 := make(chan struct{}), make(chan struct{})
	done := make(chan struct{}, 2)
	post(t, wq1, func() {
		close(ready1)
		<-ready2
		done <- struct{}{}
	})
	post(t, wq2, func() {
		close(ready2)
		<-ready1
		done <- struct{}{}
	})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("work queues did not run in parallel")
		}
	}
}

func TestWorkQueueAddAfterStop(t *testing.T) {
	c := NewContainer("stop-test", 2, &logger.NilLogger{})
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run()
	}()

	wq := c.NewWorkQueue()
	started := make(chan struct{})
	finished := make(chan struct{})
	require.True(t, wq.Add(func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
	}))
	<-started

	c.Stop(amqp.Condition{})
	assert.False(t, wq.Add(func() {}), "Add must fail after Stop")

	// Work accepted before the stop still completes.
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("accepted work did not complete after Stop")
	}
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("container did not drain")
	}
}

func TestContainerRunReturnsStopCondition(t *testing.T) {
	c := NewContainer("cond-test", 1, &logger.NilLogger{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run() }()

	cond := amqp.Condition{Name: "shutdown", Description: "stop broker"}
	c.Stop(cond)

	select {
	case err := <-errCh:
		require.Error(t, err)
		var got amqp.Condition
		require.ErrorAs(t, err, &got)
		assert.Equal(t, cond, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestContainerGeneratedID(t *testing.T) {
	c := NewContainer("", 1, &logger.NilLogger{})
	assert.Contains(t, c.ID(), "container_")
	c2 := NewContainer("", 1, &logger.NilLogger{})
	assert.NotEqual(t, c.ID(), c2.ID())
}
