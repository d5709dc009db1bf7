package internal

import (
	"errors"
	"io"
	"net"
	"runtime"
	"sync"

	"github.com/ferretmq/ferret-mq/amqp"
)

func defaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// netConn pumps one net.Conn through a ConnectionDriver. A reader
// goroutine feeds bytes into the driver via the connection's WorkQueue;
// after every work item on that queue the driver is dispatched and its
// pending output flushed to the socket. All driver and endpoint access
// is therefore serialized on the WorkQueue.
type netConn struct {
	c    *Container
	conn net.Conn
	drv  *ConnectionDriver
	wq   *WorkQueue

	closeOnce sync.Once
	done      chan struct{}
}

func newNetConn(c *Container, conn net.Conn, h Handler, server bool) *netConn {
	nc := &netConn{
		c:    c,
		conn: conn,
		done: make(chan struct{}),
	}
	nc.wq = c.NewWorkQueue()
	nc.wq.after = nc.pump
	nc.drv = c.newConnectionDriver(h)
	nc.drv.wq = nc.wq
	if server {
		nc.drv.Accept(ConnOptions{})
	} else {
		nc.drv.Connect(ConnOptions{})
	}
	c.addConn(nc)
	return nc
}

// Connection returns the endpoint; use WorkQueue to touch it.
func (nc *netConn) Connection() *Connection { return nc.drv.Connection() }

// WorkQueue returns the serial executor every interaction with this
// connection must run on.
func (nc *netConn) WorkQueue() *WorkQueue { return nc.wq }

// Done is closed when the transport has shut down.
func (nc *netConn) Done() <-chan struct{} { return nc.done }

func (nc *netConn) start() {
	go nc.readLoop()
}

func (nc *netConn) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := nc.conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			handed := make(chan struct{})
			ok := nc.wq.Add(func() {
				rb := nc.drv.ReadBuffer()
				copy(rb, data)
				nc.drv.ReadDone(len(data))
				close(handed)
			})
			if !ok {
				nc.shutdown()
				return
			}
			<-handed
		}
		if err != nil {
			cond := amqp.Condition{}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				cond = amqp.Condition{Name: "ferretmq:io", Description: err.Error()}
			}
			if !nc.wq.Add(func() {
				nc.drv.ReadClose()
				nc.drv.Disconnected(cond)
			}) {
				nc.shutdown()
			}
			return
		}
	}
}

// pump runs on the connection WorkQueue after every work item: advance
// the state machine, flush output, and tear the transport down once the
// driver reports a terminal state.
func (nc *netConn) pump() {
	for {
		alive := nc.drv.Dispatch()
		wb := nc.drv.WriteBuffer()
		if len(wb) > 0 {
			n, err := nc.conn.Write(wb)
			if n > 0 {
				nc.drv.WriteDone(n)
			}
			if err != nil {
				nc.drv.Disconnected(amqp.Condition{Name: "ferretmq:io", Description: err.Error()})
			}
			continue
		}
		if !alive {
			nc.shutdown()
		}
		return
	}
}

func (nc *netConn) shutdown() {
	nc.closeOnce.Do(func() {
		nc.conn.Close()
		nc.c.removeConn(nc)
		close(nc.done)
	})
}
