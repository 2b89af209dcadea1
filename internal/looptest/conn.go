// Package looptest provides an in-memory net.PacketConn pair with
// configurable loss and delay, standing in for a real UDP path in the
// end-to-end scenarios (§8).
package looptest

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"
)

// Addr is the addressing looptest uses in place of a UDP address.
type Addr string

func (a Addr) Network() string { return "looptest" }
func (a Addr) String() string  { return string(a) }

type datagram struct {
	payload []byte
	from    net.Addr
}

// Conn is one endpoint of a looptest pair. It implements net.PacketConn
// against the subset the transport package actually uses (ReadFrom,
// WriteTo, Close, SetReadDeadline).
type Conn struct {
	local Addr
	peer  *Conn

	loss  float64 // fraction of datagrams from this Conn dropped in flight
	delay time.Duration

	mu       sync.Mutex
	inbox    chan datagram
	deadline time.Time
	closed   bool
}

// NewPair builds two connected Conns. loss and delay describe what each
// side's outbound writes suffer before the peer's ReadFrom sees them.
func NewPair(aAddr, bAddr Addr, loss float64, delay time.Duration) (*Conn, *Conn) {
	a := &Conn{local: aAddr, loss: loss, delay: delay, inbox: make(chan datagram, 256)}
	b := &Conn{local: bAddr, loss: loss, delay: delay, inbox: make(chan datagram, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

var errClosed = errors.New("looptest: connection closed")

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, errClosed
	}
	if c.loss > 0 && rand.Float64() < c.loss {
		return len(p), nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	d := datagram{payload: cp, from: c.local}
	deliver := func() {
		defer func() { recover() }() // peer may have closed between send and delivery
		c.peer.inbox <- d
	}
	if c.delay > 0 {
		time.AfterFunc(c.delay, deliver)
	} else {
		deliver()
	}
	return len(p), nil
}

func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case d, ok := <-c.inbox:
		if !ok {
			return 0, nil, errClosed
		}
		n := copy(p, d.payload)
		return n, d.from, nil
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "looptest: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.inbox)
	c.mu.Unlock()
	return nil
}

func (c *Conn) LocalAddr() net.Addr { return c.local }

func (c *Conn) SetDeadline(t time.Time) error      { return c.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return nil }
