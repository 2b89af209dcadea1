// Package transport implements RIFT's UDP I/O (§4.7): a single endpoint
// per session bound to a STUN-discovered reflexive address, an optional
// relay envelope when direct traversal fails, and pacing that releases
// datagrams at the DELTA-approved bitrate while letting small input
// datagrams bypass the bucket.
package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

const batchSize = 16

// batchConn is the subset of *ipv4.PacketConn used for batched sends, so
// tests can substitute a fake (§4.7, grounded on the teacher's
// batchconn.go).
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// Endpoint wraps a bound UDP socket with optional OS batch I/O, mirroring
// the teacher's tx.go dual-path (batched vs per-packet WriteTo).
type Endpoint struct {
	conn  net.PacketConn
	batch batchConn

	OutPkts, OutBytes uint64
	InPkts, InBytes   uint64
	WriteErrors       uint64
}

// Listen opens a UDP socket. addr may be ":0" to let the kernel assign an
// ephemeral port, as the STUN probe path does (§4.7).
func Listen(addr string) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.SocketError, err)
	}
	ep := &Endpoint{conn: conn}
	if udpConn, ok := conn.(*net.UDPConn); ok {
		if pc := ipv4.NewPacketConn(udpConn); pc != nil {
			ep.batch = pc
		}
	}
	return ep, nil
}

// NewEndpoint wraps an already-open net.PacketConn, letting tests drive
// an Endpoint over looptest's in-memory pair instead of a real socket.
// Batch I/O only activates over a genuine *net.UDPConn.
func NewEndpoint(conn net.PacketConn) *Endpoint {
	ep := &Endpoint{conn: conn}
	if udpConn, ok := conn.(*net.UDPConn); ok {
		if pc := ipv4.NewPacketConn(udpConn); pc != nil {
			ep.batch = pc
		}
	}
	return ep
}

func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

func (e *Endpoint) Close() error { return e.conn.Close() }

// setReadDeadline is used by the STUN probe, which needs a bounded wait
// on this same socket before falling back to relay.
func (e *Endpoint) setReadDeadline(t time.Time) {
	_ = e.conn.SetReadDeadline(t)
}

// Send writes one datagram to addr, counting bytes/packets (§4.8 stats).
func (e *Endpoint) Send(payload []byte, addr net.Addr) error {
	n, err := e.conn.WriteTo(payload, addr)
	if err != nil {
		atomic.AddUint64(&e.WriteErrors, 1)
		return rifterr.Wrap(rifterr.SocketError, err)
	}
	atomic.AddUint64(&e.OutPkts, 1)
	atomic.AddUint64(&e.OutBytes, uint64(n))
	return nil
}

// SendBatch writes up to batchSize datagrams per underlying syscall when
// the platform supports it, falling back to per-packet WriteTo
// (grounded on the teacher's tx.go defaultTx/batchTx split).
func (e *Endpoint) SendBatch(payloads [][]byte, addrs []net.Addr) error {
	if len(payloads) != len(addrs) {
		return errors.New("transport: payloads/addrs length mismatch")
	}
	if e.batch == nil {
		return e.sendEach(payloads, addrs)
	}

	msgs := make([]ipv4.Message, len(payloads))
	for i := range payloads {
		msgs[i].Buffers = [][]byte{payloads[i]}
		msgs[i].Addr = addrs[i]
	}
	if _, err := e.batch.WriteBatch(msgs, 0); err != nil {
		atomic.AddUint64(&e.WriteErrors, 1)
		return e.sendEach(payloads, addrs)
	}
	var nbytes int
	for _, p := range payloads {
		nbytes += len(p)
	}
	atomic.AddUint64(&e.OutPkts, uint64(len(payloads)))
	atomic.AddUint64(&e.OutBytes, uint64(nbytes))
	return nil
}

func (e *Endpoint) sendEach(payloads [][]byte, addrs []net.Addr) error {
	for i := range payloads {
		if err := e.Send(payloads[i], addrs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Recv blocks for one datagram, up to MTU-sized buf.
func (e *Endpoint) Recv(buf []byte) (int, net.Addr, error) {
	n, addr, err := e.conn.ReadFrom(buf)
	if err != nil {
		return 0, nil, rifterr.Wrap(rifterr.SocketError, err)
	}
	atomic.AddUint64(&e.InPkts, 1)
	atomic.AddUint64(&e.InBytes, uint64(n))
	return n, addr, nil
}
