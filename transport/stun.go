package transport

import (
	"net"
	"time"

	"github.com/pion/stun/v2"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// ProbeTimeout is how long the reflexive-address probe waits for a
// binding response before the session falls back to relay (§4.7).
const ProbeTimeout = 3 * time.Second

// probeBufSize is sized for a STUN binding response, which never
// approaches a full RIFT datagram; it deliberately doesn't reference the
// session MTU to avoid this package importing the root package back.
const probeBufSize = 1200

// ReflexiveCandidate is the externally-visible address a STUN server
// observed for a local endpoint.
type ReflexiveCandidate struct {
	Addr *net.UDPAddr
}

// ProbeReflexive sends a single STUN binding request over conn's socket
// and waits for the server's XOR-MAPPED-ADDRESS, per §4.7 ("bind(:0),
// send binding-request to configured STUN server, read reflexive
// candidate"). It borrows the endpoint's socket rather than opening a
// second one, so the discovered candidate matches the port peers will
// see.
func ProbeReflexive(e *Endpoint, stunServer string) (ReflexiveCandidate, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", stunServer)
	if err != nil {
		return ReflexiveCandidate{}, rifterr.Wrap(rifterr.SocketError, err)
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	if err := e.Send(msg.Raw, serverAddr); err != nil {
		return ReflexiveCandidate{}, err
	}

	deadline := time.Now().Add(ProbeTimeout)
	buf := make([]byte, probeBufSize)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ReflexiveCandidate{}, rifterr.New(rifterr.RelayUnavailable)
		}
		e.setReadDeadline(time.Now().Add(remaining))
		n, from, err := e.conn.ReadFrom(buf)
		e.setReadDeadline(time.Time{})
		if err != nil {
			return ReflexiveCandidate{}, rifterr.New(rifterr.RelayUnavailable)
		}
		if udpFrom, ok := from.(*net.UDPAddr); !ok || !udpFrom.IP.Equal(serverAddr.IP) {
			continue // stray datagram from a peer arriving mid-probe; keep waiting
		}

		reply := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := reply.Decode(); err != nil {
			continue
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(reply); err != nil {
			continue
		}
		return ReflexiveCandidate{Addr: &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}}, nil
	}
}
