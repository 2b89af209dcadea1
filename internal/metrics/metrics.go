// Package metrics exports a session's Stats snapshot to Prometheus.
// Counters live as plain atomic fields on riftnet.Stats so the hot path
// never touches the client library; Collect only runs when something
// scrapes, pulling one Snapshot per call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	riftnet "github.com/bybrooklyn/wavry-sub002"
)

// Collector adapts one session's Stats to prometheus.Collector. snapshot
// is called at most once per scrape.
type Collector struct {
	snapshot  func() riftnet.Snapshot
	sessionID string

	outPkts, outBytes   *prometheus.Desc
	inPkts, inBytes     *prometheus.Desc
	writeErrors         *prometheus.Desc
	replayRejected      *prometheus.Desc
	integrityFailures   *prometheus.Desc
	malformedPackets    *prometheus.Desc
	fecGroupsComplete   *prometheus.Desc
	fecGroupsRecovered  *prometheus.Desc
	fecGroupsLost       *prometheus.Desc
	fecShardsEmitted    *prometheus.Desc
	reorderDelivered    *prometheus.Desc
	reorderEvicted      *prometheus.Desc
	reorderInFlight     *prometheus.Desc
	bitrateKbps         *prometheus.Desc
	fecFraction         *prometheus.Desc
	congestionState     *prometheus.Desc
	handshakeAttempts   *prometheus.Desc
	reconnects          *prometheus.Desc
}

// NewCollector builds a Collector that calls snapshot on every scrape.
// sessionID labels every series so one registry can hold several
// concurrent sessions (relay and multi-peer hosts).
func NewCollector(sessionID string, snapshot func() riftnet.Snapshot) *Collector {
	labels := []string{"session_id"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("rift", "", name), help, labels, nil)
	}
	return &Collector{
		snapshot:           snapshot,
		sessionID:          sessionID,
		outPkts:            desc("out_packets_total", "Packets sent on the wire."),
		outBytes:           desc("out_bytes_total", "Bytes sent on the wire."),
		inPkts:             desc("in_packets_total", "Packets received from the wire."),
		inBytes:            desc("in_bytes_total", "Bytes received from the wire."),
		writeErrors:        desc("write_errors_total", "Transport write failures."),
		replayRejected:     desc("replay_rejected_total", "Packets rejected by the replay window."),
		integrityFailures:  desc("integrity_failures_total", "AEAD open failures."),
		malformedPackets:   desc("malformed_packets_total", "Packets dropped for a bad header."),
		fecGroupsComplete:  desc("fec_groups_complete_total", "FEC groups fully reconstructed."),
		fecGroupsRecovered: desc("fec_groups_recovered_total", "FEC groups reconstructed using parity."),
		fecGroupsLost:      desc("fec_groups_lost_total", "FEC groups evicted incomplete."),
		fecShardsEmitted:   desc("fec_shards_emitted_total", "Data and parity shards sent."),
		reorderDelivered:   desc("reorder_delivered_total", "Groups delivered in order to the sink."),
		reorderEvicted:     desc("reorder_evicted_total", "Groups evicted from the reorder buffer."),
		reorderInFlight:    desc("reorder_in_flight", "Groups currently held in the reorder buffer."),
		bitrateKbps:        desc("bitrate_kbps", "Current DELTA-approved target bitrate."),
		fecFraction:        desc("fec_fraction", "Current FEC redundancy fraction."),
		congestionState:    desc("congestion_state", "Current DELTA state (0=stable,1=rising,2=congested)."),
		handshakeAttempts:  desc("handshake_attempts_total", "Handshake messages sent."),
		reconnects:         desc("reconnects_total", "Times the session re-entered HANDSHAKING after ESTABLISHED."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.outPkts
	ch <- c.outBytes
	ch <- c.inPkts
	ch <- c.inBytes
	ch <- c.writeErrors
	ch <- c.replayRejected
	ch <- c.integrityFailures
	ch <- c.malformedPackets
	ch <- c.fecGroupsComplete
	ch <- c.fecGroupsRecovered
	ch <- c.fecGroupsLost
	ch <- c.fecShardsEmitted
	ch <- c.reorderDelivered
	ch <- c.reorderEvicted
	ch <- c.reorderInFlight
	ch <- c.bitrateKbps
	ch <- c.fecFraction
	ch <- c.congestionState
	ch <- c.handshakeAttempts
	ch <- c.reconnects
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), c.sessionID)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, c.sessionID)
	}

	counter(c.outPkts, s.OutPkts)
	counter(c.outBytes, s.OutBytes)
	counter(c.inPkts, s.InPkts)
	counter(c.inBytes, s.InBytes)
	counter(c.writeErrors, s.WriteErrors)
	counter(c.replayRejected, s.ReplayRejected)
	counter(c.integrityFailures, s.IntegrityFailures)
	counter(c.malformedPackets, s.MalformedPackets)
	counter(c.fecGroupsComplete, s.FECGroupsComplete)
	counter(c.fecGroupsRecovered, s.FECGroupsRecovered)
	counter(c.fecGroupsLost, s.FECGroupsLost)
	counter(c.fecShardsEmitted, s.FECShardsEmitted)
	counter(c.reorderDelivered, s.ReorderDelivered)
	counter(c.reorderEvicted, s.ReorderEvicted)
	gauge(c.reorderInFlight, float64(s.ReorderInFlight))
	gauge(c.bitrateKbps, float64(s.BitrateKbps))
	gauge(c.fecFraction, s.FECFraction)
	gauge(c.congestionState, float64(s.CongestionState))
	counter(c.handshakeAttempts, s.HandshakeAttempts)
	counter(c.reconnects, s.Reconnects)
}
