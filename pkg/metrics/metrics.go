package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ZentaChain/qight/pkg/storage"
)

const Namespace = "qight"

type Metrics struct {
	reg prometheus.Registerer

	// Connection metrics
	connectionsAccepted prometheus.Counter
	connectionErrors    prometheus.Counter
	connectionsActive   prometheus.Gauge

	// Stream metrics
	streamsActive prometheus.Gauge
	streamsTotal  prometheus.Counter
	commands      *prometheus.CounterVec // by command, result

	// Envelope flow
	envelopesStored  prometheus.Counter
	envelopesFetched prometheus.Counter
	envelopesPurged  prometheus.Counter
	payloadBytes     prometheus.Histogram
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the relay",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connection_errors_total",
			Help:      "Failed connection accepts",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_active",
			Help:      "Connections currently open",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "streams_active",
			Help:      "Streams currently being handled",
		}),
		streamsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "streams_total",
			Help:      "Streams handled",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Commands handled by command and result",
		}, []string{"command", "result"}),
		envelopesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "envelopes_stored_total",
			Help:      "Envelopes appended to the store",
		}),
		envelopesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "envelopes_fetched_total",
			Help:      "Envelopes returned by FETCH",
		}),
		envelopesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "envelopes_purged_total",
			Help:      "Expired envelopes removed by the purge loop",
		}),
		payloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_payload_bytes",
			Help:      "Size of SEND bodies",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}

	err := errors.Join(
		reg.Register(m.connectionsAccepted),
		reg.Register(m.connectionErrors),
		reg.Register(m.connectionsActive),
		reg.Register(m.streamsActive),
		reg.Register(m.streamsTotal),
		reg.Register(m.commands),
		reg.Register(m.envelopesStored),
		reg.Register(m.envelopesFetched),
		reg.Register(m.envelopesPurged),
		reg.Register(m.payloadBytes),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// StatsSource is anything that can report store contents.
type StatsSource interface {
	Stats() (storage.Stats, error)
}

// TrackStore registers gauges that read store size at scrape time.
func (m *Metrics) TrackStore(src StatsSource) error {
	if m == nil {
		return nil
	}

	read := func(pick func(storage.Stats) int) func() float64 {
		return func() float64 {
			stats, err := src.Stats()
			if err != nil {
				return 0
			}
			return float64(pick(stats))
		}
	}

	return errors.Join(
		m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "store_envelopes",
			Help:      "Envelopes currently held",
		}, read(func(s storage.Stats) int { return s.Envelopes }))),
		m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "store_recipients",
			Help:      "Recipients with at least one envelope",
		}, read(func(s storage.Stats) int { return s.Recipients }))),
	)
}

// ConnectionAccepted records a new connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records the end of an accepted connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnectionFailed records a failed accept.
func (m *Metrics) ConnectionFailed() {
	if m == nil {
		return
	}
	m.connectionErrors.Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.streamsActive.Inc()
	m.streamsTotal.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.streamsActive.Dec()
}

// CommandHandled records the outcome of one command.
func (m *Metrics) CommandHandled(command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// PayloadReceived records the size of a SEND body.
func (m *Metrics) PayloadReceived(size int) {
	if m == nil {
		return
	}
	m.payloadBytes.Observe(float64(size))
}

func (m *Metrics) EnvelopeStored() {
	if m == nil {
		return
	}
	m.envelopesStored.Inc()
}

func (m *Metrics) EnvelopesFetched(count int) {
	if m == nil {
		return
	}
	m.envelopesFetched.Add(float64(count))
}

func (m *Metrics) EnvelopesPurged(count int) {
	if m == nil {
		return
	}
	m.envelopesPurged.Add(float64(count))
}
