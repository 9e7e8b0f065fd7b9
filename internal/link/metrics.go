package link

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes link health. A nil *Metrics is a no-op so tests can run
// without a registry.
type Metrics struct {
	state            prometheus.Gauge
	readingsTotal    prometheus.Counter
	parseErrors      prometheus.Counter
	codecErrors      prometheus.Counter
	writeErrors      prometheus.Counter
	staleDisconnects prometheus.Counter
	reconnects       prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posturelink_link_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_readings_total",
			Help: "Decoded status readings received",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_parse_errors_total",
			Help: "Status lines discarded as unparseable",
		}),
		codecErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_codec_errors_total",
			Help: "Lines discarded for a bad CRC or cipher envelope",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_write_errors_total",
			Help: "Command writes that failed",
		}),
		staleDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_stale_disconnects_total",
			Help: "Forced disconnects after a silent stall",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_link_reconnect_tasks_total",
			Help: "Backoff reconnect tasks started",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.state, m.readingsTotal, m.parseErrors, m.codecErrors,
		m.writeErrors, m.staleDisconnects, m.reconnects,
	}
}

func (m *Metrics) stateChanged(s ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) readingReceived() {
	if m == nil {
		return
	}
	m.readingsTotal.Inc()
}

func (m *Metrics) parseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) codecError() {
	if m == nil {
		return
	}
	m.codecErrors.Inc()
}

func (m *Metrics) writeError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) staleDisconnect() {
	if m == nil {
		return
	}
	m.staleDisconnects.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
