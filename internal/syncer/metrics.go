package syncer

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks sync activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	remoteWrites     prometheus.Counter
	writeFailures    prometheus.Counter
	bufferedReadings prometheus.Counter
	drainedReadings  prometheus.Counter
	sessionsStored   prometheus.Counter
	sessionsArchived prometheus.Counter
	queueLen         prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		remoteWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_remote_writes_total",
			Help: "Readings written to the external store.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_write_failures_total",
			Help: "Remote writes that failed and fell back to the buffer.",
		}),
		bufferedReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_buffered_readings_total",
			Help: "Readings stored in the offline buffer.",
		}),
		drainedReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_drained_readings_total",
			Help: "Buffered readings replayed to the external store.",
		}),
		sessionsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_sessions_stored_total",
			Help: "Session records written to the external store.",
		}),
		sessionsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sync_sessions_archived_total",
			Help: "Session records uploaded to object storage.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posturelink_sync_queue_depth",
			Help: "Readings currently held in the offline buffer.",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.remoteWrites, m.writeFailures, m.bufferedReadings,
		m.drainedReadings, m.sessionsStored, m.sessionsArchived,
		m.queueLen,
	}
}

func (m *Metrics) remoteWrite() {
	if m != nil {
		m.remoteWrites.Inc()
	}
}

func (m *Metrics) writeFailed() {
	if m != nil {
		m.writeFailures.Inc()
	}
}

func (m *Metrics) buffered() {
	if m != nil {
		m.bufferedReadings.Inc()
	}
}

func (m *Metrics) drained(n int) {
	if m != nil {
		m.drainedReadings.Add(float64(n))
	}
}

func (m *Metrics) sessionStored() {
	if m != nil {
		m.sessionsStored.Inc()
	}
}

func (m *Metrics) archived() {
	if m != nil {
		m.sessionsArchived.Inc()
	}
}

func (m *Metrics) queueDepth(n int) {
	if m != nil {
		m.queueLen.Set(float64(n))
	}
}
