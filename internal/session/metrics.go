package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes session accounting. A nil *Metrics is a no-op.
type Metrics struct {
	stateGauge     prometheus.Gauge
	durationGauge  prometheus.Gauge
	alertGauge     prometheus.Gauge
	sessionsTotal  prometheus.Counter
	pausesTotal    prometheus.Counter
	alertsTotal    prometheus.Counter
	breaksTotal    prometheus.Counter
	finalizedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		stateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posturelink_session_state",
			Help: "Session state (0=inactive, 1=running, 2=paused)",
		}),
		durationGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posturelink_session_duration_seconds",
			Help: "Effective (pause-excluded) duration of the active session",
		}),
		alertGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posturelink_session_alert_count",
			Help: "Bad-posture alerts in the active session",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sessions_started_total",
			Help: "Sessions started",
		}),
		pausesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_session_pauses_total",
			Help: "Running-to-paused transitions",
		}),
		alertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_posture_alerts_total",
			Help: "Sustained bad-posture alerts fired",
		}),
		breaksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_break_reminders_total",
			Help: "Break reminders shown",
		}),
		finalizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posturelink_sessions_finalized_total",
			Help: "Sessions finalized",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.stateGauge, m.durationGauge, m.alertGauge, m.sessionsTotal,
		m.pausesTotal, m.alertsTotal, m.breaksTotal, m.finalizedTotal,
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.stateGauge.Set(float64(Running))
	m.durationGauge.Set(0)
	m.alertGauge.Set(0)
}

func (m *Metrics) sessionPaused() {
	if m == nil {
		return
	}
	m.pausesTotal.Inc()
}

func (m *Metrics) alertFired() {
	if m == nil {
		return
	}
	m.alertsTotal.Inc()
}

func (m *Metrics) breakReminder() {
	if m == nil {
		return
	}
	m.breaksTotal.Inc()
}

func (m *Metrics) observe(s State, elapsed time.Duration, alerts int) {
	if m == nil {
		return
	}
	m.stateGauge.Set(float64(s))
	m.durationGauge.Set(elapsed.Seconds())
	m.alertGauge.Set(float64(alerts))
}

func (m *Metrics) sessionFinalized(Record) {
	if m == nil {
		return
	}
	m.finalizedTotal.Inc()
	m.stateGauge.Set(float64(Inactive))
	m.durationGauge.Set(0)
}
