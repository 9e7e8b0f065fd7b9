// Package session keeps the seated-time accounting: elapsed active time
// across pause/resume and connectivity loss, the bad-posture alert
// sub-machine, and break reminders. All accounting is pause-exact: a
// paused interval accrues zero duration.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/link"
	"github.com/posturedev/posturelink/internal/protocol"
)

// State is the session lifecycle state.
type State int

const (
	Inactive State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "inactive"
	}
}

// MarshalJSON renders the state as its name so API consumers never see
// bare enum values.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the names MarshalJSON produces.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "inactive":
		*s = Inactive
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

const (
	DefaultSustainDelay = 5 * time.Second
	DefaultBreakAfter   = 60 * time.Minute
)

// Notifier receives the user-visible side effects the engine triggers.
type Notifier interface {
	PostureAlert(count int)
	BreakReminder(elapsed time.Duration)
}

// Config tunes the engine.
type Config struct {
	OwnerID      string
	SustainDelay time.Duration
	BreakAfter   time.Duration
	AlarmEnabled bool
}

func (c *Config) applyDefaults() {
	if c.SustainDelay <= 0 {
		c.SustainDelay = DefaultSustainDelay
	}
	if c.BreakAfter <= 0 {
		c.BreakAfter = DefaultBreakAfter
	}
}

// Engine is the session accounting state machine. It consumes decoded
// readings and connection-state events and is safe for concurrent use.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	notifier Notifier
	sink     func(Record)
	now      func() time.Time

	mu sync.Mutex

	active       bool
	startedAt    time.Time
	accumulated  time.Duration
	segmentStart time.Time

	userPaused   bool
	devicePaused bool
	linkPaused   bool

	alarmEnabled bool
	alertCount   int
	breakShown   bool
	greenMM      int
	redMM        int

	// alert sub-machine
	lastPosture  protocol.PostureState
	badSince     time.Time
	episodeFired bool
}

// NewEngine builds an engine. sink receives finalized records; nil means
// records are dropped (offline-only operation still accounts time).
func NewEngine(cfg Config, logger *zap.Logger, metrics *Metrics, notifier Notifier, sink func(Record)) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		notifier:     notifier,
		sink:         sink,
		now:          time.Now,
		alarmEnabled: cfg.AlarmEnabled,
		greenMM:      protocol.DefaultGreenMM,
		redMM:        protocol.DefaultRedMM,
		lastPosture:  protocol.PostureCorrect,
	}
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	switch {
	case !e.active:
		return Inactive
	case e.pausedLocked():
		return Paused
	default:
		return Running
	}
}

func (e *Engine) pausedLocked() bool {
	return e.userPaused || e.devicePaused || e.linkPaused
}

// Start begins a fresh session, resetting accumulated time, the alert
// counter, and the break flag.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Engine) startLocked() {
	now := e.now()
	e.active = true
	e.startedAt = now
	e.segmentStart = now
	e.accumulated = 0
	e.userPaused = false
	e.devicePaused = false
	e.linkPaused = false
	e.alertCount = 0
	e.breakShown = false
	e.resetEpisodeLocked()
	e.metrics.sessionStarted()
	e.logger.Info("session started")
}

// AlertCount returns alerts triggered in the current session.
func (e *Engine) AlertCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alertCount
}

// SetAlarmEnabled toggles the audible/toast alert side effect.
func (e *Engine) SetAlarmEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alarmEnabled = on
}

// SetSustainDelay changes how long bad posture must persist before an
// alert fires. Keeps the local alert window aligned with the device's
// configured sustain time.
func (e *Engine) SetSustainDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.SustainDelay = d
}

// EffectiveDuration is the session time with paused intervals excluded.
// Monotone while the session is active.
func (e *Engine) EffectiveDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveLocked()
}

func (e *Engine) effectiveLocked() time.Duration {
	if !e.active {
		return 0
	}
	if e.pausedLocked() {
		return e.accumulated
	}
	return e.accumulated + e.now().Sub(e.segmentStart)
}

// TogglePause is the user's pause control. Resuming clears every pause
// cause, including a connectivity-loss pause.
func (e *Engine) TogglePause() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return Inactive
	}
	if e.pausedLocked() {
		e.transition(func() {
			e.userPaused = false
			e.devicePaused = false
			e.linkPaused = false
		})
	} else {
		e.transition(func() { e.userPaused = true })
	}
	return e.stateLocked()
}

// Pause sets the user pause. No-op when already paused or inactive.
func (e *Engine) Pause() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return Inactive
	}
	if !e.userPaused {
		e.transition(func() { e.userPaused = true })
	}
	return e.stateLocked()
}

// Resume clears every pause cause, same as resuming via TogglePause.
func (e *Engine) Resume() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return Inactive
	}
	if e.pausedLocked() {
		e.transition(func() {
			e.userPaused = false
			e.devicePaused = false
			e.linkPaused = false
		})
	}
	return e.stateLocked()
}

// OnReading consumes one decoded reading.
func (e *Engine) OnReading(r protocol.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.GreenMM > 0 && r.RedMM > r.GreenMM {
		e.greenMM = r.GreenMM
		e.redMM = r.RedMM
	}

	if !e.active {
		return
	}

	// the device payload may set or clear its own pause flag, but never
	// clears a connectivity-loss pause: a transient reconnect race must
	// not silently resume a session the user believes is paused
	e.transition(func() { e.devicePaused = r.Paused })

	e.evaluatePostureLocked(r.State())
}

// OnConnectionState consumes lifecycle transitions. Losing the link
// pauses an active session; a fresh Connected transition is the reconnect
// acknowledgement that releases it. The first Connected while idle starts
// a session.
func (e *Engine) OnConnectionState(s link.ConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s {
	case link.Connected:
		if !e.active {
			e.startLocked()
			return
		}
		e.acknowledgeReconnectLocked()
	case link.Disconnected:
		if e.active {
			e.transition(func() { e.linkPaused = true })
			e.resetEpisodeLocked()
		}
	case link.Connecting:
	}
}

// AcknowledgeReconnect clears a connectivity-loss pause after a
// successful reconnection.
func (e *Engine) AcknowledgeReconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acknowledgeReconnectLocked()
}

func (e *Engine) acknowledgeReconnectLocked() {
	if e.linkPaused {
		e.transition(func() { e.linkPaused = false })
	}
}

// Tick advances the periodic bookkeeping: alert sustain evaluation, the
// break reminder, and exported gauges. Called once per second.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}

	if !e.pausedLocked() {
		e.evaluatePostureLocked(e.lastPosture)
	}

	elapsed := e.effectiveLocked()
	e.metrics.observe(e.stateLocked(), elapsed, e.alertCount)

	if !e.breakShown && elapsed >= e.cfg.BreakAfter {
		e.breakShown = true
		e.metrics.breakReminder()
		e.logger.Info("break reminder", zap.Duration("elapsed", elapsed))
		if e.notifier != nil {
			e.notifier.BreakReminder(elapsed)
		}
	}
}

// Finalize ends the session, hands the completed record to the sink, and
// returns the engine to Inactive. The second return is false when no
// session was active.
func (e *Engine) Finalize() (Record, bool) {
	e.mu.Lock()

	if !e.active {
		e.mu.Unlock()
		return Record{}, false
	}

	now := e.now()
	rec := Record{
		OwnerID:    e.cfg.OwnerID,
		StartedAt:  e.startedAt.UnixMilli(),
		EndedAt:    now.UnixMilli(),
		DurationMS: e.effectiveLocked().Milliseconds(),
		AlertCount: e.alertCount,
		BreakShown: e.breakShown,
		GreenMM:    e.greenMM,
		RedMM:      e.redMM,
	}

	e.active = false
	e.accumulated = 0
	e.userPaused = false
	e.devicePaused = false
	e.linkPaused = false
	e.resetEpisodeLocked()
	e.metrics.sessionFinalized(rec)
	sink := e.sink
	e.mu.Unlock()

	e.logger.Info("session finalized",
		zap.Int64("duration_ms", rec.DurationMS),
		zap.Int("alerts", rec.AlertCount))
	if sink != nil {
		sink(rec)
	}
	return rec, true
}

// transition applies a pause-flag mutation and folds or reopens the
// running segment exactly once per running/paused edge. Setting a flag
// that is already effective is a no-op, so repeated pauses cannot
// double-subtract.
func (e *Engine) transition(mutate func()) {
	wasPaused := e.pausedLocked()
	mutate()
	nowPaused := e.pausedLocked()

	switch {
	case !wasPaused && nowPaused:
		e.accumulated += e.now().Sub(e.segmentStart)
		e.resetEpisodeLocked()
		e.metrics.sessionPaused()
		e.logger.Debug("session paused", zap.Duration("accumulated", e.accumulated))
	case wasPaused && !nowPaused:
		e.segmentStart = e.now()
		e.logger.Debug("session resumed")
	}
}

// evaluatePostureLocked runs the alert sub-machine. A transition into a
// bad state arms the sustain window; staying bad past the window fires
// the side effect exactly once per episode; recovering first cancels it.
func (e *Engine) evaluatePostureLocked(st protocol.PostureState) {
	if e.pausedLocked() {
		e.resetEpisodeLocked()
		e.lastPosture = st
		return
	}

	if st.Good() {
		e.resetEpisodeLocked()
		e.lastPosture = st
		return
	}

	if e.badSince.IsZero() {
		e.badSince = e.now()
	}
	e.lastPosture = st

	if e.episodeFired || !e.alarmEnabled {
		return
	}
	if e.now().Sub(e.badSince) >= e.cfg.SustainDelay {
		e.episodeFired = true
		e.alertCount++
		e.metrics.alertFired()
		e.logger.Info("sustained bad posture", zap.Int("count", e.alertCount))
		if e.notifier != nil {
			e.notifier.PostureAlert(e.alertCount)
		}
	}
}

func (e *Engine) resetEpisodeLocked() {
	e.badSince = time.Time{}
	e.episodeFired = false
}

// Snapshot is the externally observable engine state.
type Snapshot struct {
	State       State         `json:"state"`
	Elapsed     time.Duration `json:"elapsed"`
	AlertCount  int           `json:"alert_count"`
	BreakShown  bool          `json:"break_shown"`
	GreenMM     int           `json:"green_mm"`
	RedMM       int           `json:"red_mm"`
	LinkPaused  bool          `json:"link_paused"`
	UserPaused  bool          `json:"user_paused"`
	DevicePause bool          `json:"device_paused"`
}

// Snapshot returns a consistent view of the engine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:       e.stateLocked(),
		Elapsed:     e.effectiveLocked(),
		AlertCount:  e.alertCount,
		BreakShown:  e.breakShown,
		GreenMM:     e.greenMM,
		RedMM:       e.redMM,
		LinkPaused:  e.linkPaused,
		UserPaused:  e.userPaused,
		DevicePause: e.devicePaused,
	}
}

// RunClock drives Tick on a fixed one second period until ctx ends.
func (e *Engine) RunClock(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}
