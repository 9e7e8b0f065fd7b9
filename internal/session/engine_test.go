package session

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/link"
	"github.com/posturedev/posturelink/internal/protocol"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct {
	alerts []int
	breaks []time.Duration
}

func (n *recordingNotifier) PostureAlert(count int) { n.alerts = append(n.alerts, count) }

func (n *recordingNotifier) BreakReminder(elapsed time.Duration) {
	n.breaks = append(n.breaks, elapsed)
}

func testEngine(cfg Config) (*Engine, *fakeClock, *recordingNotifier, *[]Record) {
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	var records []Record
	e := NewEngine(cfg, zap.NewNop(), nil, notifier, func(r Record) { records = append(records, r) })
	e.now = clock.now
	return e, clock, notifier, &records
}

func seated(dist int) protocol.Reading {
	return protocol.Reading{DistanceMM: dist, Seated: true, GreenMM: 80, RedMM: 120}
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, want := range []State{Inactive, Running, Paused} {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %v: %v", want, err)
		}
		var got State
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != want {
			t.Fatalf("round trip %v = %v", want, got)
		}
	}
	var s State
	if err := json.Unmarshal([]byte(`"dozing"`), &s); err == nil {
		t.Fatal("unknown state name accepted")
	}
}

func TestSessionStartsOnFirstConnected(t *testing.T) {
	e, _, _, _ := testEngine(Config{})
	if e.State() != Inactive {
		t.Fatalf("initial state = %v", e.State())
	}
	e.OnConnectionState(link.Connected)
	if e.State() != Running {
		t.Fatalf("state after connect = %v", e.State())
	}
}

func TestEffectiveDurationExcludesPauses(t *testing.T) {
	e, clock, _, _ := testEngine(Config{})
	e.Start()

	clock.advance(10 * time.Minute)
	if got := e.EffectiveDuration(); got != 10*time.Minute {
		t.Fatalf("running duration = %v", got)
	}

	e.TogglePause()
	clock.advance(5 * time.Minute)
	if got := e.EffectiveDuration(); got != 10*time.Minute {
		t.Fatalf("paused duration = %v, want 10m", got)
	}

	e.TogglePause()
	clock.advance(3 * time.Minute)
	if got := e.EffectiveDuration(); got != 13*time.Minute {
		t.Fatalf("resumed duration = %v, want 13m", got)
	}
}

func TestPauseIdempotence(t *testing.T) {
	e, clock, _, _ := testEngine(Config{})
	e.Start()
	clock.advance(4 * time.Minute)

	before := e.EffectiveDuration()
	// device pause followed by a link pause without an intervening resume
	e.OnReading(protocol.Reading{Seated: true, DistanceMM: 100, GreenMM: 80, RedMM: 120, Paused: true})
	after := e.EffectiveDuration()
	if before != after {
		t.Fatalf("discontinuity at pause instant: %v != %v", before, after)
	}
	e.OnConnectionState(link.Disconnected)
	if got := e.EffectiveDuration(); got != before {
		t.Fatalf("double pause changed duration: %v != %v", got, before)
	}

	clock.advance(2 * time.Minute)
	if got := e.EffectiveDuration(); got != before {
		t.Fatalf("paused session accrued time: %v", got)
	}
}

func TestLinkPauseSurvivesDevicePayload(t *testing.T) {
	e, _, _, _ := testEngine(Config{})
	e.Start()
	e.OnConnectionState(link.Disconnected)
	if e.State() != Paused {
		t.Fatalf("state after link loss = %v", e.State())
	}

	// a device payload with PAUS:0 must not resume a link-paused session
	e.OnReading(seated(100))
	if e.State() != Paused {
		t.Fatalf("device payload cleared link pause: %v", e.State())
	}

	e.AcknowledgeReconnect()
	if e.State() != Running {
		t.Fatalf("state after reconnect ack = %v", e.State())
	}
}

func TestUserResumeClearsLinkPause(t *testing.T) {
	e, _, _, _ := testEngine(Config{})
	e.Start()
	e.OnConnectionState(link.Disconnected)
	if e.TogglePause() != Running {
		t.Fatal("user toggle should clear the connectivity-loss pause")
	}
}

func TestConnectedTransitionActsAsReconnectAck(t *testing.T) {
	e, _, _, _ := testEngine(Config{})
	e.OnConnectionState(link.Connected)
	e.OnConnectionState(link.Disconnected)
	if e.State() != Paused {
		t.Fatalf("state = %v", e.State())
	}
	e.OnConnectionState(link.Connected)
	if e.State() != Running {
		t.Fatalf("state after fresh Connected = %v", e.State())
	}
}

func TestSustainedAlertFiresOnce(t *testing.T) {
	e, clock, notifier, _ := testEngine(Config{AlarmEnabled: true})
	e.Start()

	bad := seated(200)
	bad.BadPosture = true
	e.OnReading(bad)

	// not yet sustained
	clock.advance(3 * time.Second)
	e.Tick()
	if len(notifier.alerts) != 0 {
		t.Fatalf("alert fired before sustain window: %v", notifier.alerts)
	}

	// 5 s later with no corrective reading the alert fires exactly once
	clock.advance(2 * time.Second)
	e.Tick()
	if len(notifier.alerts) != 1 || notifier.alerts[0] != 1 {
		t.Fatalf("alerts = %v, want one alert with count 1", notifier.alerts)
	}
	if e.AlertCount() != 1 {
		t.Fatalf("AlertCount = %d", e.AlertCount())
	}

	// staying bad does not refire within the same episode
	clock.advance(30 * time.Second)
	e.Tick()
	e.OnReading(bad)
	if len(notifier.alerts) != 1 {
		t.Fatalf("episode refired: %v", notifier.alerts)
	}

	// recovery then a new episode fires again
	e.OnReading(seated(90))
	e.OnReading(bad)
	clock.advance(5 * time.Second)
	e.Tick()
	if len(notifier.alerts) != 2 || notifier.alerts[1] != 2 {
		t.Fatalf("second episode alerts = %v", notifier.alerts)
	}
}

func TestRecoveryCancelsPendingAlert(t *testing.T) {
	e, clock, notifier, _ := testEngine(Config{AlarmEnabled: true})
	e.Start()

	bad := seated(200)
	bad.BadPosture = true
	e.OnReading(bad)

	clock.advance(2 * time.Second)
	e.OnReading(seated(90)) // corrective reading inside the window

	clock.advance(10 * time.Second)
	e.Tick()
	if len(notifier.alerts) != 0 {
		t.Fatalf("cancelled episode still fired: %v", notifier.alerts)
	}
	if e.AlertCount() != 0 {
		t.Fatalf("AlertCount = %d", e.AlertCount())
	}
}

func TestAlarmDisabledSuppressesSideEffect(t *testing.T) {
	e, clock, notifier, _ := testEngine(Config{AlarmEnabled: false})
	e.Start()

	bad := seated(200)
	bad.BadPosture = true
	e.OnReading(bad)
	clock.advance(10 * time.Second)
	e.Tick()
	if len(notifier.alerts) != 0 {
		t.Fatalf("disabled alarm fired: %v", notifier.alerts)
	}
}

func TestAlertMachineSuspendedWhilePaused(t *testing.T) {
	e, clock, notifier, _ := testEngine(Config{AlarmEnabled: true})
	e.Start()

	bad := seated(200)
	bad.BadPosture = true
	e.OnReading(bad)
	e.TogglePause()

	clock.advance(time.Minute)
	e.Tick()
	if len(notifier.alerts) != 0 {
		t.Fatalf("paused session fired alerts: %v", notifier.alerts)
	}
}

func TestBreakReminderFiresOncePerSession(t *testing.T) {
	e, clock, notifier, _ := testEngine(Config{BreakAfter: 30 * time.Minute})
	e.Start()

	clock.advance(29 * time.Minute)
	e.Tick()
	if len(notifier.breaks) != 0 {
		t.Fatalf("break reminder early: %v", notifier.breaks)
	}

	clock.advance(2 * time.Minute)
	e.Tick()
	e.Tick()
	if len(notifier.breaks) != 1 {
		t.Fatalf("break reminders = %v, want exactly one", notifier.breaks)
	}
}

func TestFinalizeBuildsRecord(t *testing.T) {
	e, clock, _, records := testEngine(Config{OwnerID: "owner-1", AlarmEnabled: true})
	e.Start()
	start := clock.now()

	clock.advance(20 * time.Minute)
	e.TogglePause()
	clock.advance(10 * time.Minute)
	e.TogglePause()
	clock.advance(5 * time.Minute)

	bad := seated(200)
	bad.BadPosture = true
	e.OnReading(bad)
	clock.advance(5 * time.Second)
	e.Tick()

	rec, ok := e.Finalize()
	if !ok {
		t.Fatal("Finalize returned no record")
	}
	if e.State() != Inactive {
		t.Fatalf("state after finalize = %v", e.State())
	}
	if len(*records) != 1 {
		t.Fatalf("sink received %d records", len(*records))
	}

	wantDur := (25*time.Minute + 5*time.Second).Milliseconds()
	if rec.DurationMS != wantDur {
		t.Fatalf("DurationMS = %d, want %d", rec.DurationMS, wantDur)
	}
	if rec.OwnerID != "owner-1" || rec.AlertCount != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.StartedAt != start.UnixMilli() {
		t.Fatalf("StartedAt = %d", rec.StartedAt)
	}
	if rec.ID != "" {
		t.Fatal("ID must be empty before persistence")
	}

	if _, ok := e.Finalize(); ok {
		t.Fatal("second Finalize should report no active session")
	}
}

func TestThresholdsTrackReadings(t *testing.T) {
	e, _, _, _ := testEngine(Config{})
	e.Start()
	e.OnReading(protocol.Reading{Seated: true, DistanceMM: 100, GreenMM: 70, RedMM: 140})
	snap := e.Snapshot()
	if snap.GreenMM != 70 || snap.RedMM != 140 {
		t.Fatalf("thresholds = %d/%d", snap.GreenMM, snap.RedMM)
	}
}
