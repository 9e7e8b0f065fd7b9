package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/transport"
)

type fakeConn struct {
	lines  chan string
	writes chan string

	mu       sync.Mutex
	writeErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		lines:  make(chan string, 16),
		writes: make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.closed:
		return "", transport.ErrStreamClosed
	}
}

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.writes <- line:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	opens   int
	opened  chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeConn, 8)}
}

func (t *fakeTransport) Open(_ context.Context, _ string) (transport.Conn, error) {
	t.mu.Lock()
	t.opens++
	err := t.openErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	conn := newFakeConn()
	t.opened <- conn
	return conn, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func testController(t *testing.T, tr transport.Transport, cfg Config) *Controller {
	t.Helper()
	return NewController(tr, protocol.NewCodec("", false, false), cfg, zap.NewNop(), nil)
}

func recvState(t *testing.T, ch <-chan ConnectionState) ConnectionState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state transition")
		return Disconnected
	}
}

func TestConnectPublishesOrderedTransitions(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{})

	states := make(chan ConnectionState, 8)
	defer c.SubscribeState(func(s ConnectionState) { states <- s })()

	if err := c.Connect(context.Background(), Peer{Name: "POSTURA-01", Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := recvState(t, states); got != Connecting {
		t.Fatalf("first transition = %v, want connecting", got)
	}
	if got := recvState(t, states); got != Connected {
		t.Fatalf("second transition = %v, want connected", got)
	}
	if c.State() != Connected {
		t.Fatalf("State() = %v", c.State())
	}
}

func TestConnectFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = transport.ErrConnectFailed
	c := testController(t, ft, Config{})

	err := c.Connect(context.Background(), Peer{Name: "POSTURA-01", Address: "dev"})
	if !errors.Is(err, transport.ErrConnectFailed) {
		t.Fatalf("Connect err = %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("State() = %v, want disconnected", c.State())
	}
	if c.LastError() == "" {
		t.Fatal("LastError should capture the failure reason")
	}
}

func TestReadingsPublishedInArrivalOrder(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{})

	readings := make(chan protocol.Reading, 8)
	defer c.SubscribeReadings(func(r protocol.Reading) { readings <- r })()

	if err := c.Connect(context.Background(), Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-ft.opened

	for _, d := range []int{100, 110, 120} {
		conn.lines <- fmt.Sprintf("DIST:%d,SENT:1", d)
	}
	for _, want := range []int{100, 110, 120} {
		select {
		case r := <-readings:
			if r.DistanceMM != want {
				t.Fatalf("got distance %d, want %d", r.DistanceMM, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reading")
		}
	}

	if got, ok := c.LastReading(); !ok || got.DistanceMM != 120 {
		t.Fatalf("LastReading = %+v, %v", got, ok)
	}
}

func TestControlLinesDoNotProduceReadings(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{})

	readings := make(chan protocol.Reading, 8)
	controls := make(chan protocol.Control, 8)
	defer c.SubscribeReadings(func(r protocol.Reading) { readings <- r })()
	defer c.SubscribeControl(func(ctrl protocol.Control) { controls <- ctrl })()

	if err := c.Connect(context.Background(), Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-ft.opened
	conn.lines <- "PONG"
	conn.lines <- "ERR GREEN RANGE 60-200"

	for _, wantKind := range []protocol.ControlKind{protocol.ControlPong, protocol.ControlErr} {
		select {
		case ctrl := <-controls:
			if ctrl.Kind != wantKind {
				t.Fatalf("control kind = %v, want %v", ctrl.Kind, wantKind)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for control reply")
		}
	}
	select {
	case r := <-readings:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadFailureTriggersBackoffReconnect(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{BackoffInitial: 10 * time.Millisecond, BackoffMax: 40 * time.Millisecond})

	if err := c.Connect(context.Background(), Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-ft.opened

	// simulate an involuntary drop
	_ = conn.Close()

	select {
	case <-ft.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt after connection loss")
	}
	if c.State() != Connected {
		// the reconnect may still be settling; give it a moment
		deadline := time.Now().Add(time.Second)
		for c.State() != Connected && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if c.State() != Connected {
		t.Fatalf("State() = %v after reconnect", c.State())
	}
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{BackoffInitial: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond})

	if err := c.Connect(context.Background(), Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-ft.opened

	c.Disconnect()
	if c.State() != Disconnected {
		t.Fatalf("State() = %v", c.State())
	}

	time.Sleep(100 * time.Millisecond)
	if n := ft.openCount(); n != 1 {
		t.Fatalf("unexpected reconnect after manual disconnect: %d opens", n)
	}
	if _, ok := c.LastReading(); ok {
		t.Fatal("LastReading should be cleared on disconnect")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c := testController(t, newFakeTransport(), Config{})
	if err := c.Send(protocol.Ping()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send while disconnected: %v", err)
	}
}

func TestSendWriteFailureForcesDisconnect(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{BackoffInitial: time.Hour})

	if err := c.Connect(context.Background(), Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-ft.opened
	conn.failWrites(transport.ErrWriteFailed)

	if err := c.Send("ALARM ON"); !errors.Is(err, transport.ErrWriteFailed) {
		t.Fatalf("Send: %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("State() = %v after write failure", c.State())
	}
}

func TestWatchdogForcesReconnectOnStaleness(t *testing.T) {
	ft := newFakeTransport()
	c := testController(t, ft, Config{
		StalenessWindow: 30 * time.Millisecond,
		WatchdogTick:    10 * time.Millisecond,
		BackoffInitial:  10 * time.Millisecond,
		BackoffMax:      20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.Connect(ctx, Peer{Address: "dev"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-ft.opened

	// feed nothing: the watchdog must declare the link stale and reconnect
	select {
	case <-ft.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not force a reconnect")
	}
}

func TestNextBackoffSequence(t *testing.T) {
	delays := []time.Duration{3000 * time.Millisecond}
	for i := 0; i < 5; i++ {
		delays = append(delays, nextBackoff(delays[len(delays)-1], DefaultBackoffMax))
	}
	want := []time.Duration{
		3000 * time.Millisecond,
		6000 * time.Millisecond,
		12000 * time.Millisecond,
		24000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestFindDefaultPeer(t *testing.T) {
	c := testController(t, newFakeTransport(), Config{Peers: []Peer{
		{Name: "JBL Speaker", Address: "a"},
		{Name: "postura-chair-7", Address: "b"},
	}})
	peer, ok := c.FindDefaultPeer()
	if !ok || peer.Address != "b" {
		t.Fatalf("FindDefaultPeer = %+v, %v", peer, ok)
	}

	c = testController(t, newFakeTransport(), Config{Peers: []Peer{{Name: "JBL Speaker", Address: "a"}}})
	if _, ok := c.FindDefaultPeer(); ok {
		t.Fatal("expected no default peer")
	}
}

func TestReconnectWithoutCandidate(t *testing.T) {
	c := testController(t, newFakeTransport(), Config{})
	if err := c.Reconnect(context.Background()); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("Reconnect: %v", err)
	}
}
