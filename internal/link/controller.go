// Package link runs the connection lifecycle against the posture device:
// connect, continuous line reading, silent-stall detection, and reconnect
// with exponential backoff.
package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/transport"
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrPeerNotFound = errors.New("link: no candidate peer")
)

const (
	DefaultStalenessWindow = 6 * time.Second
	DefaultBackoffInitial  = 3 * time.Second
	DefaultBackoffMax      = 30 * time.Second

	defaultWatchdogTick = time.Second
	defaultPingQuiet    = 2 * time.Second
	defaultPeerPattern  = "postura"
)

// Peer describes one paired device.
type Peer struct {
	Name    string
	Address string
}

// Config tunes the controller. Zero values select the defaults above.
type Config struct {
	Peers           []Peer
	PeerPattern     string
	StalenessWindow time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	WatchdogTick    time.Duration
	PingQuiet       time.Duration
}

func (c *Config) applyDefaults() {
	if c.PeerPattern == "" {
		c.PeerPattern = defaultPeerPattern
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.WatchdogTick <= 0 {
		c.WatchdogTick = defaultWatchdogTick
	}
	if c.PingQuiet <= 0 {
		c.PingQuiet = defaultPingQuiet
	}
}

// Controller owns the link lifecycle. All published callbacks run either
// from the single read loop (readings, control replies, in arrival order)
// or under the controller's lock (state transitions); subscribers must not
// call back into the Controller.
type Controller struct {
	tr      transport.Transport
	codec   protocol.Codec
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu            sync.Mutex
	state         ConnectionState
	conn          transport.Conn
	epoch         int
	lastPeer      *Peer
	manual        bool
	reconnecting  bool
	reconnectStop chan struct{}
	lastReading   *protocol.Reading
	lastReadingAt time.Time
	lastErr       string

	subMu       sync.Mutex
	nextSubID   int
	readingSubs map[int]func(protocol.Reading)
	stateSubs   map[int]func(ConnectionState)
	controlSubs map[int]func(protocol.Control)
}

func NewController(tr transport.Transport, codec protocol.Codec, cfg Config, logger *zap.Logger, metrics *Metrics) *Controller {
	cfg.applyDefaults()
	return &Controller{
		tr:          tr,
		codec:       codec,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		readingSubs: make(map[int]func(protocol.Reading)),
		stateSubs:   make(map[int]func(ConnectionState)),
		controlSubs: make(map[int]func(protocol.Control)),
	}
}

// ListPaired returns the configured peer table.
func (c *Controller) ListPaired() []Peer {
	peers := make([]Peer, len(c.cfg.Peers))
	copy(peers, c.cfg.Peers)
	return peers
}

// FindDefaultPeer picks the first paired peer whose name contains the
// allow-listed pattern, case-insensitively.
func (c *Controller) FindDefaultPeer() (Peer, bool) {
	pattern := strings.ToLower(c.cfg.PeerPattern)
	for _, p := range c.cfg.Peers {
		if strings.Contains(strings.ToLower(p.Name), pattern) {
			return p, true
		}
	}
	return Peer{}, false
}

// Connect tears down any prior session and opens the transport to peer.
// The Connected transition happens only after a successful open.
func (c *Controller) Connect(ctx context.Context, peer Peer) error {
	c.mu.Lock()
	c.manual = false
	c.teardownLocked()
	c.setStateLocked(Connecting, "")
	c.mu.Unlock()

	conn, err := c.tr.Open(ctx, peer.Address)
	if err != nil {
		c.mu.Lock()
		c.lastPeer = &peer
		c.setStateLocked(Disconnected, err.Error())
		c.mu.Unlock()
		c.logger.Warn("connect failed", zap.String("peer", peer.Name), zap.Error(err))
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.lastPeer = &peer
	c.lastReading = nil
	c.lastReadingAt = c.now()
	c.setStateLocked(Connected, "")
	c.mu.Unlock()

	go c.readLoop(conn, epoch)

	// liveness probe; a failure here surfaces through the usual path
	if err := c.Send(protocol.Ping()); err != nil {
		c.logger.Warn("liveness probe failed", zap.Error(err))
	}

	c.logger.Info("connected", zap.String("peer", peer.Name), zap.String("address", peer.Address))
	return nil
}

// Disconnect is the user-initiated teardown. No auto-reconnect follows.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.stopReconnectLocked()
	c.teardownLocked()
	c.setStateLocked(Disconnected, "")
	c.mu.Unlock()
	c.logger.Info("disconnected by user")
}

// Reconnect re-resolves the last-known peer, falling back to discovery.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	peer := c.lastPeer
	c.mu.Unlock()

	if peer == nil {
		if found, ok := c.FindDefaultPeer(); ok {
			peer = &found
		}
	}
	if peer == nil {
		return ErrPeerNotFound
	}
	return c.Connect(ctx, *peer)
}

// Send encodes body through the codec and writes it as one line. A write
// failure forces a transition to Disconnected.
func (c *Controller) Send(body string) error {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	epoch := c.epoch
	c.mu.Unlock()

	wire := c.codec.PrepareOutgoing(body)
	if err := conn.WriteLine(wire); err != nil {
		c.metrics.writeError()
		c.connectionLost(epoch, "write failed: "+err.Error())
		return err
	}
	return nil
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastReading returns the latest decoded reading, if any. It is cleared
// on disconnect.
func (c *Controller) LastReading() (protocol.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReading == nil {
		return protocol.Reading{}, false
	}
	return *c.lastReading, true
}

// LastReadingAt returns when the latest reading arrived.
func (c *Controller) LastReadingAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReadingAt
}

// LastError returns the most recent failure reason, empty when none.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SubscribeReadings registers cb for decoded readings in arrival order.
func (c *Controller) SubscribeReadings(cb func(protocol.Reading)) func() {
	return subscribeInto(c, c.readingSubs, cb)
}

// SubscribeState registers cb for connection state transitions.
func (c *Controller) SubscribeState(cb func(ConnectionState)) func() {
	return subscribeInto(c, c.stateSubs, cb)
}

// SubscribeControl registers cb for PONG/OK/ERR replies.
func (c *Controller) SubscribeControl(cb func(protocol.Control)) func() {
	return subscribeInto(c, c.controlSubs, cb)
}

func subscribeInto[T any](c *Controller, m map[int]T, cb T) func() {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	m[id] = cb
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(m, id)
		c.subMu.Unlock()
	}
}

// Run drives the watchdog until ctx is cancelled: a silent stall (no
// reading inside the staleness window while Connected) is treated as a
// failure and forced through disconnect plus auto-reconnect.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.WatchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.watchdogPass()
		}
	}
}

func (c *Controller) watchdogPass() {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return
	}
	quiet := c.now().Sub(c.lastReadingAt)
	epoch := c.epoch
	c.mu.Unlock()

	if quiet > c.cfg.StalenessWindow {
		c.logger.Warn("link stale, forcing reconnect", zap.Duration("quiet", quiet))
		c.metrics.staleDisconnect()
		c.connectionLost(epoch, "connection lost")
		return
	}
	if quiet > c.cfg.PingQuiet {
		_ = c.Send(protocol.Ping())
	}
}

func (c *Controller) readLoop(conn transport.Conn, epoch int) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			c.connectionLost(epoch, "connection lost")
			return
		}
		c.handleLine(line)
	}
}

func (c *Controller) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	body, err := c.codec.ProcessIncoming(line)
	if err != nil {
		c.metrics.codecError()
		c.logger.Debug("discarding line with bad envelope", zap.Error(err))
		return
	}

	if ctrl, ok := protocol.ParseControl(body); ok {
		// control replies prove the link is alive
		c.mu.Lock()
		c.lastReadingAt = c.now()
		c.mu.Unlock()
		if ctrl.Kind == protocol.ControlErr {
			c.logger.Warn("device rejected command", zap.String("reason", ctrl.Detail))
		}
		for _, cb := range c.controlSubscribers() {
			cb(ctrl)
		}
		return
	}

	reading, err := protocol.ParseStatusLine(body)
	if err != nil {
		c.metrics.parseError()
		c.logger.Debug("discarding unparseable line", zap.String("line", body), zap.Error(err))
		return
	}

	c.mu.Lock()
	c.lastReading = &reading
	c.lastReadingAt = c.now()
	c.mu.Unlock()
	c.metrics.readingReceived()

	for _, cb := range c.readingSubscribers() {
		cb(reading)
	}
}

// connectionLost handles an involuntary drop for the given connection
// epoch. Stale epochs (already replaced connections) are ignored.
func (c *Controller) connectionLost(epoch int, reason string) {
	c.mu.Lock()
	if epoch != c.epoch || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.setStateLocked(Disconnected, reason)
	scheduleReconnect := !c.manual
	c.mu.Unlock()

	c.logger.Warn("connection lost", zap.String("reason", reason))
	if scheduleReconnect {
		c.scheduleReconnect()
	}
}

// scheduleReconnect starts the backoff reconnect task. At most one task is
// in flight; a concurrent call is a no-op.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.manual {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stop := make(chan struct{})
	c.reconnectStop = stop
	c.mu.Unlock()

	c.metrics.reconnectScheduled()

	go func() {
		defer func() {
			c.mu.Lock()
			c.reconnecting = false
			c.reconnectStop = nil
			c.mu.Unlock()
		}()

		delay := c.cfg.BackoffInitial
		for {
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}

			c.mu.Lock()
			if c.manual || c.state != Disconnected {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			if err := c.Reconnect(context.Background()); err == nil {
				return
			}
			delay = nextBackoff(delay, c.cfg.BackoffMax)
		}
	}()
}

// nextBackoff doubles delay up to max.
func nextBackoff(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		return max
	}
	return delay
}

func (c *Controller) stopReconnectLocked() {
	if c.reconnectStop != nil {
		close(c.reconnectStop)
		c.reconnectStop = nil
	}
}

// teardownLocked closes the live connection and clears the published
// reading. Closing always runs, whatever state the connection is in.
func (c *Controller) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.epoch++
	c.lastReading = nil
}

func (c *Controller) setStateLocked(s ConnectionState, reason string) {
	if c.state == s {
		c.lastErr = reason
		return
	}
	c.state = s
	c.lastErr = reason
	c.metrics.stateChanged(s)
	for _, cb := range c.stateSubscribers() {
		cb(s)
	}
}

func (c *Controller) readingSubscribers() []func(protocol.Reading) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(protocol.Reading), 0, len(c.readingSubs))
	for _, cb := range c.readingSubs {
		out = append(out, cb)
	}
	return out
}

func (c *Controller) stateSubscribers() []func(ConnectionState) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(ConnectionState), 0, len(c.stateSubs))
	for _, cb := range c.stateSubs {
		out = append(out, cb)
	}
	return out
}

func (c *Controller) controlSubscribers() []func(protocol.Control) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(protocol.Control), 0, len(c.controlSubs))
	for _, cb := range c.controlSubs {
		out = append(out, cb)
	}
	return out
}
