package qlc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// State is the connection lifecycle state.
type State int

// Connection states. Destroyed is terminal.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateDisconnected, StateConnecting, StateConnected, StateDestroyed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("qlc: unknown state %q", text)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Timer is the subset of *time.Timer the reconnect scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Controller is the collaborator-facing surface of the client.
// This allows mocking the client in bridge tests.
type Controller interface {
	Functions() []Entity
	Widgets() []Entity
	Catalog() Catalog
	Query(ctx context.Context, command string) ([]string, error)
	FireAndForget(ctx context.Context, command string) error
	Execute(ctx context.Context, cmds ...Command) error
	Refresh(ctx context.Context) (Catalog, error)
	Subscribe(buffer int) *Subscription
	State() State
	Stats() Stats
	Close() error
}

// Ensure Client implements Controller.
var _ Controller = (*Client)(nil)

// Stats holds operational statistics.
type Stats struct {
	State               State     `json:"state"`
	Connected           bool      `json:"connected"`
	FramesTx            uint64    `json:"frames_tx"`
	FramesRx            uint64    `json:"frames_rx"`
	QueriesTotal        uint64    `json:"queries_total"`
	RepliesTotal        uint64    `json:"replies_total"`
	RequestTimeouts     uint64    `json:"request_timeouts"`
	LateRepliesDropped  uint64    `json:"late_replies_dropped"` // replies owed to abandoned requests
	PushesApplied       uint64    `json:"pushes_applied"`
	PushesStale         uint64    `json:"pushes_stale"` // push for an id not in the catalog
	EchoesDropped       uint64    `json:"echoes_dropped"`
	UnrecognizedDropped uint64    `json:"unrecognized_dropped"`
	ParseErrors         uint64    `json:"parse_errors"`
	ErrorsTotal         uint64    `json:"errors_total"`
	ConnectsTotal       uint64    `json:"connects_total"`
	ReconnectsScheduled uint64    `json:"reconnects_scheduled"`
	RefreshesTotal      uint64    `json:"refreshes_total"`
	RefreshFailures     uint64    `json:"refresh_failures"`
	EventsDropped       uint64    `json:"events_dropped"`
	PendingRequests     int       `json:"pending_requests"`
	Subscribers         int       `json:"subscribers"`
	Functions           int       `json:"functions"`
	Widgets             int       `json:"widgets"`
	LastActivity        time.Time `json:"last_activity"`
}

// session is one attached transport and everything scoped to it.
// release detaches it exactly once: it cancels work bound to the session
// and closes the transport, which unblocks the reader goroutine.
type session struct {
	id        uint64
	transport Transport
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once

	// send is a one-slot semaphore held from correlator registration until
	// the frame is written, so queue order and wire order agree.
	send chan struct{}
}

func newSession(id uint64, t Transport) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{id: id, transport: t, ctx: ctx, cancel: cancel, send: make(chan struct{}, 1)}
}

// acquireSend takes the send slot, giving up when ctx ends or the session
// is released.
func (s *session) acquireSend(ctx context.Context) error {
	select {
	case s.send <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrDisconnected
	}
}

func (s *session) releaseSend() {
	<-s.send
}

func (s *session) release() {
	s.once.Do(func() {
		s.cancel()
		_ = s.transport.Close() // best effort; the socket may already be gone
	})
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClassificationCache replaces the in-memory classification cache.
func WithClassificationCache(cache ClassificationCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithAfterFunc replaces the reconnect scheduler. Used by tests.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Client) { c.afterFunc = f }
}

// Client maintains the connection to a QLC+ controller and the local mirror
// of its catalog.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Inbound frames are handled by one reader goroutine per connection.
//
// Reconnection:
//   - When the connection drops, outstanding queries fail with ErrDisconnected
//     and a single reconnect is scheduled after ReconnectInterval (flat).
//   - At most one reconnect timer and one attached transport exist at a time.
//   - Reconnection stops only when Close() is called.
type Client struct {
	dialer     Dialer
	afterFunc  AfterFunc
	correlator *Correlator
	mirror     *Mirror
	cache      ClassificationCache
	events     *broker
	refreshes  singleflight.Group

	// Lifecycle state, guarded by mu.
	mu         sync.Mutex
	cfg        Config
	state      State
	sess       *session
	sessionSeq uint64
	generation uint64 // bumped by Reconfigure and Close to orphan in-flight dials
	timer      Timer
	timerSeq   uint64
	dialCancel context.CancelFunc

	wg sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx            atomic.Uint64
	framesRx            atomic.Uint64
	queriesTotal        atomic.Uint64
	repliesTotal        atomic.Uint64
	requestTimeouts     atomic.Uint64
	pushesApplied       atomic.Uint64
	pushesStale         atomic.Uint64
	echoesDropped       atomic.Uint64
	unrecognizedDropped atomic.Uint64
	parseErrors         atomic.Uint64
	errorsTotal         atomic.Uint64
	connectsTotal       atomic.Uint64
	reconnectsScheduled atomic.Uint64
	refreshesTotal      atomic.Uint64
	refreshFailures     atomic.Uint64
	eventsDropped       atomic.Uint64
	lastActivity        atomic.Int64 // Unix timestamp
}

// NewClient creates a client in the Disconnected state. Call Start to
// begin connecting.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg.withDefaults(),
		afterFunc:  defaultAfterFunc,
		correlator: NewCorrelator(),
		mirror:     NewMirror(),
		cache:      NewMemoryCache(),
		events:     newBroker(),
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &WebSocketDialer{
			HandshakeTimeout: c.cfg.HandshakeTimeout,
			WriteTimeout:     c.cfg.WriteTimeout,
		}
	}
	return c
}

// Start validates the configuration and begins connecting.
//
// Connection happens in the background; Start does not wait for it.
// Subscribe before Start to observe the first connection and refresh.
//
// Returns:
//   - error: ErrInvalidConfig (the client stays Disconnected) or ErrClosed
func (c *Client) Start() error {
	c.mu.Lock()
	cfg := c.cfg
	destroyed := c.state == StateDestroyed
	c.mu.Unlock()

	if destroyed {
		return ErrClosed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.connect()
	return nil
}

// Reconfigure switches the client to a new controller address.
//
// The current transport is detached (its listeners can no longer deliver
// events), outstanding queries fail with ErrDisconnected and a fresh
// connection is started with the new configuration.
func (c *Client) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cfg = cfg.withDefaults()
	c.generation++
	c.stopTimerLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	old := c.detachLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	if old != nil {
		old.release()
	}
	c.logInfo("reconfigured", "endpoint", cfg.Endpoint())
	c.connect()
	return nil
}

// connect moves Disconnected -> Connecting and dials in the background.
func (c *Client) connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.state = StateConnecting
	cfg := c.cfg
	gen := c.generation
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	c.dialCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.logDebug("connecting", "endpoint", cfg.Endpoint())
	c.emitState(StateConnecting)
	go c.dial(ctx, cancel, cfg, gen)
}

// dial opens the transport and, on success, attaches it as the new session.
func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, cfg Config, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	t, err := c.dialer.Dial(ctx, cfg.Endpoint())

	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		// Reconfigured or closed while dialling; this result is stale.
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()

		c.errorsTotal.Add(1)
		c.logWarn("connection failed, will retry", "endpoint", cfg.Endpoint(),
			"retry_in", cfg.ReconnectInterval.String(), "error", err)
		c.emitState(StateDisconnected)
		return
	}

	c.sessionSeq++
	s := newSession(c.sessionSeq, t)
	c.sess = s
	c.state = StateConnected
	c.stopTimerLocked()
	c.wg.Add(2)
	c.mu.Unlock()

	c.connectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logInfo("connected", "endpoint", cfg.Endpoint(), "session", s.id)
	c.emitState(StateConnected)

	go c.readLoop(s)
	go c.refreshOnConnect(s)
}

// readLoop delivers frames from one session in order until it ends.
func (c *Client) readLoop(s *session) {
	defer c.wg.Done()

	for {
		line, err := s.transport.ReadLine()
		if err != nil {
			c.handleTransportClosed(s, err)
			return
		}
		if !c.isCurrent(s) {
			return
		}
		c.handleFrame(line)
	}
}

// refreshOnConnect runs the post-connect catalog refresh for a session.
func (c *Client) refreshOnConnect(s *session) {
	defer c.wg.Done()

	if _, err := c.refresh(s.ctx, s); err != nil {
		if s.ctx.Err() == nil {
			c.logWarn("catalog refresh failed", "session", s.id, "error", err)
		}
	}
}

// handleTransportClosed moves Connected -> Disconnected for the given session.
// Events from a session that is no longer attached are ignored.
func (c *Client) handleTransportClosed(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		s.release()
		return
	}
	c.detachLocked()
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
	interval := c.cfg.ReconnectInterval
	c.mu.Unlock()

	s.release()
	c.errorsTotal.Add(1)
	c.logWarn("connection lost, will reconnect", "session", s.id,
		"retry_in", interval.String(), "error", err)
	c.emitState(StateDisconnected)
}

// detachLocked unhooks the current session and fails every outstanding
// query. Caller holds c.mu and must release the returned session after
// unlocking. Safe to call when nothing is attached.
func (c *Client) detachLocked() *session {
	s := c.sess
	c.sess = nil
	if n := c.correlator.FailAll(ErrDisconnected); n > 0 {
		c.logDebug("failed pending requests", "count", n)
	}
	return s
}

// scheduleReconnectLocked arms the reconnect timer unless one is already
// pending or the client is destroyed. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.state == StateDestroyed || c.timer != nil {
		return
	}
	delay := c.cfg.ReconnectInterval
	if c.cfg.ReconnectJitter > 0 {
		delay += rand.N(c.cfg.ReconnectJitter)
	}
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.afterFunc(delay, func() { c.reconnectTimerFired(seq) })
	c.reconnectsScheduled.Add(1)
}

// stopTimerLocked cancels the pending reconnect timer, if any. Caller holds c.mu.
func (c *Client) stopTimerLocked() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerSeq++
}

func (c *Client) reconnectTimerFired(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.connect()
}

// isCurrent reports whether s is still the attached session.
func (c *Client) isCurrent(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == s
}

// currentSession returns the attached session or the reason there is none.
func (c *Client) currentSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSessionLocked()
}

func (c *Client) currentSessionLocked() (*session, error) {
	switch {
	case c.state == StateDestroyed:
		return nil, ErrClosed
	case c.sess == nil:
		return nil, ErrNotConnected
	default:
		return c.sess, nil
	}
}

// handleFrame routes one inbound frame.
func (c *Client) handleFrame(line string) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	fields := Decode(line)
	if c.correlator.Resolve(fields) {
		c.repliesTotal.Add(1)
		return
	}

	switch ClassifyFrame(fields, c.correlator) {
	case FrameEcho:
		c.echoesDropped.Add(1)
	case FramePush:
		c.handlePush(line, fields)
	default:
		c.parseErrors.Add(1)
		c.logDebug("dropping unclassifiable frame", "frame", line)
	}
}

// handlePush applies a push frame to the mirror and notifies subscribers.
func (c *Client) handlePush(line string, fields []string) {
	ev, err := ParsePush(fields)
	if err != nil {
		c.parseErrors.Add(1)
		c.logDebug("dropping malformed push", "frame", line, "error", err)
		return
	}

	switch ev.Category {
	case PushFunction:
		c.applyFunctionStatus(ev.ID, ev.Status)
	default:
		c.unrecognizedDropped.Add(1)
		c.logDebug("no handler for push", "category", ev.Key)
	}
}

// applyFunctionStatus patches the mirror and emits a change notification.
// Unknown ids are ignored; catalog refreshes and pushes are not ordered.
func (c *Client) applyFunctionStatus(id, status string) bool {
	if !c.mirror.ApplyPushUpdate(PushFunction, id, status) {
		c.pushesStale.Add(1)
		return false
	}
	c.pushesApplied.Add(1)
	c.emit(Event{Type: EventStatusChanged, Kind: KindFunction, ID: id, Status: status})
	return true
}

// Query sends a namespaced command and waits for its reply.
//
// Parameters:
//   - ctx: cancels the wait; the late reply is discarded when it arrives
//   - command: full frame, e.g. "QLC+API|getFunctionType|3"
//
// Returns:
//   - []string: reply fields
//   - error: ErrNotQuery, ErrNotConnected, ErrClosed, ErrDisconnected,
//     ErrRequestTimeout, ErrConnectionFailed or ctx.Err()
func (c *Client) Query(ctx context.Context, command string) ([]string, error) {
	return c.query(ctx, nil, command)
}

// query sends command on the attached session. When bound is non-nil the
// query fails with ErrDisconnected unless bound is still attached, so work
// started for one connection never spills onto the next.
func (c *Client) query(ctx context.Context, bound *session, command string) ([]string, error) {
	if !isQuery(command) {
		return nil, fmt.Errorf("%w: %q", ErrNotQuery, command)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := bound
	if s == nil {
		var err error
		if s, err = c.currentSession(); err != nil {
			return nil, err
		}
	}
	if err := s.acquireSend(ctx); err != nil {
		return nil, err
	}
	p, timeout, err := c.register(s, command)
	if err != nil {
		s.releaseSend()
		return nil, err
	}
	err = s.transport.WriteLine(ctx, command)
	s.releaseSend()
	if err != nil {
		c.correlator.Cancel(p, err)
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.framesTx.Add(1)
	c.queriesTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The frame is on the wire, so a reply is still owed: give up with
	// Abandon, never Cancel.
	select {
	case <-p.Done():
		return p.Result()
	case <-ctx.Done():
		if c.correlator.Abandon(p, ctx.Err()) {
			return nil, ctx.Err()
		}
	case <-timer.C:
		if c.correlator.Abandon(p, ErrRequestTimeout) {
			c.requestTimeouts.Add(1)
			c.logWarn("request timed out, dropping connection", "command", command, "timeout", timeout.String())
			// Reply order is no longer known; start over on a fresh session.
			c.handleTransportClosed(s, fmt.Errorf("%w: %s", ErrRequestTimeout, command))
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, command)
		}
	}
	// Completed concurrently with the cancellation.
	return p.Result()
}

// register queues command against s. Registering under mu orders the
// request against detachLocked: it is either failed by the detach or sees
// that s is gone.
func (c *Client) register(s *session, command string) (*PendingRequest, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.currentSessionLocked()
	if err != nil {
		return nil, 0, err
	}
	if cur != s {
		return nil, 0, ErrDisconnected
	}
	p, err := c.correlator.Register(command)
	if err != nil {
		return nil, 0, err
	}
	return p, c.cfg.RequestTimeout, nil
}

// FireAndForget writes a command without waiting for any reply.
func (c *Client) FireAndForget(ctx context.Context, command string) error {
	s, err := c.currentSession()
	if err != nil {
		return err
	}
	if err := s.transport.WriteLine(ctx, command); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Send routes a raw command line: namespaced commands wait for a reply,
// everything else is fire-and-forget and returns nil fields.
func (c *Client) Send(ctx context.Context, command string) ([]string, error) {
	if isQuery(command) {
		return c.Query(ctx, command)
	}
	return nil, c.FireAndForget(ctx, command)
}

// Functions returns the mirrored functions in display order.
func (c *Client) Functions() []Entity {
	return c.mirror.Current().Functions
}

// Widgets returns the mirrored widgets in display order.
func (c *Client) Widgets() []Entity {
	return c.mirror.Current().Widgets
}

// Catalog returns a copy of the mirrored catalog.
func (c *Client) Catalog() Catalog {
	return c.mirror.Current()
}

// Mirror exposes the state mirror for read-only helpers such as FunctionRunning.
func (c *Client) Mirror() *Mirror {
	return c.mirror
}

// Subscribe returns a scoped stream of change notifications.
func (c *Client) Subscribe(buffer int) *Subscription {
	return c.events.subscribe(buffer)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if a transport is attached.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Endpoint returns the configured controller URL.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Endpoint()
}

// reconnectPending reports whether a reconnect timer is armed.
func (c *Client) reconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Close destroys the client.
//
// It cancels the reconnect timer, fails outstanding queries, detaches and
// closes the transport and waits for background goroutines. Every later
// lifecycle transition is a no-op. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDestroyed
	c.generation++
	c.stopTimerLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		old.release()
	}
	c.wg.Wait()

	c.emitState(StateDestroyed)
	c.events.closeAll()
	c.logInfo("client closed")
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	cat := c.mirror.snapshot.Load()
	state := c.State()
	return Stats{
		State:               state,
		Connected:           state == StateConnected,
		FramesTx:            c.framesTx.Load(),
		FramesRx:            c.framesRx.Load(),
		QueriesTotal:        c.queriesTotal.Load(),
		RepliesTotal:        c.repliesTotal.Load(),
		RequestTimeouts:     c.requestTimeouts.Load(),
		LateRepliesDropped:  c.correlator.Discarded(),
		PushesApplied:       c.pushesApplied.Load(),
		PushesStale:         c.pushesStale.Load(),
		EchoesDropped:       c.echoesDropped.Load(),
		UnrecognizedDropped: c.unrecognizedDropped.Load(),
		ParseErrors:         c.parseErrors.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		ConnectsTotal:       c.connectsTotal.Load(),
		ReconnectsScheduled: c.reconnectsScheduled.Load(),
		RefreshesTotal:      c.refreshesTotal.Load(),
		RefreshFailures:     c.refreshFailures.Load(),
		EventsDropped:       c.eventsDropped.Load(),
		PendingRequests:     c.correlator.Pending(),
		Subscribers:         c.events.count(),
		Functions:           len(cat.Functions),
		Widgets:             len(cat.Widgets),
		LastActivity:        time.Unix(c.lastActivity.Load(), 0),
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// emitState notifies subscribers of a lifecycle transition.
func (c *Client) emitState(state State) {
	c.emit(Event{Type: EventConnectionChanged, State: state})
}

// emit stamps and publishes an event.
func (c *Client) emit(ev Event) {
	if ev.Type != EventConnectionChanged {
		ev.State = c.State()
	}
	ev.Timestamp = time.Now()
	if n := c.events.publish(ev); n > 0 {
		c.eventsDropped.Add(uint64(n))
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
