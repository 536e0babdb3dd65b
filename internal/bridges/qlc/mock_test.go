package qlc

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// MockQLCServer simulates the QLC+ web interface for testing.
type MockQLCServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu             sync.Mutex
	functions      []RawPair
	widgets        []RawPair
	functionTypes  map[string]string
	widgetTypes    map[string]string
	functionStatus map[string]string
	silent         map[string]bool // verbs that never get a reply
	received       []string
	conns          map[*mockConn]struct{}

	connects atomic.Int32
}

type mockConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *mockConn) write(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// NewMockQLCServer starts a mock controller on a random local port.
func NewMockQLCServer(t *testing.T) *MockQLCServer {
	t.Helper()

	m := &MockQLCServer{
		functionTypes:  make(map[string]string),
		widgetTypes:    make(map[string]string),
		functionStatus: make(map[string]string),
		silent:         make(map[string]bool),
		conns:          make(map[*mockConn]struct{}),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// Config returns a client configuration pointing at the mock.
func (m *MockQLCServer) Config() Config {
	u, _ := url.Parse(m.srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return Config{
		Host:              host,
		Port:              port,
		ReconnectInterval: 50 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
	}
}

// AddFunction registers a function with its type and status.
func (m *MockQLCServer) AddFunction(id, label, typ, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions = append(m.functions, RawPair{ID: id, Label: label})
	m.functionTypes[id] = typ
	m.functionStatus[id] = status
}

// AddWidget registers a widget with its type.
func (m *MockQLCServer) AddWidget(id, label, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widgets = append(m.widgets, RawPair{ID: id, Label: label})
	m.widgetTypes[id] = typ
}

// Silence stops the mock replying to a verb.
func (m *MockQLCServer) Silence(verb string) {
	m.mu.Lock()
	m.silent[verb] = true
	m.mu.Unlock()
}

// Received returns every frame the mock has read.
func (m *MockQLCServer) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	copy(out, m.received)
	return out
}

// HasReceived reports whether line has been read.
func (m *MockQLCServer) HasReceived(line string) bool {
	for _, r := range m.Received() {
		if r == line {
			return true
		}
	}
	return false
}

// Push writes a frame to every open connection.
func (m *MockQLCServer) Push(line string) {
	m.mu.Lock()
	conns := make([]*mockConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.write(line)
	}
}

// DropConnections closes every open connection without a close frame.
func (m *MockQLCServer) DropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.conns {
		c.conn.Close()
		delete(m.conns, c)
	}
}

// Close stops the mock server.
func (m *MockQLCServer) Close() {
	m.DropConnections()
	m.srv.Close()
}

func (m *MockQLCServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != DefaultPath {
		http.NotFound(w, r)
		return
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	mc := &mockConn{conn: conn}

	m.mu.Lock()
	m.conns[mc] = struct{}{}
	m.mu.Unlock()
	m.connects.Add(1)

	defer func() {
		m.mu.Lock()
		delete(m.conns, mc)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		line := string(data)

		m.mu.Lock()
		m.received = append(m.received, line)
		m.mu.Unlock()

		if reply := m.reply(line); reply != "" {
			if err := mc.write(reply); err != nil {
				return
			}
		}
	}
}

// reply produces the controller's answer to a frame, or "" for none.
func (m *MockQLCServer) reply(line string) string {
	fields := Decode(line)
	if len(fields) < 2 || fields[0] != Namespace {
		return ""
	}
	verb := fields[1]
	arg := ""
	if len(fields) > 2 {
		arg = fields[2]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.silent[verb] {
		return ""
	}

	switch verb {
	case VerbGetFunctionsList:
		return Encode(append([]string{Namespace, verb}, flattenPairs(m.functions)...)...)
	case VerbGetWidgetsList:
		return Encode(append([]string{Namespace, verb}, flattenPairs(m.widgets)...)...)
	case VerbGetFunctionType:
		if typ := m.functionTypes[arg]; typ != "" {
			return Encode(Namespace, verb, typ)
		}
		return Encode(Namespace, verb, arg)
	case VerbGetWidgetType:
		if typ := m.widgetTypes[arg]; typ != "" {
			return Encode(Namespace, verb, typ)
		}
		return Encode(Namespace, verb, arg)
	case VerbGetFunctionStatus:
		return Encode(Namespace, verb, m.functionStatus[arg])
	case VerbSetFunctionStatus:
		if len(fields) > 3 {
			status := StatusStopped
			if fields[3] == "1" {
				status = StatusRunning
			}
			m.functionStatus[arg] = status
		}
		return ""
	default:
		return Encode(Namespace, verb, "ok")
	}
}

func flattenPairs(pairs []RawPair) []string {
	out := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, p.ID, p.Label)
	}
	return out
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	in     chan string
	closed chan struct{}
	once   sync.Once

	// beforeWrite, when set, runs before a line is recorded. Tests use it
	// to hold individual writes.
	beforeWrite func(line string)

	mu      sync.Mutex
	written []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan string, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadLine() (string, error) {
	select {
	case line := <-f.in:
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeTransport) WriteLine(_ context.Context, line string) error {
	if f.beforeWrite != nil {
		f.beforeWrite(line)
	}
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, line)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

// waitWritten blocks until line has been written.
func (f *fakeTransport) waitWritten(t *testing.T, line string) {
	t.Helper()
	waitFor(t, 2*time.Second, "write of "+line, func() bool {
		for _, w := range f.Written() {
			if w == line {
				return true
			}
		}
		return false
	})
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeTransports, or fails while err is set.
type fakeDialer struct {
	mu          sync.Mutex
	err         error
	transports  []*fakeTransport
	endpoints   []string
	beforeWrite func(line string)
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport()
	t.beforeWrite = d.beforeWrite
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

var errDialRefused = errors.New("connection refused")

// fakeTimer records scheduling instead of waiting.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fakeScheduler implements AfterFunc with manually fired timers.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitEvent reads events until one of the given type arrives.
func waitEvent(t *testing.T, sub *Subscription, typ EventType, timeout time.Duration) Event {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func labels(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.DisplayLabel
	}
	return out
}

func containsFrame(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}
