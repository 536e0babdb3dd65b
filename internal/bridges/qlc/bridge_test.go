package qlc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// PublishedTo returns every message published to topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler whose "/#" pattern
// matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#")) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// MockController implements Controller for bridge tests.
type MockController struct {
	mu         sync.Mutex
	catalog    Catalog
	state      State
	executed   [][]Command
	queries    []string
	executeErr error
	queryReply []string
	events     *broker
}

func NewMockController(cat Catalog) *MockController {
	return &MockController{catalog: cat, state: StateConnected, events: newBroker()}
}

func (m *MockController) Functions() []Entity { return m.Catalog().Functions }
func (m *MockController) Widgets() []Entity   { return m.Catalog().Widgets }

func (m *MockController) Catalog() Catalog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog.Clone()
}

func (m *MockController) Query(_ context.Context, command string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !isQuery(command) {
		return nil, ErrNotQuery
	}
	m.queries = append(m.queries, command)
	return m.queryReply, nil
}

func (m *MockController) FireAndForget(_ context.Context, command string) error {
	return m.Execute(context.Background(), Command{Line: command})
}

func (m *MockController) Execute(_ context.Context, cmds ...Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executeErr != nil {
		return m.executeErr
	}
	m.executed = append(m.executed, cmds)
	return nil
}

func (m *MockController) Refresh(_ context.Context) (Catalog, error) {
	return m.Catalog(), nil
}

func (m *MockController) Subscribe(buffer int) *Subscription {
	return m.events.subscribe(buffer)
}

func (m *MockController) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockController) Stats() Stats {
	cat := m.Catalog()
	state := m.State()
	return Stats{
		State:     state,
		Connected: state == StateConnected,
		Functions: len(cat.Functions),
		Widgets:   len(cat.Widgets),
	}
}

func (m *MockController) Close() error { return nil }

func (m *MockController) SetState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *MockController) SetExecuteError(err error) {
	m.mu.Lock()
	m.executeErr = err
	m.mu.Unlock()
}

func (m *MockController) GetExecuted() [][]Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}

// SimulateEvent publishes an event as the client would.
func (m *MockController) SimulateEvent(ev Event) {
	ev.Timestamp = time.Now()
	m.events.publish(ev)
}

type recordedStatus struct {
	kind, id, status, source string
}

// MockRecorder implements StatusRecorder.
type MockRecorder struct {
	mu      sync.Mutex
	records []recordedStatus
}

func (r *MockRecorder) RecordStatus(_ context.Context, kind, id, status, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedStatus{kind, id, status, source})
	return nil
}

func (r *MockRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func createTestCatalog() Catalog {
	functions := []Entity{
		{ID: "1", Kind: KindFunction, RawLabel: "Intro", Classification: "Scene"},
		{ID: "2", Kind: KindFunction, RawLabel: "Chase", Classification: "Chaser"},
	}
	widgets := []Entity{
		{ID: "10", Kind: KindWidget, RawLabel: "Master", Classification: "Slider"},
		{ID: "11", Kind: KindWidget, RawLabel: "Go", Classification: "Button"},
	}
	reconcile(functions)
	reconcile(widgets)
	return Catalog{Functions: functions, Widgets: widgets}
}

func createTestBridge(t *testing.T, mqtt *MockMQTTClient, ctrl *MockController, rec StatusRecorder) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeOptions{
		BridgeID:       "qlc-test",
		Version:        "test",
		Endpoint:       "ws://127.0.0.1:9999/qlcplusWS",
		HealthInterval: time.Hour,
		MQTTClient:     mqtt,
		Controller:     ctrl,
		Recorder:       rec,
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestNewBridgeValidation(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(Catalog{})

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing id", BridgeOptions{MQTTClient: mqtt, Controller: ctrl}},
		{"missing mqtt", BridgeOptions{BridgeID: "x", Controller: ctrl}},
		{"missing controller", BridgeOptions{BridgeID: "x", MQTTClient: mqtt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() expected error")
			}
		})
	}
}

func TestBridgeStartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	b := createTestBridge(t, mqtt, ctrl, nil)

	subs := mqtt.GetSubscriptions()
	if len(subs) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(subs))
	}
	if len(mqtt.PublishedTo(HealthTopic())) == 0 {
		t.Error("expected health message to be published")
	}

	// The existing catalog is announced on start.
	discovery := mqtt.PublishedTo(DiscoveryTopic())
	if len(discovery) != 1 || !discovery[0].Retained {
		t.Fatalf("discovery publishes = %d, want 1 retained", len(discovery))
	}
	var msg DiscoveryMessage
	if err := json.Unmarshal(discovery[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if len(msg.Entities) != 4 {
		t.Errorf("discovered entities = %d, want 4", len(msg.Entities))
	}

	b.Stop()
	b.Stop()

	var last HealthMessage
	health := mqtt.PublishedTo(HealthTopic())
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final health = %s, want stopping", last.Status)
	}
}

func TestBridgeCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	createTestBridge(t, mqtt, ctrl, nil)
	mqtt.ClearPublished()

	cmd := CommandMessage{
		ID:         "cmd-1",
		Timestamp:  time.Now(),
		Command:    ActionSetWidgetValue,
		Parameters: map[string]any{"value": float64(128)},
		Source:     "test",
	}
	payload, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mqtt.SimulateMessage(CommandTopic("10"), payload)

	executed := ctrl.GetExecuted()
	if len(executed) != 1 || executed[0][0].Line != "10|128" {
		t.Fatalf("executed = %+v, want one 10|128", executed)
	}

	acks := mqtt.PublishedTo(AckTopic("10"))
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.Protocol != Protocol {
		t.Errorf("ack = %+v", ack)
	}
}

func TestBridgeCommandErrors(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		params     map[string]any
		executeErr error
		wantCode   string
		wantStatus AckStatus
	}{
		{"unknown action", "explode", nil, nil, ErrCodeInvalidParameters, AckFailed},
		{"value out of range", ActionSetWidgetValue, map[string]any{"value": float64(300)}, nil, ErrCodeInvalidParameters, AckFailed},
		{"not connected", ActionToggleButton, nil, ErrNotConnected, ErrCodeControllerUnreachable, AckFailed},
		{"timeout", ActionSetFunctionStatus, map[string]any{"running": true}, ErrRequestTimeout, ErrCodeTimeout, AckTimeout},
		{"other", ActionPressButton, map[string]any{"pressed": true}, errors.New("boom"), ErrCodeBridgeError, AckFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			ctrl := NewMockController(createTestCatalog())
			ctrl.SetExecuteError(tt.executeErr)
			createTestBridge(t, mqtt, ctrl, nil)

			payload, _ := json.Marshal(&CommandMessage{ID: "c", Command: tt.command, Parameters: tt.params})
			mqtt.SimulateMessage(CommandTopic("11"), payload)

			acks := mqtt.PublishedTo(AckTopic("11"))
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			var ack AckMessage
			if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if ack.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", ack.Status, tt.wantStatus)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestBridgeCommandInvalidJSON(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	createTestBridge(t, mqtt, ctrl, nil)
	mqtt.ClearPublished()

	mqtt.SimulateMessage(CommandTopic("10"), []byte("{not json"))

	if len(ctrl.GetExecuted()) != 0 {
		t.Error("invalid payload executed")
	}
	if len(mqtt.PublishedTo(AckTopic("10"))) != 0 {
		t.Error("ack published for unparseable command")
	}
}

func TestBridgeStatusChanged(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	rec := &MockRecorder{}
	b := createTestBridge(t, mqtt, ctrl, rec)

	topic := StateTopic(KindFunction, "2")
	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "2", Status: StatusRunning})
	waitFor(t, time.Second, "state publish", func() bool { return len(mqtt.PublishedTo(topic)) == 1 })

	// A repeat of the same status is suppressed.
	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "2", Status: StatusRunning})
	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "2", Status: StatusStopped})
	waitFor(t, time.Second, "second state publish", func() bool { return len(mqtt.PublishedTo(topic)) == 2 })

	published := mqtt.PublishedTo(topic)
	var msg StateMessage
	if err := json.Unmarshal(published[1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State["status"] != StatusStopped || msg.State["running"] != false {
		t.Errorf("state = %v", msg.State)
	}
	if msg.Label != "Chaser: Chase" {
		t.Errorf("label = %q", msg.Label)
	}
	if !published[0].Retained {
		t.Error("state not retained")
	}
	waitFor(t, time.Second, "status recorded", func() bool { return rec.count() == 2 })

	// Unknown functions are not published.
	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "99", Status: StatusRunning})
	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "1", Status: StatusRunning})
	waitFor(t, time.Second, "function 1 publish", func() bool {
		return len(mqtt.PublishedTo(StateTopic(KindFunction, "1"))) == 1
	})
	if len(mqtt.PublishedTo(StateTopic(KindFunction, "99"))) != 0 {
		t.Error("published state for unknown function")
	}
	b.stateCacheMu.RLock()
	_, cached := b.stateCache["99"]
	b.stateCacheMu.RUnlock()
	if cached {
		t.Error("state cache holds an entry for an unknown function")
	}
}

func TestBridgeCatalogReplacedPrunesCache(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	b := createTestBridge(t, mqtt, ctrl, nil)

	ctrl.SimulateEvent(Event{Type: EventStatusChanged, Kind: KindFunction, ID: "1", Status: StatusRunning})
	waitFor(t, time.Second, "state publish", func() bool {
		return len(mqtt.PublishedTo(StateTopic(KindFunction, "1"))) == 1
	})

	ctrl.mu.Lock()
	ctrl.catalog.Functions = ctrl.catalog.Functions[1:]
	ctrl.mu.Unlock()
	mqtt.ClearPublished()

	ctrl.SimulateEvent(Event{Type: EventCatalogReplaced})
	waitFor(t, time.Second, "discovery", func() bool { return len(mqtt.PublishedTo(DiscoveryTopic())) == 1 })

	b.stateCacheMu.RLock()
	_, cached := b.stateCache["1"]
	b.stateCacheMu.RUnlock()
	if cached {
		t.Error("state cache kept a function no longer in the catalog")
	}
}

func TestBridgeRepublish(t *testing.T) {
	mqtt := NewMockMQTTClient()
	cat := createTestCatalog()
	cat.Functions[0].Status = StatusRunning
	ctrl := NewMockController(cat)
	b := createTestBridge(t, mqtt, ctrl, nil)

	mqtt.ClearPublished()
	b.Republish()

	if n := len(mqtt.PublishedTo(HealthTopic())); n != 1 {
		t.Errorf("health publishes = %d, want 1", n)
	}
	if n := len(mqtt.PublishedTo(DiscoveryTopic())); n != 1 {
		t.Errorf("discovery publishes = %d, want 1", n)
	}
	states := mqtt.PublishedTo(StateTopic(KindFunction, "1"))
	if len(states) != 1 || !states[0].Retained {
		t.Fatalf("state publishes for 1 = %+v, want one retained", states)
	}
	// Functions without a known status are not announced.
	if n := len(mqtt.PublishedTo(StateTopic(KindFunction, "2"))); n != 0 {
		t.Errorf("state publishes for 2 = %d, want 0", n)
	}

	// The republished status is cached, so an identical push is deduplicated.
	if !b.stateUnchanged("1", StatusRunning) {
		t.Error("republished status not recorded in the state cache")
	}
}

func TestBridgeConnectionChangedPublishesHealth(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	createTestBridge(t, mqtt, ctrl, nil)
	mqtt.ClearPublished()

	ctrl.SetState(StateDisconnected)
	ctrl.SimulateEvent(Event{Type: EventConnectionChanged, State: StateDisconnected})
	waitFor(t, time.Second, "health publish", func() bool { return len(mqtt.PublishedTo(HealthTopic())) == 1 })

	var msg HealthMessage
	if err := json.Unmarshal(mqtt.PublishedTo(HealthTopic())[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Status != HealthDegraded {
		t.Errorf("status = %s, want degraded", msg.Status)
	}
	if msg.Connection == nil || msg.Connection.Status != "disconnected" {
		t.Errorf("connection = %+v", msg.Connection)
	}
}

func TestBridgeRequests(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	ctrl.queryReply = []string{Namespace, "getVersion", "4.13.1"}
	createTestBridge(t, mqtt, ctrl, nil)

	tests := []struct {
		name        string
		req         RequestMessage
		wantSuccess bool
		wantCode    string
		check       func(t *testing.T, data map[string]any)
	}{
		{
			name:        "list functions",
			req:         RequestMessage{RequestID: "r1", Action: "list_functions"},
			wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				if fns, _ := data["functions"].([]any); len(fns) != 2 {
					t.Errorf("functions = %v", data["functions"])
				}
			},
		},
		{
			name:        "list widgets",
			req:         RequestMessage{RequestID: "r2", Action: "list_widgets"},
			wantSuccess: true,
		},
		{
			name:        "function status unknown",
			req:         RequestMessage{RequestID: "r3", Action: "function_status", EntityID: "1"},
			wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				if data["status"] != StatusUnknown || data["running"] != false {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:     "function status missing",
			req:      RequestMessage{RequestID: "r4", Action: "function_status", EntityID: "42"},
			wantCode: ErrCodeUnknownEntity,
		},
		{
			name:        "query",
			req:         RequestMessage{RequestID: "r5", Action: "query", Parameters: map[string]any{"command": "QLC+API|getVersion"}},
			wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				if fields, _ := data["fields"].([]any); len(fields) != 3 || fields[2] != "4.13.1" {
					t.Errorf("fields = %v", data["fields"])
				}
			},
		},
		{
			name:     "query without namespace",
			req:      RequestMessage{RequestID: "r6", Action: "query", Parameters: map[string]any{"command": "1|0"}},
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:        "refresh",
			req:         RequestMessage{RequestID: "r7", Action: "refresh"},
			wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				if data["functions"] != float64(2) || data["widgets"] != float64(2) {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:     "unknown action",
			req:      RequestMessage{RequestID: "r8", Action: "reboot"},
			wantCode: ErrCodeInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(tt.req)
			mqtt.SimulateMessage(RequestTopic(tt.req.RequestID), payload)

			published := mqtt.PublishedTo(ResponseTopic(tt.req.RequestID))
			if len(published) != 1 {
				t.Fatalf("responses = %d, want 1", len(published))
			}
			var resp ResponseMessage
			if err := json.Unmarshal(published[0].Payload, &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (error %+v)", resp.Success, tt.wantSuccess, resp.Error)
			}
			if !tt.wantSuccess && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
			if tt.check != nil {
				tt.check(t, resp.Data)
			}
		})
	}
}

func TestBridgeGetMetrics(t *testing.T) {
	mqtt := NewMockMQTTClient()
	ctrl := NewMockController(createTestCatalog())
	b := createTestBridge(t, mqtt, ctrl, nil)

	m := b.GetMetrics()
	if !m.Connected || m.Status != string(HealthHealthy) || m.Functions != 2 || m.Widgets != 2 {
		t.Errorf("metrics = %+v", m)
	}

	mqtt.SetConnected(false)
	if got := b.GetMetrics().Status; got != string(HealthDegraded) {
		t.Errorf("status with MQTT down = %s, want degraded", got)
	}
}
