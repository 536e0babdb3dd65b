package qlc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout bounds the execution of one operator command.
	commandTimeout = 5 * time.Second

	// requestTimeout bounds request handling, which may include a full refresh.
	requestTimeout = 60 * time.Second

	// eventBuffer is the bridge's subscription buffer.
	eventBuffer = 256

	// statusSourcePush marks status records that came from the controller.
	statusSourcePush = "controller"
)

// Bridge orchestrates bidirectional translation between QLC+ and MQTT.
// It handles:
//   - Receiving commands from Core via MQTT and translating to controller frames
//   - Publishing function status changes and catalog discovery to MQTT
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID   string
	mqtt       MQTTClient
	controller Controller
	health     *HealthReporter
	recorder   StatusRecorder // Optional status history persistence
	metrics    MetricsWriter  // Optional time-series output
	events     *Subscription

	// Last published status per function, for change detection.
	stateCache   map[string]string
	stateCacheMu sync.RWMutex

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// StatusRecorder persists observed status transitions.
// It is optional - if nil, the bridge keeps no history.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, kind, id, status, source string) error
}

// MetricsWriter emits time-series points.
// It is optional - if nil, no metrics are written.
type MetricsWriter interface {
	WriteFunctionStatus(id, label, status string)
	WriteConnectionState(endpoint, state string)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is the software version reported in health messages.
	Version string

	// Endpoint is the controller URL reported in health messages.
	Endpoint string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Controller is the QLC+ client.
	Controller Controller

	// Recorder is optional status history persistence.
	Recorder StatusRecorder

	// Metrics is optional time-series output.
	Metrics MetricsWriter

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:   opts.BridgeID,
		mqtt:       opts.MQTTClient,
		controller: opts.Controller,
		recorder:   opts.Recorder, // May be nil (optional)
		metrics:    opts.Metrics,  // May be nil (optional)
		stateCache: make(map[string]string),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.BridgeID,
		Version:    opts.Version,
		Endpoint:   opts.Endpoint,
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTTClient,
		Controller: opts.Controller,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to controller events and MQTT topics and starts health
// reporting. The controller may still be connecting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.events = b.controller.Subscribe(eventBuffer)
	b.wg.Add(1)
	go b.eventLoop(b.events)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	// A catalog may already be mirrored if the client connected first.
	if cat := b.controller.Catalog(); len(cat.Functions)+len(cat.Widgets) > 0 {
		b.publishCatalog(cat)
	}

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge.
// The controller is owned by the caller and is not closed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if b.events != nil {
			b.events.Close()
		}

		// Publishes "stopping" status
		b.health.Stop()

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// eventLoop forwards controller events to MQTT until the subscription closes.
func (b *Bridge) eventLoop(sub *Subscription) {
	defer b.wg.Done()

	for ev := range sub.Events() {
		b.handleEvent(ev)
	}
}

// handleEvent dispatches one controller event.
func (b *Bridge) handleEvent(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("event handler panic", fmt.Errorf("%v", r))
		}
	}()

	switch ev.Type {
	case EventStatusChanged:
		b.handleStatusChanged(ev)
	case EventCatalogReplaced:
		cat := b.controller.Catalog()
		b.PruneStateCache(cat)
		b.publishCatalog(cat)
	case EventConnectionChanged:
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
		if b.metrics != nil {
			b.metrics.WriteConnectionState(b.health.endpoint, ev.State.String())
		}
	}
}

// handleStatusChanged publishes a function's new status if it changed.
// Ids outside the catalog leave no trace in the state cache.
func (b *Bridge) handleStatusChanged(ev Event) {
	e, ok := b.controller.Catalog().Function(ev.ID)
	if !ok {
		return
	}
	if b.stateUnchanged(ev.ID, ev.Status) {
		return
	}
	e.Status = ev.Status
	b.publishState(e)

	if b.recorder != nil {
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		if err := b.recorder.RecordStatus(ctx, string(e.Kind), e.ID, e.Status, statusSourcePush); err != nil {
			b.logError("failed to record status", err)
		}
		cancel()
	}
	if b.metrics != nil {
		b.metrics.WriteFunctionStatus(e.ID, e.DisplayLabel, e.Status)
	}
}

// publishState publishes retained state for a function.
func (b *Bridge) publishState(e Entity) {
	payload, err := json.Marshal(NewStateMessage(e))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(e.Kind, e.ID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.logDebug("published state", "id", e.ID, "status", e.Status)
}

// publishCatalog publishes the retained discovery message.
func (b *Bridge) publishCatalog(cat Catalog) {
	payload, err := json.Marshal(NewDiscoveryMessage(b.bridgeID, cat))
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
		return
	}
	b.logInfo("published catalog",
		"functions", len(cat.Functions),
		"widgets", len(cat.Widgets))
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[len(parts)-1], payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topicEntity string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.EntityID == "" {
		cmd.EntityID = topicEntity
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"entity_id", cmd.EntityID,
		"command", cmd.Command)

	frames, err := BuildCommands(cmd.Command, cmd.EntityID, cmd.Parameters)
	if err != nil {
		b.publishAckError(cmd, ErrCodeInvalidParameters, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.controller.Execute(ctx, frames...); err != nil {
		code, msg := classifyCommandError(err)
		b.publishAckError(cmd, code, msg)
		return
	}
	b.publishAck(cmd, AckAccepted)
}

// classifyCommandError maps a client error to an ack error code.
func classifyCommandError(err error) (string, string) {
	switch {
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, err.Error()
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrDisconnected),
		errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrClosed):
		return ErrCodeControllerUnreachable, err.Error()
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrNotQuery):
		return ErrCodeInvalidCommand, err.Error()
	default:
		return ErrCodeBridgeError, err.Error()
	}
}

// publishAck publishes a command acknowledgment.
//
//nolint:unparam // status parameter kept for parity with the ack vocabulary
func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus) {
	b.publishAckMessage(NewAckMessage(cmd, status))
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.publishAckMessage(NewAckError(cmd, code, message))
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.EntityID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	resp := b.dispatchRequest(ctx, req)

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) dispatchRequest(ctx context.Context, req RequestMessage) ResponseMessage {
	switch req.Action {
	case "list_functions":
		return successResponse(req, map[string]any{"functions": b.controller.Functions()})
	case "list_widgets":
		return successResponse(req, map[string]any{"widgets": b.controller.Widgets()})
	case "function_status":
		e, ok := b.controller.Catalog().Function(req.EntityID)
		if !ok {
			return errorResponse(req, ErrCodeUnknownEntity,
				fmt.Sprintf("function %s not in catalog", req.EntityID))
		}
		return successResponse(req, map[string]any{
			"id":      e.ID,
			"status":  e.StatusOrUnknown(),
			"running": e.Status == StatusRunning,
		})
	case "query":
		command, err := stringParam(req.Parameters, "command")
		if err != nil {
			return errorResponse(req, ErrCodeInvalidParameters, err.Error())
		}
		fields, err := b.controller.Query(ctx, command)
		if err != nil {
			code, msg := classifyCommandError(err)
			return errorResponse(req, code, msg)
		}
		return successResponse(req, map[string]any{"fields": fields})
	case "refresh":
		cat, err := b.controller.Refresh(ctx)
		if err != nil {
			code, msg := classifyCommandError(err)
			return errorResponse(req, code, msg)
		}
		return successResponse(req, map[string]any{
			"functions": len(cat.Functions),
			"widgets":   len(cat.Widgets),
		})
	default:
		return errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// stateUnchanged records status and reports whether it matches the last
// published value for the function.
func (b *Bridge) stateUnchanged(id, status string) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[id]; ok && prev == status {
		return true
	}
	b.stateCache[id] = status
	return false
}

// ClearStateCache forgets every published status so the next update for
// each function is published again.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string]string)
	b.stateCacheMu.Unlock()
}

// Republish re-announces health, the catalog and every function status.
// Call it after the MQTT session is re-established with a clean session.
func (b *Bridge) Republish() {
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	cat := b.controller.Catalog()
	if len(cat.Functions)+len(cat.Widgets) == 0 {
		return
	}
	b.publishCatalog(cat)

	b.ClearStateCache()
	for _, f := range cat.Functions {
		if f.Status == "" {
			continue
		}
		b.stateUnchanged(f.ID, f.Status)
		b.publishState(f)
	}
}

// PruneStateCache drops cached status for functions no longer in the catalog.
func (b *Bridge) PruneStateCache(cat Catalog) {
	valid := make(map[string]struct{}, len(cat.Functions))
	for _, f := range cat.Functions {
		valid[f.ID] = struct{}{}
	}

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	for id := range b.stateCache {
		if _, exists := valid[id]; !exists {
			delete(b.stateCache, id)
		}
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	FramesTx  uint64 `json:"frames_tx"`
	FramesRx  uint64 `json:"frames_rx"`
	Functions int    `json:"functions"`
	Widgets   int    `json:"widgets"`
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.controller.Stats()
	status, _ := b.health.determineStatus()
	return BridgeMetrics{
		Connected: stats.Connected,
		Status:    string(status),
		FramesTx:  stats.FramesTx,
		FramesRx:  stats.FramesRx,
		Functions: stats.Functions,
		Widgets:   stats.Widgets,
	}
}
