package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/qlc-bridge/internal/auth"
	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
)

// startWS serves the router over a real listener with the hub running.
func startWS(t *testing.T, srv *Server) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	srv, _, _ := testServer(t)
	conn := dialWS(t, startWS(t, srv))

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{bad")); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("reply to invalid JSON = %+v, want error", msg)
	}
}

func TestWebSocket_RelaysSubscribedEvents(t *testing.T) {
	srv, _, _ := testServer(t)
	conn := dialWS(t, startWS(t, srv))
	subscribe(t, conn, ChannelFunctionStatus)

	events := make(chan qlc.Event, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.relayEvents(ctx, events)

	// Not subscribed: must not arrive.
	events <- qlc.Event{Type: qlc.EventConnectionChanged, State: qlc.StateConnected}
	events <- qlc.Event{Type: qlc.EventStatusChanged, Kind: qlc.KindFunction, ID: "7", Status: qlc.StatusRunning}

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelFunctionStatus {
		t.Fatalf("message = %+v, want function status event", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload["id"] != "7" || payload["status"] != qlc.StatusRunning {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_WildcardAndUnsubscribe(t *testing.T) {
	srv, _, _ := testServer(t)
	conn := dialWS(t, startWS(t, srv))
	subscribe(t, conn, wsAllChannels)

	srv.hub.Broadcast(ChannelCatalog, map[string]int{"functions": 3})
	if msg := readWS(t, conn); msg.EventType != ChannelCatalog {
		t.Errorf("event = %+v, want catalog", msg)
	}

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u1",
		Payload: WSSubscribePayload{Channels: []string{wsAllChannels}},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "u1" {
		t.Fatalf("unsubscribe reply = %+v", msg)
	}

	srv.hub.Broadcast(ChannelCatalog, map[string]int{"functions": 4})
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p2"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong {
		t.Errorf("after unsubscribe got %+v, want only the pong", msg)
	}
}

func TestWebSocket_Auth(t *testing.T) {
	srv, _, _ := testServer(t, withAuth)
	wsURL := startWS(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
	resp.Body.Close()

	token, err := auth.GenerateAccessToken("desk", auth.RoleViewer, testJWTSecret, "qlcbridge", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	conn := dialWS(t, wsURL+"?access_token="+url.QueryEscape(token))
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong {
		t.Errorf("reply = %+v", msg)
	}
}

func TestEventChannel(t *testing.T) {
	tests := []struct {
		in   qlc.EventType
		want string
	}{
		{qlc.EventStatusChanged, ChannelFunctionStatus},
		{qlc.EventCatalogReplaced, ChannelCatalog},
		{qlc.EventConnectionChanged, ChannelConnection},
		{qlc.EventType("other"), ""},
	}
	for _, tt := range tests {
		if got := eventChannel(tt.in); got != tt.want {
			t.Errorf("eventChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv, _, _ := testServer(t)
	conn := dialWS(t, startWS(t, srv))
	subscribe(t, conn, ChannelConnection)

	if n := srv.hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}

	// Broadcast payloads must be valid JSON envelopes.
	srv.hub.Broadcast(ChannelConnection, qlc.Event{Type: qlc.EventConnectionChanged, State: qlc.StateDisconnected})
	msg := readWS(t, conn)
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(raw), `"state":"disconnected"`) {
		t.Errorf("payload = %s", raw)
	}
}
