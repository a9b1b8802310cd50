package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/infrastructure/config"
	"github.com/ravenholt/forgepanel/internal/infrastructure/logging"
)

// testHub creates a hub with no authorization callback, so every
// subscription is permitted unless a test installs its own.
func testHub(t *testing.T) *Hub {
	t.Helper()
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10}, logger)
}

// testClient builds a hub client without a network connection; tests
// read broadcast frames straight from the send channel.
func testClient(hub *Hub, userID string) *WSClient {
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, 16),
		subscriptions: make(map[string]struct{}),
		userID:        userID,
	}
}

// recvMessage pops one frame off the client's send channel.
func recvMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()

	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding frame %q: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received within 1s")
		return WSMessage{}
	}
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	hub := testHub(t)

	subscribed := testClient(hub, "usr-a")
	subscribed.subscriptions["server.srv-11111111.status"] = struct{}{}
	other := testClient(hub, "usr-b")

	hub.Register(subscribed)
	hub.Register(other)
	defer hub.Unregister(subscribed)
	defer hub.Unregister(other)

	hub.Broadcast("server.srv-11111111.status", map[string]any{"status": "running"})

	msg := recvMessage(t, subscribed)
	if msg.Type != WSTypeEvent || msg.EventType != "server.srv-11111111.status" {
		t.Errorf("unexpected frame %+v", msg)
	}

	select {
	case data := <-other.send:
		t.Errorf("unsubscribed client received frame %q", data)
	default:
	}
}

func TestHub_SubscribeAuthorization(t *testing.T) {
	hub := testHub(t)
	hub.authorize = func(userID, channel string) bool {
		return userID == "usr-a" && strings.HasPrefix(channel, "server.srv-1")
	}

	client := testClient(hub, "usr-a")
	hub.Register(client)
	defer hub.Unregister(client)

	sub, err := json.Marshal(WSMessage{
		Type: WSTypeSubscribe,
		ID:   "req-1",
		Payload: WSSubscribePayload{
			Channels: []string{"server.srv-11111111.status", "server.srv-22222222.console"},
		},
	})
	if err != nil {
		t.Fatalf("marshalling subscribe: %v", err)
	}
	client.handleMessage(sub)

	msg := recvMessage(t, client)
	if msg.Type != WSTypeResponse || msg.ID != "req-1" {
		t.Fatalf("unexpected response frame %+v", msg)
	}

	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	granted, _ := payload["subscribed"].([]any)
	denied, _ := payload["denied"].([]any)
	if len(granted) != 1 || granted[0] != "server.srv-11111111.status" {
		t.Errorf("subscribed = %v", granted)
	}
	if len(denied) != 1 || denied[0] != "server.srv-22222222.console" {
		t.Errorf("denied = %v", denied)
	}

	if !client.isSubscribed("server.srv-11111111.status") {
		t.Error("granted channel not recorded")
	}
	if client.isSubscribed("server.srv-22222222.console") {
		t.Error("denied channel was recorded")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := testHub(t)
	client := testClient(hub, "usr-a")
	client.subscriptions["server.srv-11111111.console"] = struct{}{}
	hub.Register(client)
	defer hub.Unregister(client)

	unsub, err := json.Marshal(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "req-2",
		Payload: WSSubscribePayload{Channels: []string{"server.srv-11111111.console"}},
	})
	if err != nil {
		t.Fatalf("marshalling unsubscribe: %v", err)
	}
	client.handleMessage(unsub)
	recvMessage(t, client)

	if client.isSubscribed("server.srv-11111111.console") {
		t.Error("channel still subscribed after unsubscribe")
	}

	hub.Broadcast("server.srv-11111111.console", map[string]any{"line": "tick"})
	select {
	case data := <-client.send:
		t.Errorf("received frame after unsubscribe: %q", data)
	default:
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{"server.srv-11111111.status": {}},
		userID:        "usr-a",
	}
	hub.Register(client)
	defer hub.Unregister(client)

	// The second broadcast overflows the buffer and must be dropped,
	// not block the sender.
	done := make(chan struct{})
	go func() {
		hub.Broadcast("server.srv-11111111.status", map[string]any{"n": 1})
		hub.Broadcast("server.srv-11111111.status", map[string]any{"n": 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

// ═══════════════════════════════════════════════════════════════════
// Channel authorization and fleet relay
// ═══════════════════════════════════════════════════════════════════

func TestAuthorizeChannel(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com", "rol-user")
	outsider := env.createUser(t, "outsider@example.com", "rol-user")
	srv := env.createServer(t, "Watched", owner.ID)

	tests := []struct {
		name    string
		userID  string
		channel string
		want    bool
	}{
		{"owner status", owner.ID, "server." + srv.ID + ".status", true},
		{"owner console", owner.ID, "server." + srv.ID + ".console", true},
		{"no grant", outsider.ID, "server." + srv.ID + ".status", false},
		{"unknown stream", owner.ID, "server." + srv.ID + ".secrets", false},
		{"malformed", owner.ID, "not-a-channel", false},
		{"unknown server", owner.ID, "server.srv-missing1.status", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.srv.authorizeChannel(tt.userID, tt.channel); got != tt.want {
				t.Errorf("authorizeChannel(%s, %s) = %v, want %v", tt.userID, tt.channel, got, tt.want)
			}
		})
	}
}

func TestBroadcastFleetEvent(t *testing.T) {
	env := newTestEnv(t)
	env.srv.hub = testHub(t)

	client := testClient(env.srv.hub, "usr-a")
	client.subscriptions[statusChannel("srv-11111111")] = struct{}{}
	client.subscriptions[consoleChannel("srv-11111111")] = struct{}{}
	env.srv.hub.Register(client)
	defer env.srv.hub.Unregister(client)

	now := time.Now()
	env.srv.broadcastFleetEvent(adapter.Event{
		ServerID:  "srv-11111111",
		Type:      adapter.EventStatus,
		Status:    adapter.StatusRunning,
		Timestamp: now,
	})
	env.srv.broadcastFleetEvent(adapter.Event{
		ServerID:  "srv-11111111",
		Type:      adapter.EventConsole,
		Line:      "Done (3.2s)! For help, type \"help\"",
		Timestamp: now,
	})

	status := recvMessage(t, client)
	if status.EventType != statusChannel("srv-11111111") {
		t.Errorf("first frame channel = %s", status.EventType)
	}
	payload, _ := status.Payload.(map[string]any)
	if payload["status"] != string(adapter.StatusRunning) {
		t.Errorf("status payload = %v", payload)
	}

	console := recvMessage(t, client)
	if console.EventType != consoleChannel("srv-11111111") {
		t.Errorf("second frame channel = %s", console.EventType)
	}
}

// ═══════════════════════════════════════════════════════════════════
// WebSocket tickets
// ═══════════════════════════════════════════════════════════════════

func TestWSTicket_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "user@example.com", "rol-user")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", env.tokenFor(t, user), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, rec, &body)
	if body.Ticket == "" {
		t.Fatal("empty ticket")
	}
	if body.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d", body.ExpiresIn)
	}

	entry, ok := env.srv.validateTicket(body.Ticket)
	if !ok {
		t.Fatal("fresh ticket rejected")
	}
	if entry.userID != user.ID {
		t.Errorf("ticket user = %s, want %s", entry.userID, user.ID)
	}

	if _, ok := env.srv.validateTicket(body.Ticket); ok {
		t.Error("ticket accepted twice")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	env := newTestEnv(t)

	env.srv.tickets.mu.Lock()
	env.srv.tickets.tickets["stale"] = ticketEntry{
		userID:    "usr-a",
		expiresAt: time.Now().Add(-time.Minute),
	}
	env.srv.tickets.mu.Unlock()

	if _, ok := env.srv.validateTicket("stale"); ok {
		t.Error("expired ticket accepted")
	}

	env.srv.cleanExpiredTickets()
	env.srv.tickets.mu.Lock()
	n := len(env.srv.tickets.tickets)
	env.srv.tickets.mu.Unlock()
	if n != 0 {
		t.Errorf("expired tickets remaining = %d", n)
	}
}

func TestWebSocket_RequiresTicket(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/ws", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without ticket, got %d", rec.Code)
	}

	bad := env.do(t, http.MethodGet, "/api/v1/ws?ticket=bogus", "", nil)
	if bad.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown ticket, got %d", bad.Code)
	}
}
