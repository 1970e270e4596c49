package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
)

// ─── Live WebSocket Tests ──────────────────────────────────────────

func dial(t *testing.T, addr, query string) *websocket.Conn {
	t.Helper()
	url := "ws://" + addr + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_FullConnection(t *testing.T) {
	srv, _ := testServer(t)
	addr := startServer(t, srv)

	ws := dial(t, addr, "")
	subscribe(t, ws, "zone/1")

	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	n := notify.MuteChanged{Event: notify.Event{Target: 1, At: time.Now()}, Muted: true}
	if err := srv.Hub().HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev StatusEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != feature.MuteStatus || ev.Zone != 1 || ev.Value != true {
		t.Errorf("event = %+v, want MUTE_STATUS true for zone 1", ev)
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	srv, _ := testServer(t)
	ws := dial(t, startServer(t, srv), "")

	subscribe(t, ws, "zone/1", "clients")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"zone/1"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}

	// Only the client channel remains; the next event it gets is the
	// client one even though a zone event was broadcast first.
	hub := srv.Hub()
	//nolint:errcheck // cannot fail
	hub.HandleNotification(context.Background(), notify.VolumeChanged{Event: notify.Event{Target: 1, At: time.Now()}, Volume: 5})
	//nolint:errcheck // cannot fail
	hub.HandleNotification(context.Background(), notify.ClientVolumeChanged{Event: notify.Event{Target: 2, At: time.Now()}, Volume: 6})

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev StatusEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != feature.ClientVolumeStatus || ev.Client != 2 {
		t.Errorf("event = %+v, want CLIENT_VOLUME_STATUS for client 2", ev)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	ws := dial(t, startServer(t, srv), "")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypePong {
		t.Errorf("response type = %s, want pong", resp.Type)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response ID = %s, want ping-1", resp.ID)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	srv, _ := testServer(t)
	ws := dial(t, startServer(t, srv), "")

	tests := []struct {
		name string
		send func() error
	}{
		{"invalid JSON", func() error { return ws.WriteMessage(websocket.TextMessage, []byte("not json")) }},
		{"unknown type", func() error { return ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "x"}) }},
		{"unknown channel", func() error {
			return ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "x", Payload: WSSubscribePayload{Channels: []string{"speaker/1"}}})
		}},
		{"no channels", func() error { return ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "x"}) }},
	}
	for _, tt := range tests {
		if err := tt.send(); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		if resp := readMessage(t, ws); resp.Type != WSTypeError {
			t.Errorf("%s: response type = %s, want error", tt.name, resp.Type)
		}
	}
}

func TestWebSocket_RequiresTicket(t *testing.T) {
	srv, _ := testServer(t, withAuth)
	addr := startServer(t, srv)

	for _, query := range []string{"", "?ticket=invalid-ticket"} {
		_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws"+query, nil)
		if err == nil {
			t.Fatalf("dial with %q succeeded, want rejection", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial with %q: response %v, want 401", query, resp)
		}
	}
}

func TestWebSocket_TicketFlow(t *testing.T) {
	srv, _ := testServer(t, withAuth)
	addr := startServer(t, srv)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/v1/auth/ws-ticket", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", bearer(t, auth.RoleViewer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()

	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	ws := dial(t, addr, "?ticket="+ticket.Ticket)
	subscribe(t, ws, ChannelAll)

	// The ticket was consumed by the first connection.
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws?ticket="+ticket.Ticket, nil); err == nil {
		t.Error("ticket accepted twice")
	}
}
