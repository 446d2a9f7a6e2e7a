package hass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHass upgrades the connection, runs the auth handshake, acks the
// subscription and then emits one state_changed event.
func fakeHass(t *testing.T, token string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "auth_required"})

		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			_ = conn.WriteJSON(map[string]any{"type": "auth_invalid"})
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "auth_ok"})

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"id": 1, "type": "result", "success": true})

		_ = conn.WriteJSON(map[string]any{
			"id":   1,
			"type": "event",
			"event": map[string]any{
				"event_type": "state_changed",
				"data": map[string]any{
					"entity_id": "media_player.bedroom",
					"old_state": map[string]any{"state": "playing"},
					"new_state": map[string]any{"state": "idle"},
				},
			},
		})

		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestFeedDeliversStateChange(t *testing.T) {
	srv := fakeHass(t, "secret")
	defer srv.Close()

	type change struct{ from, to string }
	got := make(chan change, 1)
	feed := NewFeed(srv.URL, "secret", "media_player.bedroom",
		func(_ context.Context, oldState, newState string) {
			got <- change{oldState, newState}
		}, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	select {
	case c := <-got:
		if c.from != "playing" || c.to != "idle" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no state change delivered")
	}
}

func TestFeedAuthFailure(t *testing.T) {
	srv := fakeHass(t, "secret")
	defer srv.Close()

	feed := NewFeed(srv.URL, "wrong", "media_player.bedroom",
		func(context.Context, string, string) {}, nopLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := feed.Run(ctx); err != ErrAuthFailed {
		t.Fatalf("Run() error = %v, want ErrAuthFailed", err)
	}
}
