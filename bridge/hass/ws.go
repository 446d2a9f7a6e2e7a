package hass

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tunehub/tunefree-bridge/bridge"
)

// ErrAuthFailed means the access token was rejected; reconnecting with the
// same token will not help.
var ErrAuthFailed = errors.New("hass: websocket authentication failed")

// StateHandler receives entity state transitions.
type StateHandler func(ctx context.Context, oldState, newState string)

// Feed subscribes to Home Assistant state_changed events over the
// websocket API and delivers transitions of one entity to a handler.
// Connection drops are retried until the context is cancelled.
type Feed struct {
	wsURL     string
	token     string
	entity    string
	handler   StateHandler
	logger    bridge.Logger
	reconnect time.Duration
}

// NewFeed creates a feed for one entity. baseURL is the plain HTTP base of
// the Home Assistant instance.
func NewFeed(baseURL, token, entity string, handler StateHandler, logger bridge.Logger) *Feed {
	wsURL := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return &Feed{
		wsURL:     wsURL + "/api/websocket",
		token:     token,
		entity:    entity,
		handler:   handler,
		logger:    logger,
		reconnect: 5 * time.Second,
	}
}

// Run connects and consumes events until the context is cancelled or the
// token is rejected.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.consume(ctx)
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("event feed disconnected, reconnecting",
			"error", err, "delay", f.reconnect)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

type wsState struct {
	State string `json:"state"`
}

type wsMessage struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Event   struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string   `json:"entity_id"`
			OldState *wsState `json:"old_state"`
			NewState *wsState `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// unblock reads when the context goes away
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := f.authenticate(conn); err != nil {
		return err
	}
	if err := conn.WriteJSON(map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("event feed connected", "entity", f.entity)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("subscription rejected")
			}
		case "event":
			f.dispatch(ctx, msg)
		}
	}
}

func (f *Feed) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected greeting %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": f.token,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	var verdict wsMessage
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth verdict: %w", err)
	}
	if verdict.Type != "auth_ok" {
		return ErrAuthFailed
	}
	return nil
}

func (f *Feed) dispatch(ctx context.Context, msg wsMessage) {
	if msg.Event.EventType != "state_changed" || msg.Event.Data.EntityID != f.entity {
		return
	}
	oldState, newState := "", ""
	if msg.Event.Data.OldState != nil {
		oldState = msg.Event.Data.OldState.State
	}
	if msg.Event.Data.NewState != nil {
		newState = msg.Event.Data.NewState.State
	}
	if oldState == newState {
		return
	}
	f.logger.Debug("entity state changed", "from", oldState, "to", newState)
	f.handler(ctx, oldState, newState)
}
