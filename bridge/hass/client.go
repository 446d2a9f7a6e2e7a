package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// Options configures the Home Assistant client.
type Options struct {
	BaseURL string
	Token   string
	Entity  string
	Timeout time.Duration
}

// Client drives one media_player entity over the Home Assistant REST API.
// Commands are deliberately not retried: a duplicated play_media restarts
// the stream audibly.
type Client struct {
	baseURL string
	token   string
	entity  string
	http    *http.Client
	logger  bridge.Logger
}

// New creates a client for one target entity.
func New(opts Options, logger bridge.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		entity:  opts.Entity,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger,
	}
}

// Entity returns the controlled entity id.
func (c *Client) Entity() string {
	return c.entity
}

// PlayMedia forwards a resolved track to the player with display metadata.
func (c *Client) PlayMedia(ctx context.Context, cmd bridge.PlayCommand) error {
	data := map[string]any{
		"media_content_id":   cmd.URL,
		"media_content_type": "music",
	}
	extra := map[string]any{}
	if cmd.Title != "" {
		extra["title"] = cmd.Title
	}
	if cmd.Artist != "" {
		extra["artist"] = cmd.Artist
	}
	if cmd.Thumb != "" {
		extra["thumb"] = cmd.Thumb
		extra["entity_picture"] = cmd.Thumb
	}
	if len(extra) > 0 {
		data["extra"] = extra
	}
	return c.callService(ctx, "play_media", data)
}

// PlayURL forwards a raw URL without metadata.
func (c *Client) PlayURL(ctx context.Context, url, contentType string) error {
	if contentType == "" {
		contentType = "music"
	}
	return c.callService(ctx, "play_media", map[string]any{
		"media_content_id":   url,
		"media_content_type": contentType,
	})
}

func (c *Client) Play(ctx context.Context) error  { return c.callService(ctx, "media_play", nil) }
func (c *Client) Pause(ctx context.Context) error { return c.callService(ctx, "media_pause", nil) }
func (c *Client) Stop(ctx context.Context) error  { return c.callService(ctx, "media_stop", nil) }

func (c *Client) NextTrack(ctx context.Context) error {
	return c.callService(ctx, "media_next_track", nil)
}

func (c *Client) PreviousTrack(ctx context.Context) error {
	return c.callService(ctx, "media_previous_track", nil)
}

func (c *Client) SetVolume(ctx context.Context, level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return c.callService(ctx, "volume_set", map[string]any{"volume_level": level})
}

func (c *Client) VolumeUp(ctx context.Context) error {
	return c.callService(ctx, "volume_up", nil)
}

func (c *Client) VolumeDown(ctx context.Context) error {
	return c.callService(ctx, "volume_down", nil)
}

func (c *Client) MuteVolume(ctx context.Context, mute bool) error {
	return c.callService(ctx, "volume_mute", map[string]any{"is_volume_muted": mute})
}

func (c *Client) Seek(ctx context.Context, position float64) error {
	return c.callService(ctx, "media_seek", map[string]any{"seek_position": position})
}

func (c *Client) TurnOn(ctx context.Context) error  { return c.callService(ctx, "turn_on", nil) }
func (c *Client) TurnOff(ctx context.Context) error { return c.callService(ctx, "turn_off", nil) }

// Snapshot reads the entity's current transport state.
func (c *Client) Snapshot(ctx context.Context) (bridge.PlayerSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/states/"+c.entity, nil)
	if err != nil {
		return bridge.PlayerSnapshot{}, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return bridge.PlayerSnapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return bridge.PlayerSnapshot{}, fmt.Errorf("state read failed: status %d", resp.StatusCode)
	}

	var payload struct {
		State      string `json:"state"`
		Attributes struct {
			VolumeLevel       float64 `json:"volume_level"`
			IsVolumeMuted     bool    `json:"is_volume_muted"`
			MediaPosition     float64 `json:"media_position"`
			MediaPositionAt   string  `json:"media_position_updated_at"`
			MediaDuration     float64 `json:"media_duration"`
			SupportedFeatures uint64  `json:"supported_features"`
		} `json:"attributes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return bridge.PlayerSnapshot{}, fmt.Errorf("decode state: %w", err)
	}

	snap := bridge.PlayerSnapshot{
		State:             payload.State,
		VolumeLevel:       payload.Attributes.VolumeLevel,
		Muted:             payload.Attributes.IsVolumeMuted,
		Position:          payload.Attributes.MediaPosition,
		Duration:          payload.Attributes.MediaDuration,
		SupportedFeatures: payload.Attributes.SupportedFeatures,
	}
	if payload.Attributes.MediaPositionAt != "" {
		if at, err := time.Parse(time.RFC3339, payload.Attributes.MediaPositionAt); err == nil {
			snap.PositionUpdatedAt = at
		}
	}
	return snap, nil
}

func (c *Client) callService(ctx context.Context, service string, data map[string]any) error {
	body := map[string]any{"entity_id": c.entity}
	for k, v := range data {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/services/media_player/"+service, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", service, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("call %s: status %d", service, resp.StatusCode)
	}
	c.logger.Debug("service called", "service", service, "entity", c.entity)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}
