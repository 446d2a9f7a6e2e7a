package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"github.com/tunehub/tunefree-bridge/bridge"
	"golang.org/x/time/rate"
)

// Options configures the aggregator client.
type Options struct {
	BaseURL         string
	DefaultSource   string
	Bitrate         string
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	Retries         int
	DisconnectDelay time.Duration
	RatePerSecond   float64
	RateBurst       int
}

// Client talks to the TuneFree aggregator API. All JSON calls share one
// request routine with the same retry policy: timeouts retry up to the
// configured bound with no backoff, an abrupt disconnect retries once after
// a short delay, any other transport error fails immediately. Envelope
// misses and exhausted retries both degrade to empty results.
type Client struct {
	baseURL         string
	defaultSource   string
	bitrate         string
	retry           *retryablehttp.Client
	redirect        *http.Client
	breaker         *gobreaker.CircuitBreaker
	limiter         *rate.Limiter
	disconnectDelay time.Duration
	logger          bridge.Logger
}

// New creates an aggregator client.
func New(opts Options, logger bridge.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://music-dl.sayqz.com"
	}
	if opts.DefaultSource == "" {
		opts.DefaultSource = bridge.SourceNetease
	}
	if opts.Bitrate == "" {
		opts.Bitrate = "320k"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.DisconnectDelay <= 0 {
		opts.DisconnectDelay = 500 * time.Millisecond
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 0
	client.RetryWaitMax = 0
	client.Logger = nil
	client.HTTPClient.Timeout = opts.Timeout
	client.HTTPClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
	}
	// Only timeouts go through the built-in retry loop. Disconnects are
	// handled by the single delayed re-attempt in request(); everything
	// else is treated as permanent.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			if isTimeout(err) {
				return true, nil
			}
			return false, err
		}
		return false, nil
	}

	settings := gobreaker.Settings{
		Name:        "tunefree-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		defaultSource: opts.DefaultSource,
		bitrate:       opts.Bitrate,
		retry:         client,
		redirect: &http.Client{
			Timeout: opts.ConnectTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		breaker:         gobreaker.NewCircuitBreaker(settings),
		limiter:         rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst),
		disconnectDelay: opts.DisconnectDelay,
		logger:          logger,
	}
}

// DefaultSource returns the configured fallback source.
func (c *Client) DefaultSource() string {
	return c.defaultSource
}

// Search queries one concrete source. The source parameter is always sent.
func (c *Client) Search(ctx context.Context, keyword, source string) ([]bridge.Song, error) {
	if source == "" {
		source = c.defaultSource
	}
	params := url.Values{}
	params.Set("type", "search")
	params.Set("keyword", keyword)
	params.Set("source", source)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}
	return c.decodeResults(data, source), nil
}

// AggregateSearch queries all sources at once; no source parameter is sent.
func (c *Client) AggregateSearch(ctx context.Context, keyword string) ([]bridge.Song, error) {
	params := url.Values{}
	params.Set("type", "aggregateSearch")
	params.Set("keyword", keyword)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}
	return c.decodeResults(data, c.defaultSource), nil
}

// Toplists returns the charts of a source.
func (c *Client) Toplists(ctx context.Context, source string) ([]bridge.Toplist, error) {
	params := url.Values{}
	params.Set("type", "toplists")
	params.Set("source", source)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}

	var payload struct {
		List []struct {
			ID   flexString `json:"id"`
			Name string     `json:"name"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("decode toplists failed", "source", source, "error", err)
		return nil, nil
	}
	lists := make([]bridge.Toplist, 0, len(payload.List))
	for _, item := range payload.List {
		lists = append(lists, bridge.Toplist{ID: string(item.ID), Name: item.Name})
	}
	return lists, nil
}

// ToplistSongs returns the songs of a chart, stamped with its source.
func (c *Client) ToplistSongs(ctx context.Context, listID, source string) ([]bridge.Song, error) {
	params := url.Values{}
	params.Set("type", "toplist")
	params.Set("id", listID)
	params.Set("source", source)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}
	return c.decodeSongList(data, source), nil
}

// Playlist returns a playlist's display name and songs.
func (c *Client) Playlist(ctx context.Context, playlistID, source string) (*bridge.Playlist, error) {
	params := url.Values{}
	params.Set("type", "playlist")
	params.Set("id", playlistID)
	params.Set("source", source)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}

	var payload struct {
		List []songPayload `json:"list"`
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("decode playlist failed", "playlist_id", playlistID, "error", err)
		return nil, nil
	}
	name := payload.Info.Name
	if name == "" {
		name = payload.Name
	}
	songs := make([]bridge.Song, 0, len(payload.List))
	for _, p := range payload.List {
		song := c.normalizeSong(p, source)
		song.Source = source
		songs = append(songs, song)
	}
	return &bridge.Playlist{Name: name, Songs: songs}, nil
}

// SongInfo returns song details including cover art.
func (c *Client) SongInfo(ctx context.Context, songID, source string) (*bridge.Song, error) {
	params := url.Values{}
	params.Set("type", "info")
	params.Set("id", songID)
	params.Set("source", source)

	data, err := c.fetchEnvelope(ctx, params)
	if err != nil || data == nil {
		return nil, err
	}

	var payload songPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("decode song info failed", "song_id", songID, "error", err)
		return nil, nil
	}
	song := c.normalizeSong(payload, source)
	if song.ID == "" {
		song.ID = songID
	}
	return &song, nil
}

// Lyrics returns raw LRC text, or "" when unavailable. The endpoint speaks
// plain text, not the JSON envelope.
func (c *Client) Lyrics(ctx context.Context, songID, source string) (string, error) {
	params := url.Values{}
	params.Set("type", "lrc")
	params.Set("id", songID)
	params.Set("source", source)

	body, err := c.request(ctx, c.baseURL+"/api/?"+params.Encode())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("lyrics fetch failed", "song_id", songID, "source", source, "error", err)
		return "", nil
	}
	return string(body), nil
}

// SongURLEndpoint constructs the redirecting URL endpoint for a song.
func (c *Client) SongURLEndpoint(songID, source string) string {
	return fmt.Sprintf("%s/api/?source=%s&id=%s&type=url&br=%s",
		c.baseURL, url.QueryEscape(source), url.QueryEscape(songID), url.QueryEscape(c.bitrate))
}

// PicURL constructs the fallback cover-art endpoint for a song.
func (c *Client) PicURL(songID, source string) string {
	return fmt.Sprintf("%s/api/?source=%s&id=%s&type=pic",
		c.baseURL, url.QueryEscape(source), url.QueryEscape(songID))
}

// ResolveRedirect resolves the URL endpoint into the final streamable URL
// without following redirects. A 30x yields the Location header; a 200
// yields the response URL (some backends serve the file directly). Anything
// else yields no result.
func (c *Client) ResolveRedirect(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", nil
	}
	resp, err := c.redirect.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("resolve redirect failed", "endpoint", endpoint, "error", err)
		return "", nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location"), nil
	case http.StatusOK:
		return resp.Request.URL.String(), nil
	default:
		return "", nil
	}
}

// Health reports whether the aggregator answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	body, err := c.request(ctx, c.baseURL+"/health")
	if err != nil {
		return false
	}
	var payload struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Data.Status == "healthy"
}

// fetchEnvelope runs the shared JSON request routine and unwraps the
// {code, data} envelope. A missing wrapper, non-200 code, or request error
// all produce a nil payload, never a fault for the caller to branch on.
func (c *Client) fetchEnvelope(ctx context.Context, params url.Values) (json.RawMessage, error) {
	body, err := c.request(ctx, c.baseURL+"/api/?"+params.Encode())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("aggregator request failed", "params", params.Encode(), "error", err)
		return nil, nil
	}

	var env struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Warn("aggregator response not an envelope", "params", params.Encode(), "error", err)
		return nil, nil
	}
	if env.Code != http.StatusOK {
		c.logger.Debug("aggregator returned non-200 code", "code", env.Code, "params", params.Encode())
		return nil, nil
	}
	return env.Data, nil
}

func (c *Client) request(ctx context.Context, rawURL string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.attempt(ctx, rawURL)
		if err != nil && isDisconnect(err) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.disconnectDelay):
			}
			body, err = c.attempt(ctx, rawURL)
		}
		return body, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.retry.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "server closed")
}
