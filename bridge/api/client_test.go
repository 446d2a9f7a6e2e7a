package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)      {}
func (nopLogger) Info(string, ...any)       {}
func (nopLogger) Warn(string, ...any)       {}
func (nopLogger) Error(string, ...any)      {}
func (nopLogger) With(...any) bridge.Logger { return nopLogger{} }

func newTestClient(baseURL string) *Client {
	return New(Options{
		BaseURL:         baseURL,
		DefaultSource:   bridge.SourceNetease,
		Bitrate:         "320k",
		Timeout:         2 * time.Second,
		ConnectTimeout:  2 * time.Second,
		Retries:         2,
		DisconnectDelay: 10 * time.Millisecond,
		RatePerSecond:   1000,
		RateBurst:       1000,
	}, nopLogger{})
}

func TestSearchSendsSource(t *testing.T) {
	var gotSource, gotType, gotKeyword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotSource = q.Get("source")
		gotType = q.Get("type")
		gotKeyword = q.Get("keyword")
		w.Write([]byte(`{"code":200,"data":{"results":[{"id":123,"name":"Song A","artist":"Artist A"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.Search(context.Background(), "hello", bridge.SourceKuwo)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotType != "search" || gotKeyword != "hello" || gotSource != bridge.SourceKuwo {
		t.Errorf("query = type:%s keyword:%s source:%s", gotType, gotKeyword, gotSource)
	}
	if len(songs) != 1 {
		t.Fatalf("got %d songs, want 1", len(songs))
	}
	if songs[0].ID != "123" {
		t.Errorf("numeric id not coerced, got %q", songs[0].ID)
	}
	if songs[0].Source != bridge.SourceKuwo {
		t.Errorf("source = %q, want %q", songs[0].Source, bridge.SourceKuwo)
	}
}

func TestAggregateSearchOmitsSource(t *testing.T) {
	var hadSource bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadSource = r.URL.Query().Has("source")
		w.Write([]byte(`{"code":200,"data":{"results":[{"id":"1","name":"A","platform":"qq"},{"id":"2","name":"B"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.AggregateSearch(context.Background(), "hello")
	if err != nil {
		t.Fatalf("AggregateSearch() error = %v", err)
	}
	if hadSource {
		t.Error("aggregate search sent a source parameter")
	}
	if len(songs) != 2 {
		t.Fatalf("got %d songs, want 2", len(songs))
	}
	if songs[0].Source != bridge.SourceQQ {
		t.Errorf("platform field ignored: source = %q", songs[0].Source)
	}
	if songs[1].Source != bridge.SourceNetease {
		t.Errorf("default source not applied: source = %q", songs[1].Source)
	}
}

func TestEnvelopeNonSuccessDegradesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":404,"data":null}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.Search(context.Background(), "nothing", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("got %d songs, want 0", len(songs))
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.Search(context.Background(), "x", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("got %d songs, want 0", len(songs))
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestTimeoutRetriesUpToBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Options{
		BaseURL:         srv.URL,
		Timeout:         30 * time.Millisecond,
		ConnectTimeout:  30 * time.Millisecond,
		Retries:         2,
		DisconnectDelay: 10 * time.Millisecond,
		RatePerSecond:   1000,
		RateBurst:       1000,
	}, nopLogger{})

	start := time.Now()
	songs, err := c.Search(context.Background(), "slow", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("got %d songs, want 0", len(songs))
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3 (first try plus two retries)", n)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retries took %v, want immediate retries without backoff", elapsed)
	}
}

func TestDisconnectRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("hijacking unsupported")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Error(err)
				return
			}
			conn.Close()
			return
		}
		w.Write([]byte(`{"code":200,"data":{"results":[{"id":"1","name":"A"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.Search(context.Background(), "flaky", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(songs) != 1 {
		t.Errorf("got %d songs, want 1 from the re-attempt", len(songs))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
}

func TestDisconnectSecondFailureIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("hijacking unsupported")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	songs, err := c.Search(context.Background(), "dead", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("got %d songs, want 0", len(songs))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want exactly 2", n)
	}
}

func TestSongInfoAlbumArtFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"id":"42","name":"T","artist":["X","Y"],"album":{"picUrl":"http://img/cover.jpg"}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	song, err := c.SongInfo(context.Background(), "42", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("SongInfo() error = %v", err)
	}
	if song == nil {
		t.Fatal("SongInfo() = nil")
	}
	if song.Pic != "http://img/cover.jpg" {
		t.Errorf("pic = %q, want album fallback", song.Pic)
	}
	if song.Artist != "X/Y" {
		t.Errorf("artist = %q, want joined names", song.Artist)
	}
}

func TestPlaylistStampsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"info":{"name":"Daily Mix"},"list":[{"id":"1","name":"A","platform":"qq"},{"id":"2","name":"B"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	pl, err := c.Playlist(context.Background(), "777", bridge.SourceKuwo)
	if err != nil {
		t.Fatalf("Playlist() error = %v", err)
	}
	if pl == nil || pl.Name != "Daily Mix" {
		t.Fatalf("playlist = %+v", pl)
	}
	for _, song := range pl.Songs {
		if song.Source != bridge.SourceKuwo {
			t.Errorf("song %s source = %q, want list source", song.ID, song.Source)
		}
	}
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		want    func(srvURL string) string
	}{
		{
			name:    "found",
			status:  http.StatusFound,
			headers: map[string]string{"Location": "http://cdn.example.com/a.mp3"},
			want:    func(string) string { return "http://cdn.example.com/a.mp3" },
		},
		{
			name:   "direct",
			status: http.StatusOK,
			want:   func(srvURL string) string { return srvURL + "/stream" },
		},
		{
			name:   "missing",
			status: http.StatusNotFound,
			want:   func(string) string { return "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			got, err := c.ResolveRedirect(context.Background(), srv.URL+"/stream")
			if err != nil {
				t.Fatalf("ResolveRedirect() error = %v", err)
			}
			if want := tt.want(srv.URL); got != want {
				t.Errorf("ResolveRedirect() = %q, want %q", got, want)
			}
		})
	}
}

func TestLyricsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "lrc" {
			t.Errorf("type = %q, want lrc", r.URL.Query().Get("type"))
		}
		w.Write([]byte("[00:01.00]line one\n[00:05.00]line two"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	lrc, err := c.Lyrics(context.Background(), "42", bridge.SourceNetease)
	if err != nil {
		t.Fatalf("Lyrics() error = %v", err)
	}
	if lrc != "[00:01.00]line one\n[00:05.00]line two" {
		t.Errorf("lyrics = %q", lrc)
	}
}

func TestSongURLEndpoint(t *testing.T) {
	c := newTestClient("http://api.example.com")
	got := c.SongURLEndpoint("42", bridge.SourceNetease)
	want := "http://api.example.com/api/?source=netease&id=42&type=url&br=320k"
	if got != want {
		t.Errorf("SongURLEndpoint() = %q, want %q", got, want)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.Write([]byte(`{"code":200,"data":{"status":"healthy"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if !c.Health(context.Background()) {
		t.Error("Health() = false, want true")
	}
}
