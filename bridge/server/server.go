package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tunehub/tunefree-bridge/bridge"
	"github.com/tunehub/tunefree-bridge/bridge/browse"
)

// HealthSource reports upstream aggregator reachability.
type HealthSource interface {
	Healthy() bool
}

// Options configures the control server.
type Options struct {
	ListenAddr string
	// SearchLimit caps how many songs /api/search returns.
	SearchLimit int
}

// Server exposes the bridge over HTTP: search, browse, queue control and
// transport commands. Queue-mutating requests run on the sequencer so they
// never race the observer's track-end triggers.
type Server struct {
	engine   bridge.QueueEngine
	facade   *browse.Facade
	resolver bridge.Resolver
	player   bridge.PlayerController
	state    bridge.PlayerStateSource
	store    bridge.PlaylistStore
	seq      bridge.Sequencer
	health   HealthSource
	logger   bridge.Logger
	opts     Options
	httpSrv  *http.Server
}

// New creates a server and mounts its routes.
func New(
	engine bridge.QueueEngine,
	facade *browse.Facade,
	resolver bridge.Resolver,
	player bridge.PlayerController,
	state bridge.PlayerStateSource,
	store bridge.PlaylistStore,
	seq bridge.Sequencer,
	health HealthSource,
	logger bridge.Logger,
	opts Options,
) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8090"
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	s := &Server{
		engine:   engine,
		facade:   facade,
		resolver: resolver,
		player:   player,
		state:    state,
		store:    store,
		seq:      seq,
		health:   health,
		logger:   logger,
		opts:     opts,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/lyrics", s.handleLyrics).Methods(http.MethodGet)

	api.HandleFunc("/browse", s.handleBrowse).Methods(http.MethodGet)
	api.HandleFunc("/browse/play", s.handleBrowsePlay).Methods(http.MethodPost)

	api.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	api.HandleFunc("/toplist/play", s.handleToplistPlay).Methods(http.MethodPost)
	api.HandleFunc("/playlist/play", s.handlePlaylistPlay).Methods(http.MethodPost)

	api.HandleFunc("/playlists", s.handlePlaylists).Methods(http.MethodGet)
	api.HandleFunc("/playlists/import", s.handlePlaylistImport).Methods(http.MethodPost)
	api.HandleFunc("/playlists/{source}/{id}", s.handlePlaylistDelete).Methods(http.MethodDelete)

	api.HandleFunc("/queue/next", s.queueCommand(func(ctx context.Context) error {
		s.engine.Next(ctx)
		return nil
	})).Methods(http.MethodPost)
	api.HandleFunc("/queue/previous", s.queueCommand(func(ctx context.Context) error {
		s.engine.Previous(ctx)
		return nil
	})).Methods(http.MethodPost)
	api.HandleFunc("/queue/jump", s.handleJump).Methods(http.MethodPost)
	api.HandleFunc("/queue/shuffle", s.handleShuffle).Methods(http.MethodPost)
	api.HandleFunc("/queue/repeat", s.handleRepeat).Methods(http.MethodPost)

	api.HandleFunc("/player/play", s.playerCommand(s.player.Play)).Methods(http.MethodPost)
	api.HandleFunc("/player/pause", s.playerCommand(s.player.Pause)).Methods(http.MethodPost)
	api.HandleFunc("/player/stop", s.playerCommand(s.player.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/player/volume/up", s.playerCommand(s.player.VolumeUp)).Methods(http.MethodPost)
	api.HandleFunc("/player/volume/down", s.playerCommand(s.player.VolumeDown)).Methods(http.MethodPost)
	api.HandleFunc("/player/volume", s.handleVolume).Methods(http.MethodPost)
	api.HandleFunc("/player/mute", s.handleMute).Methods(http.MethodPost)
	api.HandleFunc("/player/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/player/power", s.handlePower).Methods(http.MethodPost)

	return r
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// Handler exposes the mounted routes, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"api_healthy": s.health.Healthy(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		s.writeError(w, http.StatusBadRequest, "keyword required")
		return
	}
	source := r.URL.Query().Get("source")

	var songs []bridge.Song
	var err error
	if source == "" || source == bridge.SourceAll {
		songs, err = s.resolver.AggregateSearch(r.Context(), keyword)
	} else {
		songs, err = s.resolver.Search(r.Context(), keyword, source)
	}
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if len(songs) > s.opts.SearchLimit {
		songs = songs[:s.opts.SearchLimit]
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"session": s.engine.Session(),
		"queue": map[string]any{
			"count":   s.engine.Count(),
			"index":   s.engine.Index(),
			"shuffle": s.engine.Shuffle(),
			"repeat":  s.engine.Repeat(),
		},
	}
	if snap, err := s.state.Snapshot(r.Context()); err == nil {
		status["player"] = map[string]any{
			"state":    snap.State,
			"volume":   snap.VolumeLevel,
			"muted":    snap.Muted,
			"position": snap.Position,
			"duration": snap.Duration,
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	session := s.engine.Session()
	if session.Lyrics == "" {
		s.writeError(w, http.StatusNotFound, "no lyrics for the current track")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"song":   session.Song,
		"lyrics": session.Lyrics,
	})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	node, err := s.facade.Browse(r.Context(), r.URL.Query().Get("node"))
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleBrowsePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id required")
		return
	}
	s.runQueueCommand(w, r, func(ctx context.Context) error {
		return s.facade.Play(ctx, req.ID)
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SongID  string `json:"song_id"`
		Source  string `json:"source"`
		Keyword string `json:"keyword"`
		Shuffle bool   `json:"shuffle"`
		Limit   int    `json:"limit"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case req.SongID != "":
		s.runQueueCommand(w, r, func(ctx context.Context) error {
			return s.engine.PlayDirect(ctx, req.SongID, req.Source)
		})
	case req.Keyword != "":
		songs, err := s.resolver.AggregateSearch(r.Context(), req.Keyword)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if len(songs) == 0 {
			s.writeError(w, http.StatusNotFound, "no songs found for "+req.Keyword)
			return
		}
		s.runQueueCommand(w, r, func(ctx context.Context) error {
			return s.facade.PlaySongs(ctx, songs, browse.ListOptions{
				Shuffle: req.Shuffle,
				Limit:   req.Limit,
			})
		})
	default:
		s.writeError(w, http.StatusBadRequest, "song_id or keyword required")
	}
}

func (s *Server) handleToplistPlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source  string `json:"source"`
		ID      string `json:"id"`
		Shuffle bool   `json:"shuffle"`
		Limit   int    `json:"limit"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Source == "" || req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "source and id required")
		return
	}
	s.runQueueCommand(w, r, func(ctx context.Context) error {
		return s.facade.PlayToplist(ctx, req.Source, req.ID, browse.ListOptions{
			Shuffle: req.Shuffle,
			Limit:   req.Limit,
		})
	})
}

func (s *Server) handlePlaylistPlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Source  string `json:"source"`
		ID      string `json:"id"`
		Shuffle bool   `json:"shuffle"`
		Limit   int    `json:"limit"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	opts := browse.ListOptions{Shuffle: req.Shuffle, Limit: req.Limit}
	switch {
	case req.Name != "":
		s.runQueueCommand(w, r, func(ctx context.Context) error {
			return s.facade.PlayPlaylistByName(ctx, req.Name, opts)
		})
	case req.Source != "" && req.ID != "":
		s.runQueueCommand(w, r, func(ctx context.Context) error {
			return s.facade.PlayPlaylist(ctx, req.Source, req.ID, opts)
		})
	default:
		s.writeError(w, http.StatusBadRequest, "name or source+id required")
	}
}

func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

func (s *Server) handlePlaylistImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	saved, err := s.facade.ImportPlaylist(r.Context(), req.URL, req.Source)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handlePlaylistDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.Delete(r.Context(), vars["source"], vars["id"]); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runQueueCommand(w, r, func(ctx context.Context) error {
		if !s.engine.JumpTo(ctx, req.Index) {
			return browse.ErrNotPlayable
		}
		return nil
	})
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runQueueCommand(w, r, func(context.Context) error {
		s.engine.SetShuffle(req.On)
		return nil
	})
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runQueueCommand(w, r, func(context.Context) error {
		s.engine.SetRepeat(bridge.ParseRepeatMode(req.Mode))
		return nil
	})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level float64 `json:"level"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.playerCommand(func(ctx context.Context) error {
		return s.player.SetVolume(ctx, req.Level)
	})(w, r)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mute bool `json:"mute"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.playerCommand(func(ctx context.Context) error {
		return s.player.MuteVolume(ctx, req.Mute)
	})(w, r)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position float64 `json:"position"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.playerCommand(func(ctx context.Context) error {
		return s.player.Seek(ctx, req.Position)
	})(w, r)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	cmd := s.player.TurnOff
	if req.On {
		cmd = s.player.TurnOn
	}
	s.playerCommand(cmd)(w, r)
}

// queueCommand wraps a sequenced engine call into a handler.
func (s *Server) queueCommand(cmd func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runQueueCommand(w, r, cmd)
	}
}

// runQueueCommand executes cmd on the sequencer and waits for the result.
func (s *Server) runQueueCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context) error) {
	ctx := r.Context()
	err := s.seq.SubmitWait(func() error { return cmd(ctx) })
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// playerCommand forwards a raw transport command, bypassing the queue.
func (s *Server) playerCommand(cmd func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cmd(r.Context()); err != nil {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	var notFound *browse.PlaylistNotFoundError
	switch {
	case errors.As(err, &notFound):
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":     notFound.Error(),
			"available": notFound.Available,
		})
	case errors.Is(err, browse.ErrNotPlayable):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
