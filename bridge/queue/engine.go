package queue

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// ErrEmptySong is returned when a direct play request names no song.
var ErrEmptySong = errors.New("queue: empty song id")

// Options tunes the engine's resolve and hand-off behavior.
type Options struct {
	// ResolveAttempts bounds redirect resolution per track.
	ResolveAttempts int
	// ResolveDelay is the pause between resolve attempts.
	ResolveDelay time.Duration
	// StopBeforePlay issues a stop command and a short settle delay before
	// every play hand-off. Some speakers glitch when a new stream replaces
	// a running one without it.
	StopBeforePlay bool
	StopDelay      time.Duration
}

// Engine owns the playback queue for one target player. It resolves songs
// into streamable URLs and forwards play commands; it never plays audio
// itself. All mutating entry points are expected to run on the player's
// sequencer goroutine, the mutex only guards the read accessors used by
// HTTP handlers.
type Engine struct {
	resolver bridge.Resolver
	player   bridge.PlayerController
	logger   bridge.Logger
	opts     Options

	mu         sync.Mutex
	songs      []bridge.Song
	index      int
	shuffleOn  bool
	repeat     bridge.RepeatMode
	session    bridge.PlaybackSession
	generation uint64

	// advancing is set while the engine is driving a track transition, so
	// the observer can tell a self-inflicted idle from a natural track end.
	advancing atomic.Bool
}

// New creates an engine. Zero option fields get usable defaults.
func New(resolver bridge.Resolver, player bridge.PlayerController, logger bridge.Logger, opts Options) *Engine {
	if opts.ResolveAttempts <= 0 {
		opts.ResolveAttempts = 3
	}
	if opts.ResolveDelay <= 0 {
		opts.ResolveDelay = 500 * time.Millisecond
	}
	if opts.StopDelay <= 0 {
		opts.StopDelay = 300 * time.Millisecond
	}
	return &Engine{
		resolver: resolver,
		player:   player,
		logger:   logger,
		opts:     opts,
		repeat:   bridge.RepeatOff,
	}
}

// SetPlaylist replaces the queue and starts playback at startIndex. With
// shuffle enabled the new queue is shuffled immediately, keeping the chosen
// song under the cursor.
func (e *Engine) SetPlaylist(ctx context.Context, songs []bridge.Song, startIndex int) {
	e.mu.Lock()
	e.songs = append([]bridge.Song(nil), songs...)
	if startIndex < 0 || startIndex >= len(e.songs) {
		startIndex = 0
	}
	e.index = startIndex
	e.generation++
	e.session = bridge.PlaybackSession{}
	if e.shuffleOn {
		e.shuffleLocked()
	}
	e.mu.Unlock()

	if len(songs) == 0 {
		return
	}
	e.activateCurrent(ctx)
}

// JumpTo moves the cursor to index and plays it. Returns false when the
// index is out of range.
func (e *Engine) JumpTo(ctx context.Context, index int) bool {
	e.mu.Lock()
	if index < 0 || index >= len(e.songs) {
		e.mu.Unlock()
		return false
	}
	e.index = index
	e.mu.Unlock()
	e.activateCurrent(ctx)
	return true
}

// PlayDirect plays a single song outside any list context. The song's
// metadata is backfilled from the aggregator before the queue is replaced.
func (e *Engine) PlayDirect(ctx context.Context, songID, source string) error {
	if songID == "" {
		return ErrEmptySong
	}
	song := bridge.Song{ID: songID, Source: source}
	info, err := e.resolver.SongInfo(ctx, songID, source)
	if err != nil {
		return err
	}
	if info != nil && info.Name != "" {
		song.Name = info.Name
		song.Artist = info.Artist
		song.Pic = info.Pic
	}
	e.SetPlaylist(ctx, []bridge.Song{song}, 0)
	return nil
}

// ForwardURL hands an already-resolved URL straight to the player. The
// queue is cleared so the observer does not advance over a foreign stream.
func (e *Engine) ForwardURL(ctx context.Context, rawURL, contentType string) error {
	e.mu.Lock()
	e.generation++
	e.songs = nil
	e.index = 0
	e.session = bridge.PlaybackSession{URL: rawURL}
	e.mu.Unlock()

	if e.opts.StopBeforePlay {
		e.stopAndSettle(ctx)
	}
	return e.player.PlayURL(ctx, rawURL, contentType)
}

// Next advances to the following track. Without a next index (empty queue
// or cursor already at the end) the raw next-track command is forwarded
// unchanged.
func (e *Engine) Next(ctx context.Context) {
	e.mu.Lock()
	if e.index+1 >= len(e.songs) {
		e.mu.Unlock()
		if err := e.player.NextTrack(ctx); err != nil {
			e.logger.Warn("forward next-track failed", "error", err)
		}
		return
	}
	e.index++
	e.mu.Unlock()
	e.activateCurrent(ctx)
}

// Previous steps back one track. Without a previous index the raw
// previous-track command is forwarded unchanged.
func (e *Engine) Previous(ctx context.Context) {
	e.mu.Lock()
	if len(e.songs) == 0 || e.index == 0 {
		e.mu.Unlock()
		if err := e.player.PreviousTrack(ctx); err != nil {
			e.logger.Warn("forward previous-track failed", "error", err)
		}
		return
	}
	e.index--
	e.mu.Unlock()
	e.activateCurrent(ctx)
}

// OnTrackFinished reacts to a natural track end according to the repeat
// mode. Reentrant calls while a transition is already in flight are
// dropped, that is the debounce against duplicate idle reports.
func (e *Engine) OnTrackFinished(ctx context.Context) {
	if !e.advancing.CompareAndSwap(false, true) {
		return
	}
	defer e.advancing.Store(false)

	e.mu.Lock()
	count := len(e.songs)
	if count == 0 {
		e.mu.Unlock()
		return
	}
	switch {
	case e.repeat == bridge.RepeatOne:
		// replay the same index
	case e.index+1 < count:
		e.index++
	case e.repeat == bridge.RepeatAll:
		e.index = 0
	default:
		// queue naturally ends; cursor and session stay put
		e.mu.Unlock()
		e.logger.Info("queue finished")
		return
	}
	e.mu.Unlock()

	e.activate(ctx)
}

// SetShuffle toggles shuffle. Turning it on reshuffles the remaining queue
// in place while the current song stays under the cursor; turning it off
// keeps the current order.
func (e *Engine) SetShuffle(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shuffleOn = on
	if on && len(e.songs) > 1 {
		e.shuffleLocked()
	}
}

// SetRepeat sets the repeat mode.
func (e *Engine) SetRepeat(mode bridge.RepeatMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = mode
}

// Queue returns a copy of the current queue.
func (e *Engine) Queue() []bridge.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bridge.Song(nil), e.songs...)
}

// Index returns the cursor position.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Current returns the song under the cursor.
func (e *Engine) Current() (bridge.Song, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.songs) == 0 {
		return bridge.Song{}, false
	}
	return e.songs[e.index], true
}

// Session returns the state of the active track.
func (e *Engine) Session() bridge.PlaybackSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Shuffle reports whether shuffle is on.
func (e *Engine) Shuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuffleOn
}

// Repeat returns the repeat mode.
func (e *Engine) Repeat() bridge.RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repeat
}

// Advancing reports whether a track transition is in flight.
func (e *Engine) Advancing() bool {
	return e.advancing.Load()
}

// Count returns the queue length.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.songs)
}

// shuffleLocked permutes the queue while the song under the cursor keeps
// its position, so playback is uninterrupted. Caller holds e.mu.
func (e *Engine) shuffleLocked() {
	if len(e.songs) < 2 {
		return
	}
	current := e.songs[e.index]
	rand.Shuffle(len(e.songs), func(i, j int) {
		e.songs[i], e.songs[j] = e.songs[j], e.songs[i]
	})
	for i, song := range e.songs {
		if song.Source == current.Source && song.ID == current.ID {
			e.songs[i], e.songs[e.index] = e.songs[e.index], e.songs[i]
			break
		}
	}
}

// activateCurrent plays the song under the cursor, holding the advancing
// guard for the whole transition.
func (e *Engine) activateCurrent(ctx context.Context) {
	if e.advancing.CompareAndSwap(false, true) {
		defer e.advancing.Store(false)
	}
	e.activate(ctx)
}

// activate resolves and plays the cursor song, skipping forward past dead
// tracks until the queue runs out. A generation bump from a newer command
// aborts silently; the newer activation owns the player from that point.
func (e *Engine) activate(ctx context.Context) {
	e.mu.Lock()
	gen := e.generation
	count := len(e.songs)
	e.mu.Unlock()
	if count == 0 {
		return
	}

	for hops := 0; hops < count; hops++ {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		if gen != e.generation || len(e.songs) == 0 {
			e.mu.Unlock()
			return
		}
		song := e.songs[e.index]
		// optimistic session so status reads show the upcoming track
		e.session = bridge.PlaybackSession{Song: song}
		e.mu.Unlock()

		streamURL := e.resolveSongURL(ctx, song)
		if streamURL == "" {
			e.logger.Warn("song has no playable url, skipping",
				"song", song.Name, "id", song.ID, "source", song.Source)
			e.mu.Lock()
			if gen != e.generation || len(e.songs) == 0 {
				e.mu.Unlock()
				return
			}
			if e.index+1 >= len(e.songs) {
				e.mu.Unlock()
				e.logger.Warn("queue exhausted, no playable song remaining")
				return
			}
			e.index++
			e.mu.Unlock()
			continue
		}

		e.backfillMetadata(ctx, &song)
		lyrics, err := e.resolver.Lyrics(ctx, song.ID, song.Source)
		if err != nil {
			return
		}

		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			return
		}
		e.songs[e.index] = song
		e.session = bridge.PlaybackSession{Song: song, URL: streamURL, Lyrics: lyrics}
		e.mu.Unlock()

		if e.opts.StopBeforePlay {
			e.stopAndSettle(ctx)
		}

		thumb := song.Pic
		if thumb == "" {
			thumb = e.resolver.PicURL(song.ID, song.Source)
		}
		cmd := bridge.PlayCommand{
			URL:    streamURL,
			Title:  song.Name,
			Artist: song.Artist,
			Thumb:  thumb,
		}
		if err := e.player.PlayMedia(ctx, cmd); err != nil {
			e.logger.Error("play command failed", "song", song.Name, "error", err)
		} else {
			e.logger.Info("now playing", "song", song.Name, "artist", song.Artist,
				"source", song.Source)
		}
		return
	}

	e.logger.Warn("no playable song in queue", "count", count)
}

// resolveSongURL resolves a song's redirect endpoint into a streamable URL,
// retrying with a fixed pause. An empty result after all attempts marks the
// track dead.
func (e *Engine) resolveSongURL(ctx context.Context, song bridge.Song) string {
	endpoint := e.resolver.SongURLEndpoint(song.ID, song.Source)
	for attempt := 0; attempt < e.opts.ResolveAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ""
			case <-time.After(e.opts.ResolveDelay):
			}
		}
		streamURL, err := e.resolver.ResolveRedirect(ctx, endpoint)
		if err != nil {
			return ""
		}
		if streamURL != "" {
			return streamURL
		}
	}
	return ""
}

// backfillMetadata fills missing display fields from the song-info endpoint.
// List payloads often omit cover art.
func (e *Engine) backfillMetadata(ctx context.Context, song *bridge.Song) {
	if song.Name != "" && song.Artist != "" && song.Pic != "" {
		return
	}
	info, err := e.resolver.SongInfo(ctx, song.ID, song.Source)
	if err != nil || info == nil {
		return
	}
	if song.Name == "" {
		song.Name = info.Name
	}
	if song.Artist == "" {
		song.Artist = info.Artist
	}
	if song.Pic == "" {
		song.Pic = info.Pic
	}
}

func (e *Engine) stopAndSettle(ctx context.Context) {
	if err := e.player.Stop(ctx); err != nil {
		e.logger.Debug("pre-play stop failed", "error", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.opts.StopDelay):
	}
}
