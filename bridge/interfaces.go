package bridge

import "context"

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetFloat64(key string) float64
	GetBool(key string) bool
}

// Resolver is the aggregator surface the engine and facade depend on.
//
// All methods degrade to empty results on transport or envelope failure;
// a non-nil error is only returned for context cancellation, so callers
// never need to branch on the cause of a miss.
type Resolver interface {
	// Search queries one concrete source. The source parameter is required.
	Search(ctx context.Context, keyword, source string) ([]Song, error)

	// AggregateSearch queries all sources at once and must not send a
	// source parameter.
	AggregateSearch(ctx context.Context, keyword string) ([]Song, error)

	Toplists(ctx context.Context, source string) ([]Toplist, error)
	ToplistSongs(ctx context.Context, listID, source string) ([]Song, error)
	Playlist(ctx context.Context, playlistID, source string) (*Playlist, error)
	SongInfo(ctx context.Context, songID, source string) (*Song, error)

	// Lyrics returns raw LRC text, or "" when unavailable.
	Lyrics(ctx context.Context, songID, source string) (string, error)

	// SongURLEndpoint constructs the redirecting URL endpoint. Pure string
	// construction, no I/O.
	SongURLEndpoint(songID, source string) string

	// PicURL constructs the fallback cover-art endpoint. Pure string
	// construction, no I/O.
	PicURL(songID, source string) string

	// ResolveRedirect resolves the endpoint into the final streamable URL,
	// or "" when no playable URL exists.
	ResolveRedirect(ctx context.Context, endpoint string) (string, error)
}

// PlayerController issues outbound transport commands to the target player.
// Implementations never execute playback themselves; they forward.
type PlayerController interface {
	PlayMedia(ctx context.Context, cmd PlayCommand) error
	PlayURL(ctx context.Context, url, contentType string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	SetVolume(ctx context.Context, level float64) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	MuteVolume(ctx context.Context, mute bool) error
	Seek(ctx context.Context, position float64) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// PlayerStateSource reads the target player's reported transport state.
type PlayerStateSource interface {
	Snapshot(ctx context.Context) (PlayerSnapshot, error)
}

// QueueEngine is the playback-queue surface used by the facade, observer
// and control server. One instance per target player.
type QueueEngine interface {
	SetPlaylist(ctx context.Context, songs []Song, startIndex int)
	JumpTo(ctx context.Context, index int) bool
	PlayDirect(ctx context.Context, songID, source string) error
	ForwardURL(ctx context.Context, url, contentType string) error
	Next(ctx context.Context)
	Previous(ctx context.Context)
	OnTrackFinished(ctx context.Context)
	SetShuffle(on bool)
	SetRepeat(mode RepeatMode)
	Queue() []Song
	Index() int
	Current() (Song, bool)
	Session() PlaybackSession
	Shuffle() bool
	Repeat() RepeatMode
	Advancing() bool
	Count() int
}

// PlaylistStore persists imported playlist references.
type PlaylistStore interface {
	List(ctx context.Context) ([]SavedPlaylist, error)
	Upsert(ctx context.Context, playlist *SavedPlaylist) error
	Delete(ctx context.Context, source, playlistID string) error

	// FindByName matches case-insensitively in both directions (query
	// contained in name, or name contained in query).
	FindByName(ctx context.Context, name string) (*SavedPlaylist, error)
}

// Sequencer serializes queue-mutating operations for one player instance.
// Observer triggers and user commands all enqueue here instead of mutating
// engine state from independent goroutines.
type Sequencer interface {
	Submit(task func()) error
	SubmitWait(task func() error) error
	Shutdown(ctx context.Context) error
}
