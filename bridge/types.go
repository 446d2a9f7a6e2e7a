package bridge

import "time"

// Source identifiers for the upstream catalogs unified by the aggregator.
const (
	SourceNetease = "netease"
	SourceKuwo    = "kuwo"
	SourceQQ      = "qq"

	// SourceAll is the synthetic aggregate-search mode. It is never a valid
	// song source; normalized songs always carry one of the concrete sources.
	SourceAll = "all"
)

// SourceNames maps a source identifier to its display label.
var SourceNames = map[string]string{
	SourceNetease: "网易云音乐",
	SourceKuwo:    "酷我音乐",
	SourceQQ:      "QQ音乐",
}

// KnownSource reports whether name is one of the concrete catalog sources.
func KnownSource(name string) bool {
	_, ok := SourceNames[name]
	return ok
}

// Song is the unified track record. Normalization happens once at the API
// ingress: the upstream "platform" key wins over "source", and the configured
// default source applies only when both are absent. Identity is (Source, ID).
type Song struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
	Source string `json:"source"`
	Pic    string `json:"pic,omitempty"`
}

// Toplist is a platform-curated chart reference.
type Toplist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Playlist is a fetched playlist: display name plus its songs.
type Playlist struct {
	Name  string `json:"name"`
	Songs []Song `json:"songs"`
}

// RepeatMode controls queue behavior when the last track finishes.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// ParseRepeatMode returns the mode for s, defaulting to RepeatOff.
func ParseRepeatMode(s string) RepeatMode {
	switch RepeatMode(s) {
	case RepeatAll:
		return RepeatAll
	case RepeatOne:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// Transport states reported by the target player.
const (
	StatePlaying   = "playing"
	StatePaused    = "paused"
	StateIdle      = "idle"
	StateOff       = "off"
	StateOn        = "on"
	StateBuffering = "buffering"
)

// PlayCommand is the forward-command payload delivered to the target player.
// URL is the final resolved media URL; the rest is display metadata.
type PlayCommand struct {
	URL    string
	Title  string
	Artist string
	Thumb  string
}

// PlayerSnapshot mirrors the transport state the target player reports.
type PlayerSnapshot struct {
	State             string
	VolumeLevel       float64
	Muted             bool
	Position          float64
	PositionUpdatedAt time.Time
	Duration          float64
	SupportedFeatures uint64
}

// PlaybackSession is the transient state of the currently active track.
// It is overwritten on every activation.
type PlaybackSession struct {
	Song   Song   `json:"song"`
	URL    string `json:"url,omitempty"`
	Lyrics string `json:"lyrics,omitempty"`
}

// BrowseNode is one level of the media browse tree. Leaf nodes carry a
// playable identifier; directory nodes expand into children.
type BrowseNode struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Class     string       `json:"class"`
	CanPlay   bool         `json:"can_play"`
	CanExpand bool         `json:"can_expand"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Children  []BrowseNode `json:"children,omitempty"`
}

// SavedPlaylist is an imported playlist reference persisted by the store.
type SavedPlaylist struct {
	ID         uint
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Source     string
	PlaylistID string
	Name       string
	Count      int
}
