package browse

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// Node classes for browse trees.
const (
	ClassDirectory = "directory"
	ClassPlaylist  = "playlist"
	ClassTrack     = "music"
)

// Well-known node identifiers.
const (
	nodeRoot        = "root"
	nodeToplists    = "toplists"
	nodeMyPlaylists = "my_playlists"
	nodeNowPlaying  = "now_playing"
)

// ErrNotPlayable is returned when a play request names a node that cannot
// resolve to any media.
var ErrNotPlayable = errors.New("browse: node is not playable")

// PlaylistNotFoundError reports a failed name match, carrying the names the
// caller could have asked for.
type PlaylistNotFoundError struct {
	Name      string
	Available []string
}

func (e *PlaylistNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no saved playlist matches %q and none are imported", e.Name)
	}
	return fmt.Sprintf("no saved playlist matches %q, available: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// Options tunes facade behavior.
type Options struct {
	DefaultSource string
	SearchLimit   int
}

// ListOptions control how a requested list lands in the queue.
type ListOptions struct {
	// Shuffle randomizes the list once, without turning queue shuffle on.
	Shuffle bool
	// Limit keeps only the first Limit songs when positive.
	Limit int
}

// Facade maps the colon-delimited browse identifier grammar onto aggregator
// lookups and queue commands. Identifiers are stable strings like
// "toplist:netease:19723756" or "toplist_song:netease:19723756:4"; the tail
// index on song leaves lets a play request rebuild the surrounding list.
type Facade struct {
	resolver bridge.Resolver
	engine   bridge.QueueEngine
	store    bridge.PlaylistStore
	logger   bridge.Logger
	opts     Options
}

// New creates a facade.
func New(resolver bridge.Resolver, engine bridge.QueueEngine, store bridge.PlaylistStore, logger bridge.Logger, opts Options) *Facade {
	if opts.DefaultSource == "" {
		opts.DefaultSource = bridge.SourceNetease
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	return &Facade{
		resolver: resolver,
		engine:   engine,
		store:    store,
		logger:   logger,
		opts:     opts,
	}
}

// Browse expands a node identifier into a tree level. Unknown identifiers
// fall back to the root so a stale client link never dead-ends.
func (f *Facade) Browse(ctx context.Context, id string) (*bridge.BrowseNode, error) {
	switch {
	case id == "" || id == nodeRoot:
		return f.root(), nil
	case id == nodeToplists:
		return f.toplistSources(), nil
	case id == nodeMyPlaylists:
		return f.myPlaylists(ctx)
	case id == nodeNowPlaying:
		return f.nowPlaying(), nil
	case strings.HasPrefix(id, "toplists:"):
		return f.toplistsOf(ctx, strings.TrimPrefix(id, "toplists:"))
	case strings.HasPrefix(id, "toplist:"):
		return f.toplistSongs(ctx, id)
	case strings.HasPrefix(id, "playlist:"):
		return f.playlistSongs(ctx, id)
	case strings.HasPrefix(id, "search:"):
		return f.searchResults(ctx, strings.TrimPrefix(id, "search:"))
	default:
		f.logger.Debug("unknown browse node, falling back to root", "id", id)
		return f.root(), nil
	}
}

// Play dispatches a play request for a node identifier. List-song leaves
// load the whole surrounding list so next/previous work afterwards; bare
// song leaves play standalone.
func (f *Facade) Play(ctx context.Context, id string) error {
	switch {
	case strings.HasPrefix(id, "http://"), strings.HasPrefix(id, "https://"):
		return f.engine.ForwardURL(ctx, id, "music")

	case strings.HasPrefix(id, "now_playing_song:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(id, "now_playing_song:"))
		if err != nil || !f.engine.JumpTo(ctx, idx) {
			return ErrNotPlayable
		}
		return nil

	case strings.HasPrefix(id, "toplist_song:"):
		source, listID, idx, err := splitListSong(strings.TrimPrefix(id, "toplist_song:"))
		if err != nil {
			return err
		}
		songs, err := f.resolver.ToplistSongs(ctx, listID, source)
		if err != nil {
			return err
		}
		return f.playList(ctx, songs, idx)

	case strings.HasPrefix(id, "playlist_song:"):
		source, listID, idx, err := splitListSong(strings.TrimPrefix(id, "playlist_song:"))
		if err != nil {
			return err
		}
		playlist, err := f.resolver.Playlist(ctx, listID, source)
		if err != nil {
			return err
		}
		if playlist == nil {
			return ErrNotPlayable
		}
		return f.playList(ctx, playlist.Songs, idx)

	case strings.HasPrefix(id, "toplist:"):
		source, listID, err := splitList(strings.TrimPrefix(id, "toplist:"))
		if err != nil {
			return err
		}
		songs, err := f.resolver.ToplistSongs(ctx, listID, source)
		if err != nil {
			return err
		}
		return f.playList(ctx, songs, 0)

	case strings.HasPrefix(id, "playlist:"):
		source, listID, err := splitList(strings.TrimPrefix(id, "playlist:"))
		if err != nil {
			return err
		}
		return f.PlayPlaylist(ctx, source, listID, ListOptions{})

	case strings.HasPrefix(id, "search:"):
		keyword := strings.TrimPrefix(id, "search:")
		songs, err := f.resolver.AggregateSearch(ctx, keyword)
		if err != nil {
			return err
		}
		return f.playList(ctx, songs, 0)

	default:
		source, songID := splitSong(id, f.opts.DefaultSource)
		if songID == "" {
			return ErrNotPlayable
		}
		return f.engine.PlayDirect(ctx, songID, source)
	}
}

// PlayToplist loads a chart into the queue and starts it.
func (f *Facade) PlayToplist(ctx context.Context, source, listID string, opts ListOptions) error {
	songs, err := f.resolver.ToplistSongs(ctx, listID, source)
	if err != nil {
		return err
	}
	return f.PlaySongs(ctx, songs, opts)
}

// PlayPlaylist loads a playlist into the queue and starts it.
func (f *Facade) PlayPlaylist(ctx context.Context, source, playlistID string, opts ListOptions) error {
	playlist, err := f.resolver.Playlist(ctx, playlistID, source)
	if err != nil {
		return err
	}
	if playlist == nil {
		return ErrNotPlayable
	}
	return f.PlaySongs(ctx, playlist.Songs, opts)
}

// PlayPlaylistByName plays the saved playlist whose name matches. A miss
// returns a PlaylistNotFoundError listing every importable name.
func (f *Facade) PlayPlaylistByName(ctx context.Context, name string, opts ListOptions) error {
	saved, err := f.store.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if saved == nil {
		all, err := f.store.List(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(all))
		for _, p := range all {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return &PlaylistNotFoundError{Name: name, Available: names}
	}
	return f.PlayPlaylist(ctx, saved.Source, saved.PlaylistID, opts)
}

// ImportPlaylist fetches a playlist by URL or raw ID and saves the
// reference for later name-matched playback.
func (f *Facade) ImportPlaylist(ctx context.Context, rawRef, source string) (*bridge.SavedPlaylist, error) {
	playlistID := ExtractPlaylistID(rawRef)
	if playlistID == "" {
		return nil, fmt.Errorf("no playlist id in %q", rawRef)
	}
	if source == "" {
		source = f.opts.DefaultSource
	}
	playlist, err := f.resolver.Playlist(ctx, playlistID, source)
	if err != nil {
		return nil, err
	}
	if playlist == nil || len(playlist.Songs) == 0 {
		return nil, fmt.Errorf("playlist %s has no songs on %s", playlistID, source)
	}
	name := playlist.Name
	if name == "" {
		name = "playlist " + playlistID
	}
	saved := &bridge.SavedPlaylist{
		Source:     source,
		PlaylistID: playlistID,
		Name:       name,
		Count:      len(playlist.Songs),
	}
	if err := f.store.Upsert(ctx, saved); err != nil {
		return nil, err
	}
	f.logger.Info("playlist imported", "name", name, "source", source, "songs", saved.Count)
	return saved, nil
}

// PlaySongs loads an already-resolved list into the queue from its top.
func (f *Facade) PlaySongs(ctx context.Context, songs []bridge.Song, opts ListOptions) error {
	if opts.Limit > 0 && opts.Limit < len(songs) {
		songs = songs[:opts.Limit]
	}
	if opts.Shuffle && len(songs) > 1 {
		songs = append([]bridge.Song(nil), songs...)
		rand.Shuffle(len(songs), func(i, j int) {
			songs[i], songs[j] = songs[j], songs[i]
		})
	}
	return f.playList(ctx, songs, 0)
}

func (f *Facade) playList(ctx context.Context, songs []bridge.Song, startIndex int) error {
	if len(songs) == 0 {
		return ErrNotPlayable
	}
	if startIndex < 0 || startIndex >= len(songs) {
		startIndex = 0
	}
	f.engine.SetPlaylist(ctx, songs, startIndex)
	return nil
}

func (f *Facade) root() *bridge.BrowseNode {
	return &bridge.BrowseNode{
		ID:        nodeRoot,
		Title:     "TuneFree",
		Class:     ClassDirectory,
		CanExpand: true,
		Children: []bridge.BrowseNode{
			{ID: nodeToplists, Title: "排行榜", Class: ClassDirectory, CanExpand: true},
			{ID: nodeMyPlaylists, Title: "我的歌单", Class: ClassDirectory, CanExpand: true},
			{ID: nodeNowPlaying, Title: "播放队列", Class: ClassPlaylist, CanExpand: true},
		},
	}
}

func (f *Facade) toplistSources() *bridge.BrowseNode {
	node := &bridge.BrowseNode{
		ID:        nodeToplists,
		Title:     "排行榜",
		Class:     ClassDirectory,
		CanExpand: true,
	}
	for _, source := range []string{bridge.SourceNetease, bridge.SourceKuwo, bridge.SourceQQ} {
		node.Children = append(node.Children, bridge.BrowseNode{
			ID:        "toplists:" + source,
			Title:     bridge.SourceNames[source],
			Class:     ClassDirectory,
			CanExpand: true,
		})
	}
	return node
}

func (f *Facade) toplistsOf(ctx context.Context, source string) (*bridge.BrowseNode, error) {
	if !bridge.KnownSource(source) {
		return f.root(), nil
	}
	lists, err := f.resolver.Toplists(ctx, source)
	if err != nil {
		return nil, err
	}
	node := &bridge.BrowseNode{
		ID:        "toplists:" + source,
		Title:     bridge.SourceNames[source],
		Class:     ClassDirectory,
		CanExpand: true,
	}
	for _, list := range lists {
		node.Children = append(node.Children, bridge.BrowseNode{
			ID:        fmt.Sprintf("toplist:%s:%s", source, list.ID),
			Title:     list.Name,
			Class:     ClassPlaylist,
			CanPlay:   true,
			CanExpand: true,
		})
	}
	return node, nil
}

func (f *Facade) toplistSongs(ctx context.Context, id string) (*bridge.BrowseNode, error) {
	source, listID, err := splitList(strings.TrimPrefix(id, "toplist:"))
	if err != nil {
		return f.root(), nil
	}
	songs, err := f.resolver.ToplistSongs(ctx, listID, source)
	if err != nil {
		return nil, err
	}
	node := &bridge.BrowseNode{
		ID:        id,
		Title:     bridge.SourceNames[source],
		Class:     ClassPlaylist,
		CanPlay:   true,
		CanExpand: true,
	}
	for i, song := range songs {
		node.Children = append(node.Children, songLeaf(
			fmt.Sprintf("toplist_song:%s:%s:%d", source, listID, i), song))
	}
	return node, nil
}

func (f *Facade) playlistSongs(ctx context.Context, id string) (*bridge.BrowseNode, error) {
	source, listID, err := splitList(strings.TrimPrefix(id, "playlist:"))
	if err != nil {
		return f.root(), nil
	}
	playlist, err := f.resolver.Playlist(ctx, listID, source)
	if err != nil {
		return nil, err
	}
	node := &bridge.BrowseNode{
		ID:        id,
		Class:     ClassPlaylist,
		CanPlay:   true,
		CanExpand: true,
	}
	if playlist != nil {
		node.Title = playlist.Name
		for i, song := range playlist.Songs {
			node.Children = append(node.Children, songLeaf(
				fmt.Sprintf("playlist_song:%s:%s:%d", source, listID, i), song))
		}
	}
	return node, nil
}

func (f *Facade) myPlaylists(ctx context.Context) (*bridge.BrowseNode, error) {
	saved, err := f.store.List(ctx)
	if err != nil {
		return nil, err
	}
	node := &bridge.BrowseNode{
		ID:        nodeMyPlaylists,
		Title:     "我的歌单",
		Class:     ClassDirectory,
		CanExpand: true,
	}
	for _, p := range saved {
		node.Children = append(node.Children, bridge.BrowseNode{
			ID:        fmt.Sprintf("playlist:%s:%s", p.Source, p.PlaylistID),
			Title:     p.Name,
			Class:     ClassPlaylist,
			CanPlay:   true,
			CanExpand: true,
		})
	}
	return node, nil
}

func (f *Facade) nowPlaying() *bridge.BrowseNode {
	node := &bridge.BrowseNode{
		ID:        nodeNowPlaying,
		Title:     "播放队列",
		Class:     ClassPlaylist,
		CanExpand: true,
	}
	for i, song := range f.engine.Queue() {
		node.Children = append(node.Children, songLeaf(
			fmt.Sprintf("now_playing_song:%d", i), song))
	}
	return node
}

func (f *Facade) searchResults(ctx context.Context, keyword string) (*bridge.BrowseNode, error) {
	songs, err := f.resolver.AggregateSearch(ctx, keyword)
	if err != nil {
		return nil, err
	}
	if len(songs) > f.opts.SearchLimit {
		songs = songs[:f.opts.SearchLimit]
	}
	node := &bridge.BrowseNode{
		ID:        "search:" + keyword,
		Title:     keyword,
		Class:     ClassDirectory,
		CanExpand: true,
	}
	for _, song := range songs {
		node.Children = append(node.Children, songLeaf(song.Source+":"+song.ID, song))
	}
	return node, nil
}

func songLeaf(id string, song bridge.Song) bridge.BrowseNode {
	title := song.Name
	if song.Artist != "" {
		title = song.Name + " - " + song.Artist
	}
	return bridge.BrowseNode{
		ID:        id,
		Title:     title,
		Class:     ClassTrack,
		CanPlay:   true,
		Thumbnail: song.Pic,
	}
}

// splitList parses "source:listID".
func splitList(s string) (source, listID string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed list node %q", s)
	}
	return parts[0], parts[1], nil
}

// splitListSong parses "source:listID:index".
func splitListSong(s string) (source, listID string, index int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed list-song node %q", s)
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed list-song node %q", s)
	}
	return parts[0], parts[1], index, nil
}

// splitSong parses a bare leaf: "source:songID" when the prefix is a known
// source, otherwise the whole string is a song id on the default source.
func splitSong(s, defaultSource string) (source, songID string) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 && bridge.KnownSource(parts[0]) {
		return parts[0], parts[1]
	}
	return defaultSource, s
}
