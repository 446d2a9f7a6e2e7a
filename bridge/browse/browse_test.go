package browse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunehub/tunefree-bridge/bridge"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)      {}
func (nopLogger) Info(string, ...any)       {}
func (nopLogger) Warn(string, ...any)       {}
func (nopLogger) Error(string, ...any)      {}
func (nopLogger) With(...any) bridge.Logger { return nopLogger{} }

type fakeResolver struct {
	toplists  map[string][]bridge.Toplist
	listSongs map[string][]bridge.Song
	playlists map[string]*bridge.Playlist
	searches  map[string][]bridge.Song
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		toplists:  map[string][]bridge.Toplist{},
		listSongs: map[string][]bridge.Song{},
		playlists: map[string]*bridge.Playlist{},
		searches:  map[string][]bridge.Song{},
	}
}

func (f *fakeResolver) Search(_ context.Context, keyword, _ string) ([]bridge.Song, error) {
	return f.searches[keyword], nil
}
func (f *fakeResolver) AggregateSearch(_ context.Context, keyword string) ([]bridge.Song, error) {
	return f.searches[keyword], nil
}
func (f *fakeResolver) Toplists(_ context.Context, source string) ([]bridge.Toplist, error) {
	return f.toplists[source], nil
}
func (f *fakeResolver) ToplistSongs(_ context.Context, listID, source string) ([]bridge.Song, error) {
	return f.listSongs[source+":"+listID], nil
}
func (f *fakeResolver) Playlist(_ context.Context, playlistID, source string) (*bridge.Playlist, error) {
	return f.playlists[source+":"+playlistID], nil
}
func (f *fakeResolver) SongInfo(context.Context, string, string) (*bridge.Song, error) {
	return nil, nil
}
func (f *fakeResolver) Lyrics(context.Context, string, string) (string, error) { return "", nil }
func (f *fakeResolver) SongURLEndpoint(songID, source string) string {
	return source + "/" + songID
}
func (f *fakeResolver) PicURL(songID, source string) string { return "pic://" + songID }
func (f *fakeResolver) ResolveRedirect(context.Context, string) (string, error) {
	return "", nil
}

type setCall struct {
	songs      []bridge.Song
	startIndex int
}

type fakeEngine struct {
	sets     []setCall
	jumps    []int
	directs  []string
	forwards []string
	queue    []bridge.Song
}

func (f *fakeEngine) SetPlaylist(_ context.Context, songs []bridge.Song, startIndex int) {
	f.sets = append(f.sets, setCall{songs, startIndex})
}
func (f *fakeEngine) JumpTo(_ context.Context, index int) bool {
	f.jumps = append(f.jumps, index)
	return index >= 0 && index < len(f.queue)
}
func (f *fakeEngine) PlayDirect(_ context.Context, songID, source string) error {
	f.directs = append(f.directs, source+":"+songID)
	return nil
}
func (f *fakeEngine) ForwardURL(_ context.Context, url, _ string) error {
	f.forwards = append(f.forwards, url)
	return nil
}
func (f *fakeEngine) Next(context.Context)            {}
func (f *fakeEngine) Previous(context.Context)        {}
func (f *fakeEngine) OnTrackFinished(context.Context) {}
func (f *fakeEngine) SetShuffle(bool)                 {}
func (f *fakeEngine) SetRepeat(bridge.RepeatMode)     {}
func (f *fakeEngine) Queue() []bridge.Song            { return f.queue }
func (f *fakeEngine) Index() int                      { return 0 }
func (f *fakeEngine) Current() (bridge.Song, bool)    { return bridge.Song{}, false }
func (f *fakeEngine) Session() bridge.PlaybackSession { return bridge.PlaybackSession{} }
func (f *fakeEngine) Shuffle() bool                   { return false }
func (f *fakeEngine) Repeat() bridge.RepeatMode       { return bridge.RepeatOff }
func (f *fakeEngine) Advancing() bool                 { return false }
func (f *fakeEngine) Count() int                      { return len(f.queue) }

type fakeStore struct {
	saved []bridge.SavedPlaylist
}

func (f *fakeStore) List(context.Context) ([]bridge.SavedPlaylist, error) {
	return f.saved, nil
}
func (f *fakeStore) Upsert(_ context.Context, p *bridge.SavedPlaylist) error {
	f.saved = append(f.saved, *p)
	return nil
}
func (f *fakeStore) Delete(context.Context, string, string) error { return nil }
func (f *fakeStore) FindByName(_ context.Context, name string) (*bridge.SavedPlaylist, error) {
	for i := range f.saved {
		if strings.EqualFold(f.saved[i].Name, name) {
			return &f.saved[i], nil
		}
	}
	return nil, nil
}

func songs(ids ...string) []bridge.Song {
	out := make([]bridge.Song, len(ids))
	for i, id := range ids {
		out[i] = bridge.Song{ID: id, Name: "Song " + id, Source: bridge.SourceNetease}
	}
	return out
}

func newTestFacade(r *fakeResolver, e *fakeEngine, s *fakeStore) *Facade {
	return New(r, e, s, nopLogger{}, Options{DefaultSource: bridge.SourceNetease, SearchLimit: 20})
}

func TestBrowseRoot(t *testing.T) {
	f := newTestFacade(newFakeResolver(), &fakeEngine{}, &fakeStore{})

	for _, id := range []string{"", "root", "garbage:node"} {
		node, err := f.Browse(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, node)
		assert.Equal(t, "root", node.ID)

		var childIDs []string
		for _, c := range node.Children {
			childIDs = append(childIDs, c.ID)
		}
		assert.Equal(t, []string{"toplists", "my_playlists", "now_playing"}, childIDs)
	}
}

func TestToplistSongRoundTrip(t *testing.T) {
	r := newFakeResolver()
	r.listSongs["netease:123"] = songs("a", "b", "c", "d", "e")
	e := &fakeEngine{}
	f := newTestFacade(r, e, &fakeStore{})
	ctx := context.Background()

	node, err := f.Browse(ctx, "toplist:netease:123")
	require.NoError(t, err)
	require.Len(t, node.Children, 5)
	assert.Equal(t, "toplist_song:netease:123:4", node.Children[4].ID)
	assert.True(t, node.Children[4].CanPlay)

	// playing the leaf loads the whole chart at that position
	require.NoError(t, f.Play(ctx, node.Children[4].ID))
	require.Len(t, e.sets, 1)
	assert.Len(t, e.sets[0].songs, 5)
	assert.Equal(t, 4, e.sets[0].startIndex)
}

func TestPlaySearchLoadsAllResults(t *testing.T) {
	r := newFakeResolver()
	r.searches["周杰伦"] = songs("1", "2", "3")
	e := &fakeEngine{}
	f := newTestFacade(r, e, &fakeStore{})

	require.NoError(t, f.Play(context.Background(), "search:周杰伦"))
	require.Len(t, e.sets, 1)
	assert.Len(t, e.sets[0].songs, 3)
	assert.Equal(t, 0, e.sets[0].startIndex)
}

func TestPlayNowPlayingSongJumps(t *testing.T) {
	e := &fakeEngine{queue: songs("a", "b", "c")}
	f := newTestFacade(newFakeResolver(), e, &fakeStore{})
	ctx := context.Background()

	require.NoError(t, f.Play(ctx, "now_playing_song:2"))
	assert.Equal(t, []int{2}, e.jumps)

	assert.ErrorIs(t, f.Play(ctx, "now_playing_song:9"), ErrNotPlayable)
}

func TestPlayLeaf(t *testing.T) {
	e := &fakeEngine{}
	f := newTestFacade(newFakeResolver(), e, &fakeStore{})
	ctx := context.Background()

	require.NoError(t, f.Play(ctx, "kuwo:987"))
	require.NoError(t, f.Play(ctx, "12345"))

	assert.Equal(t, []string{"kuwo:987", "netease:12345"}, e.directs)
}

func TestPlayURLForwards(t *testing.T) {
	e := &fakeEngine{}
	f := newTestFacade(newFakeResolver(), e, &fakeStore{})

	require.NoError(t, f.Play(context.Background(), "https://example.com/a.mp3"))
	assert.Equal(t, []string{"https://example.com/a.mp3"}, e.forwards)
}

func TestPlayPlaylistByNameMissListsAvailable(t *testing.T) {
	s := &fakeStore{saved: []bridge.SavedPlaylist{
		{Name: "白噪音", Source: bridge.SourceNetease, PlaylistID: "1"},
		{Name: "精选", Source: bridge.SourceNetease, PlaylistID: "2"},
	}}
	f := newTestFacade(newFakeResolver(), &fakeEngine{}, s)

	err := f.PlayPlaylistByName(context.Background(), "不存在", ListOptions{})
	var notFound *PlaylistNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ElementsMatch(t, []string{"白噪音", "精选"}, notFound.Available)
}

func TestPlayPlaylistByNameHit(t *testing.T) {
	r := newFakeResolver()
	r.playlists["netease:42"] = &bridge.Playlist{Name: "白噪音", Songs: songs("x", "y")}
	s := &fakeStore{saved: []bridge.SavedPlaylist{
		{Name: "白噪音", Source: bridge.SourceNetease, PlaylistID: "42"},
	}}
	e := &fakeEngine{}
	f := newTestFacade(r, e, s)

	require.NoError(t, f.PlayPlaylistByName(context.Background(), "白噪音", ListOptions{}))
	require.Len(t, e.sets, 1)
	assert.Len(t, e.sets[0].songs, 2)
}

func TestPlayToplistLimitAndShuffle(t *testing.T) {
	r := newFakeResolver()
	r.listSongs["netease:123"] = songs("a", "b", "c", "d", "e")
	e := &fakeEngine{}
	f := newTestFacade(r, e, &fakeStore{})
	ctx := context.Background()

	require.NoError(t, f.PlayToplist(ctx, "netease", "123", ListOptions{Limit: 3}))
	require.Len(t, e.sets, 1)
	assert.Len(t, e.sets[0].songs, 3)
	assert.Equal(t, "a", e.sets[0].songs[0].ID)

	// shuffle keeps the limited set intact, only reordered
	require.NoError(t, f.PlayToplist(ctx, "netease", "123", ListOptions{Shuffle: true, Limit: 3}))
	require.Len(t, e.sets, 2)
	var ids []string
	for _, s := range e.sets[1].songs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 0, e.sets[1].startIndex)

	// the original chart order must not be disturbed for the next caller
	assert.Equal(t, "a", r.listSongs["netease:123"][0].ID)
}

func TestPlaySongsLimitLargerThanList(t *testing.T) {
	e := &fakeEngine{}
	f := newTestFacade(newFakeResolver(), e, &fakeStore{})

	require.NoError(t, f.PlaySongs(context.Background(), songs("a", "b"), ListOptions{Limit: 10}))
	require.Len(t, e.sets, 1)
	assert.Len(t, e.sets[0].songs, 2)
}

func TestImportPlaylist(t *testing.T) {
	r := newFakeResolver()
	r.playlists["netease:19723756"] = &bridge.Playlist{Name: "飙升榜", Songs: songs("a", "b")}
	s := &fakeStore{}
	f := newTestFacade(r, &fakeEngine{}, s)

	saved, err := f.ImportPlaylist(context.Background(),
		"https://music.163.com/#/playlist?id=19723756&userid=1", "")
	require.NoError(t, err)
	assert.Equal(t, "19723756", saved.PlaylistID)
	assert.Equal(t, "飙升榜", saved.Name)
	assert.Equal(t, 2, saved.Count)
	require.Len(t, s.saved, 1)
}

func TestExtractPlaylistID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"https://music.163.com/#/playlist?id=19723756", "19723756"},
		{"https://y.qq.com/n/ryqq/playlist/8023", "8023"},
		{"3136952023", "3136952023"},
		{"https://example.com/nothing-here", ""},
	}
	for _, tt := range tests {
		if got := ExtractPlaylistID(tt.ref); got != tt.want {
			t.Errorf("ExtractPlaylistID(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestBrowseMyPlaylists(t *testing.T) {
	s := &fakeStore{saved: []bridge.SavedPlaylist{
		{Name: "白噪音", Source: bridge.SourceKuwo, PlaylistID: "7"},
	}}
	f := newTestFacade(newFakeResolver(), &fakeEngine{}, s)

	node, err := f.Browse(context.Background(), "my_playlists")
	require.NoError(t, err)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "playlist:kuwo:7", node.Children[0].ID)
	assert.Equal(t, "白噪音", node.Children[0].Title)
}
