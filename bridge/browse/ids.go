package browse

import "regexp"

// Playlist references arrive as share links in several shapes; both the
// query-parameter and the path form carry the numeric id.
var playlistIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`id=(\d+)`),
	regexp.MustCompile(`/playlist/(\d+)`),
}

var bareID = regexp.MustCompile(`^\d+$`)

// ExtractPlaylistID pulls the playlist id out of a share URL or returns the
// input when it is already a bare numeric id. Empty means no id was found.
func ExtractPlaylistID(ref string) string {
	if bareID.MatchString(ref) {
		return ref
	}
	for _, pattern := range playlistIDPatterns {
		if m := pattern.FindStringSubmatch(ref); m != nil {
			return m[1]
		}
	}
	return ""
}
