package api

import (
	"encoding/json"
	"strings"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// flexString tolerates the aggregator's loose typing: IDs arrive as JSON
// numbers or strings depending on the upstream platform, and artists are
// sometimes a list of names.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = ""
		return nil
	}
	switch trimmed[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case '[':
		var parts []flexString
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				names = append(names, string(p))
			}
		}
		*s = flexString(strings.Join(names, "/"))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = flexString(n.String())
	}
	return nil
}

type songPayload struct {
	ID       flexString `json:"id"`
	Name     string     `json:"name"`
	Artist   flexString `json:"artist"`
	Platform string     `json:"platform"`
	Source   string     `json:"source"`
	Pic      string     `json:"pic"`
	Album    *struct {
		PicURL string `json:"picUrl"`
		Pic    string `json:"pic"`
	} `json:"album"`
}

// normalizeSong maps a raw payload onto the internal song shape. The
// platform field wins over source, and both fall back to the configured
// default so a song is never left without an origin.
func (c *Client) normalizeSong(p songPayload, fallback string) bridge.Song {
	source := p.Platform
	if source == "" {
		source = p.Source
	}
	if source == "" {
		source = fallback
	}
	if source == "" || source == bridge.SourceAll {
		source = c.defaultSource
	}

	pic := p.Pic
	if pic == "" && p.Album != nil {
		pic = p.Album.PicURL
		if pic == "" {
			pic = p.Album.Pic
		}
	}

	return bridge.Song{
		ID:     string(p.ID),
		Name:   p.Name,
		Artist: string(p.Artist),
		Source: source,
		Pic:    pic,
	}
}

func (c *Client) decodeResults(data json.RawMessage, fallback string) []bridge.Song {
	var payload struct {
		Results []songPayload `json:"results"`
		List    []songPayload `json:"list"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("decode search results failed", "error", err)
		return nil
	}
	items := payload.Results
	if len(items) == 0 {
		items = payload.List
	}
	songs := make([]bridge.Song, 0, len(items))
	for _, p := range items {
		songs = append(songs, c.normalizeSong(p, fallback))
	}
	return songs
}

// decodeSongList decodes a chart or playlist body and stamps every entry
// with the list's source; entries inside a list never carry their own.
func (c *Client) decodeSongList(data json.RawMessage, source string) []bridge.Song {
	var payload struct {
		List []songPayload `json:"list"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("decode song list failed", "error", err)
		return nil
	}
	songs := make([]bridge.Song, 0, len(payload.List))
	for _, p := range payload.List {
		song := c.normalizeSong(p, source)
		song.Source = source
		songs = append(songs, song)
	}
	return songs
}
