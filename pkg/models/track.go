package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlaceholderImage is shown when a track carries no artwork.
const PlaceholderImage = "https://images.unsplash.com/photo-1493225457124-a3eb161ffa5f?w=500&h=500&fit=crop"

// Variant is one quality rendition of an image or audio stream
type Variant struct {
	Quality string `json:"quality"`
	Link    string `json:"link"`
}

// Album holds the album fields the catalog returns for a track
type Album struct {
	Name string `json:"name"`
}

// Track represents a single playable song from the remote catalog
type Track struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	PrimaryArtists string     `json:"primaryArtists"`
	Album          Album      `json:"album"`
	Image          []Variant  `json:"image"`
	DownloadURL    []Variant  `json:"downloadUrl"`
	Duration       FlexInt    `json:"duration"` // in seconds
	Year           FlexString `json:"year"`
	Language       string     `json:"language"`
	HasLyrics      FlexBool   `json:"hasLyrics"`
	LyricsSnippet  string     `json:"lyricsSnippet,omitempty"`
	URL            string     `json:"url,omitempty"`
}

// SearchData is the payload of a successful search envelope
type SearchData struct {
	Results []Track `json:"results"`
	Total   FlexInt `json:"total"`
	Start   FlexInt `json:"start"`
}

// SearchResponse is the envelope returned by the search endpoint
type SearchResponse struct {
	Data    *SearchData `json:"data"`
	Success bool        `json:"success"`
}

// Results returns the tracks carried by the envelope, or nil.
func (r *SearchResponse) Results() []Track {
	if r == nil || r.Data == nil {
		return nil
	}
	return r.Data.Results
}

// HighQualityImage picks the best artwork link: 500x500, then 150x150, then
// whatever comes first. Tracks without artwork get PlaceholderImage.
func (t *Track) HighQualityImage() string {
	if len(t.Image) == 0 {
		return PlaceholderImage
	}
	for _, quality := range []string{"500x500", "150x150"} {
		for _, img := range t.Image {
			if img.Quality == quality && img.Link != "" {
				return img.Link
			}
		}
	}
	if t.Image[0].Link == "" {
		return PlaceholderImage
	}
	return t.Image[0].Link
}

// StreamVariant returns the stream link for the given quality label, if present.
func (t *Track) StreamVariant(quality string) (string, bool) {
	for _, v := range t.DownloadURL {
		if v.Quality == quality && v.Link != "" {
			return v.Link, true
		}
	}
	return "", false
}

// DisplayName is the track name with HTML markup and entities removed.
func (t *Track) DisplayName() string {
	return SanitizeHTML(t.Name)
}

// DisplayArtists is the artist string with entities decoded.
func (t *Track) DisplayArtists() string {
	return FormatArtists(t.PrimaryArtists)
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

var entityReplacer = strings.NewReplacer("&quot;", `"`, "&amp;", "&")

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// FormatArtists decodes the entities the catalog leaves in artist names.
func FormatArtists(artists string) string {
	return entityReplacer.Replace(artists)
}

// SanitizeHTML strips markup and decodes entities.
func SanitizeHTML(s string) string {
	return entityReplacer.Replace(tagPattern.ReplaceAllString(s, ""))
}

// FlexInt decodes from either a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexInt(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexInt(v)
	return nil
}

// FlexString decodes from a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

// FlexBool decodes from a JSON bool or a "true"/"false" string.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			*f = false
			return nil
		}
		*f = FlexBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexBool(v)
	return nil
}
