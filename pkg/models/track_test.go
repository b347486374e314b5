package models

import (
	"encoding/json"
	"testing"
)

func TestTrackDecodesLooseTypes(t *testing.T) {
	raw := `{
		"id": "abc",
		"name": "Tum Hi Ho",
		"primaryArtists": "Arijit Singh",
		"duration": "262",
		"year": 2013,
		"hasLyrics": "true",
		"image": [{"quality": "50x50", "link": "s"}]
	}`

	var track Track
	if err := json.Unmarshal([]byte(raw), &track); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if track.Duration != 262 {
		t.Errorf("expected duration 262, got %d", track.Duration)
	}
	if track.Year != "2013" {
		t.Errorf("expected year 2013, got %q", track.Year)
	}
	if !track.HasLyrics {
		t.Error("expected hasLyrics true")
	}
}

func TestFlexIntValues(t *testing.T) {
	tests := []struct {
		in   string
		want FlexInt
		err  bool
	}{
		{in: `185`, want: 185},
		{in: `"185"`, want: 185},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
		{in: `"abc"`, err: true},
	}
	for _, tt := range tests {
		var got FlexInt
		err := json.Unmarshal([]byte(tt.in), &got)
		if tt.err {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: expected %d, got %d (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestSearchResponseResults(t *testing.T) {
	var nilResp *SearchResponse
	if nilResp.Results() != nil {
		t.Error("expected nil results from nil response")
	}
	if (&SearchResponse{Success: false}).Results() != nil {
		t.Error("expected nil results without data")
	}

	var resp SearchResponse
	if err := json.Unmarshal([]byte(`{"success":true,"data":{"results":[{"id":"1"},{"id":"2"}],"total":"40"}}`), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results()) != 2 || resp.Data.Total != 40 {
		t.Errorf("unexpected envelope %+v", resp.Data)
	}
}

func TestHighQualityImage(t *testing.T) {
	tests := []struct {
		name   string
		images []Variant
		want   string
	}{
		{name: "no artwork", want: PlaceholderImage},
		{name: "prefers 500", images: []Variant{{"50x50", "s"}, {"150x150", "m"}, {"500x500", "l"}}, want: "l"},
		{name: "falls back to 150", images: []Variant{{"50x50", "s"}, {"150x150", "m"}}, want: "m"},
		{name: "first otherwise", images: []Variant{{"50x50", "s"}}, want: "s"},
		{name: "empty link", images: []Variant{{"50x50", ""}}, want: PlaceholderImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := Track{Image: tt.images}
			if got := track.HighQualityImage(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStreamVariant(t *testing.T) {
	track := Track{DownloadURL: []Variant{{"96kbps", "low"}, {"320kbps", "high"}}}
	if link, ok := track.StreamVariant("320kbps"); !ok || link != "high" {
		t.Errorf("expected high, got %q %v", link, ok)
	}
	if _, ok := track.StreamVariant("160kbps"); ok {
		t.Error("expected missing variant")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{65.9, "1:05"},
		{3600, "60:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTextCleanup(t *testing.T) {
	if got := SanitizeHTML(`<b>Love</b> &amp; &quot;Peace&quot;`); got != `Love & "Peace"` {
		t.Errorf("unexpected sanitized text %q", got)
	}
	if got := FormatArtists("Vishal &amp; Shekhar"); got != "Vishal & Shekhar" {
		t.Errorf("unexpected artists %q", got)
	}
	track := Track{Name: "<i>Song</i>", PrimaryArtists: "A &amp; B"}
	if track.DisplayName() != "Song" || track.DisplayArtists() != "A & B" {
		t.Errorf("unexpected display %q / %q", track.DisplayName(), track.DisplayArtists())
	}
}
