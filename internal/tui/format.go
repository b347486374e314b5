package tui

import (
	"fmt"
	"math"
	"strings"

	"saverino/internal/player"
	"saverino/internal/search"
	"saverino/pkg/models"

	"github.com/rivo/tview"
)

const barWidth = 24

func formatResultLine(i int, t *models.Track) string {
	line := fmt.Sprintf("%d. %s - %s", i+1, tview.Escape(t.DisplayArtists()), tview.Escape(t.DisplayName()))
	if t.Duration > 0 {
		line += " [gray](" + models.FormatDuration(float64(t.Duration)) + ")[-]"
	}
	return line
}

func formatQueueLine(i int, t *models.Track, current bool) string {
	prefix := "  "
	if current {
		prefix = "► "
	}
	return fmt.Sprintf("%s%d. %s", prefix, i+1, tview.Escape(t.DisplayName()))
}

func formatNowPlaying(s *player.State) string {
	if !s.HasTrack() {
		return "[yellow]No track playing[-]\n\nType to search, Enter to jump to results"
	}

	var b strings.Builder
	switch s.Status {
	case player.StatusLoading:
		b.WriteString("[yellow]… Loading[-]\n")
	case player.StatusPlaying:
		b.WriteString("[green]♪ Playing[-]\n")
	case player.StatusPaused:
		b.WriteString("[gray]‖ Paused[-]\n")
	default:
		b.WriteString("[gray]Stopped[-]\n")
	}

	t := s.Track
	fmt.Fprintf(&b, "[white]%s[-]\n", tview.Escape(t.DisplayName()))
	fmt.Fprintf(&b, "[gray]%s[-]\n", tview.Escape(t.DisplayArtists()))
	if t.Album.Name != "" {
		fmt.Fprintf(&b, "[gray]%s[-]\n", tview.Escape(models.SanitizeHTML(t.Album.Name)))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %s %s\n",
		models.FormatDuration(s.Position),
		progressBar(s.Position, s.Duration, barWidth),
		models.FormatDuration(s.Duration))

	fmt.Fprintf(&b, "Vol %s  Shuffle %s  Repeat %s",
		formatVolume(s.Volume), onOff(s.Shuffle), s.Repeat)
	return b.String()
}

func formatVolume(v float64) string {
	if v <= 0 {
		return "muted"
	}
	return fmt.Sprintf("%d%%", int(math.Round(v*100)))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func progressBar(position, duration float64, width int) string {
	filled := 0
	if duration > 0 {
		filled = int(position / duration * float64(width))
	}
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "|" + strings.Repeat("=", filled) + strings.Repeat("-", width-filled) + "|"
}

func formatSearchStatus(s *search.State) string {
	switch {
	case s.Loading:
		return fmt.Sprintf("[yellow]Searching for '%s'...[-]", tview.Escape(s.Query))
	case s.Error != "":
		return "[red]" + tview.Escape(s.Error) + "[-]"
	case strings.TrimSpace(s.Query) == "":
		return ""
	case len(s.Results) == 0:
		return "[yellow]No results found[-]"
	default:
		more := ""
		if s.HasMore {
			more = "  [gray](l for more)[-]"
		}
		return fmt.Sprintf("[green]%d results[-] for '%s'%s", len(s.Results), tview.Escape(s.Query), more)
	}
}
