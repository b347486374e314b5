package player

import (
	"time"

	"saverino/pkg/models"
)

// Status is the transport state of the player. Exactly one holds at a time,
// so combinations like "loading and playing" cannot be expressed.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusPlaying
	StatusPaused
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RepeatMode defines what happens when the queue advances
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String returns the repeat mode name
func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// MarshalText encodes the repeat mode by name
func (m RepeatMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Next cycles none → all → one → none
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatNone:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatNone
	}
}

// State represents the current player state
type State struct {
	Track     *models.Track  `json:"track,omitempty"`
	Status    Status         `json:"status"`
	Queue     []models.Track `json:"queue"`
	Index     int            `json:"currentIndex"`
	Volume    float64        `json:"volume"`   // 0.0 to 1.0
	Position  float64        `json:"position"` // in seconds
	Duration  float64        `json:"duration"` // in seconds
	Shuffle   bool           `json:"isShuffled"`
	Repeat    RepeatMode     `json:"repeatMode"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func newState() State {
	return State{
		Index:     -1,
		Volume:    1.0,
		UpdatedAt: time.Now(),
	}
}

// IsPlaying reports whether audio is meant to be coming out
func (s *State) IsPlaying() bool {
	return s.Status == StatusPlaying
}

// IsLoading reports whether a stream is being resolved or buffered
func (s *State) IsLoading() bool {
	return s.Status == StatusLoading
}

// HasTrack reports whether a current track is set
func (s *State) HasTrack() bool {
	return s.Track != nil
}

// Progress returns position/duration in [0,1]
func (s *State) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	p := s.Position / s.Duration
	if p > 1 {
		return 1
	}
	return p
}
