// Package media describes the playback primitive the player drives.
package media

// EventKind identifies a notification coming from the playback backend
type EventKind int

const (
	// EventTimeUpdate carries a fresh position/duration pair
	EventTimeUpdate EventKind = iota
	// EventEnded fires when the loaded stream played to the end
	EventEnded
	// EventLoadStart fires when the backend starts loading a source
	EventLoadStart
	// EventCanPlay fires when enough data is buffered to play
	EventCanPlay
	// EventError fires when loading or decoding failed
	EventError
)

// String returns the event name
func (k EventKind) String() string {
	switch k {
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventLoadStart:
		return "loadstart"
	case EventCanPlay:
		return "canplay"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification from the backend
type Event struct {
	Kind     EventKind
	Position float64 // seconds, set on EventTimeUpdate
	Duration float64 // seconds, set on EventTimeUpdate
	Err      error   // set on EventError
}

// Player is the capability set of a media element
type Player interface {
	Load(url string) error
	Play() error
	Pause() error
	SetPosition(seconds float64) error
	Position() (float64, error)
	SetVolume(v float64) error
	Volume() (float64, error)
	Duration() (float64, error)
	Events() <-chan Event
	Close() error
}
