package player

import (
	"errors"
	"fmt"

	"saverino/pkg/models"
)

// ErrInvalidIndex is returned when a queue position is out of range
var ErrInvalidIndex = errors.New("queue index out of range")

// queue is the ordered track list with a cursor. index is -1 exactly when no
// track is current.
type queue struct {
	tracks []models.Track
	index  int
}

func newQueue() queue {
	return queue{index: -1}
}

// replace installs a copy of tracks with the cursor at index.
func (q *queue) replace(tracks []models.Track, index int) error {
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(tracks))
	}
	q.tracks = append([]models.Track(nil), tracks...)
	q.index = index
	return nil
}

// appendTrack adds a track at the end without moving the cursor.
// The slice is always reallocated so snapshots never observe the write.
func (q *queue) appendTrack(track models.Track) {
	tracks := make([]models.Track, len(q.tracks), len(q.tracks)+1)
	copy(tracks, q.tracks)
	q.tracks = append(tracks, track)
}

func (q *queue) len() int {
	return len(q.tracks)
}

func (q *queue) at(i int) (models.Track, bool) {
	if i < 0 || i >= len(q.tracks) {
		return models.Track{}, false
	}
	return q.tracks[i], true
}

// current returns a pointer into the queue for the track at the cursor.
func (q *queue) current() *models.Track {
	if q.index < 0 || q.index >= len(q.tracks) {
		return nil
	}
	return &q.tracks[q.index]
}

func (q *queue) clear() {
	q.tracks = nil
	q.index = -1
}

// snapshot returns the tracks for publishing. Callers must not mutate it.
func (q *queue) snapshot() []models.Track {
	return q.tracks
}
