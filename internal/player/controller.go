package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"saverino/internal/media"
	"saverino/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTrack is returned by operations that need a current track
	ErrNoTrack = errors.New("no track loaded")
	// ErrSuperseded is returned when a newer PlayTrack call won the race
	ErrSuperseded = errors.New("play request superseded")
)

// Resolver turns a track id into a playable stream URL
type Resolver interface {
	ResolveStreamURL(ctx context.Context, trackID, quality string) (string, error)
}

// Controller owns the playback state and drives a media.Player.
// Only one play request is authoritative at a time: each PlayTrack bumps a
// generation and results for older generations are dropped.
type Controller struct {
	media    media.Player
	resolver Resolver
	logger   logrus.FieldLogger
	pick     func(n int) int

	// held across load sequences so they reach the media in order
	mediaMu sync.Mutex

	mutex      sync.Mutex
	state      State
	queue      queue
	generation uint64
	resolving  bool
	// the media dropped its source (ended or failed) and needs a reload
	unloaded bool
	// status to settle on once the current loading phase ends
	resume    Status
	listeners []chan *State
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithShuffleSource replaces the random index picker used in shuffle mode.
// pick(n) must return a value in [0, n).
func WithShuffleSource(pick func(n int) int) Option {
	return func(c *Controller) {
		c.pick = pick
	}
}

// NewController creates a player controller
func NewController(mp media.Player, resolver Resolver, opts ...Option) *Controller {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	c := &Controller{
		media:    mp,
		resolver: resolver,
		logger:   logrus.StandardLogger(),
		pick:     rng.Intn,
		state:    newState(),
		queue:    newQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetState returns a snapshot of the player state
func (c *Controller) GetState() *State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stateCopy := c.snapshotLocked()
	return &stateCopy
}

// PlayTrack resolves the track's stream and starts it. queue becomes the new
// play queue with index pointing at track; an empty queue means [track].
func (c *Controller) PlayTrack(ctx context.Context, track models.Track, tracks []models.Track, index int) error {
	if len(tracks) == 0 {
		tracks = []models.Track{track}
		index = 0
	}
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(tracks))
	}

	c.mutex.Lock()
	c.generation++
	gen := c.generation
	if c.state.Status != StatusLoading {
		c.resume = c.state.Status
	}
	c.resolving = true
	c.state.Status = StatusLoading
	c.touch()
	c.mutex.Unlock()

	log := c.logger.WithFields(logrus.Fields{"track_id": track.ID, "generation": gen})
	log.Debug("Resolving stream")

	url, err := c.resolver.ResolveStreamURL(ctx, track.ID, "")

	c.mutex.Lock()
	if gen != c.generation {
		c.mutex.Unlock()
		log.Debug("Dropping stale stream resolution")
		return ErrSuperseded
	}

	if err != nil {
		c.resolving = false
		c.state.Status = c.resume
		if c.queue.current() == nil {
			c.state.Status = StatusIdle
		}
		c.touch()
		c.mutex.Unlock()
		log.WithError(err).Warn("Failed to resolve stream")
		return fmt.Errorf("resolve stream for %s: %w", track.ID, err)
	}

	if err := c.queue.replace(tracks, index); err != nil {
		c.resolving = false
		c.state.Status = c.resume
		c.touch()
		c.mutex.Unlock()
		return err
	}
	c.state.Position = 0
	c.state.Duration = float64(track.Duration)
	c.touch()
	c.mutex.Unlock()

	// media calls may block on IPC, so they run without the state lock
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	if !c.isGeneration(gen) {
		return ErrSuperseded
	}
	mediaErr := c.start(url)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if gen != c.generation {
		return ErrSuperseded
	}
	c.resolving = false

	if mediaErr != nil {
		c.state.Status = StatusPaused
		c.resume = StatusPaused
		c.unloaded = true
		c.touch()
		log.WithError(mediaErr).Error("Failed to start stream")
		return mediaErr
	}

	c.state.Status = StatusPlaying
	c.resume = StatusPlaying
	c.unloaded = false
	c.touch()
	log.WithField("name", track.Name).Info("Now playing")
	return nil
}

func (c *Controller) isGeneration(gen uint64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return gen == c.generation
}

// start loads url and unpauses; callers hold mediaMu
func (c *Controller) start(url string) error {
	if err := c.media.Load(url); err != nil {
		return fmt.Errorf("load stream: %w", err)
	}
	if err := c.media.Play(); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	return nil
}

// PlayAt plays the queue entry at index, keeping the queue
func (c *Controller) PlayAt(ctx context.Context, index int) error {
	c.mutex.Lock()
	track, ok := c.queue.at(index)
	tracks := c.queue.snapshot()
	c.mutex.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(tracks))
	}
	return c.PlayTrack(ctx, track, tracks, index)
}

// TogglePlayPause pauses when playing, otherwise resumes. A track whose
// source was dropped by the media (it ended or failed) is reloaded from the
// start. Without a current track it does nothing.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	c.mutex.Lock()

	if c.queue.current() == nil {
		c.mutex.Unlock()
		return nil
	}

	if c.unloaded && !c.resolving {
		index := c.queue.index
		track, _ := c.queue.at(index)
		tracks := c.queue.snapshot()
		c.mutex.Unlock()
		return c.PlayTrack(ctx, track, tracks, index)
	}
	defer c.mutex.Unlock()

	if c.state.Status == StatusPlaying {
		if err := c.media.Pause(); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		c.state.Status = StatusPaused
		c.resume = StatusPaused
		c.touch()
		return nil
	}

	if err := c.media.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	if c.state.Status == StatusLoading {
		c.resume = StatusPlaying
	} else {
		c.state.Status = StatusPlaying
	}
	c.touch()
	return nil
}

// Seek moves the playback position without changing transport state.
// Negative values clamp to 0 and values past a known duration clamp to it.
func (c *Controller) Seek(seconds float64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.queue.current() == nil {
		return ErrNoTrack
	}
	if seconds < 0 {
		seconds = 0
	}
	if c.state.Duration > 0 && seconds > c.state.Duration {
		seconds = c.state.Duration
	}
	if err := c.media.SetPosition(seconds); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	c.state.Position = seconds
	c.touch()
	return nil
}

// SetVolume sets the volume, clamped to [0,1]
func (c *Controller) SetVolume(v float64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.setVolumeLocked(v)
}

// ToggleMute sets volume to 0 if it is above 0, else to 1
func (c *Controller) ToggleMute() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state.Volume > 0 {
		return c.setVolumeLocked(0)
	}
	return c.setVolumeLocked(1)
}

func (c *Controller) setVolumeLocked(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if err := c.media.SetVolume(v); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	c.state.Volume = v
	c.touch()
	return nil
}

// Next advances the queue. Repeat one restarts the current track, reloading
// it when the media no longer holds it. Shuffle picks a uniformly random
// entry (possibly the current one). At the end of the queue repeat all wraps
// to the start while repeat none does nothing.
func (c *Controller) Next(ctx context.Context) error {
	c.mutex.Lock()

	if c.queue.len() == 0 {
		c.mutex.Unlock()
		return nil
	}

	var next int
	if c.state.Repeat == RepeatOne && c.queue.current() != nil {
		next = c.queue.index
		if !c.unloaded {
			err := c.restartLocked()
			if err == nil {
				c.mutex.Unlock()
				return nil
			}
			c.logger.WithError(err).Debug("Restart failed, reloading track")
		}
	} else if c.state.Shuffle {
		next = c.pick(c.queue.len())
	} else {
		next = c.queue.index + 1
		if next >= c.queue.len() {
			if c.state.Repeat != RepeatAll {
				c.mutex.Unlock()
				return nil
			}
			next = 0
		}
	}

	track, _ := c.queue.at(next)
	tracks := c.queue.snapshot()
	c.mutex.Unlock()

	return c.PlayTrack(ctx, track, tracks, next)
}

// Previous steps back one entry. At the start of the queue it does nothing.
func (c *Controller) Previous(ctx context.Context) error {
	c.mutex.Lock()

	if c.queue.len() == 0 || c.queue.index <= 0 {
		c.mutex.Unlock()
		return nil
	}

	prev := c.queue.index - 1
	track, _ := c.queue.at(prev)
	tracks := c.queue.snapshot()
	c.mutex.Unlock()

	return c.PlayTrack(ctx, track, tracks, prev)
}

func (c *Controller) restartLocked() error {
	if err := c.media.SetPosition(0); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if err := c.media.Play(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	c.state.Position = 0
	c.state.Status = StatusPlaying
	c.resume = StatusPlaying
	c.touch()
	return nil
}

// ToggleShuffle flips shuffle mode
func (c *Controller) ToggleShuffle() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.state.Shuffle = !c.state.Shuffle
	c.touch()
}

// ToggleRepeat cycles the repeat mode and returns the new one
func (c *Controller) ToggleRepeat() RepeatMode {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.state.Repeat = c.state.Repeat.Next()
	c.touch()
	return c.state.Repeat
}

// Enqueue appends a track to the end of the queue without playing it
func (c *Controller) Enqueue(track models.Track) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.queue.appendTrack(track)
	c.touch()
}

// Stop pauses the media and clears the queue, returning to idle
func (c *Controller) Stop() error {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++
	c.resolving = false
	var err error
	if c.queue.current() != nil {
		err = c.media.Pause()
	}
	c.queue.clear()
	c.state.Status = StatusIdle
	c.resume = StatusIdle
	c.state.Position = 0
	c.state.Duration = 0
	c.touch()
	return err
}

// HandleEvent applies a media backend notification to the state.
// Ended advances the queue the same way Next does.
func (c *Controller) HandleEvent(ctx context.Context, ev media.Event) error {
	if ev.Kind == media.EventEnded {
		c.mutex.Lock()
		if c.queue.current() != nil && !c.resolving {
			c.state.Status = StatusPaused
			c.resume = StatusPaused
			c.unloaded = true
			c.touch()
		}
		c.mutex.Unlock()
		return c.Next(ctx)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch ev.Kind {
	case media.EventTimeUpdate:
		if c.queue.current() == nil {
			return nil
		}
		c.state.Position = ev.Position
		if ev.Duration > 0 {
			c.state.Duration = ev.Duration
		}
	case media.EventLoadStart:
		if c.resolving || c.queue.current() == nil || c.state.Status == StatusLoading {
			return nil
		}
		c.resume = c.state.Status
		c.state.Status = StatusLoading
	case media.EventCanPlay:
		if c.resolving || c.state.Status != StatusLoading {
			return nil
		}
		c.state.Status = c.resume
		if c.state.Status == StatusLoading || c.state.Status == StatusIdle {
			c.state.Status = StatusPlaying
		}
	case media.EventError:
		c.logger.WithError(ev.Err).Warn("Media error")
		if c.resolving {
			// the pending request decides the outcome; only the fallback changes
			c.resume = StatusPaused
			return nil
		}
		if c.queue.current() == nil {
			c.state.Status = StatusIdle
		} else {
			c.state.Status = StatusPaused
		}
		c.resume = c.state.Status
		c.unloaded = true
	default:
		return nil
	}
	c.touch()
	return nil
}

// Subscribe adds a listener for state changes
func (c *Controller) Subscribe() <-chan *State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ch := make(chan *State, 10)
	c.listeners = append(c.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (c *Controller) Unsubscribe(ch <-chan *State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			close(listener)
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// touch stamps the state and notifies listeners (must be called with lock held)
func (c *Controller) touch() {
	c.state.UpdatedAt = time.Now()
	c.notifyListeners()
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Track = c.queue.current()
	s.Queue = c.queue.snapshot()
	s.Index = c.queue.index
	return s
}

// notifyListeners sends state updates to all subscribers (must be called with lock held).
// A full listener misses this update and gets the next one.
func (c *Controller) notifyListeners() {
	for _, listener := range c.listeners {
		stateCopy := c.snapshotLocked()
		select {
		case listener <- &stateCopy:
		default:
		}
	}
}
