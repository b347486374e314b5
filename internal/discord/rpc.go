// Package discord mirrors the player's now-playing state into Discord Rich
// Presence.
package discord

import (
	"context"
	"time"

	"saverino/internal/config"
	"saverino/internal/player"
	"saverino/pkg/models"

	"github.com/hugolgst/rich-go/client"
	"github.com/sirupsen/logrus"
)

const (
	// retryInterval spaces out login attempts while Discord is not running
	retryInterval = 30 * time.Second
	// seekTolerance is how far the derived start time may drift before a
	// playing track is republished
	seekTolerance = 2 * time.Second
)

// Client is the Rich Presence connection
type Client interface {
	Login(applicationID string) error
	Logout()
	SetActivity(activity client.Activity) error
}

type richClient struct{}

func (richClient) Login(applicationID string) error { return client.Login(applicationID) }
func (richClient) Logout() { client.Logout() }
func (richClient) SetActivity(a client.Activity) error { return client.SetActivity(a) }

// StateSource delivers player snapshots
type StateSource interface {
	Subscribe() <-chan *player.State
	Unsubscribe(ch <-chan *player.State)
}

type presenceKey struct {
	trackID string
	status  player.Status
	start   time.Time
}

func (k presenceKey) same(o presenceKey) bool {
	if k.trackID != o.trackID || k.status != o.status {
		return false
	}
	d := k.start.Sub(o.start)
	return d < seekTolerance && d > -seekTolerance
}

// RPCService handles Discord Rich Presence functionality
type RPCService struct {
	cfg    config.DiscordConfig
	client Client
	logger logrus.FieldLogger
	now    func() time.Time

	connected   bool
	lastAttempt time.Time
	last        presenceKey
	published   bool
}

// Option configures an RPCService
type Option func(*RPCService)

// WithClient replaces the Discord IPC client
func WithClient(c Client) Option {
	return func(d *RPCService) { d.client = c }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *RPCService) { d.logger = logger }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *RPCService) { d.now = now }
}

// NewRPCService creates a new Discord RPC service. Nothing connects until the
// first state update.
func NewRPCService(cfg config.DiscordConfig, opts ...Option) *RPCService {
	d := &RPCService{
		cfg:    cfg,
		client: richClient{},
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run publishes presence for every player update until ctx is cancelled or
// the source closes the subscription.
func (d *RPCService) Run(ctx context.Context, src StateSource) {
	ch := src.Subscribe()
	defer src.Unsubscribe(ch)
	defer d.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			d.Update(s)
		}
	}
}

// Update pushes the activity for s unless Discord already shows it.
// Connection and publish failures are logged and retried later.
func (d *RPCService) Update(s *player.State) {
	if !d.cfg.Enabled {
		return
	}

	now := d.now()
	key := keyFor(s, now)
	if d.published && key.same(d.last) {
		return
	}
	if !d.connect(now) {
		return
	}

	if err := d.client.SetActivity(BuildActivity(s, d.cfg, now)); err != nil {
		d.logger.WithError(err).Warn("Failed to update Discord activity")
		d.connected = false
		return
	}
	d.last = key
	d.published = true
}

func (d *RPCService) connect(now time.Time) bool {
	if d.connected {
		return true
	}
	if !d.lastAttempt.IsZero() && now.Sub(d.lastAttempt) < retryInterval {
		return false
	}
	d.lastAttempt = now

	if err := d.client.Login(d.cfg.ApplicationID); err != nil {
		d.logger.WithError(err).Warn("Discord RPC unavailable")
		return false
	}
	d.connected = true
	d.published = false
	d.logger.Info("Connected to Discord RPC")
	return true
}

// Disconnect closes the Discord RPC connection
func (d *RPCService) Disconnect() {
	if !d.connected {
		return
	}
	d.client.Logout()
	d.connected = false
	d.logger.Info("Disconnected from Discord RPC")
}

// IsConnected returns whether Discord RPC is connected
func (d *RPCService) IsConnected() bool {
	return d.connected
}

func keyFor(s *player.State, now time.Time) presenceKey {
	if s == nil || s.Track == nil {
		return presenceKey{status: player.StatusIdle}
	}
	k := presenceKey{trackID: s.Track.ID, status: s.Status}
	if s.Status == player.StatusPlaying {
		k.start = startedAt(s, now)
	}
	return k
}

func startedAt(s *player.State, now time.Time) time.Time {
	return now.Add(-time.Duration(s.Position * float64(time.Second)))
}

// BuildActivity maps a player snapshot to the Rich Presence payload. A
// playing track carries start/end timestamps so Discord shows elapsed time.
func BuildActivity(s *player.State, cfg config.DiscordConfig, now time.Time) client.Activity {
	if s == nil || s.Track == nil {
		return client.Activity{
			Details:    "Browsing music",
			State:      "Not playing",
			LargeImage: cfg.LargeImageKey,
			LargeText:  "saverino",
			SmallImage: "idle",
			SmallText:  "Idle",
		}
	}

	t := s.Track
	activity := client.Activity{
		Details:    t.DisplayName(),
		State:      "by " + t.DisplayArtists(),
		LargeImage: cfg.LargeImageKey,
		LargeText:  "saverino",
		SmallImage: "pause",
		SmallText:  "Paused",
	}
	if album := models.SanitizeHTML(t.Album.Name); album != "" {
		activity.LargeText = album
		activity.State += " • " + album
	}

	switch s.Status {
	case player.StatusPlaying:
		activity.SmallImage = "play"
		activity.SmallText = "Playing"
		if s.Duration > 0 {
			start := startedAt(s, now)
			end := start.Add(time.Duration(s.Duration * float64(time.Second)))
			activity.Timestamps = &client.Timestamps{Start: &start, End: &end}
		}
	case player.StatusLoading:
		activity.SmallImage = cfg.SmallImageKey
		activity.SmallText = "Loading"
	}
	return activity
}
