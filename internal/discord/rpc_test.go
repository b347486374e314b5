package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"saverino/internal/config"
	"saverino/internal/player"
	"saverino/pkg/models"

	"github.com/hugolgst/rich-go/client"
	"github.com/sirupsen/logrus"
)

type fakeClient struct {
	mu         sync.Mutex
	loginErr   error
	logins     int
	logouts    int
	activities []client.Activity
}

func (f *fakeClient) Login(applicationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeClient) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
}

func (f *fakeClient) SetActivity(a client.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeClient) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activities)
}

type fakeSource struct {
	ch           chan *player.State
	unsubscribed bool
}

func (f *fakeSource) Subscribe() <-chan *player.State { return f.ch }
func (f *fakeSource) Unsubscribe(ch <-chan *player.State) { f.unsubscribed = true }

var testCfg = config.DiscordConfig{Enabled: true, ApplicationID: "1", LargeImageKey: "logo", SmallImageKey: "note"}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func playing(position float64) *player.State {
	return &player.State{
		Track:    &models.Track{ID: "a", Name: "Tum Hi Ho", PrimaryArtists: "Arijit Singh", Album: models.Album{Name: "Aashiqui 2"}},
		Status:   player.StatusPlaying,
		Position: position,
		Duration: 262,
	}
}

func TestBuildActivity(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	idle := BuildActivity(&player.State{Index: -1}, testCfg, now)
	if idle.State != "Not playing" || idle.SmallImage != "idle" || idle.Timestamps != nil {
		t.Errorf("unexpected idle activity %+v", idle)
	}

	a := BuildActivity(playing(62), testCfg, now)
	if a.Details != "Tum Hi Ho" || a.State != "by Arijit Singh • Aashiqui 2" {
		t.Errorf("unexpected text %q / %q", a.Details, a.State)
	}
	if a.SmallImage != "play" || a.LargeImage != "logo" || a.LargeText != "Aashiqui 2" {
		t.Errorf("unexpected images %+v", a)
	}
	if a.Timestamps == nil {
		t.Fatal("expected timestamps while playing")
	}
	if want := now.Add(-62 * time.Second); !a.Timestamps.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, *a.Timestamps.Start)
	}
	if want := now.Add(200 * time.Second); !a.Timestamps.End.Equal(want) {
		t.Errorf("expected end %v, got %v", want, *a.Timestamps.End)
	}

	paused := playing(62)
	paused.Status = player.StatusPaused
	if a := BuildActivity(paused, testCfg, now); a.SmallImage != "pause" || a.Timestamps != nil {
		t.Errorf("paused activity must not carry timestamps: %+v", a)
	}

	loading := playing(0)
	loading.Status = player.StatusLoading
	if a := BuildActivity(loading, testCfg, now); a.SmallImage != "note" || a.SmallText != "Loading" {
		t.Errorf("unexpected loading activity %+v", a)
	}
}

func TestUpdateSkipsUnchangedPresence(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fc := &fakeClient{}
	d := NewRPCService(testCfg, WithClient(fc), WithLogger(quietLogger()), WithClock(func() time.Time { return now }))

	d.Update(playing(10))
	now = now.Add(time.Second)
	d.Update(playing(11))
	if fc.published() != 1 {
		t.Errorf("steady playback must publish once, got %d", fc.published())
	}

	// a seek moves the derived start time
	d.Update(playing(100))
	if fc.published() != 2 {
		t.Errorf("expected republish after seek, got %d", fc.published())
	}

	paused := playing(100)
	paused.Status = player.StatusPaused
	d.Update(paused)
	if fc.published() != 3 {
		t.Errorf("expected republish on pause, got %d", fc.published())
	}
	if fc.logins != 1 {
		t.Errorf("expected a single login, got %d", fc.logins)
	}
}

func TestUpdateRetriesLoginLater(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fc := &fakeClient{loginErr: errors.New("discord not running")}
	d := NewRPCService(testCfg, WithClient(fc), WithLogger(quietLogger()), WithClock(func() time.Time { return now }))

	d.Update(playing(1))
	now = now.Add(5 * time.Second)
	d.Update(playing(6))
	if fc.logins != 1 || fc.published() != 0 || d.IsConnected() {
		t.Errorf("expected one failed attempt, got logins=%d published=%d", fc.logins, fc.published())
	}

	fc.loginErr = nil
	now = now.Add(retryInterval)
	d.Update(playing(40))
	if fc.logins != 2 || fc.published() != 1 || !d.IsConnected() {
		t.Errorf("expected reconnect after the retry interval, got logins=%d published=%d", fc.logins, fc.published())
	}
}

func TestUpdateDisabled(t *testing.T) {
	fc := &fakeClient{}
	d := NewRPCService(config.DiscordConfig{}, WithClient(fc), WithLogger(quietLogger()))

	d.Update(playing(1))
	if fc.logins != 0 || fc.published() != 0 {
		t.Error("disabled service must not touch Discord")
	}
}

func TestRunFollowsSubscription(t *testing.T) {
	fc := &fakeClient{}
	src := &fakeSource{ch: make(chan *player.State, 2)}
	d := NewRPCService(testCfg, WithClient(fc), WithLogger(quietLogger()))

	src.ch <- playing(3)
	close(src.ch)
	d.Run(context.Background(), src)

	if fc.published() != 1 {
		t.Errorf("expected one activity, got %d", fc.published())
	}
	if !src.unsubscribed || fc.logouts != 1 || d.IsConnected() {
		t.Errorf("expected unsubscribe and logout on exit, got %v %d", src.unsubscribed, fc.logouts)
	}
}
