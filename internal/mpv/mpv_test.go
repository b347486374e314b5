package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"saverino/internal/media"

	"github.com/sirupsen/logrus"
)

// fakeMPV answers IPC commands on the server end of a pipe.
type fakeMPV struct {
	conn net.Conn

	mu       sync.Mutex
	commands [][]interface{}
	props    map[string]interface{}
}

func newFakeMPV(t *testing.T) (*Player, *fakeMPV) {
	t.Helper()
	client, server := net.Pipe()

	f := &fakeMPV{
		conn:  server,
		props: map[string]interface{}{"time-pos": 12.5, "duration": 200.0, "volume": 70.0},
	}
	go f.serve()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	p := newPlayer(client, logger)
	t.Cleanup(func() {
		p.Close()
		server.Close()
	})
	return p, f
}

func (f *fakeMPV) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		resp := map[string]interface{}{"request_id": req.RequestID, "error": "success"}
		if len(req.Command) == 2 && req.Command[0] == "get_property" {
			name := req.Command[1].(string)
			if v, ok := f.props[name]; ok {
				resp["data"] = v
			} else {
				resp["error"] = "property unavailable"
			}
		}
		f.mu.Unlock()

		if req.Command[0] == "quit" {
			continue
		}
		f.send(resp)
	}
}

func (f *fakeMPV) send(msg map[string]interface{}) {
	data, _ := json.Marshal(msg)
	f.conn.Write(append(data, '\n'))
}

func (f *fakeMPV) lastCommand() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return nil
	}
	return f.commands[len(f.commands)-1]
}

func nextEvent(t *testing.T, p *Player) media.Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return media.Event{}
	}
}

func TestCommandsAreEncoded(t *testing.T) {
	p, f := newFakeMPV(t)

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{name: "load", run: func() error { return p.Load("https://cdn/a.mp3") }, want: `["loadfile","https://cdn/a.mp3","replace"]`},
		{name: "play", run: p.Play, want: `["set_property","pause",false]`},
		{name: "pause", run: p.Pause, want: `["set_property","pause",true]`},
		{name: "seek", run: func() error { return p.SetPosition(42) }, want: `["seek",42,"absolute"]`},
		{name: "volume", run: func() error { return p.SetVolume(0.7) }, want: `["set_property","volume",70]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err != nil {
				t.Fatalf("command failed: %v", err)
			}
			got, _ := json.Marshal(f.lastCommand())
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGetProperties(t *testing.T) {
	p, _ := newFakeMPV(t)

	pos, err := p.Position()
	if err != nil || pos != 12.5 {
		t.Errorf("Position() = %v, %v", pos, err)
	}
	dur, err := p.Duration()
	if err != nil || dur != 200 {
		t.Errorf("Duration() = %v, %v", dur, err)
	}
	vol, err := p.Volume()
	if err != nil || vol != 0.7 {
		t.Errorf("Volume() = %v, %v", vol, err)
	}
}

func TestCommandError(t *testing.T) {
	p, f := newFakeMPV(t)
	f.mu.Lock()
	delete(f.props, "time-pos")
	f.mu.Unlock()

	if _, err := p.Position(); err == nil {
		t.Error("expected error for unavailable property")
	}
}

func TestEventsAreTranslated(t *testing.T) {
	p, f := newFakeMPV(t)

	f.send(map[string]interface{}{"event": "start-file"})
	if ev := nextEvent(t, p); ev.Kind != media.EventLoadStart {
		t.Errorf("expected loadstart, got %s", ev.Kind)
	}

	f.send(map[string]interface{}{"event": "playback-restart"})
	if ev := nextEvent(t, p); ev.Kind != media.EventCanPlay {
		t.Errorf("expected canplay, got %s", ev.Kind)
	}

	f.send(map[string]interface{}{"event": "property-change", "id": observeDuration, "name": "duration", "data": 180.0})
	ev := nextEvent(t, p)
	if ev.Kind != media.EventTimeUpdate || ev.Duration != 180 {
		t.Errorf("expected timeupdate with duration 180, got %+v", ev)
	}

	f.send(map[string]interface{}{"event": "property-change", "id": observeTimePos, "name": "time-pos", "data": 3.0})
	ev = nextEvent(t, p)
	if ev.Kind != media.EventTimeUpdate || ev.Position != 3 || ev.Duration != 180 {
		t.Errorf("expected timeupdate 3/180, got %+v", ev)
	}

	// below the step threshold: swallowed; the stop reason is ignored too
	f.send(map[string]interface{}{"event": "property-change", "id": observeTimePos, "name": "time-pos", "data": 3.1})
	f.send(map[string]interface{}{"event": "end-file", "reason": "stop"})
	f.send(map[string]interface{}{"event": "end-file", "reason": "eof"})
	if ev := nextEvent(t, p); ev.Kind != media.EventEnded {
		t.Errorf("expected ended, got %s", ev.Kind)
	}

	f.send(map[string]interface{}{"event": "end-file", "reason": "error", "file_error": "unrecognized file format"})
	ev = nextEvent(t, p)
	if ev.Kind != media.EventError || ev.Err == nil {
		t.Errorf("expected error event, got %+v", ev)
	}
}

func TestCommandAfterClose(t *testing.T) {
	p, _ := newFakeMPV(t)
	p.Close()

	if err := p.Play(); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-p.Events(); ok {
		t.Error("expected events channel to be closed")
	}
}

func TestPropertyChangeWithoutData(t *testing.T) {
	p, f := newFakeMPV(t)

	f.send(map[string]interface{}{"event": "property-change", "id": observeTimePos, "name": "time-pos"})
	f.send(map[string]interface{}{"event": "start-file"})

	ev := nextEvent(t, p)
	if ev.Kind != media.EventLoadStart {
		t.Errorf("unavailable property must not emit, got %s", ev.Kind)
	}
}
