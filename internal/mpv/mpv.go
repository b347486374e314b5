// Package mpv drives an mpv process over its JSON IPC socket and exposes it
// as a media.Player.
package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"saverino/internal/media"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	commandTimeout = 5 * time.Second
	dialTimeout    = 5 * time.Second

	// time-pos changes many times per second; only forward meaningful steps
	positionStep = 0.25

	observeTimePos  = 1
	observeDuration = 2
)

// ErrClosed is returned for commands issued after Close
var ErrClosed = errors.New("mpv: player closed")

// Options configures the mpv process
type Options struct {
	Path        string
	AudioDevice string
	SocketDir   string
}

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type message struct {
	// replies
	RequestID *int64          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// events
	Event     string `json:"event,omitempty"`
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason,omitempty"`
	FileError string `json:"file_error,omitempty"`
}

type reply struct {
	data json.RawMessage
	err  error
}

// Player is a media.Player backed by mpv
type Player struct {
	cmd    *exec.Cmd
	socket string
	conn   net.Conn
	logger logrus.FieldLogger

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan reply

	events chan media.Event
	done   chan struct{}
	closed atomic.Bool

	stateMu      sync.Mutex
	duration     float64
	lastPosition float64
}

// Start spawns an idle mpv process and connects to its IPC socket.
func Start(opts Options, logger logrus.FieldLogger) (*Player, error) {
	path := opts.Path
	if path == "" {
		path = "mpv"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("mpv not found: %w", err)
	}

	dir := opts.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	socket := filepath.Join(dir, fmt.Sprintf("saverino-mpv-%s.sock", uuid.New().String()))

	args := []string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--really-quiet",
		"--input-ipc-server=" + socket,
	}
	if opts.AudioDevice != "" {
		args = append(args, "--audio-device="+opts.AudioDevice)
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	// keep mpv out of our process group so terminal signals don't reach it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mpv: %w", err)
	}

	conn, err := dialSocket(socket, dialTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	p := newPlayer(conn, logger)
	p.cmd = cmd
	p.socket = socket

	if err := p.observe(); err != nil {
		p.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"socket": socket,
	}).Info("mpv started")
	return p, nil
}

func dialSocket(socket string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failed to connect to mpv socket %s: %w", socket, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// newPlayer wires a Player around an established IPC connection.
func newPlayer(conn net.Conn, logger logrus.FieldLogger) *Player {
	p := &Player{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan reply),
		events:  make(chan media.Event, 128),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Player) observe() error {
	if _, err := p.command("observe_property", observeTimePos, "time-pos"); err != nil {
		return fmt.Errorf("failed to observe time-pos: %w", err)
	}
	if _, err := p.command("observe_property", observeDuration, "duration"); err != nil {
		return fmt.Errorf("failed to observe duration: %w", err)
	}
	return nil
}

// Events returns the notification channel. It is closed when the connection ends.
func (p *Player) Events() <-chan media.Event {
	return p.events
}

// Load replaces the current source and starts loading it
func (p *Player) Load(url string) error {
	p.stateMu.Lock()
	p.duration = 0
	p.lastPosition = 0
	p.stateMu.Unlock()

	_, err := p.command("loadfile", url, "replace")
	return err
}

// Play resumes playback
func (p *Player) Play() error {
	_, err := p.command("set_property", "pause", false)
	return err
}

// Pause pauses playback
func (p *Player) Pause() error {
	_, err := p.command("set_property", "pause", true)
	return err
}

// SetPosition seeks to an absolute position in seconds
func (p *Player) SetPosition(seconds float64) error {
	_, err := p.command("seek", seconds, "absolute")
	return err
}

// Position returns the playback position in seconds
func (p *Player) Position() (float64, error) {
	return p.getFloat("time-pos")
}

// Duration returns the length of the loaded source in seconds
func (p *Player) Duration() (float64, error) {
	return p.getFloat("duration")
}

// SetVolume sets the volume from a 0..1 fraction
func (p *Player) SetVolume(v float64) error {
	_, err := p.command("set_property", "volume", math.Round(v*100))
	return err
}

// Volume returns the volume as a 0..1 fraction
func (p *Player) Volume() (float64, error) {
	v, err := p.getFloat("volume")
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

// Close stops mpv and releases the socket
func (p *Player) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	// best effort; mpv exits on quit
	p.writeMu.Lock()
	_ = json.NewEncoder(p.conn).Encode(request{Command: []interface{}{"quit"}})
	p.writeMu.Unlock()

	err := p.conn.Close()
	<-p.done

	if p.cmd != nil && p.cmd.Process != nil {
		waitCh := make(chan error, 1)
		go func() { waitCh <- p.cmd.Wait() }()
		select {
		case <-waitCh:
		case <-time.After(3 * time.Second):
			if pgid, perr := syscall.Getpgid(p.cmd.Process.Pid); perr == nil {
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
			}
			_ = p.cmd.Process.Kill()
			<-waitCh
		}
	}
	if p.socket != "" {
		_ = os.Remove(p.socket)
	}
	return err
}

func (p *Player) getFloat(property string) (float64, error) {
	data, err := p.command("get_property", property)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("mpv: unexpected %s value %s: %w", property, data, err)
	}
	return v, nil
}

func (p *Player) command(args ...interface{}) (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	id := atomic.AddInt64(&p.nextID, 1)
	ch := make(chan reply, 1)

	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	p.writeMu.Lock()
	err := json.NewEncoder(p.conn).Encode(request{Command: args, RequestID: id})
	p.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("mpv: write %v: %w", args[0], err)
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-p.done:
		return nil, ErrClosed
	case <-time.After(commandTimeout):
		return nil, fmt.Errorf("mpv: %v timed out", args[0])
	}
}

func (p *Player) readLoop() {
	defer close(p.done)
	defer close(p.events)

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.logger.WithError(err).Debug("mpv: skipping malformed message")
			continue
		}
		if msg.Event != "" {
			p.handleEvent(msg)
			continue
		}
		if msg.RequestID != nil {
			p.deliver(*msg.RequestID, msg)
		}
	}
	if err := scanner.Err(); err != nil && !p.closed.Load() {
		p.logger.WithError(err).Warn("mpv connection lost")
	}
}

func (p *Player) deliver(id int64, msg message) {
	p.pendingMu.Lock()
	ch, ok := p.pending[id]
	p.pendingMu.Unlock()
	if !ok {
		return
	}

	r := reply{data: msg.Data}
	if msg.Error != "" && msg.Error != "success" {
		r.err = fmt.Errorf("mpv: %s", msg.Error)
	}
	ch <- r
}

func (p *Player) handleEvent(msg message) {
	switch msg.Event {
	case "start-file":
		p.emit(media.Event{Kind: media.EventLoadStart})
	case "playback-restart":
		p.emit(media.Event{Kind: media.EventCanPlay})
	case "end-file":
		switch msg.Reason {
		case "eof":
			p.emit(media.Event{Kind: media.EventEnded})
		case "error":
			p.emit(media.Event{Kind: media.EventError, Err: fmt.Errorf("mpv: %s", msg.FileError)})
		}
	case "property-change":
		p.handlePropertyChange(msg)
	}
}

func (p *Player) handlePropertyChange(msg message) {
	var v float64
	if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &v) != nil {
		// property unavailable, e.g. nothing loaded
		return
	}

	p.stateMu.Lock()
	switch msg.ID {
	case observeDuration:
		p.duration = v
	case observeTimePos:
		if math.Abs(v-p.lastPosition) < positionStep {
			p.stateMu.Unlock()
			return
		}
		p.lastPosition = v
	default:
		p.stateMu.Unlock()
		return
	}
	ev := media.Event{Kind: media.EventTimeUpdate, Position: p.lastPosition, Duration: p.duration}
	p.stateMu.Unlock()

	p.emit(ev)
}

// emit never blocks: a stalled consumer must not stall command replies.
func (p *Player) emit(ev media.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.WithField("event", ev.Kind.String()).Warn("mpv: event channel full, dropping event")
	}
}
