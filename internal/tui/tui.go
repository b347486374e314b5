// Package tui is the terminal front end: search field, results, history,
// queue and a now-playing panel bound to the controllers.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"saverino/internal/player"
	"saverino/internal/search"
	"saverino/pkg/models"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"
)

const (
	seekStep   = 10.0
	volumeStep = 0.1
)

// PlayerControl is the playback surface the UI drives
type PlayerControl interface {
	GetState() *player.State
	PlayTrack(ctx context.Context, track models.Track, queue []models.Track, index int) error
	PlayAt(ctx context.Context, index int) error
	TogglePlayPause(ctx context.Context) error
	Seek(seconds float64) error
	SetVolume(v float64) error
	ToggleMute() error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	ToggleShuffle()
	ToggleRepeat() player.RepeatMode
	Enqueue(track models.Track)
	Stop() error
	Subscribe() <-chan *player.State
	Unsubscribe(ch <-chan *player.State)
}

// SearchControl is the search surface the UI drives
type SearchControl interface {
	GetState() *search.State
	Search(query string, page int, appendResults bool)
	LoadMore()
	ClearHistory() error
	FeaturedSongs() string
	Flush() bool
	Subscribe() <-chan *search.State
	Unsubscribe(ch <-chan *search.State)
}

// Saver stores tracks in the local library
type Saver interface {
	Save(track models.Track) (models.DownloadJob, error)
}

// UI owns the tview application
type UI struct {
	app    *tview.Application
	player PlayerControl
	search SearchControl
	saver  Saver
	logger logrus.FieldLogger
	ctx    context.Context

	searchView  *tview.InputField
	resultsView *tview.List
	historyView *tview.List
	nowView     *tview.TextView
	queueView   *tview.List
	statusView  *tview.TextView
	helpView    *tview.TextView
	focusables  []tview.Primitive
	focusIdx    int

	mu          sync.Mutex
	results     []models.Track
	resultIDs   []string
	historyKeys []string
	queueKeys   []string
}

// New builds the UI. saver may be nil when saving is disabled.
func New(pc PlayerControl, sc SearchControl, saver Saver, logger logrus.FieldLogger) *UI {
	u := &UI{
		app:    tview.NewApplication(),
		player: pc,
		search: sc,
		saver:  saver,
		logger: logger,
		ctx:    context.Background(),
	}

	u.searchView = tview.NewInputField()
	u.searchView.SetLabel(" Search: ")
	u.searchView.SetFieldWidth(0)
	u.searchView.SetFieldBackgroundColor(tcell.ColorDarkSlateGray)

	u.resultsView = tview.NewList().ShowSecondaryText(false)
	u.resultsView.SetBorder(true).SetTitle(" Results [Enter=Play, a=Queue, d=Save, l=More] ")
	u.resultsView.SetHighlightFullLine(true)
	u.resultsView.SetSelectedBackgroundColor(tcell.ColorDarkCyan)

	u.historyView = tview.NewList().ShowSecondaryText(false)
	u.historyView.SetBorder(true).SetTitle(" Recent [Enter=Search, H=Clear] ")
	u.historyView.SetHighlightFullLine(true)
	u.historyView.SetSelectedBackgroundColor(tcell.ColorDarkCyan)

	u.nowView = tview.NewTextView()
	u.nowView.SetDynamicColors(true)
	u.nowView.SetBorder(true)
	u.nowView.SetTitle(" Now Playing ")
	u.nowView.SetText(formatNowPlaying(pc.GetState()))

	u.queueView = tview.NewList().ShowSecondaryText(false)
	u.queueView.SetBorder(true).SetTitle(" Queue [Enter=Play] ")
	u.queueView.SetHighlightFullLine(true)
	u.queueView.SetSelectedBackgroundColor(tcell.ColorDarkCyan)

	u.statusView = tview.NewTextView()
	u.statusView.SetDynamicColors(true)

	u.helpView = tview.NewTextView()
	u.helpView.SetDynamicColors(true)
	u.helpView.SetBorder(true)
	u.helpView.SetTitle(" Controls ")
	u.helpView.SetText(
		"[green]Space[-]  Play/Pause    [green]n/p[-]    Next/Prev\n" +
			"[green]←/→[-]    Seek 10s      [green]+/-[-]    Volume\n" +
			"[green]m[-]      Mute          [green]s[-]      Shuffle\n" +
			"[green]r[-]      Repeat        [green]x[-]      Stop\n" +
			"[green]f[-]      Featured      [green]Tab[-]    Next panel\n" +
			"[green]Esc[-]    Leave search  [green]q[-]      Quit",
	)

	u.focusables = []tview.Primitive{u.searchView, u.resultsView, u.historyView, u.queueView}

	searchBox := tview.NewFlex().
		AddItem(nil, 1, 0, false).
		AddItem(u.searchView, 0, 1, true).
		AddItem(nil, 1, 0, false)

	leftPanel := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(searchBox, 1, 0, true).
		AddItem(u.statusView, 1, 0, false).
		AddItem(u.resultsView, 0, 3, false).
		AddItem(u.historyView, 0, 1, false)

	rightPanel := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(u.nowView, 0, 2, false).
		AddItem(u.queueView, 0, 3, false).
		AddItem(u.helpView, 8, 0, false)

	mainFlex := tview.NewFlex().
		AddItem(leftPanel, 0, 2, true).
		AddItem(rightPanel, 0, 1, false)

	u.app.SetRoot(mainFlex, true).EnableMouse(true)
	u.setupHandlers()
	u.app.SetFocus(u.searchView)
	return u
}

// Run renders state updates until the user quits or ctx is cancelled
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.ctx = ctx

	playerCh := u.player.Subscribe()
	searchCh := u.search.Subscribe()
	defer u.player.Unsubscribe(playerCh)
	defer u.search.Unsubscribe(searchCh)

	u.renderSearch(u.search.GetState())
	u.renderPlayer(u.player.GetState())

	go func() {
		for {
			select {
			case <-ctx.Done():
				u.app.Stop()
				return
			case s, ok := <-playerCh:
				if !ok {
					return
				}
				u.app.QueueUpdateDraw(func() { u.renderPlayer(s) })
			case s, ok := <-searchCh:
				if !ok {
					return
				}
				u.app.QueueUpdateDraw(func() { u.renderSearch(s) })
			}
		}
	}()

	return u.app.Run()
}

// Stop ends Run
func (u *UI) Stop() {
	u.app.Stop()
}

func (u *UI) setupHandlers() {
	// search as you type; the controller debounces
	u.searchView.SetChangedFunc(func(text string) {
		u.search.Search(text, 1, false)
	})
	u.searchView.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			go u.search.Flush()
			u.setFocus(1)
		}
	})

	u.resultsView.SetSelectedFunc(func(idx int, _ string, _ string, _ rune) {
		u.mu.Lock()
		if idx < 0 || idx >= len(u.results) {
			u.mu.Unlock()
			return
		}
		queue := append([]models.Track(nil), u.results...)
		u.mu.Unlock()

		u.async("play", func() error {
			return u.player.PlayTrack(u.ctx, queue[idx], queue, idx)
		})
	})
	u.resultsView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'a':
			if t, ok := u.selectedResult(); ok {
				u.player.Enqueue(t)
				u.setStatus(fmt.Sprintf("[green]+ Queued:[-] %s", tview.Escape(t.DisplayName())))
			}
			return nil
		case 'd':
			u.saveSelected()
			return nil
		case 'l':
			u.search.LoadMore()
			go u.search.Flush()
			return nil
		}
		return event
	})

	u.historyView.SetSelectedFunc(func(idx int, _ string, _ string, _ rune) {
		u.mu.Lock()
		if idx < 0 || idx >= len(u.historyKeys) {
			u.mu.Unlock()
			return
		}
		query := u.historyKeys[idx]
		u.mu.Unlock()

		u.searchView.SetText(query)
		go u.search.Flush()
		u.setFocus(1)
	})
	u.historyView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'H' {
			if err := u.search.ClearHistory(); err != nil {
				u.setStatus(fmt.Sprintf("[red]Failed to clear history:[-] %v", err))
			}
			return nil
		}
		return event
	})

	u.queueView.SetSelectedFunc(func(idx int, _ string, _ string, _ rune) {
		u.async("play", func() error { return u.player.PlayAt(u.ctx, idx) })
	})

	u.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if u.app.GetFocus() == u.searchView {
			switch event.Key() {
			case tcell.KeyTab:
				u.nextFocus()
				return nil
			case tcell.KeyBacktab:
				u.prevFocus()
				return nil
			case tcell.KeyEsc:
				u.setFocus(1)
				return nil
			case tcell.KeyCtrlC:
				u.app.Stop()
				return nil
			}
			return event
		}
		return u.handleGlobalKey(event)
	})
}

func (u *UI) handleGlobalKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC:
		u.app.Stop()
		return nil
	case tcell.KeyTab:
		u.nextFocus()
		return nil
	case tcell.KeyBacktab:
		u.prevFocus()
		return nil
	case tcell.KeyEsc:
		u.setFocus(1)
		return nil
	case tcell.KeyLeft:
		u.seekBy(-seekStep)
		return nil
	case tcell.KeyRight:
		u.seekBy(seekStep)
		return nil
	}

	switch event.Rune() {
	case 'q', 'Q':
		u.app.Stop()
	case ' ':
		u.async("play/pause", func() error { return u.player.TogglePlayPause(u.ctx) })
	case 'n':
		u.async("next", func() error { return u.player.Next(u.ctx) })
	case 'p':
		u.async("previous", func() error { return u.player.Previous(u.ctx) })
	case 's':
		u.player.ToggleShuffle()
	case 'r':
		mode := u.player.ToggleRepeat()
		u.setStatus(fmt.Sprintf("Repeat: [yellow]%s[-]", mode))
	case 'm':
		u.report("mute", u.player.ToggleMute())
	case '+', '=':
		u.report("volume", u.player.SetVolume(u.player.GetState().Volume+volumeStep))
	case '-':
		u.report("volume", u.player.SetVolume(u.player.GetState().Volume-volumeStep))
	case 'x':
		u.report("stop", u.player.Stop())
	case 'f':
		term := u.search.FeaturedSongs()
		u.searchView.SetText(term)
		go u.search.Flush()
	case '/':
		u.setFocus(0)
	default:
		return event
	}
	return nil
}

func (u *UI) seekBy(delta float64) {
	s := u.player.GetState()
	if !s.HasTrack() {
		return
	}
	u.report("seek", u.player.Seek(s.Position+delta))
}

func (u *UI) selectedResult() (models.Track, bool) {
	idx := u.resultsView.GetCurrentItem()
	u.mu.Lock()
	defer u.mu.Unlock()
	if idx < 0 || idx >= len(u.results) {
		return models.Track{}, false
	}
	return u.results[idx], true
}

func (u *UI) saveSelected() {
	if u.saver == nil {
		u.setStatus("[yellow]Saving is disabled in config[-]")
		return
	}
	t, ok := u.selectedResult()
	if !ok {
		return
	}
	if _, err := u.saver.Save(t); err != nil {
		u.setStatus(fmt.Sprintf("[red]Save failed:[-] %v", err))
		return
	}
	u.setStatus(fmt.Sprintf("[green]Saving:[-] %s", tview.Escape(t.DisplayName())))
}

// async runs a blocking controller call off the UI goroutine
func (u *UI) async(op string, fn func() error) {
	go func() {
		err := fn()
		if errors.Is(err, player.ErrSuperseded) {
			return
		}
		if err != nil {
			u.logger.WithError(err).WithField("op", op).Warn("Playback operation failed")
			u.app.QueueUpdateDraw(func() { u.showError(op, err) })
		}
	}()
}

// report shows the error of a synchronous call; must run on the UI goroutine
func (u *UI) report(op string, err error) {
	if err != nil && !errors.Is(err, player.ErrNoTrack) {
		u.logger.WithError(err).WithField("op", op).Warn("Playback operation failed")
		u.showError(op, err)
	}
}

func (u *UI) showError(op string, err error) {
	u.statusView.SetText(fmt.Sprintf("[red]%s failed:[-] %s", op, tview.Escape(err.Error())))
}

// setStatus must run on the UI goroutine
func (u *UI) setStatus(text string) {
	u.statusView.SetText(text)
}

func (u *UI) setFocus(i int) {
	u.focusIdx = i
	u.app.SetFocus(u.focusables[i])
}

func (u *UI) nextFocus() {
	u.setFocus((u.focusIdx + 1) % len(u.focusables))
}

func (u *UI) prevFocus() {
	i := u.focusIdx - 1
	if i < 0 {
		i = len(u.focusables) - 1
	}
	u.setFocus(i)
}

// renderPlayer must run on the UI goroutine
func (u *UI) renderPlayer(s *player.State) {
	u.nowView.SetText(formatNowPlaying(s))

	keys := make([]string, len(s.Queue))
	for i := range s.Queue {
		keys[i] = formatQueueLine(i, &s.Queue[i], i == s.Index)
	}
	u.mu.Lock()
	changed := !equalStrings(keys, u.queueKeys)
	u.queueKeys = keys
	u.mu.Unlock()
	if !changed {
		return
	}

	current := u.queueView.GetCurrentItem()
	u.queueView.Clear()
	for _, line := range keys {
		u.queueView.AddItem(line, "", 0, nil)
	}
	if current < len(keys) {
		u.queueView.SetCurrentItem(current)
	}
}

// renderSearch must run on the UI goroutine
func (u *UI) renderSearch(s *search.State) {
	u.statusView.SetText(formatSearchStatus(s))

	ids := make([]string, len(s.Results))
	for i, t := range s.Results {
		ids[i] = t.ID
	}

	u.mu.Lock()
	resultsChanged := !equalStrings(ids, u.resultIDs)
	historyChanged := !equalStrings(s.History, u.historyKeys)
	u.results = s.Results
	u.resultIDs = ids
	u.historyKeys = s.History
	u.mu.Unlock()

	if resultsChanged {
		current := u.resultsView.GetCurrentItem()
		u.resultsView.Clear()
		for i := range s.Results {
			u.resultsView.AddItem(formatResultLine(i, &s.Results[i]), "", 0, nil)
		}
		// appended pages keep the cursor, fresh searches start at the top
		if s.Page > 1 && current < len(s.Results) {
			u.resultsView.SetCurrentItem(current)
		}
	}

	if historyChanged {
		u.historyView.Clear()
		for _, q := range s.History {
			u.historyView.AddItem(tview.Escape(q), "", 0, nil)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
