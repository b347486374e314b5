// Package search owns the query, paged results and search history.
package search

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"saverino/internal/debounce"
	"saverino/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDebounce is the quiet period before a search hits the network
	DefaultDebounce = 300 * time.Millisecond
	// DefaultHistorySize is how many recent queries are remembered
	DefaultHistorySize = 10

	msgNoResults = "No results found"
	msgFailed    = "Search failed. Please try again."
)

// DefaultFeaturedTerms seed the results list on startup
var DefaultFeaturedTerms = []string{"trending", "bollywood", "english", "punjabi", "tamil"}

// Searcher fetches one page of results
type Searcher interface {
	SearchSongs(ctx context.Context, query string, page int) (*models.SearchResponse, error)
}

// HistoryStore persists the recent query list
type HistoryStore interface {
	LoadHistory() ([]string, error)
	SaveHistory(history []string) error
	ClearHistory() error
}

// State is a snapshot of the search session
type State struct {
	Query     string         `json:"query"`
	Results   []models.Track `json:"results"`
	Loading   bool           `json:"isLoading"`
	Error     string         `json:"error,omitempty"`
	Page      int            `json:"page"`
	HasMore   bool           `json:"hasMore"`
	History   []string       `json:"history"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type request struct {
	query  string
	page   int
	append bool
}

// Options configures a Controller
type Options struct {
	Debounce      time.Duration
	HistorySize   int
	FeaturedTerms []string
	Logger        logrus.FieldLogger
	// Pick returns a value in [0, n); defaults to math/rand
	Pick func(n int) int
}

// Controller runs debounced searches. Each fetch bumps a generation; results
// of older generations are discarded and their requests cancelled.
type Controller struct {
	searcher    Searcher
	store       HistoryStore
	logger      logrus.FieldLogger
	historySize int
	featured    []string
	pick        func(n int) int
	debouncer   *debounce.Debouncer[request]

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mutex      sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	listeners  []chan *State
}

// NewController creates a search controller and loads persisted history.
// A history that cannot be read starts empty.
func NewController(searcher Searcher, store HistoryStore, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if len(opts.FeaturedTerms) == 0 {
		opts.FeaturedTerms = DefaultFeaturedTerms
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Pick == nil {
		opts.Pick = rand.New(rand.NewSource(time.Now().UnixNano())).Intn
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		searcher:    searcher,
		store:       store,
		logger:      opts.Logger,
		historySize: opts.HistorySize,
		featured:    append([]string(nil), opts.FeaturedTerms...),
		pick:        opts.Pick,
		baseCtx:     ctx,
		baseCancel:  cancel,
		state: State{
			Page:      1,
			HasMore:   true,
			UpdatedAt: time.Now(),
		},
	}
	c.debouncer = debounce.New(opts.Debounce, c.fetch)

	if store != nil {
		history, err := store.LoadHistory()
		if err != nil {
			c.logger.WithError(err).Warn("Failed to load search history")
		} else {
			c.state.History = truncate(history, c.historySize)
		}
	}
	return c
}

// GetState returns a snapshot of the search state
func (c *Controller) GetState() *State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stateCopy := c.state
	return &stateCopy
}

// Search records query as the current text and schedules a fetch of page.
// A fresh (non-append) non-blank query also moves to the front of history.
func (c *Controller) Search(query string, page int, appendResults bool) {
	if page < 1 {
		page = 1
	}
	blank := strings.TrimSpace(query) == ""

	c.mutex.Lock()
	c.state.Query = query
	if blank {
		c.debouncer.Cancel()
		c.abortLocked()
		c.state.Results = nil
		c.state.Error = ""
		c.state.Loading = false
		c.state.Page = 1
		c.state.HasMore = true
		c.touch()
		c.mutex.Unlock()
		return
	}

	var history []string
	if !appendResults {
		c.state.History = pushHistory(c.state.History, query, c.historySize)
		history = c.state.History
	}
	c.touch()
	c.mutex.Unlock()

	if history != nil {
		c.persistHistory(history)
	}
	c.debouncer.Call(request{query: query, page: page, append: appendResults})
}

// LoadMore fetches the next page when more results may exist and nothing is
// loading.
func (c *Controller) LoadMore() {
	c.mutex.Lock()
	s := c.state
	c.mutex.Unlock()

	if !s.HasMore || s.Loading || strings.TrimSpace(s.Query) == "" {
		return
	}
	c.Search(s.Query, s.Page+1, true)
}

// ClearHistory empties the history and deletes the persisted copy
func (c *Controller) ClearHistory() error {
	c.mutex.Lock()
	c.state.History = nil
	c.touch()
	c.mutex.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.ClearHistory(); err != nil {
		c.logger.WithError(err).Warn("Failed to clear search history")
		return err
	}
	return nil
}

// FeaturedSongs runs a fresh search for a random featured term and returns it
func (c *Controller) FeaturedSongs() string {
	term := c.featured[c.pick(len(c.featured))]
	c.Search(term, 1, false)
	return term
}

// Start loads featured songs when the session is still empty
func (c *Controller) Start() {
	c.mutex.Lock()
	empty := c.state.Query == "" && len(c.state.Results) == 0
	c.mutex.Unlock()

	if empty {
		c.FeaturedSongs()
	}
}

// Flush runs a pending debounced fetch now, on the calling goroutine.
func (c *Controller) Flush() bool {
	return c.debouncer.Flush()
}

// Close cancels pending and in-flight searches and closes all listeners
func (c *Controller) Close() {
	c.debouncer.Stop()
	c.baseCancel()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.abortLocked()
	for _, listener := range c.listeners {
		close(listener)
	}
	c.listeners = nil
}

// fetch performs one request. It runs on the debouncer's goroutine or on the
// caller of Flush.
func (c *Controller) fetch(req request) {
	c.mutex.Lock()
	if c.baseCtx.Err() != nil {
		c.mutex.Unlock()
		return
	}
	c.abortLocked()
	gen := c.generation
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.state.Loading = true
	c.state.Error = ""
	c.touch()
	c.mutex.Unlock()

	log := c.logger.WithFields(logrus.Fields{
		"query":      req.query,
		"page":       req.page,
		"generation": gen,
	})
	log.Debug("Searching")

	resp, err := c.searcher.SearchSongs(ctx, req.query, req.page)
	cancel()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if gen != c.generation {
		log.Debug("Dropping stale search response")
		return
	}
	c.cancel = nil
	c.state.Loading = false

	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).Warn("Search failed")
		c.state.Error = msgFailed
	case resp == nil || !resp.Success:
		c.state.Error = msgNoResults
	default:
		results := resp.Results()
		if req.append {
			merged := make([]models.Track, 0, len(c.state.Results)+len(results))
			merged = append(merged, c.state.Results...)
			c.state.Results = append(merged, results...)
		} else {
			c.state.Results = results
		}
		c.state.HasMore = len(results) > 0
		c.state.Page = req.page
		log.WithField("results", len(results)).Debug("Search completed")
	}
	c.touch()
}

// abortLocked invalidates and cancels the in-flight request (must be called with lock held)
func (c *Controller) abortLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) persistHistory(history []string) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveHistory(history); err != nil {
		c.logger.WithError(err).Warn("Failed to save search history")
	}
}

// pushHistory returns a new list with query first, without duplicates, at most size long
func pushHistory(history []string, query string, size int) []string {
	out := make([]string, 0, size)
	out = append(out, query)
	for _, h := range history {
		if h != query {
			out = append(out, h)
		}
	}
	return truncate(out, size)
}

func truncate(history []string, size int) []string {
	if len(history) > size {
		return history[:size]
	}
	return history
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

// touch stamps the state and notifies listeners (must be called with lock held).
// A full listener misses this update and gets the next one.
func (c *Controller) touch() {
	c.state.UpdatedAt = time.Now()
	for _, listener := range c.listeners {
		stateCopy := c.state
		select {
		case listener <- &stateCopy:
		default:
		}
	}
}
