package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"saverino/internal/cache"
	"saverino/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultQuality is the stream quality requested when none is given
const DefaultQuality = "320kbps"

// maxBodySize bounds how much of a response body is read
const maxBodySize = 4 << 20

var (
	// ErrRequestFailed covers every transport, status and decode failure.
	// Callers are not expected to tell them apart.
	ErrRequestFailed = errors.New("request failed")

	// ErrNoStreamURL is returned when the resolver answers without a playable URL.
	ErrNoStreamURL = errors.New("resolver returned no stream url")
)

// Config holds the endpoints and policies of a Client
type Config struct {
	SearchURL  string
	ResolveURL string
	Quality    string
	CacheTTL   time.Duration
	Timeout    time.Duration
}

// Client issues search and stream-resolution requests, answering repeated
// requests from a response cache within the freshness window.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.ResponseCache
	logger     logrus.FieldLogger

	qualityMu sync.RWMutex
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache replaces the response cache
func WithCache(rc *cache.ResponseCache) Option {
	return func(c *Client) { c.cache = rc }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client
func New(cfg Config, opts ...Option) *Client {
	if cfg.Quality == "" {
		cfg.Quality = DefaultQuality
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.NewResponseCache(cfg.CacheTTL)
	}
	return c
}

// Quality returns the quality used when callers pass none
func (c *Client) Quality() string {
	c.qualityMu.RLock()
	defer c.qualityMu.RUnlock()

	return c.cfg.Quality
}

// SetQuality changes the quality used when callers pass none
func (c *Client) SetQuality(quality string) {
	if quality == "" {
		return
	}
	c.qualityMu.Lock()
	defer c.qualityMu.Unlock()

	c.cfg.Quality = quality
}

// SearchSongs returns the search envelope for query and page.
func (c *Client) SearchSongs(ctx context.Context, query string, page int) (*models.SearchResponse, error) {
	if page < 1 {
		page = 1
	}
	if cached, ok := c.cache.GetSearch(query, page); ok {
		c.logger.WithFields(logrus.Fields{"query": query, "page": page}).Debug("Search served from cache")
		return cached, nil
	}

	endpoint, err := withQuery(c.cfg.SearchURL, url.Values{
		"query": {query},
		"page":  {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, err
	}

	var resp models.SearchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"query": query, "page": page}).Error("Search API error")
		return nil, err
	}

	c.cache.SetSearch(query, page, &resp)
	return &resp, nil
}

type resolveResponse struct {
	DownloadURL string `json:"downloadUrl"`
	URL         string `json:"url"`
}

// ResolveStreamURL returns a playable URL for trackID at the given quality.
// An empty quality means the client default.
func (c *Client) ResolveStreamURL(ctx context.Context, trackID, quality string) (string, error) {
	if quality == "" {
		quality = c.Quality()
	}
	if cached, ok := c.cache.GetStreamURL(trackID, quality); ok {
		return cached, nil
	}

	endpoint, err := withQuery(c.cfg.ResolveURL, url.Values{
		"id":      {trackID},
		"quality": {quality},
	})
	if err != nil {
		return "", err
	}

	var resp resolveResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		c.logger.WithError(err).WithField("track_id", trackID).Error("Download API error")
		return "", err
	}

	streamURL := resp.DownloadURL
	if streamURL == "" {
		streamURL = resp.URL
	}
	if streamURL == "" {
		return "", fmt.Errorf("track %s: %w", trackID, ErrNoStreamURL)
	}

	c.cache.SetStreamURL(trackID, quality, streamURL)
	return streamURL, nil
}

// ClearCache drops every cached response
func (c *Client) ClearCache() {
	c.cache.Clear()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	requestID := uuid.New().String()
	log := c.logger.WithFields(logrus.Fields{"request_id": requestID, "url": endpoint})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("HTTP request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP status %d", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRequestFailed, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse json: %v", ErrRequestFailed, err)
	}
	return nil
}

func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint %q: %v", ErrRequestFailed, base, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
