// Package downloader saves tracks into the local music library.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"saverino/internal/metadata"
	"saverino/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxConcurrent bounds simultaneous transfers
const DefaultMaxConcurrent = 2

// defaultExt is used when neither headers nor URL reveal the container
const defaultExt = ".m4a"

// maxNameAttempts bounds the " (n)" suffixes tried for a taken file name
const maxNameAttempts = 100

// ErrClosed is returned by Save after Close
var ErrClosed = errors.New("downloader closed")

// Resolver turns a track id into a stream URL
type Resolver interface {
	ResolveStreamURL(ctx context.Context, trackID, quality string) (string, error)
}

// JobStore persists jobs across runs
type JobStore interface {
	UpsertDownloadJob(job models.DownloadJob) error
	GetAllDownloadJobs() ([]models.DownloadJob, error)
	DeleteFinishedJobs(cutoff time.Time) (int64, error)
}

// Config holds where and how tracks are saved
type Config struct {
	LibraryPath   string
	MaxConcurrent int
	Quality       string
}

// Downloader runs save jobs in the background
type Downloader struct {
	cfg        Config
	resolver   Resolver
	store      JobStore
	prober     *metadata.Prober
	httpClient *http.Client
	logger     logrus.FieldLogger
	notify     func(models.DownloadJob)

	jobs    map[string]*models.DownloadJob
	jobsMux sync.RWMutex

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// guards closed and wg.Add against Close
	closeMu sync.Mutex
	closed  bool
}

// Option customizes a Downloader
type Option func(*Downloader)

// WithHTTPClient replaces the client used for transfers
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Downloader) { d.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Downloader) { d.logger = logger }
}

// WithNotify registers a callback invoked with a copy of a job after every
// status change. It runs on the job's goroutine.
func WithNotify(fn func(models.DownloadJob)) Option {
	return func(d *Downloader) { d.notify = fn }
}

// NewDownloader creates the library directory and restores persisted jobs.
// Jobs that were still running when the previous process exited are marked
// failed. store may be nil.
func NewDownloader(cfg Config, resolver Resolver, store JobStore, opts ...Option) (*Downloader, error) {
	if cfg.LibraryPath == "" {
		return nil, fmt.Errorf("library path is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if err := os.MkdirAll(cfg.LibraryPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Downloader{
		cfg:        cfg,
		resolver:   resolver,
		store:      store,
		httpClient: &http.Client{},
		logger:     logrus.StandardLogger(),
		jobs:       make(map[string]*models.DownloadJob),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.prober = metadata.NewProber(d.logger)

	if err := d.restore(); err != nil {
		d.logger.WithError(err).Warn("Failed to restore download jobs")
	}
	return d, nil
}

func (d *Downloader) restore() error {
	if d.store == nil {
		return nil
	}
	jobs, err := d.store.GetAllDownloadJobs()
	if err != nil {
		return err
	}

	d.jobsMux.Lock()
	defer d.jobsMux.Unlock()
	for i := range jobs {
		job := jobs[i]
		if !job.Status.Done() {
			now := time.Now()
			job.Status = models.DownloadFailed
			job.Error = "interrupted"
			job.CompletedAt = &now
			d.persist(job)
		}
		d.jobs[job.ID] = &job
	}
	return nil
}

// Save queues track for saving and returns the new job
func (d *Downloader) Save(track models.Track) (models.DownloadJob, error) {
	if track.ID == "" {
		return models.DownloadJob{}, fmt.Errorf("track has no id")
	}

	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return models.DownloadJob{}, ErrClosed
	}
	d.wg.Add(1)
	d.closeMu.Unlock()

	job := &models.DownloadJob{
		ID:        uuid.New().String(),
		TrackID:   track.ID,
		Title:     track.DisplayName(),
		Artist:    track.DisplayArtists(),
		Status:    models.DownloadPending,
		CreatedAt: time.Now(),
	}

	d.jobsMux.Lock()
	d.jobs[job.ID] = job
	snapshot := *job
	d.jobsMux.Unlock()
	d.persist(snapshot)
	d.publish(snapshot)

	d.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"track_id": track.ID,
	}).Info("Queued track for saving")

	go d.process(job.ID, track)

	return snapshot, nil
}

// process handles the actual transfer
func (d *Downloader) process(jobID string, track models.Track) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.ctx.Done():
		d.fail(jobID, "cancelled")
		return
	}

	log := d.logger.WithFields(logrus.Fields{"job_id": jobID, "track_id": track.ID})
	d.update(jobID, func(j *models.DownloadJob) {
		j.Status = models.DownloadDownloading
	})

	url, err := d.resolver.ResolveStreamURL(d.ctx, track.ID, d.cfg.Quality)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve stream for saving")
		d.fail(jobID, fmt.Sprintf("Failed to resolve stream: %v", err))
		return
	}
	d.update(jobID, func(j *models.DownloadJob) { j.URL = url })

	outputPath, size, err := d.fetch(jobID, url, track)
	if err != nil {
		log.WithError(err).Warn("Download failed")
		d.fail(jobID, fmt.Sprintf("Download failed: %v", err))
		return
	}

	duration := int(track.Duration)
	if info, err := d.prober.Probe(outputPath); err == nil && info.Duration > 0 {
		duration = info.Duration
	}

	now := time.Now()
	d.update(jobID, func(j *models.DownloadJob) {
		j.Status = models.DownloadCompleted
		j.Progress = 100
		j.OutputPath = outputPath
		j.FileSize = size
		j.Duration = duration
		j.CompletedAt = &now
	})
	log.WithField("path", outputPath).Info("Track saved")
}

// fetch streams url into the library, returning the final path and size
func (d *Downloader) fetch(jobID, url string, track models.Track) (string, int64, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ext := metadata.ExtensionForContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = extensionFromURL(url)
	}
	base := fmt.Sprintf("%s - %s", sanitizeFilename(track.DisplayArtists()), sanitizeFilename(track.DisplayName()))

	tmp, err := os.CreateTemp(d.cfg.LibraryPath, ".saverino-*.part")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	pw := &progressWriter{total: resp.ContentLength, report: func(p int) {
		d.update(jobID, func(j *models.DownloadJob) { j.Progress = p })
	}}
	size, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}

	finalPath, err := reservePath(d.cfg.LibraryPath, base, ext)
	if err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(finalPath)
		return "", 0, err
	}
	return finalPath, size, nil
}

// reservePath creates an empty "<base><ext>" in dir, or "<base> (n)<ext>"
// when that name is taken, and returns its path. Existing files are never
// replaced.
func reservePath(dir, base, ext string) (string, error) {
	for n := 1; n <= maxNameAttempts; n++ {
		name := base + ext
		if n > 1 {
			name = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return p, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %q", base+ext)
}

func extensionFromURL(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if metadata.IsAudioFile("x" + ext) {
		if ext == ".mp4" {
			return ".m4a"
		}
		return ext
	}
	return defaultExt
}

// progressWriter reports whole-percent steps. Without a known length it
// reports -1 once.
type progressWriter struct {
	total   int64
	written int64
	last    int
	started bool
	report  func(int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		if !p.started {
			p.started = true
			p.report(-1)
		}
		return len(b), nil
	}
	pct := int(p.written * 100 / p.total)
	if pct > 99 {
		// 100 is reserved for a completed job
		pct = 99
	}
	if !p.started || pct > p.last {
		p.started = true
		p.last = pct
		p.report(pct)
	}
	return len(b), nil
}

// sanitizeFilename removes invalid characters from filenames
func sanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return "Unknown"
	}
	return result
}

func (d *Downloader) fail(jobID, msg string) {
	now := time.Now()
	d.update(jobID, func(j *models.DownloadJob) {
		j.Status = models.DownloadFailed
		j.Error = msg
		j.CompletedAt = &now
	})
}

// update mutates a job under the lock, then persists and publishes a copy
func (d *Downloader) update(jobID string, fn func(*models.DownloadJob)) {
	d.jobsMux.Lock()
	job, exists := d.jobs[jobID]
	if !exists {
		d.jobsMux.Unlock()
		return
	}
	prevStatus, prevProgress := job.Status, job.Progress
	fn(job)
	snapshot := *job
	d.jobsMux.Unlock()

	// progress ticks are only kept in memory
	if snapshot.Status != prevStatus || snapshot.Status.Done() || prevProgress == snapshot.Progress {
		d.persist(snapshot)
	}
	d.publish(snapshot)
}

func (d *Downloader) persist(job models.DownloadJob) {
	if d.store == nil {
		return
	}
	if err := d.store.UpsertDownloadJob(job); err != nil {
		d.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to persist download job")
	}
}

func (d *Downloader) publish(job models.DownloadJob) {
	if d.notify != nil {
		d.notify(job)
	}
}

// GetJob returns a copy of a job by ID
func (d *Downloader) GetJob(jobID string) (models.DownloadJob, bool) {
	d.jobsMux.RLock()
	defer d.jobsMux.RUnlock()

	job, exists := d.jobs[jobID]
	if !exists {
		return models.DownloadJob{}, false
	}
	return *job, true
}

// GetAllJobs returns copies of all jobs, newest first
func (d *Downloader) GetAllJobs() []models.DownloadJob {
	d.jobsMux.RLock()
	jobs := make([]models.DownloadJob, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, *job)
	}
	d.jobsMux.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// CleanupCompletedJobs removes finished jobs older than maxAge
func (d *Downloader) CleanupCompletedJobs(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	d.jobsMux.Lock()
	for id, job := range d.jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(d.jobs, id)
		}
	}
	d.jobsMux.Unlock()

	if d.store != nil {
		if _, err := d.store.DeleteFinishedJobs(cutoff); err != nil {
			d.logger.WithError(err).Warn("Failed to delete finished jobs")
		}
	}
}

// Wait blocks until every queued job has finished
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// Close cancels running transfers and waits for them to stop
func (d *Downloader) Close() {
	d.closeMu.Lock()
	d.closed = true
	d.cancel()
	d.closeMu.Unlock()

	d.wg.Wait()
}
