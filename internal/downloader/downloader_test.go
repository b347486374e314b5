package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"saverino/pkg/models"

	"github.com/sirupsen/logrus"
)

type stubResolver struct {
	base string
}

func (r stubResolver) ResolveStreamURL(ctx context.Context, trackID, quality string) (string, error) {
	if trackID == "missing" {
		return "", errors.New("no stream")
	}
	return r.base + "/" + trackID, nil
}

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]models.DownloadJob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]models.DownloadJob{}}
}

func (m *memoryStore) UpsertDownloadJob(job models.DownloadJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryStore) GetAllDownloadJobs() ([]models.DownloadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DownloadJob
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memoryStore) DeleteFinishedJobs(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.Status.Done() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) get(id string) models.DownloadJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newAudioServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a1":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("ID3 fake mp3 payload"))
		case "/b2":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveTrack(t *testing.T) {
	srv := newAudioServer(t)
	library := t.TempDir()
	store := newMemoryStore()

	var mu sync.Mutex
	var statuses []models.DownloadStatus
	d, err := NewDownloader(Config{LibraryPath: library}, stubResolver{base: srv.URL}, store,
		WithLogger(quietLogger()),
		WithNotify(func(j models.DownloadJob) {
			mu.Lock()
			defer mu.Unlock()
			if len(statuses) == 0 || statuses[len(statuses)-1] != j.Status {
				statuses = append(statuses, j.Status)
			}
		}))
	if err != nil {
		t.Fatalf("NewDownloader failed: %v", err)
	}
	defer d.Close()

	track := models.Track{ID: "a1", Name: "Tum &amp; Hum", PrimaryArtists: "A/B", Duration: 245}
	job, err := d.Save(track)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if job.Status != models.DownloadPending || job.ID == "" {
		t.Errorf("expected pending job with id, got %+v", job)
	}
	d.Wait()

	got, ok := d.GetJob(job.ID)
	if !ok {
		t.Fatal("job not found")
	}
	if got.Status != models.DownloadCompleted || got.Progress != 100 {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Error)
	}

	want := filepath.Join(library, "A_B - Tum & Hum.mp3")
	if got.OutputPath != want {
		t.Errorf("expected %s, got %s", want, got.OutputPath)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "ID3 fake mp3 payload" {
		t.Errorf("unexpected file contents %q (%v)", data, err)
	}
	if got.FileSize != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), got.FileSize)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at")
	}

	if persisted := store.get(job.ID); persisted.Status != models.DownloadCompleted {
		t.Errorf("expected persisted completed job, got %s", persisted.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	wantStatuses := []models.DownloadStatus{models.DownloadPending, models.DownloadDownloading, models.DownloadCompleted}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("expected %v, got %v", wantStatuses, statuses)
	}
	for i := range wantStatuses {
		if statuses[i] != wantStatuses[i] {
			t.Errorf("expected %v, got %v", wantStatuses, statuses)
		}
	}
}

func TestSaveFallsBackToDefaultExtension(t *testing.T) {
	srv := newAudioServer(t)
	library := t.TempDir()
	d, err := NewDownloader(Config{LibraryPath: library}, stubResolver{base: srv.URL}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	job, _ := d.Save(models.Track{ID: "b2", Name: "Song", PrimaryArtists: "Artist"})
	d.Wait()

	got, _ := d.GetJob(job.ID)
	if filepath.Ext(got.OutputPath) != ".m4a" {
		t.Errorf("expected .m4a, got %s", got.OutputPath)
	}
}

func TestSaveFailures(t *testing.T) {
	srv := newAudioServer(t)
	d, err := NewDownloader(Config{LibraryPath: t.TempDir()}, stubResolver{base: srv.URL}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	tests := []struct {
		name  string
		track models.Track
	}{
		{name: "resolve error", track: models.Track{ID: "missing", Name: "x"}},
		{name: "http error", track: models.Track{ID: "nope", Name: "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := d.Save(tt.track)
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			d.Wait()
			got, _ := d.GetJob(job.ID)
			if got.Status != models.DownloadFailed || got.Error == "" {
				t.Errorf("expected failed job with error, got %s %q", got.Status, got.Error)
			}
		})
	}

	if _, err := d.Save(models.Track{}); err == nil {
		t.Error("expected error for track without id")
	}
}

func TestRestoreMarksInterruptedJobs(t *testing.T) {
	store := newMemoryStore()
	store.UpsertDownloadJob(models.DownloadJob{ID: "old", TrackID: "a", Status: models.DownloadDownloading, CreatedAt: time.Now()})
	store.UpsertDownloadJob(models.DownloadJob{ID: "done", TrackID: "b", Status: models.DownloadCompleted, CreatedAt: time.Now()})

	d, err := NewDownloader(Config{LibraryPath: t.TempDir()}, stubResolver{}, store, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if got, _ := d.GetJob("old"); got.Status != models.DownloadFailed || got.Error != "interrupted" {
		t.Errorf("expected interrupted job failed, got %s %q", got.Status, got.Error)
	}
	if got, _ := d.GetJob("done"); got.Status != models.DownloadCompleted {
		t.Errorf("completed job changed to %s", got.Status)
	}
	if len(d.GetAllJobs()) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(d.GetAllJobs()))
	}
}

func TestCleanupCompletedJobs(t *testing.T) {
	store := newMemoryStore()
	old := time.Now().Add(-48 * time.Hour)
	store.UpsertDownloadJob(models.DownloadJob{ID: "old", Status: models.DownloadCompleted, CreatedAt: old, CompletedAt: &old})

	d, err := NewDownloader(Config{LibraryPath: t.TempDir()}, stubResolver{}, store, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	d.CleanupCompletedJobs(24 * time.Hour)
	if _, ok := d.GetJob("old"); ok {
		t.Error("expected old job removed from memory")
	}
	if jobs, _ := store.GetAllDownloadJobs(); len(jobs) != 0 {
		t.Errorf("expected old job removed from store, got %d", len(jobs))
	}
}

func TestSaveAfterClose(t *testing.T) {
	d, err := NewDownloader(Config{LibraryPath: t.TempDir()}, stubResolver{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	d.Close()

	if _, err := d.Save(models.Track{ID: "a1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AC/DC", "AC_DC"},
		{`What? "Now"`, "What_ _Now_"},
		{"  ", "Unknown"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtensionFromURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://cdn/a.mp3?sig=1", ".mp3"},
		{"https://cdn/a.mp4", ".m4a"},
		{"https://cdn/stream", ".m4a"},
		{"https://cdn/a.FLAC#x", ".flac"},
	}
	for _, tt := range tests {
		if got := extensionFromURL(tt.in); got != tt.want {
			t.Errorf("extensionFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveKeepsExistingFiles(t *testing.T) {
	srv := newAudioServer(t)
	library := t.TempDir()
	existing := filepath.Join(library, "Artist - Song.mp3")
	if err := os.WriteFile(existing, []byte("mine"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDownloader(Config{LibraryPath: library}, stubResolver{base: srv.URL}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	track := models.Track{ID: "a1", Name: "Song", PrimaryArtists: "Artist"}
	first, _ := d.Save(track)
	d.Wait()
	second, _ := d.Save(track)
	d.Wait()

	if data, _ := os.ReadFile(existing); string(data) != "mine" {
		t.Errorf("existing file was overwritten: %q", data)
	}
	j1, _ := d.GetJob(first.ID)
	j2, _ := d.GetJob(second.ID)
	want1 := filepath.Join(library, "Artist - Song (2).mp3")
	want2 := filepath.Join(library, "Artist - Song (3).mp3")
	if j1.OutputPath != want1 || j2.OutputPath != want2 {
		t.Errorf("expected %s and %s, got %s and %s", want1, want2, j1.OutputPath, j2.OutputPath)
	}
	for _, p := range []string{want1, want2} {
		if data, err := os.ReadFile(p); err != nil || string(data) != "ID3 fake mp3 payload" {
			t.Errorf("%s: unexpected contents %q (%v)", p, data, err)
		}
	}
}

func TestSaveRacingClose(t *testing.T) {
	srv := newAudioServer(t)
	d, err := NewDownloader(Config{LibraryPath: t.TempDir()}, stubResolver{base: srv.URL}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Save(models.Track{ID: "a1", Name: "Song"}); err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("unexpected Save error: %v", err)
			}
		}()
	}
	d.Close()
	wg.Wait()

	if _, err := d.Save(models.Track{ID: "a1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	for _, job := range d.GetAllJobs() {
		if !job.Status.Done() {
			t.Errorf("job %s left %s after Close", job.ID, job.Status)
		}
	}
}
