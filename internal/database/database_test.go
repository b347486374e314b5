package database

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"saverino/pkg/models"

	"github.com/sirupsen/logrus"
)

func openTestDB(t *testing.T) (*Database, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(path, logger)
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSlots(t *testing.T) {
	db, _ := openTestDB(t)

	if _, ok, err := db.GetSlot("missing"); err != nil || ok {
		t.Fatalf("expected empty slot, got ok=%v err=%v", ok, err)
	}

	if err := db.SetSlot("theme", "dark"); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if err := db.SetSlot("theme", "light"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if v, ok, err := db.GetSlot("theme"); err != nil || !ok || v != "light" {
		t.Errorf("expected light, got %q ok=%v err=%v", v, ok, err)
	}

	if err := db.DeleteSlot("theme"); err != nil {
		t.Fatalf("DeleteSlot failed: %v", err)
	}
	if _, ok, _ := db.GetSlot("theme"); ok {
		t.Error("slot still present after delete")
	}
	if err := db.DeleteSlot("theme"); err != nil {
		t.Errorf("deleting an empty slot must succeed, got %v", err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	db, path := openTestDB(t)

	if h, err := db.LoadHistory(); err != nil || h != nil {
		t.Fatalf("expected no history, got %v %v", h, err)
	}

	want := []string{"lofi", "arijit", "ap dhillon"}
	if err := db.SaveHistory(want); err != nil {
		t.Fatalf("SaveHistory failed: %v", err)
	}
	db.Close()

	// survives a reopen
	reopened, err := NewDatabase(path, logrus.New())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LoadHistory()
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v (%v)", want, got, err)
	}

	if err := reopened.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if got, _ := reopened.LoadHistory(); got != nil {
		t.Errorf("expected cleared history, got %v", got)
	}
}

func TestCorruptHistory(t *testing.T) {
	db, _ := openTestDB(t)
	db.SetSlot(HistorySlot, "not json")

	if _, err := db.LoadHistory(); err == nil {
		t.Error("expected error for corrupt slot")
	}
}

func TestDownloadJobs(t *testing.T) {
	db, _ := openTestDB(t)

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	job := models.DownloadJob{
		ID:        "job-1",
		TrackID:   "a1",
		Title:     "Song",
		Artist:    "Artist",
		Status:    models.DownloadPending,
		CreatedAt: created,
	}
	if err := db.UpsertDownloadJob(job); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	completed := created.Add(time.Minute)
	job.Status = models.DownloadCompleted
	job.Progress = 100
	job.OutputPath = "/music/Artist - Song.mp3"
	job.FileSize = 4096
	job.Duration = 245
	job.CompletedAt = &completed
	if err := db.UpsertDownloadJob(job); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	newer := models.DownloadJob{ID: "job-2", TrackID: "b2", Status: models.DownloadDownloading, CreatedAt: time.Now()}
	if err := db.UpsertDownloadJob(newer); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	jobs, err := db.GetAllDownloadJobs()
	if err != nil {
		t.Fatalf("GetAllDownloadJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job-2" {
		t.Errorf("expected newest first, got %s", jobs[0].ID)
	}

	got := jobs[1]
	if got.Status != models.DownloadCompleted || got.Progress != 100 || got.FileSize != 4096 || got.Duration != 245 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("expected completed_at %v, got %v", completed, got.CompletedAt)
	}
	if jobs[0].CompletedAt != nil {
		t.Errorf("unfinished job must have no completed_at, got %v", jobs[0].CompletedAt)
	}

	n, err := db.DeleteFinishedJobs(time.Now())
	if err != nil || n != 1 {
		t.Errorf("expected 1 finished job deleted, got %d (%v)", n, err)
	}
	if jobs, _ := db.GetAllDownloadJobs(); len(jobs) != 1 || jobs[0].ID != "job-2" {
		t.Errorf("expected only the running job left, got %+v", jobs)
	}
}
