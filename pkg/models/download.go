package models

import "time"

// DownloadStatus represents the status of a save job
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// Done reports whether the job reached a terminal status
func (s DownloadStatus) Done() bool {
	return s == DownloadCompleted || s == DownloadFailed
}

// DownloadJob is a track being saved to the local library
type DownloadJob struct {
	ID          string         `json:"id"`
	TrackID     string         `json:"track_id"`
	URL         string         `json:"url,omitempty"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"` // 0-100, -1 when the size is unknown
	Error       string         `json:"error,omitempty"`
	OutputPath  string         `json:"output_path,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	Duration    int            `json:"duration,omitempty"` // probed from the saved file, seconds
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
