package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"saverino/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database wraps a *sql.DB with the application's persistent state: named
// slots for small JSON values and the save job log. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger logrus.FieldLogger

	getSlotStmt    *sql.Stmt
	setSlotStmt    *sql.Stmt
	deleteSlotStmt *sql.Stmt
	upsertJobStmt  *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. Caller should Close() it
// when finished.
func NewDatabase(dbPath string, logger logrus.FieldLogger) (*Database, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist, then
// executes any migrations. This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	slotsTable := `
	CREATE TABLE IF NOT EXISTS slots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	downloadJobsTable := `
	CREATE TABLE IF NOT EXISTS download_jobs (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL,
		url TEXT,
		title TEXT,
		artist TEXT,
		status TEXT NOT NULL,
		progress INTEGER DEFAULT 0,
		error TEXT,
		output_path TEXT,
		created_at DATETIME,
		completed_at DATETIME
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_status ON download_jobs(status);",
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_created ON download_jobs(created_at);",
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_track ON download_jobs(track_id);",
	}

	for _, table := range []string{slotsTable, downloadJobsTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each migration
// should be idempotent and safe to re-run.
func (db *Database) runMigrations() error {
	// Migration 1: probe results of saved files
	columns := map[string]string{
		"file_size": "INTEGER DEFAULT 0",
		"duration":  "INTEGER DEFAULT 0",
	}
	for name, decl := range columns {
		var exists bool
		err := db.conn.QueryRow(`
			SELECT COUNT(*) > 0
			FROM pragma_table_info('download_jobs')
			WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.Exec(fmt.Sprintf("ALTER TABLE download_jobs ADD COLUMN %s %s", name, decl)); err != nil {
			return err
		}
		db.logger.WithField("column", name).Info("Added download_jobs column")
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.getSlotStmt, err = db.conn.Prepare(`SELECT value FROM slots WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get slot statement: %w", err)
	}

	db.setSlotStmt, err = db.conn.Prepare(`
		INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare set slot statement: %w", err)
	}

	db.deleteSlotStmt, err = db.conn.Prepare(`DELETE FROM slots WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete slot statement: %w", err)
	}

	db.upsertJobStmt, err = db.conn.Prepare(`
		INSERT INTO download_jobs (id, track_id, url, title, artist, status, progress, error, output_path, file_size, duration, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url=excluded.url,
			title=excluded.title,
			artist=excluded.artist,
			status=excluded.status,
			progress=excluded.progress,
			error=excluded.error,
			output_path=excluded.output_path,
			file_size=excluded.file_size,
			duration=excluded.duration,
			completed_at=excluded.completed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert job statement: %w", err)
	}

	return nil
}

// GetSlot returns the value stored under key. ok is false when the slot is empty.
func (db *Database) GetSlot(key string) (value string, ok bool, err error) {
	err = db.getSlotStmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	return value, true, nil
}

// SetSlot stores value under key, replacing any previous value
func (db *Database) SetSlot(key, value string) error {
	if _, err := db.setSlotStmt.Exec(key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

// DeleteSlot removes key. Deleting an empty slot is not an error.
func (db *Database) DeleteSlot(key string) error {
	if _, err := db.deleteSlotStmt.Exec(key); err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", key, err)
	}
	return nil
}

// UpsertDownloadJob inserts or updates a save job record by ID.
func (db *Database) UpsertDownloadJob(job models.DownloadJob) error {
	_, err := db.upsertJobStmt.Exec(
		job.ID, job.TrackID, job.URL, job.Title, job.Artist, string(job.Status),
		job.Progress, job.Error, job.OutputPath, job.FileSize, job.Duration,
		job.CreatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert download job %s: %w", job.ID, err)
	}
	return nil
}

// GetAllDownloadJobs returns all persisted save jobs, newest first.
func (db *Database) GetAllDownloadJobs() ([]models.DownloadJob, error) {
	rows, err := db.conn.Query(`
		SELECT id, track_id, url, title, artist, status, progress, error, output_path, file_size, duration, created_at, completed_at
		FROM download_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.DownloadJob
	for rows.Next() {
		var job models.DownloadJob
		var url, title, artist, status, errorMsg, outputPath sql.NullString
		var progress, fileSize, duration sql.NullInt64
		var createdAt, completedAt sql.NullTime
		if err := rows.Scan(&job.ID, &job.TrackID, &url, &title, &artist, &status, &progress,
			&errorMsg, &outputPath, &fileSize, &duration, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		job.URL = url.String
		job.Title = title.String
		job.Artist = artist.String
		job.Status = models.DownloadStatus(status.String)
		job.Progress = int(progress.Int64)
		job.Error = errorMsg.String
		job.OutputPath = outputPath.String
		job.FileSize = fileSize.Int64
		job.Duration = int(duration.Int64)
		job.CreatedAt = createdAt.Time
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteFinishedJobs removes completed and failed jobs that finished before cutoff
func (db *Database) DeleteFinishedJobs(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM download_jobs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(models.DownloadCompleted), string(models.DownloadFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.logger.WithField("jobs_deleted", n).Info("Deleted finished download jobs")
	}
	return n, nil
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.getSlotStmt,
		db.setSlotStmt,
		db.deleteSlotStmt,
		db.upsertJobStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
