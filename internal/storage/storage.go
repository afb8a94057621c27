// Package storage persists stitch jobs, mosaic statistics and placement
// diagnostics in SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for stitch jobs.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stitch_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            algorithm TEXT,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS mosaic_stats (
            job_id TEXT PRIMARY KEY,
            width INTEGER,
            height INTEGER,
            frame_count INTEGER,
            focal_length REAL,
            pixels_per_degree REAL,
            processing_ms INTEGER,
            warning_count INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS placement_records (
            job_id TEXT,
            frame_index INTEGER,
            bearing REAL,
            expected_offset INTEGER,
            canvas_offset INTEGER,
            adjustment INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_placement_records_job ON placement_records(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_stitch_jobs_status ON stitch_jobs(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	Algorithm   string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// MosaicStats captures the persisted outcome of a successful assembly.
type MosaicStats struct {
	JobID           string
	Width           int
	Height          int
	FrameCount      int
	FocalLength     float64
	PixelsPerDegree float64
	ProcessingMS    int64
	WarningCount    int
}

// PlacementRow is one frame's persisted placement diagnostic.
type PlacementRow struct {
	JobID          string
	FrameIndex     int
	Bearing        float64
	ExpectedOffset int
	Offset         int
	Adjustment     int
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stitch_jobs (id, job_type, status, algorithm, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.Algorithm, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecordMosaicStats persists the assembly summary for a job.
func (s *Store) RecordMosaicStats(stats MosaicStats) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO mosaic_stats (job_id, width, height, frame_count, focal_length, pixels_per_degree, processing_ms, warning_count)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		stats.JobID, stats.Width, stats.Height, stats.FrameCount, stats.FocalLength, stats.PixelsPerDegree, stats.ProcessingMS, stats.WarningCount)
	return err
}

// RecordPlacements persists per-frame placement diagnostics for a job.
func (s *Store) RecordPlacements(jobID string, rows []PlacementRow) error {
	if s == nil || len(rows) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := tx.Exec(`INSERT INTO placement_records (job_id, frame_index, bearing, expected_offset, canvas_offset, adjustment) VALUES (?, ?, ?, ?, ?, ?);`,
			jobID, row.FrameIndex, row.Bearing, row.ExpectedOffset, row.Offset, row.Adjustment); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Placements returns a job's placement diagnostics ordered by frame index.
func (s *Store) Placements(jobID string) ([]PlacementRow, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, frame_index, bearing, expected_offset, canvas_offset, adjustment FROM placement_records WHERE job_id=? ORDER BY frame_index;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlacementRow
	for rows.Next() {
		var row PlacementRow
		if err := rows.Scan(&row.JobID, &row.FrameIndex, &row.Bearing, &row.ExpectedOffset, &row.Offset, &row.Adjustment); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Job returns a single job by id.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, job_type, status, algorithm, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM stitch_jobs WHERE id=?;`, id)
	return scanJob(row)
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, algorithm, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM stitch_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var rec JobRecord
	var algorithm, errorMsg sql.NullString
	var created time.Time
	var started, completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &algorithm, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	rec.CreatedAt = created
	if algorithm.Valid {
		rec.Algorithm = algorithm.String
	}
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
