package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrJobNotFound is returned when no job row exists for an id
var ErrJobNotFound = errors.New("job not found")

// Store provides SQLite-based job and file persistence
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore initializes a new SQLite store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are per connection
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, err
	}

	logrus.WithField("db_path", dbPath).Debug("Initialized stub file database")
	return store, nil
}

func dsn(dbPath string) string {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}
	return "file:" + dbPath + "?_busy_timeout=5000"
}

// initSchema applies all pending migrations
func (s *Store) initSchema() error {
	currentVersion := 0
	row := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	_ = row.Scan(&currentVersion) // Ignore error - schema_version table may not exist yet

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithField("version", migration.Version).Debug("Applying schema migration")

		if _, err := s.db.ExecContext(context.Background(), migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", migration.Version, err)
		}

		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.Version,
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*types.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record := &types.JobRecord{}
	var state string
	err := s.db.QueryRowContext(ctx, "SELECT id, state FROM jobs WHERE id = ?", id).Scan(&record.ID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	record.State = types.JobState(state)

	return record, nil
}

// EnsureJob inserts a job row in the given state unless one already exists
func (s *Store) EnsureJob(ctx context.Context, id string, state types.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO jobs (id, state) VALUES (?, ?)",
		id, string(state),
	); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// SetJobState updates the state of an existing job
func (s *Store) SetJobState(ctx context.Context, id string, state types.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "UPDATE jobs SET state = ? WHERE id = ?", string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// CountFiles returns the number of file rows recorded for a job
func (s *Store) CountFiles(ctx context.Context, jobID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE job_id = ?", jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// InsertFiles records a page of files in a single transaction. Rows already
// present for the same (id, offset) are ignored; the number of new rows is returned.
func (s *Store) InsertFiles(ctx context.Context, records []types.FileRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO files (id, name, state, size, "offset", job_id, je_job)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close prepared statement")
		}
	}()

	var inserted int64
	for _, r := range records {
		result, err := stmt.ExecContext(ctx, r.ID, r.Name, r.State, r.Size, r.Offset, r.JobID, r.EngineJobID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert file %s: %w", r.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return inserted, nil
}

// SumSizes totals the recorded sizes of files whose name contains pattern.
// Files whose size could not be determined are excluded.
func (s *Store) SumSizes(ctx context.Context, pattern string) (types.SizeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := types.SizeSummary{Pattern: pattern}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CAST(size AS INTEGER)), 0)
		 FROM files WHERE instr(name, ?) > 0 AND size != ?`,
		pattern, types.SizeUnavailable,
	).Scan(&summary.Files, &summary.Bytes)
	if err != nil {
		return summary, fmt.Errorf("failed to sum file sizes: %w", err)
	}

	return summary, nil
}

// ListJobsFilter defines filtering options for ListJobs
type ListJobsFilter struct {
	State  types.JobState // optional: filter by state
	Limit  int            // default: 100
	Offset int            // default: 0
}

// ListJobs retrieves jobs with their recorded file counts
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]types.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit == 0 {
		filter.Limit = 100
	}
	if filter.Limit > 10000 {
		filter.Limit = 10000 // Cap limit to prevent excessive queries
	}

	query := "SELECT j.id, j.state, (SELECT COUNT(*) FROM files f WHERE f.job_id = j.id) FROM jobs j"
	args := []interface{}{}

	if filter.State != "" {
		query += " WHERE j.state = ?"
		args = append(args, string(filter.State))
	}

	query += " ORDER BY j.id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	jobs := []types.JobStatus{}
	for rows.Next() {
		var job types.JobStatus
		var state string
		if err := rows.Scan(&job.ID, &state, &job.Files); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.State = types.JobState(state)
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// GetJobCount returns the count of jobs in a given state
func (s *Store) GetJobCount(ctx context.Context, state types.JobState) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE state = ?", string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get job count: %w", err)
	}

	return count, nil
}

// Snapshot writes a consistent copy of the database to dest, which must not exist
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot database to %s: %w", dest, err)
	}
	return nil
}

// Path returns the database location
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}
