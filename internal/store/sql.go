package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS cron_jobs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	username       TEXT NOT NULL,
	schedule       TEXT NOT NULL,
	command        TEXT NOT NULL,
	enabled        BOOLEAN NOT NULL DEFAULT 1,
	last_run       TIMESTAMP NULL,
	last_exit_code INTEGER NULL,
	last_output    TEXT NOT NULL DEFAULT ''
)`,
	DriverPostgres: `CREATE TABLE IF NOT EXISTS cron_jobs (
	id             BIGSERIAL PRIMARY KEY,
	username       TEXT NOT NULL,
	schedule       TEXT NOT NULL,
	command        TEXT NOT NULL,
	enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	last_run       TIMESTAMPTZ NULL,
	last_exit_code INTEGER NULL,
	last_output    TEXT NOT NULL DEFAULT ''
)`,
}

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const jobColumns = `id, username, schedule, command, enabled, last_run, last_exit_code, last_output`

// SQLStore reads jobs from the panel's cron_jobs table
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// Migrate creates the jobs table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemas[s.driver]); err != nil {
		return fmt.Errorf("failed to migrate cron_jobs: %w", err)
	}
	return nil
}

func (s *SQLStore) EnabledJobs(ctx context.Context) ([]types.Job, error) {
	var jobs []types.Job
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM cron_jobs WHERE enabled = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &jobs, query, true); err != nil {
		return nil, fmt.Errorf("failed to list enabled jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLStore) Jobs(ctx context.Context) ([]types.Job, error) {
	var jobs []types.Job
	if err := s.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM cron_jobs ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (types.Job, error) {
	var job types.Job
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM cron_jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return types.Job{}, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

// Add inserts a job and returns its id
func (s *SQLStore) Add(ctx context.Context, job types.Job) (int64, error) {
	var id int64
	query := s.db.Rebind(`INSERT INTO cron_jobs (username, schedule, command, enabled) VALUES (?, ?, ?, ?) RETURNING id`)
	if err := s.db.GetContext(ctx, &id, query, job.Owner, job.Schedule, job.Command, job.Enabled); err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

func (s *SQLStore) MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error {
	var (
		res sql.Result
		err error
	)
	if summary == nil {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(`UPDATE cron_jobs SET last_run = ? WHERE id = ?`), at.UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			s.db.Rebind(`UPDATE cron_jobs SET last_run = ?, last_exit_code = ?, last_output = ? WHERE id = ?`),
			at.UTC(), summary.ExitCode, summary.Output, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark job %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
