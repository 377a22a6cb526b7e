// Package store holds the job source adapters. The runner only needs to list
// enabled jobs and record when one last ran.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
)

var ErrJobNotFound = errors.New("job not found")

// DriverFile selects the YAML FileStore
const DriverFile = "file"

type Store interface {
	// EnabledJobs returns enabled jobs ordered by id
	EnabledJobs(ctx context.Context) ([]types.Job, error)
	// Jobs returns every job ordered by id
	Jobs(ctx context.Context) ([]types.Job, error)
	Get(ctx context.Context, id int64) (types.Job, error)
	// MarkRun sets the job's last run time. A nil summary leaves the recorded
	// exit code and output untouched.
	MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error
	Close() error
}

func filterEnabled(jobs []types.Job) []types.Job {
	enabled := make([]types.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Enabled {
			enabled = append(enabled, j)
		}
	}
	return enabled
}

// Open returns the store for driver. path is the jobs file for the file
// driver, dsn the data source for the SQL drivers, whose schema is migrated.
func Open(ctx context.Context, driver, dsn, path string) (Store, error) {
	switch driver {
	case DriverFile:
		return NewFileStore(path)
	case DriverSQLite, DriverPostgres:
		s, err := OpenSQL(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
