package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsYAML = `jobs:
  - id: 2
    owner: bob
    schedule: "0 0 1 1 *"
    command: php /web/bob/yearly.php
    enabled: true
  - id: 1
    owner: alice
    schedule: "* * * * *"
    command: php /web/alice/hello.php
    enabled: true
  - id: 3
    owner: carol
    schedule: "*/5 * * * *"
    command: php /web/carol/off.php
    enabled: false
`

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobsYAML), 0o640))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	return s, path
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	s, err := OpenSQL(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	for _, j := range []types.Job{
		{Owner: "alice", Schedule: "* * * * *", Command: "php /web/alice/hello.php", Enabled: true},
		{Owner: "bob", Schedule: "0 0 1 1 *", Command: "php /web/bob/yearly.php", Enabled: true},
		{Owner: "carol", Schedule: "*/5 * * * *", Command: "php /web/carol/off.php", Enabled: false},
	} {
		_, err := s.Add(ctx, j)
		require.NoError(t, err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	fs, _ := newFileStore(t)
	return map[string]Store{
		"file": fs,
		"sql":  newSQLStore(t),
	}
}

func TestEnabledJobs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			jobs, err := s.EnabledJobs(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 2)

			assert.Equal(t, int64(1), jobs[0].ID)
			assert.Equal(t, "alice", jobs[0].Owner)
			assert.Equal(t, "* * * * *", jobs[0].Schedule)
			assert.Equal(t, "php /web/alice/hello.php", jobs[0].Command)
			assert.True(t, jobs[0].Enabled)
			assert.Nil(t, jobs[0].LastRun)

			assert.Equal(t, int64(2), jobs[1].ID)

			all, err := s.Jobs(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestMarkRun(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, time.May, 4, 10, 30, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.MarkRun(ctx, 1, at, &types.RunSummary{ExitCode: 3, Output: "boom"}))

			job, err := s.Get(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, job.LastRun)
			assert.True(t, at.Equal(*job.LastRun))
			require.NotNil(t, job.LastExitCode)
			assert.Equal(t, 3, *job.LastExitCode)
			assert.Equal(t, "boom", job.LastOutput)

			later := at.Add(time.Minute)
			require.NoError(t, s.MarkRun(ctx, 1, later, nil))

			job, err = s.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, later.Equal(*job.LastRun))
			assert.Equal(t, 3, *job.LastExitCode)

			other, err := s.Get(ctx, 2)
			require.NoError(t, err)
			assert.Nil(t, other.LastRun)
		})
	}
}

func TestUnknownJob(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, 99)
			assert.ErrorIs(t, err, ErrJobNotFound)

			err = s.MarkRun(ctx, 99, time.Now(), nil)
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	_, err = s.EnabledJobs(context.Background())
	assert.Error(t, err)
}

func TestFileStoreInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: [ {id: 1"), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = s.EnabledJobs(context.Background())
	assert.Error(t, err)
}

func TestFileStoreKeepsPermissions(t *testing.T) {
	s, path := newFileStore(t)
	require.NoError(t, s.MarkRun(context.Background(), 2, time.Now(), nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenSQLUnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, path := newFileStore(t)
	fs, err := Open(ctx, DriverFile, "", path)
	require.NoError(t, err)
	jobs, err := fs.EnabledJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	db, err := Open(ctx, DriverSQLite, "file:"+filepath.Join(t.TempDir(), "panel.db"), "")
	require.NoError(t, err)
	defer db.Close()
	jobs, err = db.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = Open(ctx, "mysql", "", "")
	assert.Error(t, err)
}
