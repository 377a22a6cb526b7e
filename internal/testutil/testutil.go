// Package testutil builds web roots, job stores and loggers for tests.
package testutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/panelcron/internal/store"
	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/sirupsen/logrus"
)

func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// WebRoot is a temporary directory laid out as <root>/<owner>/...
type WebRoot struct {
	Dir string
}

func NewWebRoot(t testing.TB) *WebRoot {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &WebRoot{Dir: dir}
}

// Script writes body to <root>/<owner>/<name> and returns the path
func (w *WebRoot) Script(t testing.TB, owner, name, body string) string {
	t.Helper()
	path := filepath.Join(w.Dir, owner, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Mark records a MarkRun call
type Mark struct {
	ID      int64
	At      time.Time
	Summary *types.RunSummary
}

// MemoryStore is an in-memory store.Store
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[int64]types.Job
	marks []Mark
	Err   error
}

func NewMemoryStore(jobs ...types.Job) *MemoryStore {
	s := &MemoryStore{jobs: make(map[int64]types.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *MemoryStore) Jobs(ctx context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	jobs := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *MemoryStore) EnabledJobs(ctx context.Context) ([]types.Job, error) {
	all, err := s.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := all[:0]
	for _, j := range all {
		if j.Enabled {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return types.Job{}, store.ErrJobNotFound
	}
	return j, nil
}

func (s *MemoryStore) MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	ts := at
	j.LastRun = &ts
	if summary != nil {
		code := summary.ExitCode
		j.LastExitCode = &code
		j.LastOutput = summary.Output
	}
	s.jobs[id] = j
	s.marks = append(s.marks, Mark{ID: id, At: at, Summary: summary})
	return nil
}

// Marks returns every MarkRun call so far
func (s *MemoryStore) Marks() []Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mark(nil), s.marks...)
}

func (s *MemoryStore) Close() error {
	return nil
}
