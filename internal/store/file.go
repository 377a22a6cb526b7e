package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"gopkg.in/yaml.v3"
)

// FileStore keeps jobs in a YAML file. MarkRun rewrites the whole file
// atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type jobsFile struct {
	Jobs []types.Job `yaml:"jobs"`
}

func NewFileStore(path string) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &FileStore{path: absPath}, nil
}

func (s *FileStore) load() (*jobsFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	sort.SliceStable(f.Jobs, func(i, j int) bool {
		return f.Jobs[i].ID < f.Jobs[j].ID
	})
	return &f, nil
}

func (s *FileStore) save(f *jobsFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode jobs file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".jobs-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write jobs file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write jobs file: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Jobs(ctx context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	return f.Jobs, nil
}

func (s *FileStore) EnabledJobs(ctx context.Context) ([]types.Job, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	return filterEnabled(jobs), nil
}

func (s *FileStore) Get(ctx context.Context, id int64) (types.Job, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return types.Job{}, err
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return types.Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
}

func (s *FileStore) MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	for i := range f.Jobs {
		if f.Jobs[i].ID != id {
			continue
		}
		ts := at.UTC()
		f.Jobs[i].LastRun = &ts
		if summary != nil {
			code := summary.ExitCode
			f.Jobs[i].LastExitCode = &code
			f.Jobs[i].LastOutput = summary.Output
		}
		return s.save(f)
	}

	return fmt.Errorf("%w: %d", ErrJobNotFound, id)
}

func (s *FileStore) Close() error {
	return nil
}
