package lease

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FileLeaser uses flock(2) on one file per key, so leases hold across
// processes and vanish if the holder dies. The file records the holder token
// and the lease expiry; an expired but still locked lease is reported as stale.
type FileLeaser struct {
	dir    string
	logger *logrus.Logger
}

func NewFileLeaser(dir string, logger *logrus.Logger) (*FileLeaser, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create lease directory: %w", err)
	}
	return &FileLeaser{dir: absDir, logger: logger}, nil
}

func (f *FileLeaser) path(key string) string {
	return filepath.Join(f.dir, key+".lock")
}

func (f *FileLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(key, `/\`) || key == "" {
		return nil, fmt.Errorf("invalid lease key %q", key)
	}

	path := f.path(key)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease %s: %w", path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			f.warnIfStale(key, path)
			return nil, fmt.Errorf("%w: %s", ErrHeld, key)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	token := uuid.NewString()
	record := fmt.Sprintf("%s %s %d\n", token, time.Now().Add(ttl).UTC().Format(time.RFC3339), os.Getpid())
	if err := unix.Ftruncate(fd, 0); err == nil {
		_, err = unix.Pwrite(fd, []byte(record), 0)
		if err != nil {
			f.logger.WithError(err).WithField("lease", key).Debug("Failed to record lease holder")
		}
	}

	return &fileLease{fd: fd}, nil
}

// warnIfStale logs when the current holder has outlived its ttl, which usually
// means a job is hung
func (f *FileLeaser) warnIfStale(key, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	fields := bytes.Fields(data)
	if len(fields) < 2 {
		return
	}
	expiry, err := time.Parse(time.RFC3339, string(fields[1]))
	if err != nil || time.Now().Before(expiry) {
		return
	}

	entry := f.logger.WithFields(logrus.Fields{
		"lease":   key,
		"expired": expiry.Format(time.RFC3339),
	})
	if len(fields) > 2 {
		entry = entry.WithField("pid", string(fields[2]))
	}
	entry.Warn("Lease is past its ttl but still held")
}

type fileLease struct {
	mu sync.Mutex
	fd int
}

// Release unlocks without removing the file; unlinking a locked file would let
// a second runner lock a different inode under the same name.
func (l *fileLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd < 0 {
		return nil
	}
	err := errors.Join(unix.Ftruncate(l.fd, 0), unix.Flock(l.fd, unix.LOCK_UN), unix.Close(l.fd))
	l.fd = -1
	return err
}
