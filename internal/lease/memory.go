package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryLeaser keeps leases in process memory. It guards overlapping ticks of
// a long-running daemon, not separate processes. Like FileLeaser, a lease is
// held until released; the ttl only marks it stale.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases *cache.Cache
	logger *logrus.Logger
}

type memoryEntry struct {
	token  string
	expiry time.Time
}

func NewMemoryLeaser(logger *logrus.Logger) *MemoryLeaser {
	return &MemoryLeaser{
		leases: cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

func (m *MemoryLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}

	entry := memoryEntry{token: uuid.NewString(), expiry: time.Now().Add(ttl)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.leases.Add(key, entry, cache.NoExpiration); err != nil {
		m.warnIfStale(key)
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return &memoryLease{owner: m, key: key, token: entry.token}, nil
}

func (m *MemoryLeaser) warnIfStale(key string) {
	current, ok := m.leases.Get(key)
	if !ok {
		return
	}
	held := current.(memoryEntry)
	if time.Now().Before(held.expiry) {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"lease":   key,
		"expired": held.expiry.Format(time.RFC3339),
	}).Warn("Lease is past its ttl but still held")
}

func (m *MemoryLeaser) release(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases.Get(key); ok && current.(memoryEntry).token == token {
		m.leases.Delete(key)
	}
}

type memoryLease struct {
	owner *MemoryLeaser
	key   string
	token string
	once  sync.Once
}

func (l *memoryLease) Release() error {
	l.once.Do(func() {
		l.owner.release(l.key, l.token)
	})
	return nil
}
