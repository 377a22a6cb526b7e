// Package lease provides per-job advisory locks so that overlapping runner
// invocations never execute the same job concurrently.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrHeld = errors.New("lease held by another runner")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release() error
}

// Leaser hands out leases. Acquire never blocks: if the key is held it
// returns ErrHeld immediately.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// JobKey is the lease key for a job id
func JobKey(id int64) string {
	return fmt.Sprintf("job-%d", id)
}
