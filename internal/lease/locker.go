// Package lease provides an expiring, owner-bound exclusive claim on a key,
// used to keep a single sync run across processes.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/jun/docrag/backend/internal/model"
)

const DefaultTTL = 15 * time.Minute

var (
	ErrLocked   = errors.New("lease is held by another owner")
	ErrNotOwner = errors.New("lease not found or not owned")
)

// Locker manages leases.
type Locker interface {
	// Acquire takes the lease if it is free, expired or already owned by owner.
	Acquire(ctx context.Context, key, owner string) (*model.SyncLease, error)

	// Heartbeat extends the lease TTL if owner holds it.
	Heartbeat(ctx context.Context, key, owner string) (*model.SyncLease, error)

	// Release removes the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error

	// Status returns the live lease, or nil when free or expired.
	Status(ctx context.Context, key string) (*model.SyncLease, error)
}
