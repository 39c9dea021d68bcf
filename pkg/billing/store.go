package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore persists the per-user subscription snapshot. The Reconciler
// is the only writer; every other component reads.
type SnapshotStore interface {
	// Get returns the snapshot for a user.
	// Returns ErrSnapshotNotFound when the user has never been observed.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// Apply merges a partial change into the snapshot with an atomic,
	// field-level write, creating the record if absent. The write must be
	// rejected with ErrStaleFact when observedAt is older than the stored
	// LastSyncedAt; on success LastSyncedAt is set to observedAt.
	// Returns the snapshot as stored after the call either way.
	Apply(ctx context.Context, userID uuid.UUID, change Change, observedAt time.Time) (*Subscription, error)

	// FindByCustomerID resolves a card-processor customer identifier back to
	// the local user. Returns ErrSnapshotNotFound when no user matches.
	FindByCustomerID(ctx context.Context, customerID string) (uuid.UUID, error)
}

// Deduplicator suppresses exact webhook redeliveries. Implementations keep a
// short-TTL set of processed event IDs; losing an entry is acceptable because
// the Reconciler's ordering guard catches stale replays anyway.
type Deduplicator interface {
	// Seen reports whether the event ID has been recorded.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkSeen records the event ID once its fact has been applied, so a
	// recorded ID means "applied", never "attempted". Two concurrent
	// deliveries may both pass Seen; the ordering guard absorbs the
	// redundant write.
	MarkSeen(ctx context.Context, eventID string) error
}
