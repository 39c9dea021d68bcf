package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory SnapshotStore for tests and local development.
// It mirrors the persistent store's semantics, including the ordering guard.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[uuid.UUID]*Subscription)}
}

func (s *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[userID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) Apply(ctx context.Context, userID uuid.UUID, change Change, observedAt time.Time) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[userID]
	if !ok {
		snap = FreeSubscription(userID)
		s.snaps[userID] = snap
	}

	if observedAt.Before(snap.LastSyncedAt) {
		cp := *snap
		return &cp, ErrStaleFact
	}

	applyChange(snap, change)
	snap.LastSyncedAt = observedAt

	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) FindByCustomerID(ctx context.Context, customerID string) (uuid.UUID, error) {
	if customerID == "" {
		return uuid.Nil, ErrSnapshotNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, snap := range s.snaps {
		if snap.CustomerID == customerID {
			return id, nil
		}
	}
	return uuid.Nil, ErrSnapshotNotFound
}

func applyChange(snap *Subscription, change Change) {
	if change.SubscriptionID != nil {
		snap.ID = *change.SubscriptionID
	}
	if change.Provider != nil {
		snap.Provider = *change.Provider
	}
	if change.CustomerID != nil {
		snap.CustomerID = *change.CustomerID
	}
	if change.Status != nil {
		snap.Status = *change.Status
	}
	if change.Plan != nil {
		snap.Plan = *change.Plan
	}
	if change.Period != nil {
		snap.Period = *change.Period
	}
	if change.CurrentPeriodEnd != nil {
		snap.CurrentPeriodEnd = *change.CurrentPeriodEnd
	}
	if change.CancelAtPeriodEnd != nil {
		snap.CancelAtPeriodEnd = *change.CancelAtPeriodEnd
	}
	if change.PriceID != nil {
		snap.PriceID = *change.PriceID
	}
	if change.ProductID != nil {
		snap.ProductID = *change.ProductID
	}
}

// MemoryDeduplicator is an in-memory Deduplicator for tests and local
// development. Entries are never evicted; lifetime is bounded by the process.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduplicator creates an empty in-memory deduplicator.
func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

func (d *MemoryDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *MemoryDeduplicator) MarkSeen(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[eventID] = struct{}{}
	return nil
}
