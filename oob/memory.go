package oob

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, following msgstore.MemoryStore's
// single-mutex-over-a-map shape. Expired invites are pruned lazily on read
// rather than swept on a timer, since an unredeemed invite carries no queue
// bytes or counters that need accounting the way a message does.
type MemoryStore struct {
	mu      sync.Mutex
	invites map[string]Invite
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invites: make(map[string]Invite)}
}

func (s *MemoryStore) CreateInvite(ctx context.Context, inv Invite) (string, error) {
	id, err := newInviteID()
	if err != nil {
		return "", err
	}
	inv.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[id] = inv
	return id, nil
}

func (s *MemoryStore) GetInvite(ctx context.Context, id string) (Invite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[id]
	if !ok {
		return Invite{}, false, nil
	}
	if !inv.ExpiresAt.IsZero() && !inv.ExpiresAt.After(time.Now()) {
		delete(s.invites, id)
		return Invite{}, false, nil
	}
	return inv, true, nil
}

func (s *MemoryStore) DeleteInvite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invites, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
