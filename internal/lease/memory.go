package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a single-process Store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	holders map[string]memoryLease
	now     func() time.Time
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holders: make(map[string]memoryLease),
		now:     time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, campaignID int, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := leaseKey(campaignID)
	if held, ok := s.holders[key]; ok && s.now().Before(held.expiresAt) {
		return nil, ErrHeld
	}

	token := uuid.NewString()
	s.holders[key] = memoryLease{token: token, expiresAt: s.now().Add(ttl)}

	return &Lease{
		key:     key,
		token:   token,
		release: s.release,
	}, nil
}

func (s *MemoryStore) release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.holders[key]; ok && held.token == token {
		delete(s.holders, key)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
