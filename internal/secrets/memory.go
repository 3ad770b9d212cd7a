package secrets

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	attempts  int
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests. It does not
// survive restarts; production deployments use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryStore constructs an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if err := validatePut(key, ttl); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{
		record:    record,
		expiresAt: s.clock().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Redeem(ctx context.Context, key string, digest string, options RedeemOptions) (Match, error) {
	if key == "" {
		return Match{}, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return Match{}, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Match{Status: MatchAbsent}, nil
	}
	if !s.clock().Before(entry.expiresAt) {
		delete(s.entries, key)
		return Match{Status: MatchAbsent}, nil
	}
	if entry.record.Digest != digest {
		entry.attempts++
		if options.MaxAttempts > 0 && entry.attempts >= options.MaxAttempts {
			delete(s.entries, key)
		} else {
			s.entries[key] = entry
		}
		return Match{Status: MatchMismatch}, nil
	}
	if options.Consume {
		delete(s.entries, key)
	}
	return Match{Status: MatchAccepted, Payload: entry.record.Payload}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
