package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	DefaultMaxEntries = 10000
	DefaultStaleAfter = 60 * time.Second
)

type MemoryStore struct {
	mu         sync.Mutex
	seen       map[string]int64
	clock      quartz.Clock
	maxEntries int
	staleAfter time.Duration
}

func NewMemoryStore(clock quartz.Clock, maxEntries int, staleAfter time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &MemoryStore{
		seen:       make(map[string]int64),
		clock:      clock,
		maxEntries: maxEntries,
		staleAfter: staleAfter,
	}
}

func (s *MemoryStore) CheckAndMark(_ context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.seen[fingerprint]; ok && now-last < ttl.Milliseconds() {
		return true, nil
	}
	s.seen[fingerprint] = now

	if len(s.seen) > s.maxEntries {
		s.sweepLocked(now)
	}
	return false, nil
}

// Len is the number of fingerprints currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *MemoryStore) sweepLocked(now int64) {
	cutoff := now - s.staleAfter.Milliseconds()
	for fp, last := range s.seen {
		if last < cutoff {
			delete(s.seen, fp)
		}
	}
}
