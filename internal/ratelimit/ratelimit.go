// Package ratelimit counts attempts per key inside a sliding window. The
// counting state lives behind Store so it can be shared between processes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store records attempts. Hit adds one attempt for key at now and returns how
// many attempts fall inside the window ending at now, the new one included.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

func New(store Store, max int, window time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, max: max, window: window, now: time.Now}
}

// Allow records an attempt and reports whether it is within the limit.
// Rejected attempts count too, so a client that keeps retrying stays blocked.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	n, err := l.store.Hit(ctx, key, l.now(), l.window)
	if err != nil {
		return true, err
	}
	return n <= l.max, nil
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	return l.store.Reset(ctx, key)
}

// MemoryStore keeps attempts in process memory. Keys whose attempts have
// all left the window are dropped at most once per window.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	swept   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.swept) > window {
		for k, attempts := range s.entries {
			if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
				delete(s.entries, k)
			}
		}
		s.swept = now
	}

	history := s.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.entries[key] = kept
	return len(kept), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
