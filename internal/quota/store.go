package quota

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store persists credentials.
// AddUsage must be atomic per credential: concurrent calls never lose updates,
// and usage is only added while it is below the limit.
type Store interface {
	Get(ctx context.Context, key string) (*Credential, error)
	Put(ctx context.Context, c *Credential) error
	// AddUsage returns ErrQuotaExceeded, charging nothing, when usage has
	// already reached a positive limit.
	AddUsage(ctx context.Context, key string, amount int64) (int64, error)
	// Activate moves a pending credential to active and starts its validity window.
	// It reports whether this call performed the transition.
	Activate(ctx context.Context, key string, now time.Time) (*Credential, bool, error)
	SetStatus(ctx context.Context, key string, status Status) error
	ResetUsage(ctx context.Context, key string) error
	List(ctx context.Context) ([]Credential, error)
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type memoryEntry struct {
	mu    sync.Mutex // guards cred (everything but usage)
	cred  Credential
	usage atomic.Int64
}

func (e *memoryEntry) snapshot() *Credential {
	e.mu.Lock()
	c := e.cred
	e.mu.Unlock()
	c.Usage = e.usage.Load()
	return &c
}

// MemoryStore keeps credentials in process memory.
// The map lock is only held to find an entry; counters are per entry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(key string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Get returns a copy of the credential.
func (s *MemoryStore) Get(_ context.Context, key string) (*Credential, error) {
	e, ok := s.entry(key)
	if !ok {
		return nil, ErrNotFound
	}
	return e.snapshot(), nil
}

// Put inserts or replaces a credential.
func (s *MemoryStore) Put(_ context.Context, c *Credential) error {
	e := &memoryEntry{cred: *c}
	e.usage.Store(c.Usage)
	if e.cred.CreatedAt.IsZero() {
		e.cred.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.Key] = e
	return nil
}

// AddUsage atomically adds amount and returns the new usage.
func (s *MemoryStore) AddUsage(_ context.Context, key string, amount int64) (int64, error) {
	e, ok := s.entry(key)
	if !ok {
		return 0, ErrNotFound
	}
	e.mu.Lock()
	limit := e.cred.Limit
	e.mu.Unlock()

	for {
		cur := e.usage.Load()
		if limit > 0 && cur >= limit {
			return cur, ErrQuotaExceeded
		}
		if e.usage.CompareAndSwap(cur, cur+amount) {
			return cur + amount, nil
		}
	}
}

// Activate implements Store.
func (s *MemoryStore) Activate(_ context.Context, key string, now time.Time) (*Credential, bool, error) {
	e, ok := s.entry(key)
	if !ok {
		return nil, false, ErrNotFound
	}

	e.mu.Lock()
	activated := false
	if e.cred.Status == StatusPending {
		e.cred.Status = StatusActive
		e.cred.ActivatedAt = now
		if e.cred.ValidDays > 0 {
			e.cred.ExpiresAt = now.AddDate(0, 0, e.cred.ValidDays)
		}
		activated = true
	}
	e.mu.Unlock()

	return e.snapshot(), activated, nil
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(_ context.Context, key string, status Status) error {
	e, ok := s.entry(key)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.cred.Status = status
	e.mu.Unlock()
	return nil
}

// ResetUsage implements Store.
func (s *MemoryStore) ResetUsage(_ context.Context, key string) error {
	e, ok := s.entry(key)
	if !ok {
		return ErrNotFound
	}
	e.usage.Store(0)
	return nil
}

// List returns all credentials, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]Credential, error) {
	s.mu.RLock()
	out := make([]Credential, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
