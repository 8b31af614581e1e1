// Package dnc maintains the Do-Not-Call registry.
//
// Numbers land here when a prospect opts out mid-call; the call initiation
// endpoint consults the registry and refuses to dial listed numbers. Two
// implementations exist: a process-local [MemoryStore] for development and a
// PostgreSQL-backed [PostgresStore] for deployments that must survive
// restarts.
package dnc

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store is the Do-Not-Call registry abstraction.
// Implementations must be safe for concurrent use.
type Store interface {
	// Add records number as opted out. Adding an already-listed number is not
	// an error. reason is free-form ("opt_out_detected", "manual", ...).
	Add(ctx context.Context, number, reason string) error

	// Contains reports whether number is listed.
	Contains(ctx context.Context, number string) (bool, error)

	// Close releases any held resources.
	Close() error
}

// Normalize canonicalizes a phone number for registry comparison: digits
// only, with a leading "+" preserved when present. "+1 (415) 555-0100" and
// "+14155550100" map to the same key.
func Normalize(number string) string {
	var sb strings.Builder
	for i, r := range strings.TrimSpace(number) {
		if r == '+' && i == 0 {
			sb.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// MemoryStore is an in-process registry. Entries live until the process
// exits.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Add implements [Store].
func (m *MemoryStore) Add(_ context.Context, number, _ string) error {
	key := Normalize(number)
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		m.entries[key] = time.Now()
	}
	return nil
}

// Contains implements [Store].
func (m *MemoryStore) Contains(_ context.Context, number string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[Normalize(number)]
	return ok, nil
}

// Close implements [Store]. It is a no-op for the in-memory registry.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of listed entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
