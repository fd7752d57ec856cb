package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the L1 tier when no capacity is configured.
const DefaultMemoryCapacity = 1024

// MemoryTier is the process-local L1 tier: an LRU-bounded map with
// per-entry TTL. All operations are O(1) and non-suspending.
type MemoryTier struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	now func() time.Time // overridable for tests
}

// NewMemoryTier creates an L1 tier holding at most capacity entries.
func NewMemoryTier(capacity int) *MemoryTier {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryTier{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (t *MemoryTier) Name() string { return "l1" }

// Get returns the entry for the fingerprint, or (nil, nil) on a miss.
// Expired entries are removed and reported as misses.
func (t *MemoryTier) Get(_ context.Context, fingerprint string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*Entry)
	if entry.Expired(t.now()) {
		t.order.Remove(elem)
		delete(t.entries, fingerprint)
		return nil, nil
	}
	t.order.MoveToFront(elem)
	return entry, nil
}

// Set inserts or replaces the entry, evicting the least recently used
// entry when the tier is at capacity.
func (t *MemoryTier) Set(_ context.Context, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.entries[entry.Fingerprint]; ok {
		elem.Value = entry
		t.order.MoveToFront(elem)
		return nil
	}

	t.entries[entry.Fingerprint] = t.order.PushFront(entry)

	for t.order.Len() > t.capacity {
		oldest := t.order.Back()
		if oldest == nil {
			break
		}
		t.order.Remove(oldest)
		delete(t.entries, oldest.Value.(*Entry).Fingerprint)
	}
	return nil
}

// Delete removes the entry if present.
func (t *MemoryTier) Delete(_ context.Context, fingerprint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.entries[fingerprint]; ok {
		t.order.Remove(elem)
		delete(t.entries, fingerprint)
	}
	return nil
}

// Len returns the current entry count.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Close is a no-op for the in-memory tier.
func (t *MemoryTier) Close() error { return nil }
