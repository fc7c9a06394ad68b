package alerting

import (
	"context"
	"sync"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec *Record
}

// MemoryStore keeps records in process memory with one lock per subject.
// Records live until cleared; the set is bounded by the number of subjects.
type MemoryStore struct {
	entries sync.Map // subject -> *memoryEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) entry(subject string) *memoryEntry {
	v, _ := m.entries.LoadOrStore(subject, &memoryEntry{})
	return v.(*memoryEntry)
}

// Swap implements RecordStore.
func (m *MemoryStore) Swap(_ context.Context, rec Record) (bool, error) {
	e := m.entry(rec.Subject)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil && e.rec.Condition == rec.Condition {
		return false, nil
	}
	stored := rec
	e.rec = &stored
	return true, nil
}

// Get implements RecordStore.
func (m *MemoryStore) Get(_ context.Context, subject string) (Record, bool, error) {
	e := m.entry(subject)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return Record{}, false, nil
	}
	return *e.rec, true, nil
}

// Clear implements RecordStore.
func (m *MemoryStore) Clear(_ context.Context, subject string) error {
	e := m.entry(subject)
	e.mu.Lock()
	e.rec = nil
	e.mu.Unlock()
	return nil
}

var _ RecordStore = (*MemoryStore)(nil)
