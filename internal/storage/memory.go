// Package storage holds the controller's in-memory state. Every change builds
// fresh slices and swaps them in under the lock, so readers and concurrent
// upload/validate goroutines only ever observe whole collections.
package storage

import (
	"errors"
	"sync"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateID is returned when an update would give a record an id
	// another tracked record already carries.
	ErrDuplicateID = errors.New("duplicate file id")
)

// Observer receives a copy of the state after every committed change. It is
// called while the store lock is held, so it must not call back into the
// store.
type Observer func(model.Snapshot)

// MemoryStore owns the tracked files, validation results and the stored-file
// listing.
type MemoryStore struct {
	mu       sync.Mutex
	files    []model.FileRecord
	results  []model.ValidationResult
	stored   []model.StoredFile
	observer Observer
}

// NewMemoryStore constructs a MemoryStore. observer may be nil.
func NewMemoryStore(observer Observer) *MemoryStore {
	return &MemoryStore{observer: observer}
}

// Append adds records to the end of the tracked list in a single update.
func (m *MemoryStore) Append(records ...model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]model.FileRecord, 0, len(m.files)+len(records))
	next = append(next, m.files...)
	for _, rec := range records {
		if indexOf(next, rec.ID) >= 0 {
			return ErrDuplicateID
		}
		next = append(next, rec)
	}
	m.files = next
	m.notify()
	return nil
}

// Update applies fn to a copy of the record with the given id and swaps the
// result in. fn may change the id; the new id must stay unique. When fn
// returns an error nothing is committed and the error is returned as is.
func (m *MemoryStore) Update(id string, fn func(rec *model.FileRecord) error) (model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.files, id)
	if idx < 0 {
		return model.FileRecord{}, ErrNotFound
	}
	rec := m.files[idx]
	if err := fn(&rec); err != nil {
		return model.FileRecord{}, err
	}
	if rec.ID != id {
		if other := indexOf(m.files, rec.ID); other >= 0 && other != idx {
			return model.FileRecord{}, ErrDuplicateID
		}
	}
	next := append([]model.FileRecord(nil), m.files...)
	next[idx] = rec
	m.files = next
	m.notify()
	return rec, nil
}

// Complete marks the record completed and appends its validation result as
// one change, so a result never exists without its completed record.
// accept is consulted on the current record first; when it returns an error
// nothing is committed.
func (m *MemoryStore) Complete(id string, result model.ValidationResult, accept func(rec model.FileRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.files, id)
	if idx < 0 {
		return ErrNotFound
	}
	rec := m.files[idx]
	if accept != nil {
		if err := accept(rec); err != nil {
			return err
		}
	}
	rec.Status = model.StatusCompleted
	rec.Error = ""
	rec.Progress = 0
	files := append([]model.FileRecord(nil), m.files...)
	files[idx] = rec
	result.FileID = id
	results := make([]model.ValidationResult, 0, len(m.results)+1)
	results = append(results, m.results...)
	results = append(results, result.Clone())
	m.files = files
	m.results = results
	m.notify()
	return nil
}

// Remove drops the record and every result referencing it. It reports whether
// a record was removed; removing an unknown id is a no-op.
func (m *MemoryStore) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.files, id)
	if idx < 0 {
		return false
	}
	files := make([]model.FileRecord, 0, len(m.files)-1)
	files = append(files, m.files[:idx]...)
	files = append(files, m.files[idx+1:]...)
	results := make([]model.ValidationResult, 0, len(m.results))
	for _, r := range m.results {
		if r.FileID != id {
			results = append(results, r)
		}
	}
	m.files = files
	m.results = results
	m.notify()
	return true
}

// ReplaceStored swaps in a fresh server listing.
func (m *MemoryStore) ReplaceStored(list []model.StoredFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append([]model.StoredFile(nil), list...)
	m.notify()
}

// RemoveStored drops one entry from the server listing.
func (m *MemoryStore) RemoveStored(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]model.StoredFile, 0, len(m.stored))
	for _, f := range m.stored {
		if f.FileID != id {
			next = append(next, f)
		}
	}
	m.stored = next
	m.notify()
}

// Get returns a record copy.
func (m *MemoryStore) Get(id string) (model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.files, id)
	if idx < 0 {
		return model.FileRecord{}, ErrNotFound
	}
	return m.files[idx], nil
}

// Snapshot returns a deep copy of the current state.
func (m *MemoryStore) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *MemoryStore) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Files:   append([]model.FileRecord{}, m.files...),
		Results: make([]model.ValidationResult, 0, len(m.results)),
		Stored:  append([]model.StoredFile{}, m.stored...),
	}
	for _, r := range m.results {
		snap.Results = append(snap.Results, r.Clone())
	}
	return snap
}

func (m *MemoryStore) notify() {
	if m.observer != nil {
		m.observer(m.snapshotLocked())
	}
}

func indexOf(files []model.FileRecord, id string) int {
	for i := range files {
		if files[i].ID == id {
			return i
		}
	}
	return -1
}
