// Package audit keeps a bounded in-memory trail of the mutations applied to
// the active session: ingestions, override changes and snapshot writes.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"oeetrack/internal/model"
)

const (
	ActionIngest         = "ingest"
	ActionIngestFailed   = "ingest_failed"
	ActionOverride       = "override"
	ActionClearBonus     = "clear_bonus"
	ActionSnapshotSave   = "snapshot_save"
	ActionSnapshotDelete = "snapshot_delete"
	ActionReset          = "reset"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.AuditEntry
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Record stamps entry with an id and time when they are missing, appends it
// and returns the stored value. The oldest entry is dropped once full.
func (s *Store) Record(entry model.AuditEntry) model.AuditEntry {
	if s == nil {
		return entry
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return entry
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
	return entry
}

// List returns the newest limit entries, oldest first.
func (s *Store) List(limit int) []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.AuditEntry, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, 0)
	for _, e := range s.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
