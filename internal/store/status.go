package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StatusRecord is the last-known build outcome for one target.
type StatusRecord struct {
	Works      bool   `json:"works"`
	LastTested int64  `json:"last_tested"` // unix seconds
	Message    string `json:"message"`
}

// StatusStore maps target identity to its last-known outcome. The control
// loop is the single writer; Snapshot gives concurrent readers a copy.
type StatusStore struct {
	mu      sync.RWMutex
	records map[string]StatusRecord
	kv      KV
}

// NewStatusStore creates a store backed by the durable KV collaborator.
func NewStatusStore(kv KV) *StatusStore {
	return &StatusStore{
		records: make(map[string]StatusRecord),
		kv:      kv,
	}
}

// Load restores the persisted status map. An absent key starts empty.
func (s *StatusStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]StatusRecord)
	if _, err := GetJSON(ctx, s.kv, KeyStatusMap, &records); err != nil {
		return err
	}
	s.records = records
	return nil
}

// Update overwrites the record for target unconditionally and persists the
// map. last_tested never moves backwards for a key.
func (s *StatusStore) Update(ctx context.Context, target string, works bool, message string, now time.Time) error {
	s.mu.Lock()
	ts := now.Unix()
	if prev, ok := s.records[target]; ok && prev.LastTested > ts {
		ts = prev.LastTested
	}
	s.records[target] = StatusRecord{Works: works, LastTested: ts, Message: message}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Sweep removes every record whose last_tested is older than ttl and returns
// the removed target ids. Runs once per completed pass, not per target.
func (s *StatusStore) Sweep(ctx context.Context, ttl time.Duration, now time.Time) ([]string, error) {
	s.mu.Lock()
	var removed []string
	cutoff := now.Unix() - int64(ttl/time.Second)
	for target, rec := range s.records {
		if rec.LastTested < cutoff {
			delete(s.records, target)
			removed = append(removed, target)
		}
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil, nil
	}
	slog.Info("Swept stale status records", "removed", len(removed))
	return removed, s.persist(ctx)
}

// Snapshot returns a read-only copy of the status map.
func (s *StatusStore) Snapshot() map[string]StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]StatusRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Len returns the number of records.
func (s *StatusStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *StatusStore) persist(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make(map[string]StatusRecord, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	return SetJSON(ctx, s.kv, KeyStatusMap, snapshot)
}
