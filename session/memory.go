package session

import (
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store. Suitable for development and
// single-process deployments; it does not scale past one process and expired
// records are only reaped lazily on access.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	payload []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	mr, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !mr.expires.IsZero() && mr.expires.Before(s.now()) {
		s.mu.Lock()
		delete(s.records, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal(mr.payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MemoryStore) Set(id string, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = memoryRecord{payload: payload, expires: rec.Cookie.Expires}
	return nil
}

func (s *MemoryStore) Destroy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Touch(id string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.records[id]
	if !ok {
		return nil
	}
	mr.expires = rec.Cookie.Expires
	s.records[id] = mr
	return nil
}

// Len reports the number of live records. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
