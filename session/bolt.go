package session

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore persists session records in a bbolt database, surviving process
// restarts. Still single-process: bbolt takes an exclusive file lock.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

type boltRecord struct {
	Record  Record    `json:"record"`
	Expires time.Time `json:"expires,omitempty"`
}

// NewBoltStore wraps an open bbolt database as a session store.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sessions bucket")
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// OpenBoltStore opens (or creates) a bbolt database at path and wraps it.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open session database %s", path)
	}
	return NewBoltStore(db)
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(id string) (*Record, error) {
	var br boltRecord
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &br)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session record")
	}
	if !found {
		return nil, ErrNotFound
	}
	if !br.Expires.IsZero() && br.Expires.Before(s.now()) {
		_ = s.Destroy(id)
		return nil, ErrNotFound
	}
	return &br.Record, nil
}

func (s *BoltStore) Set(id string, rec *Record) error {
	payload, err := json.Marshal(boltRecord{Record: *rec, Expires: rec.Cookie.Expires})
	if err != nil {
		return errors.Wrap(err, "failed to encode session record")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(id), payload)
	})
}

func (s *BoltStore) Destroy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) Touch(id string, rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var br boltRecord
		if err := json.Unmarshal(v, &br); err != nil {
			return err
		}
		br.Expires = rec.Cookie.Expires
		br.Record.Cookie = rec.Cookie
		payload, err := json.Marshal(br)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), payload)
	})
}
