package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Get when no record exists for the
// identifier. The middleware treats it as "no session" rather than a failure.
var ErrNotFound = errors.New("session not found")

// Record is the persisted form of a session: its cookie descriptor and the
// application data. JWT claims are deliberately not part of the record; the
// token itself is the claim carrier and is never stored server side.
type Record struct {
	Cookie CookieData     `json:"cookie"`
	Data   map[string]any `json:"data,omitempty"`
}

// Store persists session records keyed by session identifier.
type Store interface {
	Get(id string) (*Record, error)
	Set(id string, rec *Record) error
	Destroy(id string) error
}

// Toucher is implemented by stores that can refresh a record's TTL without
// rewriting it. The middleware touches instead of saving when only the expiry
// moved.
type Toucher interface {
	Touch(id string, rec *Record) error
}

// ReadyReporter is implemented by stores backed by a connection that can drop.
// When a store reports not ready the middleware passes the request through
// without a session instead of failing it.
type ReadyReporter interface {
	Ready() bool
}

// maxPlainKeyLen is the longest identifier stored as-is. Anything longer is a
// JWT and is hashed so raw tokens never appear as store keys.
const maxPlainKeyLen = 50

func hashKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// hashedStore wraps a Store so that long identifiers (JWTs) are SHA-256
// hashed before reaching the backing implementation. Get and Destroy hash
// conditionally because legacy identifiers are short; Set and Touch only ever
// run for JWT sessions and always hash.
type hashedStore struct {
	inner Store
}

func (s *hashedStore) key(id string) string {
	if len(id) > maxPlainKeyLen {
		return hashKey(id)
	}
	return id
}

func (s *hashedStore) Get(id string) (*Record, error) {
	return s.inner.Get(s.key(id))
}

func (s *hashedStore) Destroy(id string) error {
	return s.inner.Destroy(s.key(id))
}

func (s *hashedStore) Set(id string, rec *Record) error {
	return s.inner.Set(hashKey(id), rec)
}

func (s *hashedStore) Touch(id string, rec *Record) error {
	if t, ok := s.inner.(Toucher); ok {
		return t.Touch(hashKey(id), rec)
	}
	return nil
}

func (s *hashedStore) implementsTouch() bool {
	_, ok := s.inner.(Toucher)
	return ok
}

func (s *hashedStore) ready() bool {
	if rr, ok := s.inner.(ReadyReporter); ok {
		return rr.Ready()
	}
	return true
}

// hashData fingerprints session data for change detection. The cookie and the
// JWT claims are kept outside the data map, so they never influence the hash.
func hashData(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		// Unserializable session data cannot be persisted either; an empty
		// fingerprint forces a save attempt which surfaces the real error.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
