package oidc

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
)

// State verification failure messages. These are part of the compatibility
// contract with relying applications and must not be reworded.
const (
	msgUnableToVerifyState = "Unable to verify authorization request state."
	msgInvalidState        = "Invalid authorization request state."
)

// handleLength is the length in characters of generated state handles.
const handleLength = 24

// StateMeta is the per-attempt snapshot persisted under a state handle. The
// callback recovers the exact configuration used when the authorization
// request was issued, even if the strategy's configuration changed in
// between.
type StateMeta struct {
	Handle           string            `json:"handle,omitempty"`
	Issuer           string            `json:"issuer,omitempty"`
	AuthorizationURL string            `json:"authorizationURL,omitempty"`
	TokenURL         string            `json:"tokenURL,omitempty"`
	UserInfoURL      string            `json:"userInfoURL,omitempty"`
	ClientID         string            `json:"clientID,omitempty"`
	ClientSecret     string            `json:"clientSecret,omitempty"`
	CallbackURL      string            `json:"callbackURL,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
	ReturnTo         string            `json:"returnTo,omitempty"`
}

// StateResult is the outcome of verifying a state handle. OK distinguishes a
// verification failure (invalid or unknown handle, reported with a message)
// from the error channel used for store malfunctions.
type StateResult struct {
	OK      bool
	Meta    *StateMeta
	Message string
}

// StateStore persists authorization request state between the redirect to
// the provider and the callback. Verification is single use: a handle is
// removed by Verify whether or not it checks out.
type StateStore interface {
	Store(r *http.Request, meta StateMeta) (string, error)
	Verify(r *http.Request, handle string) (*StateResult, error)
}

// newHandle generates a cryptographically random state handle.
func newHandle() string {
	b := make([]byte, handleLength/4*3)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// MemoryStateStore keeps state in process memory. Suitable for single-process
// deployments only; entries for abandoned flows are never expired, which is a
// documented limitation rather than a bug.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]StateMeta
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]StateMeta)}
}

func (s *MemoryStateStore) Store(_ *http.Request, meta StateMeta) (string, error) {
	handle := newHandle()
	meta.Handle = handle

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[handle] = meta
	return handle, nil
}

func (s *MemoryStateStore) Verify(_ *http.Request, handle string) (*StateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.states[handle]
	if !ok {
		return &StateResult{Message: msgUnableToVerifyState}, nil
	}
	delete(s.states, handle)

	if meta.Handle != handle {
		return &StateResult{Message: msgInvalidState}, nil
	}
	return &StateResult{OK: true, Meta: &meta}, nil
}

// Len reports the number of pending states. Used by tests.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
