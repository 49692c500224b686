// Package session provides an HTTP session middleware whose session
// identifier is a signed ES256 JWT carried in a cookie. Legacy HMAC-signed
// session cookies are transparently upgraded to the JWT format on first
// contact, and a change in the request-derived claim set forces reissuance of
// the token within the same request/response cycle.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type contextKey struct{}

var sessionContextKey contextKey

// FromContext returns the session attached to the context by the middleware,
// or nil when no session middleware ran.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey).(*Session)
	return s
}

// Session is the per-request session object. It is owned by the request that
// created it and must not be shared across requests.
type Session struct {
	id     string
	Cookie *Cookie

	claims map[string]any
	data   map[string]any

	destroyed bool
	unset     bool

	rs *requestState
}

// ID returns the session identifier. For JWT sessions this is the raw token.
func (s *Session) ID() string {
	return s.id
}

// Claims returns the claim set embedded in the session token. The returned
// map must not be modified; claims change only through token reissuance.
func (s *Session) Claims() map[string]any {
	return s.claims
}

// Get returns a value from the session data, or nil.
func (s *Session) Get(key string) any {
	return s.data[key]
}

// Set stores a value in the session data. The change is persisted at
// response-commit time.
func (s *Session) Set(key string, value any) {
	s.data[key] = value
}

// Delete removes a value from the session data.
func (s *Session) Delete(key string) {
	delete(s.data, key)
}

// Values returns the live session data map.
func (s *Session) Values() map[string]any {
	return s.data
}

// Destroy removes the session record from the store and detaches the session
// from the request. No cookie is written for a destroyed session.
func (s *Session) Destroy() error {
	s.destroyed = true
	if s.rs == nil || s.id == "" {
		return nil
	}
	if err := s.rs.m.store.Destroy(s.id); err != nil {
		return errors.Wrap(err, "[Session.Destroy] store destroy failed")
	}
	s.rs.m.metrics.SessionDestroyed()
	return nil
}

// Unset detaches the session from the request. Whether the store record is
// removed follows the manager's Unset option.
func (s *Session) Unset() {
	s.unset = true
}

// Touch refreshes the cookie expiry without marking the data modified.
func (s *Session) Touch() {
	s.Cookie.touch(time.Now())
}

// Save persists the session record immediately instead of waiting for the
// response commit.
func (s *Session) Save() error {
	if s.rs == nil {
		return errors.New("[Session.Save] session is not attached to a request")
	}
	if err := s.rs.m.store.Set(s.id, s.record()); err != nil {
		return errors.Wrap(err, "[Session.Save] store set failed")
	}
	s.rs.savedHash = hashData(s.data)
	s.rs.m.metrics.SessionSaved()
	return nil
}

func (s *Session) record() *Record {
	return &Record{Cookie: s.Cookie.data(), Data: s.data}
}
