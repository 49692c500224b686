package oidc

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/saasform/go-session-auth/session"
)

// ErrNoSession is returned by SessionStateStore when the request carries no
// session, which means the session middleware did not run before the
// authentication handler.
var ErrNoSession = errors.New("OpenID Connect authentication requires session support when using state. Did you forget to enable the session middleware?")

// SessionStateStore keeps authorization request state inside the caller's
// session, under a single key. Sibling values stored under the same key by
// the application are preserved across Store and Verify.
type SessionStateStore struct {
	key string
}

// NewSessionStateStore creates a session-backed state store writing under the
// given session key.
func NewSessionStateStore(key string) *SessionStateStore {
	return &SessionStateStore{key: key}
}

func (s *SessionStateStore) Store(r *http.Request, meta StateMeta) (string, error) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		return "", ErrNoSession
	}

	handle := newHandle()
	meta.Handle = handle

	state, err := metaToMap(meta)
	if err != nil {
		return "", errors.Wrap(err, "[SessionStateStore.Store] failed to encode state")
	}

	entry := map[string]any{}
	if existing, ok := sess.Get(s.key).(map[string]any); ok {
		for k, v := range existing {
			entry[k] = v
		}
	}
	entry["state"] = state
	sess.Set(s.key, entry)

	return handle, nil
}

func (s *SessionStateStore) Verify(r *http.Request, handle string) (*StateResult, error) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		return nil, ErrNoSession
	}

	entry, ok := sess.Get(s.key).(map[string]any)
	if !ok {
		return &StateResult{Message: msgUnableToVerifyState}, nil
	}

	raw, hasState := entry["state"]
	delete(entry, "state")
	if len(entry) == 0 {
		sess.Delete(s.key)
	} else {
		sess.Set(s.key, entry)
	}
	if !hasState {
		return &StateResult{Message: msgUnableToVerifyState}, nil
	}

	meta, err := mapToMeta(raw)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionStateStore.Verify] failed to decode state")
	}
	if meta.Handle != handle {
		return &StateResult{Message: msgInvalidState}, nil
	}
	return &StateResult{OK: true, Meta: meta}, nil
}

// metaToMap and mapToMeta convert state metadata through its JSON form so the
// value stored in the session survives any store serialization round trip.
func metaToMap(meta StateMeta) (map[string]any, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func mapToMeta(raw any) (*StateMeta, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var meta StateMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
