package session

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UnsetMode controls what happens to the store record when a session is
// unset by a handler.
type UnsetMode string

const (
	// UnsetKeep leaves the store record in place.
	UnsetKeep UnsetMode = "keep"
	// UnsetDestroy removes the store record.
	UnsetDestroy UnsetMode = "destroy"
)

// ClaimsFunc derives the claim set to embed in a session token from the
// current request. It is called once when the request starts and again at
// response-commit time; if the two results differ the token is reissued.
type ClaimsFunc func(r *http.Request) map[string]any

// Metrics receives counters from the middleware. All methods must be safe for
// concurrent use.
type Metrics interface {
	SessionCreated()
	SessionUpgraded()
	SessionDestroyed()
	SessionSaved()
}

type noopMetrics struct{}

func (noopMetrics) SessionCreated()   {}
func (noopMetrics) SessionUpgraded()  {}
func (noopMetrics) SessionDestroyed() {}
func (noopMetrics) SessionSaved()     {}

// Options configures a session Manager.
type Options struct {
	// Name is the session cookie name. Defaults to "connect.sid".
	Name string
	// Cookie configures the session cookie attributes.
	Cookie CookieOptions
	// Secrets verify legacy HMAC-signed session cookies, newest first.
	Secrets []string
	// Keys sign and verify JWT session tokens. The first pair signs; all
	// public keys verify. Required to issue sessions.
	Keys []KeyPair
	// Store persists session records. Defaults to an in-memory store.
	Store Store
	// JWTFromRequest extracts the claims embedded in new session tokens.
	JWTFromRequest ClaimsFunc
	// Resave forces unmodified sessions to be written back to the store.
	Resave bool
	// SaveUninitialized persists brand-new sessions even when untouched.
	SaveUninitialized bool
	// Rolling re-sends the cookie on every response, pushing expiry forward.
	Rolling bool
	// Unset selects the store behavior for unset sessions. Defaults to keep.
	Unset UnsetMode
	// TrustProxy trusts X-Forwarded-Proto when resolving SecureAuto cookies.
	TrustProxy bool
	// Metrics optionally receives middleware counters.
	Metrics Metrics
}

// Manager is the session middleware. Construct with NewManager and mount its
// Handler around the application routes.
type Manager struct {
	name       string
	cookieOpts CookieOptions
	secrets    []string
	keys       []KeyPair
	store      *hashedStore
	claimsFn   ClaimsFunc
	resave     bool
	saveUninit bool
	rolling    bool
	unsetMode  UnsetMode
	trustProxy bool
	metrics    Metrics
}

// NewManager validates the options and creates a session Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Unset != "" && opts.Unset != UnsetKeep && opts.Unset != UnsetDestroy {
		return nil, errors.Errorf(`[NewManager] unset option must be %q or %q`, UnsetDestroy, UnsetKeep)
	}

	name := opts.Name
	if name == "" {
		name = "connect.sid"
	}
	inner := opts.Store
	if inner == nil {
		inner = NewMemoryStore()
	}
	claimsFn := opts.JWTFromRequest
	if claimsFn == nil {
		claimsFn = func(*http.Request) map[string]any { return map[string]any{} }
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	unsetMode := opts.Unset
	if unsetMode == "" {
		unsetMode = UnsetKeep
	}

	return &Manager{
		name:       name,
		cookieOpts: opts.Cookie,
		secrets:    opts.Secrets,
		keys:       opts.Keys,
		store:      &hashedStore{inner: inner},
		claimsFn:   claimsFn,
		resave:     opts.Resave,
		saveUninit: opts.SaveUninitialized,
		rolling:    opts.Rolling,
		unsetMode:  unsetMode,
		trustProxy: opts.TrustProxy,
		metrics:    metrics,
	}, nil
}

// Handler wraps next with session handling. The session is available through
// FromContext; it is committed (cookie + store) when the response starts
// writing, so handlers may mutate it up to the last moment.
func (m *Manager) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A session attached by an outer instance wins.
		if FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		if !m.store.ready() {
			log.Debug().Msg("session store is disconnected, continuing without session")
			next.ServeHTTP(w, r)
			return
		}

		cookiePath := m.cookieOpts.Path
		if cookiePath == "" {
			cookiePath = "/"
		}
		if !strings.HasPrefix(r.URL.Path, cookiePath) {
			next.ServeHTTP(w, r)
			return
		}

		// Issuing a session token is impossible without keys; an ambiguous
		// session must not reach the handlers.
		if len(m.keys) == 0 {
			log.Error().Msg("session keys are not configured")
			http.Error(w, "session keys are not configured", http.StatusInternalServerError)
			return
		}

		rs := &requestState{m: m, r: r}
		rs.cookieID, rs.claims = m.readCookie(r)
		rs.origClaims = normalizeClaims(m.claimsFn(r))

		if rs.cookieID == "" {
			if err := rs.generate(nil); err != nil {
				log.Error().Err(err).Msg("failed to generate session")
				http.Error(w, "failed to generate session", http.StatusInternalServerError)
				return
			}
		} else {
			rec, err := m.store.Get(rs.cookieID)
			switch {
			case err != nil && !errors.Is(err, ErrNotFound):
				log.Error().Err(err).Msg("session store get failed")
				http.Error(w, "session store unavailable", http.StatusInternalServerError)
				return
			case err != nil:
				if err := rs.generate(nil); err != nil {
					log.Error().Err(err).Msg("failed to generate session")
					http.Error(w, "failed to generate session", http.StatusInternalServerError)
					return
				}
			default:
				if err := rs.inflate(rec); err != nil {
					log.Error().Err(err).Msg("failed to inflate session")
					http.Error(w, "failed to inflate session", http.StatusInternalServerError)
					return
				}
			}
		}

		r = r.WithContext(context.WithValue(r.Context(), sessionContextKey, rs.sess))
		rs.r = r

		sw := &sessionWriter{ResponseWriter: w, rs: rs}
		next.ServeHTTP(sw, r)

		// Commit for handlers that never wrote a body or header.
		rs.finalize(w)
	})
}

// readCookie extracts and validates the session cookie, returning the session
// identifier and, for JWT cookies, the verified claim set. An invalid cookie
// of either format is treated as absent.
func (m *Manager) readCookie(r *http.Request) (string, map[string]any) {
	c, err := r.Cookie(m.name)
	if err != nil || c.Value == "" {
		return "", nil
	}

	if strings.HasPrefix(c.Value, legacyPrefix) {
		if v, ok := unsignValue(c.Value[len(legacyPrefix):], m.secrets); ok {
			return v, nil
		}
		log.Debug().Msg("legacy session cookie signature invalid")
		return "", nil
	}

	claims, err := verifySessionToken(m.keys, c.Value)
	if err != nil {
		log.Debug().Err(err).Msg("session token invalid")
		return "", nil
	}
	return c.Value, claims
}

// requestState tracks one request's session bookkeeping: the identifier and
// data fingerprint at load time, the fingerprint at last save, and the claim
// set captured when the request started.
type requestState struct {
	m *Manager
	r *http.Request

	cookieID   string
	claims     map[string]any
	origClaims map[string]any

	originalID   string
	originalHash string
	savedHash    string
	touched      bool
	finalized    bool
	reissued     bool

	sess *Session
}

// generate creates a brand-new JWT session, optionally seeded with data
// carried over from a previous incarnation.
func (rs *requestState) generate(existing map[string]any) error {
	token, issued, err := signSessionToken(rs.m.keys, rs.m.claimsFn(rs.r))
	if err != nil {
		return err
	}

	data := existing
	if data == nil {
		data = map[string]any{}
	}

	secure := rs.m.cookieOpts.Secure == SecureOn
	if rs.m.cookieOpts.Secure == SecureAuto {
		secure = isSecureRequest(rs.r, rs.m.trustProxy)
	}

	rs.sess = &Session{
		id:     token,
		Cookie: newCookie(rs.m.cookieOpts, secure),
		claims: issued,
		data:   data,
		rs:     rs,
	}
	rs.originalID = token
	rs.originalHash = hashData(data)
	rs.m.metrics.SessionCreated()
	return nil
}

// inflate restores a session from its persisted record. Legacy sessions
// (identified by the absence of verified JWT claims) are migrated onto a
// fresh JWT session carrying everything except the cookie; the synthetic
// savedHash prefix makes sure the migrated record is written exactly once
// even when the handler does not modify it.
func (rs *requestState) inflate(rec *Record) error {
	if rs.claims == nil {
		if err := rs.generate(copyData(rec.Data)); err != nil {
			return err
		}
		rs.savedHash = "-" + rs.originalHash
		rs.m.metrics.SessionUpgraded()
		return nil
	}

	rs.sess = &Session{
		id:     rs.cookieID,
		Cookie: cookieFromData(rec.Cookie),
		claims: rs.claims,
		data:   copyData(rec.Data),
		rs:     rs,
	}
	rs.originalID = rs.cookieID
	rs.originalHash = hashData(rs.sess.data)
	if !rs.m.resave {
		rs.savedHash = rs.originalHash
	}
	return nil
}

// finalize commits the session: reissues the token if the request-derived
// claims changed, decides whether to set the cookie, and saves, touches or
// destroys the store record. It runs exactly once per request, triggered by
// the first response write (or after the handler returns, whichever comes
// first), so the Set-Cookie header is always in place before the header is
// flushed.
func (rs *requestState) finalize(w http.ResponseWriter) {
	if rs.finalized {
		return
	}
	rs.finalized = true

	sess := rs.sess
	if sess == nil || sess.destroyed {
		return
	}

	// A change in authentication-relevant request state forces reissuance of
	// the token within this same response, carrying the data over.
	newClaims := normalizeClaims(rs.m.claimsFn(rs.r))
	if !reflect.DeepEqual(rs.origClaims, newClaims) {
		data := copyData(sess.data)
		if err := rs.m.store.Destroy(sess.id); err != nil {
			log.Error().Err(err).Msg("failed to destroy session during reissue")
		}
		rs.m.metrics.SessionDestroyed()
		if err := rs.generate(data); err != nil {
			log.Error().Err(err).Msg("failed to reissue session")
			return
		}
		rs.reissued = true
		sess = rs.sess
	}

	if sess.unset {
		if rs.m.unsetMode == UnsetDestroy && rs.cookieID != "" {
			if err := rs.m.store.Destroy(sess.id); err != nil {
				log.Error().Err(err).Msg("failed to destroy unset session")
			}
			rs.m.metrics.SessionDestroyed()
		}
		return
	}

	if !rs.touched {
		sess.Cookie.touch(time.Now())
		rs.touched = true
	}

	if rs.shouldSetCookie() {
		if sess.Cookie.Secure && !isSecureRequest(rs.r, rs.m.trustProxy) {
			log.Debug().Msg("not sending secure session cookie over insecure connection")
		} else {
			w.Header().Add("Set-Cookie", sess.Cookie.header(rs.m.name, sess.id))
		}
	}

	switch {
	case rs.shouldSave():
		if err := sess.Save(); err != nil {
			log.Error().Err(err).Msg("failed to save session")
		}
	case rs.m.store.implementsTouch() && rs.shouldTouch():
		if err := rs.m.store.Touch(sess.id, sess.record()); err != nil {
			log.Error().Err(err).Msg("failed to touch session")
		}
	}
}

func (rs *requestState) isModified() bool {
	return rs.originalID != rs.sess.id || rs.originalHash != hashData(rs.sess.data)
}

func (rs *requestState) isSaved() bool {
	return rs.originalID == rs.sess.id && rs.savedHash == hashData(rs.sess.data)
}

func (rs *requestState) shouldSave() bool {
	if rs.reissued {
		return true
	}
	if !rs.m.saveUninit && rs.cookieID != rs.sess.id {
		return rs.isModified()
	}
	return !rs.isSaved()
}

func (rs *requestState) shouldTouch() bool {
	return rs.cookieID == rs.sess.id && !rs.shouldSave()
}

func (rs *requestState) shouldSetCookie() bool {
	if rs.reissued {
		return true
	}
	if rs.cookieID != rs.sess.id {
		return rs.m.saveUninit || rs.isModified()
	}
	return rs.m.rolling || (!rs.sess.Cookie.Expires.IsZero() && rs.isModified())
}

// sessionWriter intercepts the first header/body write to commit the session
// before the header is flushed.
type sessionWriter struct {
	http.ResponseWriter
	rs          *requestState
	wroteHeader bool
}

func (w *sessionWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.rs.finalize(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// normalizeClaims round-trips claims through JSON so that numeric types
// compare equal regardless of how the claims function produced them.
func normalizeClaims(claims map[string]any) map[string]any {
	if claims == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return claims
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return claims
	}
	return out
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
