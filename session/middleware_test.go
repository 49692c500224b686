package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "keyboard cat"

func newTestKeys(t *testing.T) []KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return []KeyPair{kp}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *MemoryStore) {
	t.Helper()

	var store *MemoryStore
	if opts.Store == nil {
		store = NewMemoryStore()
		opts.Store = store
	} else {
		store = opts.Store.(*MemoryStore)
	}
	if opts.Keys == nil {
		opts.Keys = newTestKeys(t)
	}

	m, err := NewManager(opts)
	require.NoError(t, err)
	return m, store
}

func doRequest(m *Manager, handler http.HandlerFunc, cookie *http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	m.Handler(handler).ServeHTTP(w, r)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q cookie in response", name)
	return nil
}

func TestModifiedSessionIssuesToken(t *testing.T) {
	m, store := newTestManager(t, Options{})

	w := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("flash", "hello")
	}, nil)

	c := sessionCookie(t, w, "connect.sid")
	require.False(t, strings.HasPrefix(c.Value, legacyPrefix))

	claims, err := verifySessionToken(m.keys, c.Value)
	require.NoError(t, err)
	require.NotEmpty(t, claims["nonce"])

	require.Equal(t, 1, store.Len())
	rec, err := store.Get(hashKey(c.Value))
	require.NoError(t, err)
	require.Equal(t, "hello", rec.Data["flash"])
}

func TestUntouchedSessionIsNotPersisted(t *testing.T) {
	m, store := newTestManager(t, Options{})

	w := doRequest(m, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)

	require.Empty(t, w.Result().Cookies())
	require.Equal(t, 0, store.Len())
}

func TestSaveUninitialized(t *testing.T) {
	m, store := newTestManager(t, Options{SaveUninitialized: true})

	w := doRequest(m, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)

	sessionCookie(t, w, "connect.sid")
	require.Equal(t, 1, store.Len())
}

func TestSessionRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")

	var got any
	w2 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("user")
	}, &http.Cookie{Name: c.Name, Value: c.Value})

	require.Equal(t, "alice", got)
	require.Empty(t, w2.Result().Cookies(), "unmodified session must not re-send the cookie")
}

func TestRollingResendsCookie(t *testing.T) {
	m, _ := newTestManager(t, Options{
		Rolling: true,
		Cookie:  CookieOptions{MaxAge: time.Hour},
	})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")

	w2 := doRequest(m, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, &http.Cookie{Name: c.Name, Value: c.Value})

	c2 := sessionCookie(t, w2, "connect.sid")
	require.Equal(t, c.Value, c2.Value)
	require.False(t, c2.Expires.IsZero())
}

func TestLegacyCookieUpgrade(t *testing.T) {
	m, store := newTestManager(t, Options{Secrets: []string{testSecret}})

	require.NoError(t, store.Set("legacy-id", &Record{
		Cookie: CookieData{Path: "/"},
		Data:   map[string]any{"user": "alice"},
	}))

	legacy := &http.Cookie{Name: "connect.sid", Value: legacyPrefix + signValue("legacy-id", testSecret)}

	var got any
	w := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		got = sess.Get("user")
		sess.Set("seen", true)
	}, legacy)

	require.Equal(t, "alice", got, "data must carry over from the legacy record")

	c := sessionCookie(t, w, "connect.sid")
	require.False(t, strings.HasPrefix(c.Value, legacyPrefix), "upgraded cookie must be a token")
	_, err := verifySessionToken(m.keys, c.Value)
	require.NoError(t, err)

	rec, err := store.Get(hashKey(c.Value))
	require.NoError(t, err)
	require.Equal(t, "alice", rec.Data["user"])
	require.Equal(t, true, rec.Data["seen"])
}

func TestLegacyCookieBadSignature(t *testing.T) {
	m, store := newTestManager(t, Options{Secrets: []string{testSecret}})

	require.NoError(t, store.Set("legacy-id", &Record{
		Cookie: CookieData{Path: "/"},
		Data:   map[string]any{"user": "alice"},
	}))

	forged := &http.Cookie{Name: "connect.sid", Value: legacyPrefix + signValue("legacy-id", "wrong-secret")}

	var got any
	doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("user")
	}, forged)

	require.Nil(t, got, "a forged cookie must not resurrect the legacy session")
}

func TestTamperedTokenStartsFreshSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")

	var got any
	doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("user")
	}, &http.Cookie{Name: c.Name, Value: c.Value + "x"})

	require.Nil(t, got)
}

func TestClaimChangeReissuesToken(t *testing.T) {
	m, store := newTestManager(t, Options{
		JWTFromRequest: func(r *http.Request) map[string]any {
			return map[string]any{"sub": r.Header.Get("X-User")}
		},
	})

	w := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		sess.Set("cart", "book")
		// Simulates a login happening mid-request.
		r.Header.Set("X-User", "alice")
	}, nil)

	c := sessionCookie(t, w, "connect.sid")
	claims, err := verifySessionToken(m.keys, c.Value)
	require.NoError(t, err)
	require.Equal(t, "alice", claims["sub"], "reissued token must carry the new claims")

	rec, err := store.Get(hashKey(c.Value))
	require.NoError(t, err)
	require.Equal(t, "book", rec.Data["cart"], "data must survive the reissue")
	require.Equal(t, 1, store.Len(), "the pre-reissue record must be destroyed")
}

func TestUnchangedClaimsKeepToken(t *testing.T) {
	m, _ := newTestManager(t, Options{
		JWTFromRequest: func(r *http.Request) map[string]any {
			return map[string]any{"sub": r.Header.Get("X-User")}
		},
	})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("cart", "book")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")

	w2 := doRequest(m, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, &http.Cookie{Name: c.Name, Value: c.Value})

	require.Empty(t, w2.Result().Cookies())
}

func TestDestroyRemovesRecordAndCookie(t *testing.T) {
	m, store := newTestManager(t, Options{})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")
	require.Equal(t, 1, store.Len())

	w2 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		require.NoError(t, FromContext(r.Context()).Destroy())
	}, &http.Cookie{Name: c.Name, Value: c.Value})

	require.Equal(t, 0, store.Len())
	require.Empty(t, w2.Result().Cookies(), "destroyed sessions must not set a cookie")
}

func TestUnsetDestroy(t *testing.T) {
	m, store := newTestManager(t, Options{Unset: UnsetDestroy})

	w1 := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")
	require.Equal(t, 1, store.Len())

	doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Unset()
	}, &http.Cookie{Name: c.Name, Value: c.Value})

	require.Equal(t, 0, store.Len())
}

func TestKeyRotation(t *testing.T) {
	oldKey := newTestKeys(t)[0]
	newKey := newTestKeys(t)[0]
	store := NewMemoryStore()

	oldManager, _ := newTestManager(t, Options{Keys: []KeyPair{oldKey}, Store: store})
	w1 := doRequest(oldManager, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w1, "connect.sid")

	// New deployments sign with the new key but keep the old public key in
	// the rotation set.
	newManager, _ := newTestManager(t, Options{Keys: []KeyPair{newKey, oldKey}, Store: store})

	var got any
	doRequest(newManager, func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("user")
	}, &http.Cookie{Name: c.Name, Value: c.Value})
	require.Equal(t, "alice", got)

	// A manager without the old key refuses the token.
	strictManager, _ := newTestManager(t, Options{Keys: []KeyPair{newKey}, Store: store})
	var gotStrict any
	doRequest(strictManager, func(_ http.ResponseWriter, r *http.Request) {
		gotStrict = FromContext(r.Context()).Get("user")
	}, &http.Cookie{Name: c.Name, Value: c.Value})
	require.Nil(t, gotStrict)
}

func TestNestedMiddlewareRunsOnce(t *testing.T) {
	m, store := newTestManager(t, Options{})

	var sessions []*Session
	inner := func(_ http.ResponseWriter, r *http.Request) {
		sessions = append(sessions, FromContext(r.Context()))
		FromContext(r.Context()).Set("user", "alice")
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	m.Handler(m.Handler(http.HandlerFunc(inner))).ServeHTTP(w, r)

	require.Len(t, sessions, 1)
	require.Equal(t, 1, store.Len())
	require.Len(t, w.Result().Cookies(), 1)
}

func TestStoreKeysAreHashedTokens(t *testing.T) {
	m, store := newTestManager(t, Options{})

	w := doRequest(m, func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("user", "alice")
	}, nil)
	c := sessionCookie(t, w, "connect.sid")

	store.mu.RLock()
	defer store.mu.RUnlock()
	for key := range store.records {
		require.Len(t, key, 64, "store keys must be SHA-256 hex digests")
		require.NotEqual(t, c.Value, key, "raw tokens must never appear as store keys")
	}
}

func TestCookiePathScoping(t *testing.T) {
	m, _ := newTestManager(t, Options{Cookie: CookieOptions{Path: "/app"}})

	var sess *Session
	r := httptest.NewRequest(http.MethodGet, "/other", nil)
	w := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		sess = FromContext(r.Context())
	})).ServeHTTP(w, r)

	require.Nil(t, sess, "requests outside the cookie path must not carry a session")
}

func TestMissingKeysFailsRequest(t *testing.T) {
	m, err := NewManager(Options{Store: NewMemoryStore()})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without session keys")
	})).ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
