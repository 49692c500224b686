package server_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saasform/go-session-auth/internal/config"
	"github.com/saasform/go-session-auth/internal/metrics"
	"github.com/saasform/go-session-auth/oidc"
	"github.com/saasform/go-session-auth/server"
	"github.com/saasform/go-session-auth/session"
	"github.com/saasform/go-session-auth/users"
	fakeuserrepo "github.com/saasform/go-session-auth/users/repofake"
)

const (
	testUserEmail    = "alice@example.com"
	testUserPassword = "Password123"
)

type testFixture struct {
	server *server.Server
	repo   *fakeuserrepo.FakeUserRepo
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	kp, err := session.GenerateKeyPair()
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Options{
		Keys:   []session.KeyPair{kp},
		Cookie: session.CookieOptions{Path: "/", HTTPOnly: true, MaxAge: time.Hour},
	})
	require.NoError(t, err)

	repo := fakeuserrepo.NewFakeUserRepo()
	hash, err := users.HashPassword(testUserPassword)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(&users.User{
		Email:        testUserEmail,
		PasswordHash: hash,
		Verified:     true,
	}))

	strategy, err := oidc.New(oidc.Config{
		Issuer:           "https://op.example.com",
		AuthorizationURL: "https://op.example.com/authorize",
		TokenURL:         "https://op.example.com/token",
		ClientID:         "ABC123",
		ClientSecret:     "secret",
		Scope:            "email",
	}, server.NewVerifyFunc(repo))
	require.NoError(t, err)

	srv, err := server.New(config.New(), sessions, strategy, repo, metrics.NewCollector())
	require.NoError(t, err)

	return &testFixture{server: srv, repo: repo}
}

func (f *testFixture) passwordLogin(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{"email": {email}, "password": {password}}
	r := httptest.NewRequest(http.MethodPost, server.RoutePasswordLogin, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func findSessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "connect.sid" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestPasswordLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)

	w := f.passwordLogin(t, testUserEmail, testUserPassword)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteDashboard, w.Header().Get("Location"))

	c := findSessionCookie(t, w)
	require.True(t, c.HttpOnly)

	r := httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil)
	r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	w2 := httptest.NewRecorder()
	f.server.ServeHTTP(w2, r)

	require.Equal(t, http.StatusOK, w2.Code)
	require.Contains(t, w2.Body.String(), testUserEmail)
	require.Contains(t, w2.Body.String(), `"loginMethod":"password"`)
}

func TestPasswordLoginWrongPassword(t *testing.T) {
	f := setupTestFixture(t)

	w := f.passwordLogin(t, testUserEmail, "WrongPassword1")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "invalid credentials")
}

func TestPasswordLoginUnknownUser(t *testing.T) {
	f := setupTestFixture(t)

	w := f.passwordLogin(t, "nobody@example.com", testUserPassword)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordLoginBlockedUser(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.repo.SetBlocked(testUserEmail, true))

	w := f.passwordLogin(t, testUserEmail, testUserPassword)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDashboardRequiresAuth(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteLogin, w.Header().Get("Location"))
}

func TestLogoutDestroysSession(t *testing.T) {
	f := setupTestFixture(t)

	c := findSessionCookie(t, f.passwordLogin(t, testUserEmail, testUserPassword))

	r := httptest.NewRequest(http.MethodGet, server.RouteLogout, nil)
	r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	require.Equal(t, http.StatusFound, w.Code)

	r2 := httptest.NewRequest(http.MethodGet, server.RouteDashboard, nil)
	r2.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	w2 := httptest.NewRecorder()
	f.server.ServeHTTP(w2, r2)
	require.Equal(t, http.StatusFound, w2.Code, "a destroyed session must not grant access")
}

func TestOIDCLoginRedirectsToProvider(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodGet, server.RouteLogin, nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc,
		"https://op.example.com/authorize?response_type=code&client_id=ABC123&scope=openid%20email&state="),
		"got %s", loc)

	// The state lives in the session, so the redirect must set a cookie.
	findSessionCookie(t, w)
}

func TestIndexAndHealth(t *testing.T) {
	f := setupTestFixture(t)

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"signedIn":false`)

	w2 := httptest.NewRecorder()
	f.server.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, server.RouteHealthz, nil))
	require.Equal(t, http.StatusOK, w2.Code)

	w3 := httptest.NewRecorder()
	f.server.ServeHTTP(w3, httptest.NewRequest(http.MethodGet, server.RouteMetrics, nil))
	require.Equal(t, http.StatusOK, w3.Code)
}

func TestReturnToIsValidated(t *testing.T) {
	f := setupTestFixture(t)

	form := url.Values{
		"email":     {testUserEmail},
		"password":  {testUserPassword},
		"return_to": {"https://evil.example.com/phish"},
	}
	r := httptest.NewRequest(http.MethodPost, server.RoutePasswordLogin, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteDashboard, w.Header().Get("Location"),
		"off-site redirect targets must be dropped")
}
