// Package oidc implements a relying-party OpenID Connect authorization code
// flow: issuing authorization redirects, verifying single-use request state,
// exchanging the code for tokens and resolving the user profile. Providers
// can be configured manually or discovered dynamically through WebFinger and
// client registration.
package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Profile holds the claims describing the authenticated user, sourced from
// the userinfo endpoint when one is configured and from the ID token
// otherwise.
type Profile map[string]any

// VerifyFunc maps a completed token exchange onto an application user. A nil
// user with a non-nil info map reports an authentication failure with
// application-supplied details; a non-nil error aborts the request as a
// malfunction.
type VerifyFunc func(issuer, subject string, profile Profile, accessToken, refreshToken string) (user any, info map[string]any, err error)

// OutcomeKind discriminates the three ways an authentication attempt can
// conclude without a malfunction.
type OutcomeKind int

const (
	// OutcomeRedirect instructs the caller to redirect the browser to the
	// provider's authorization endpoint.
	OutcomeRedirect OutcomeKind = iota
	// OutcomeSuccess carries the verified user.
	OutcomeSuccess
	// OutcomeFailure reports a failed authentication attempt, with a message
	// and HTTP status suitable for the response.
	OutcomeFailure
)

// Outcome is the result of an authentication round. Hard errors (store or
// network malfunctions, invalid configuration) travel on the error return of
// Authenticate instead.
type Outcome struct {
	Kind        OutcomeKind
	RedirectURL string
	User        any
	Info        map[string]any
	Message     string
	Status      int
}

// Config configures a Strategy.
type Config struct {
	// Static provider configuration. Ignored when Setup is set.
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	ClientID         string
	ClientSecret     string
	CallbackURL      string

	// Setup resolves provider configuration per request, for dynamic
	// discovery or multi-tenant deployments. When nil, a manual setup is
	// built from the static fields above.
	Setup SetupFunc

	// Scope is either a space-separated string or a []string of scopes
	// requested in addition to openid.
	Scope any

	// StateStore overrides the session-backed state store.
	StateStore StateStore

	// SessionKey overrides the session key used by the default state store.
	// Defaults to "openidconnect:" plus the authorization endpoint host.
	SessionKey string

	// HTTPClient is used for the token exchange and userinfo requests.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Strategy runs the authorization code flow.
type Strategy struct {
	setup      SetupFunc
	scope      []string
	stateStore StateStore
	client     *http.Client
	verify     VerifyFunc
}

// New builds a Strategy. The configuration must provide either a Setup
// function or enough static fields for a manual setup; missing manual
// parameters surface on the first Authenticate call.
func New(cfg Config, verify VerifyFunc) (*Strategy, error) {
	if verify == nil {
		return nil, errors.New("[oidc.New] verify function is required")
	}

	scope, err := normalizeScope(cfg.Scope)
	if err != nil {
		return nil, errors.Wrap(err, "[oidc.New]")
	}

	setup := cfg.Setup
	if setup == nil {
		setup = ManualSetup(ManualOptions{
			Issuer:           cfg.Issuer,
			AuthorizationURL: cfg.AuthorizationURL,
			TokenURL:         cfg.TokenURL,
			UserInfoURL:      cfg.UserInfoURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     cfg.ClientSecret,
			CallbackURL:      cfg.CallbackURL,
		})
	}

	stateStore := cfg.StateStore
	if stateStore == nil {
		key := cfg.SessionKey
		if key == "" {
			if cfg.AuthorizationURL == "" {
				return nil, errors.New("[oidc.New] SessionKey is required when no authorizationURL is configured")
			}
			u, err := url.Parse(cfg.AuthorizationURL)
			if err != nil {
				return nil, errors.Wrap(err, "[oidc.New] invalid authorizationURL")
			}
			key = "openidconnect:" + u.Host
		}
		stateStore = NewSessionStateStore(key)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Strategy{
		setup:      setup,
		scope:      scope,
		stateStore: stateStore,
		client:     client,
		verify:     verify,
	}, nil
}

// AuthenticateOptions tunes a single authentication round.
type AuthenticateOptions struct {
	// Identifier is passed to the setup function, typically a user-supplied
	// address used for provider discovery.
	Identifier string

	// Scope replaces the configured scopes for this round. Accepts a string
	// or []string like Config.Scope.
	Scope any

	// CallbackURL overrides the configured callback for this round.
	CallbackURL string

	// ReturnTo is an application URL carried through the flow and returned
	// in the success info.
	ReturnTo string
}

// Authenticate runs one round of the flow. Requests carrying a code (or a
// provider error) are treated as callbacks; everything else starts a new
// authorization request.
func (s *Strategy) Authenticate(r *http.Request, opts AuthenticateOptions) (*Outcome, error) {
	q := r.URL.Query()
	if q.Get("error") != "" {
		return s.providerError(q), nil
	}
	if q.Get("code") != "" {
		return s.handleCallback(r, q)
	}
	return s.startAuthorization(r, opts)
}

func (s *Strategy) providerError(q url.Values) *Outcome {
	msg := q.Get("error_description")
	if msg == "" {
		msg = q.Get("error")
	}
	return &Outcome{Kind: OutcomeFailure, Message: msg, Status: http.StatusForbidden}
}

func (s *Strategy) startAuthorization(r *http.Request, opts AuthenticateOptions) (*Outcome, error) {
	provider, err := s.setup(r.Context(), opts.Identifier, r)
	if err != nil {
		return nil, errors.Wrap(err, "[Strategy.Authenticate] provider setup failed")
	}

	callbackURL := provider.CallbackURL
	if opts.CallbackURL != "" {
		callbackURL = opts.CallbackURL
	}
	callbackURL = resolveURL(r, callbackURL)

	scope := s.scope
	if opts.Scope != nil {
		scope, err = normalizeScope(opts.Scope)
		if err != nil {
			return nil, errors.Wrap(err, "[Strategy.Authenticate]")
		}
	}

	meta := StateMeta{
		Issuer:           provider.Issuer,
		AuthorizationURL: provider.AuthorizationURL,
		TokenURL:         provider.TokenURL,
		UserInfoURL:      provider.UserInfoURL,
		ClientID:         provider.ClientID,
		ClientSecret:     provider.ClientSecret,
		CallbackURL:      callbackURL,
		Params:           map[string]string{"response_type": "code"},
		ReturnTo:         opts.ReturnTo,
	}

	handle, err := s.storeState(r, meta)
	if err != nil {
		return nil, errors.Wrap(err, "[Strategy.Authenticate] failed to store request state")
	}

	return &Outcome{
		Kind:        OutcomeRedirect,
		RedirectURL: authorizationRequestURL(provider.AuthorizationURL, provider.ClientID, callbackURL, scope, handle),
	}, nil
}

// authorizationRequestURL builds the redirect target with a fixed parameter
// order: response_type, client_id, redirect_uri, scope, state.
func authorizationRequestURL(authURL, clientID, callbackURL string, scope []string, handle string) string {
	var b strings.Builder
	b.WriteString(authURL)
	if strings.Contains(authURL, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	b.WriteString("response_type=code")
	b.WriteString("&client_id=")
	b.WriteString(queryEscape(clientID))
	if callbackURL != "" {
		b.WriteString("&redirect_uri=")
		b.WriteString(queryEscape(callbackURL))
	}
	b.WriteString("&scope=")
	b.WriteString(queryEscape(strings.Join(mergeScope(scope), " ")))
	b.WriteString("&state=")
	b.WriteString(queryEscape(handle))
	return b.String()
}

// mergeScope puts openid first and drops duplicates.
func mergeScope(scope []string) []string {
	merged := []string{"openid"}
	for _, sc := range scope {
		if sc != "openid" {
			merged = append(merged, sc)
		}
	}
	return merged
}

// queryEscape encodes a query value using %20 for spaces.
func queryEscape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// resolveURL resolves a relative callback URL against the incoming request.
func resolveURL(r *http.Request, raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return raw
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path}
	return base.ResolveReference(u).String()
}

func (s *Strategy) handleCallback(r *http.Request, q url.Values) (*Outcome, error) {
	result, err := s.verifyState(r, q.Get("state"))
	if err != nil {
		return nil, errors.Wrap(err, "[Strategy.Authenticate] failed to verify request state")
	}
	if !result.OK || result.Meta == nil {
		msg := result.Message
		if msg == "" {
			msg = msgUnableToVerifyState
		}
		return &Outcome{Kind: OutcomeFailure, Message: msg, Status: http.StatusForbidden}, nil
	}
	meta := result.Meta

	ctx := r.Context()
	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}

	conf := &oauth2.Config{
		ClientID:     meta.ClientID,
		ClientSecret: meta.ClientSecret,
		RedirectURL:  meta.CallbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationURL,
			TokenURL: meta.TokenURL,
		},
	}

	token, err := conf.Exchange(ctx, q.Get("code"))
	if err != nil {
		return &Outcome{Kind: OutcomeFailure, Message: "failed to obtain access token", Status: http.StatusForbidden}, nil
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return &Outcome{Kind: OutcomeFailure, Message: "ID token not present in token response", Status: http.StatusForbidden}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, claims); err != nil {
		return &Outcome{Kind: OutcomeFailure, Message: "failed to decode ID token", Status: http.StatusForbidden}, nil
	}
	issuer, _ := claims["iss"].(string)
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return &Outcome{Kind: OutcomeFailure, Message: "ID token missing subject", Status: http.StatusForbidden}, nil
	}
	if meta.Issuer != "" && issuer != meta.Issuer {
		return &Outcome{Kind: OutcomeFailure, Message: "ID token not issued by expected OpenID provider", Status: http.StatusForbidden}, nil
	}

	profile := Profile{}
	if meta.UserInfoURL != "" {
		profile, err = s.fetchUserInfo(r.Context(), meta.UserInfoURL, token.AccessToken)
		if err != nil {
			return &Outcome{Kind: OutcomeFailure, Message: "failed to fetch user profile", Status: http.StatusForbidden}, nil
		}
	} else {
		for k, v := range claims {
			profile[k] = v
		}
	}

	user, info, err := s.verify(issuer, subject, profile, token.AccessToken, token.RefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Strategy.Authenticate] verify callback failed")
	}
	if user == nil {
		msg := ""
		if m, ok := info["message"].(string); ok {
			msg = m
		}
		return &Outcome{Kind: OutcomeFailure, Message: msg, Info: info, Status: http.StatusForbidden}, nil
	}

	if info == nil {
		info = map[string]any{}
	}
	if meta.ReturnTo != "" {
		info["returnTo"] = meta.ReturnTo
	}
	return &Outcome{Kind: OutcomeSuccess, User: user, Info: info}, nil
}

// fetchUserInfo retrieves the userinfo document with the access token.
func (s *Strategy) fetchUserInfo(ctx context.Context, userInfoURL, accessToken string) (Profile, error) {
	target := userInfoURL
	if !strings.Contains(target, "?") {
		target += "?schema=openid"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, errors.Wrap(err, "failed to decode userinfo response")
	}
	return profile, nil
}

// storeState and verifyState convert panics in custom state stores into
// errors so a misbehaving store cannot take down the server.
func (s *Strategy) storeState(r *http.Request, meta StateMeta) (handle string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("state store panicked: %v", rec)
		}
	}()
	return s.stateStore.Store(r, meta)
}

func (s *Strategy) verifyState(r *http.Request, handle string) (result *StateResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.Errorf("state store panicked: %v", rec)
		}
	}()
	return s.stateStore.Verify(r, handle)
}

// normalizeScope accepts a space-separated string or a []string.
func normalizeScope(v any) ([]string, error) {
	switch sc := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(sc), nil
	case []string:
		return sc, nil
	default:
		return nil, errors.Errorf("scope must be a string or a slice of strings, got %T", v)
	}
}
