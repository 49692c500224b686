package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	autherrors "github.com/saasform/go-session-auth/internal/errors"
	"github.com/saasform/go-session-auth/oidc"
	"github.com/saasform/go-session-auth/session"
	"github.com/saasform/go-session-auth/users"
)

// LoginHandler starts an OpenID Connect authorization round. The optional
// "identifier" query parameter drives provider discovery; "return_to" is an
// application path restored after the callback.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := s.strategy.Authenticate(r, oidc.AuthenticateOptions{
			Identifier: r.URL.Query().Get("identifier"),
			ReturnTo:   safeReturnTo(r.URL.Query().Get("return_to")),
		})
		if err != nil {
			s.authError(w, "oidc", err)
			return
		}
		s.applyOutcome(w, r, outcome)
	}
}

// CallbackHandler completes the authorization round started by LoginHandler.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := s.strategy.Authenticate(r, oidc.AuthenticateOptions{})
		if err != nil {
			s.authError(w, "oidc", err)
			return
		}
		s.applyOutcome(w, r, outcome)
	}
}

func (s *Server) applyOutcome(w http.ResponseWriter, r *http.Request, outcome *oidc.Outcome) {
	switch outcome.Kind {
	case oidc.OutcomeRedirect:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)

	case oidc.OutcomeFailure:
		s.authResult("oidc", "failure")
		status := outcome.Status
		if status == 0 {
			status = http.StatusForbidden
		}
		msg := outcome.Message
		if msg == "" {
			msg = "Authentication failed"
		}
		http.Error(w, msg, status)

	case oidc.OutcomeSuccess:
		user, ok := outcome.User.(*users.User)
		if !ok {
			s.authError(w, "oidc", autherrors.ErrInternal)
			return
		}
		s.authResult("oidc", "success")
		target := RouteDashboard
		if rt, ok := outcome.Info["returnTo"].(string); ok && rt != "" {
			target = rt
		}
		s.signIn(w, r, user, "oidc", target)
	}
}

// PasswordLoginHandler authenticates a local account with email and
// password.
func (s *Server) PasswordLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		email := r.PostFormValue("email")
		password := r.PostFormValue("password")
		if email == "" || password == "" {
			http.Error(w, "email and password are required", http.StatusBadRequest)
			return
		}

		user, err := s.users.GetByEmail(email)
		if err != nil || !users.CheckPasswordHash(password, user.PasswordHash) {
			s.authResult("password", "failure")
			http.Error(w, autherrors.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
			return
		}
		if !user.CanSignIn() {
			s.authResult("password", "failure")
			http.Error(w, autherrors.ErrUserBlocked.Error(), http.StatusForbidden)
			return
		}

		s.authResult("password", "success")
		s.signIn(w, r, user, "password", safeReturnTo(r.PostFormValue("return_to")))
	}
}

// LogoutHandler destroys the session and returns to the index page.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess != nil {
			if err := sess.Destroy(); err != nil {
				log.Err(err).Msg("Failed to destroy session on logout")
			}
		}
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// signIn records the authenticated user on the session and redirects.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, user *users.User, method, target string) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		s.authError(w, method, autherrors.ErrSessionNotFound)
		return
	}

	sess.Set("userID", user.ID)
	sess.Set("email", user.Email)
	sess.Set("loginMethod", method)
	sess.Set("loginAt", time.Now().UTC().Format(time.RFC3339))

	if err := s.users.SetLastLogin(user.Email); err != nil {
		log.Err(err).Str("email", user.Email).Msg("Failed to record last login")
	}

	if target == "" {
		target = RouteDashboard
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) authError(w http.ResponseWriter, method string, err error) {
	s.authResult(method, "error")
	log.Err(err).Msg("Authentication malfunction")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Server) authResult(method, result string) {
	if s.metrics != nil {
		s.metrics.AuthResult(method, result)
	}
}

// safeReturnTo accepts only application-local paths, dropping anything that
// could redirect off-site.
func safeReturnTo(target string) string {
	if target == "" || target[0] != '/' {
		return ""
	}
	if len(target) > 1 && target[1] == '/' {
		return ""
	}
	return target
}
