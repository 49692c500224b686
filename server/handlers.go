package server

import (
	"encoding/json"
	"net/http"

	"github.com/saasform/go-session-auth/session"
)

func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		sess := session.FromContext(r.Context())
		signedIn := sess != nil && sess.Get("userID") != nil
		writeJSON(w, map[string]any{
			"app":      s.config.GetAppName(),
			"signedIn": signedIn,
			"login":    RouteLogin,
		})
	}
}

func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		writeJSON(w, map[string]any{
			"email":       sess.Get("email"),
			"loginMethod": sess.Get("loginMethod"),
			"loginAt":     sess.Get("loginAt"),
		})
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		userID, _ := sess.Get("userID").(string)
		user, err := s.users.GetByID(userID)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		writeJSON(w, user)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
