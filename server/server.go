// Package server wires the session middleware, the OpenID Connect strategy
// and password login into an HTTP surface.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/saasform/go-session-auth/internal/config"
	"github.com/saasform/go-session-auth/internal/metrics"
	"github.com/saasform/go-session-auth/oidc"
	"github.com/saasform/go-session-auth/session"
	"github.com/saasform/go-session-auth/users"
)

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config

	sessions *session.Manager
	strategy *oidc.Strategy
	users    users.UserRepo
	metrics  *metrics.Collector

	loginLimiter *rate.Limiter
}

func New(cfg config.Config, sessions *session.Manager, strategy *oidc.Strategy, userRepo users.UserRepo, collector *metrics.Collector) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("[Server New] session manager is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("[Server New] authentication strategy is required")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("[Server New] user repository is required")
	}

	s := &Server{
		env:          cfg.GetEnv(),
		mux:          http.NewServeMux(),
		config:       cfg,
		sessions:     sessions,
		strategy:     strategy,
		users:        userRepo,
		metrics:      collector,
		loginLimiter: rate.NewLimiter(rate.Limit(cfg.GetLoginRateLimit()), cfg.GetLoginRateBurst()),
	}

	if err := s.Bootstrap(); err != nil {
		return nil, fmt.Errorf("[Server New] failed to bootstrap initial users: %w", err)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
