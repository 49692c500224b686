package server

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/saasform/go-session-auth/internal/config"
	"github.com/saasform/go-session-auth/users"
)

// Bootstrap seeds an initial local account from the environment so a fresh
// deployment has a way to sign in before any provider is configured. A user
// that already exists is left untouched.
func (s *Server) Bootstrap() error {
	email := config.GetEnv("ADMIN_EMAIL", "")
	password := config.GetEnv("ADMIN_PASSWORD", "")
	if email == "" || password == "" {
		return nil
	}

	if _, err := s.users.GetByEmail(email); err == nil {
		return nil
	}

	if err := users.ValidatePasswordStrength(password); err != nil {
		return errors.Wrap(err, "[Bootstrap] admin password rejected")
	}
	hash, err := users.HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "[Bootstrap] failed to hash admin password")
	}

	user := &users.User{
		Email:        email,
		Username:     email,
		PasswordHash: hash,
		DateJoined:   time.Now().UTC(),
		Verified:     true,
	}
	if err := s.users.Upsert(user); err != nil {
		return errors.Wrap(err, "[Bootstrap] failed to create admin user")
	}

	log.Info().Str("email", email).Msg("Bootstrapped initial admin user")
	return nil
}
