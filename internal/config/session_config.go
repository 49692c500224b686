package config

import (
	"strconv"
	"strings"
	"time"
)

type SessionConfig interface {
	GetCookieName() string
	GetCookieSecrets() []string
	GetSessionKeyFile() string
	GetSessionMaxAge() time.Duration
	GetSessionDBFile() string
	GetRollingSessions() bool
}

type SessionVars struct{}

var _ SessionConfig = SessionVars{}

func (SessionVars) GetCookieName() string {
	return GetEnv("COOKIE_NAME", "connect.sid")
}

// GetCookieSecrets returns the legacy cookie signing secrets, newest first.
// Older secrets stay in the list so cookies signed with them still verify.
func (SessionVars) GetCookieSecrets() []string {
	raw := GetEnv("COOKIE_SECRETS", "")
	if raw == "" {
		return nil
	}
	var secrets []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// GetSessionKeyFile returns the path of the PEM file holding the EC key pair
// used to sign session tokens. Empty means generate an ephemeral pair.
func (SessionVars) GetSessionKeyFile() string {
	return GetEnv("SESSION_KEY_FILE", "")
}

func (SessionVars) GetSessionMaxAge() time.Duration {
	raw := GetEnv("SESSION_MAX_AGE_MINUTES", "")
	if raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return 30 * 24 * time.Hour
}

// GetSessionDBFile returns the bbolt database path for persistent sessions.
// Empty means sessions are kept in memory.
func (SessionVars) GetSessionDBFile() string {
	return GetEnv("SESSION_DB_FILE", "")
}

func (SessionVars) GetRollingSessions() bool {
	return GetEnv("SESSION_ROLLING", "false") == "true"
}
