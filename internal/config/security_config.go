package config

import "time"

type SecurityConfig interface {
	GetTrustProxy() bool
	GetSecureCookies() bool
	GetEnableRateLimiting() bool
	GetLoginRateLimit() float64
	GetLoginRateBurst() int
	GetOutboundTimeout() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetTrustProxy controls whether X-Forwarded-Proto decides cookie security.
func (Security) GetTrustProxy() bool {
	return GetEnv("TRUST_PROXY", "false") == "true"
}

func (Security) GetSecureCookies() bool {
	return GetEnv("SECURE_COOKIES", "auto") != "false"
}

func (Security) GetEnableRateLimiting() bool {
	return GetEnv("RATE_LIMITING", "true") == "true"
}

// GetLoginRateLimit is the sustained login attempts allowed per second.
func (Security) GetLoginRateLimit() float64 {
	return 2
}

func (Security) GetLoginRateBurst() int {
	return 10
}

func (Security) GetOutboundTimeout() time.Duration {
	return 15 * time.Second
}
