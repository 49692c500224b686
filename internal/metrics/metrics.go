// Package metrics exposes Prometheus counters for session and
// authentication activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the session middleware's metrics hooks and counts
// authentication outcomes.
type Collector struct {
	registry *prometheus.Registry

	sessionsCreated   prometheus.Counter
	sessionsUpgraded  prometheus.Counter
	sessionsDestroyed prometheus.Counter
	sessionsSaved     prometheus.Counter

	authAttempts *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Sessions created, including upgrades and reissues.",
		}),
		sessionsUpgraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_upgraded_total",
			Help: "Legacy signed-cookie sessions upgraded to tokens.",
		}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_destroyed_total",
			Help: "Sessions removed from the store.",
		}),
		sessionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_saved_total",
			Help: "Session records written to the store.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by method and result.",
		}, []string{"method", "result"}),
	}

	c.registry.MustRegister(
		c.sessionsCreated,
		c.sessionsUpgraded,
		c.sessionsDestroyed,
		c.sessionsSaved,
		c.authAttempts,
	)
	return c
}

func (c *Collector) SessionCreated()   { c.sessionsCreated.Inc() }
func (c *Collector) SessionUpgraded()  { c.sessionsUpgraded.Inc() }
func (c *Collector) SessionDestroyed() { c.sessionsDestroyed.Inc() }
func (c *Collector) SessionSaved()     { c.sessionsSaved.Inc() }

// AuthResult records one authentication attempt. Method is "password" or
// "oidc"; result is "success", "failure" or "error".
func (c *Collector) AuthResult(method, result string) {
	c.authAttempts.WithLabelValues(method, result).Inc()
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
