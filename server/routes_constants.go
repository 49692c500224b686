package server

const (
	RouteLogin         = "/auth/login"
	RoutePasswordLogin = "/auth/password"
	RouteCallback      = "/auth/callback"
	RouteLogout        = "/auth/logout"

	RouteDashboard = "/dashboard"
	RouteProfile   = "/profile"

	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
