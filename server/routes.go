package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET /", s.sessionChain(s.IndexHandler()))

	// LOGIN
	s.RegisterRouteHandler("GET "+RouteLogin, s.sessionChain(s.LoginHandler(), s.RateLimitMiddleware))
	s.RegisterRouteHandler("POST "+RoutePasswordLogin, s.sessionChain(s.PasswordLoginHandler(), s.RateLimitMiddleware))
	s.RegisterRouteHandler("GET "+RouteCallback, s.sessionChain(s.CallbackHandler()))
	s.RegisterRouteHandler("GET "+RouteLogout, s.sessionChain(s.LogoutHandler()))

	// Protected pages (require an authenticated session)
	s.RegisterRouteHandler("GET "+RouteDashboard, s.sessionChain(s.DashboardHandler(), s.RequireSessionAuth))
	s.RegisterRouteHandler("GET "+RouteProfile, s.sessionChain(s.ProfileHandler(), s.RequireSessionAuth))

	// Operational endpoints bypass the session middleware
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	}
}
