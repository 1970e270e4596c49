package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Zone, client, global and media routes are generated from the feature
// registry, so every feature exposed on the API has exactly one route.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(middleware.CleanPath)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	// Set before Route so subrouters inherit them.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.Route(feature.APIPrefix, func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.cfg.WebSocket.Path, s.handleWebSocket)

		if s.users != nil {
			r.Post("/auth/login", s.handleLogin)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(auth.PermStatusRead))

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/features", s.handleListFeatures)
			r.Get("/features/{id}", s.handleGetFeature)
			r.Get("/system/history", s.handleCommandHistory)
		})

		s.mountFeatures(r)
	})

	return r
}

// mountFeatures registers one route per API feature.
func (s *Server) mountFeatures(r chi.Router) {
	for _, f := range s.registry.All() {
		if f.REST == nil || !f.Supports(feature.ProtocolAPI) {
			continue
		}
		h := s.featureHandler(f)
		if h == nil {
			s.logger.Warn("feature has no API handler", "feature", f.ID)
			continue
		}
		r.Method(f.REST.Method, routePath(f.REST.Path), h)
	}
}

// routePath strips the API prefix from a registry path.
func routePath(p string) string {
	p = strings.TrimPrefix(p, feature.APIPrefix)
	if p == "" {
		return "/"
	}
	return p
}

// featureHandler returns the permission-wrapped handler for f, or nil when
// the feature has no API behaviour.
func (s *Server) featureHandler(f feature.Feature) http.Handler {
	switch {
	case f.Kind == feature.KindCommand:
		return s.requirePermission(permissionFor(f.ID))(s.commandHandler(f))
	case f.Category == feature.CategoryZone:
		return s.requirePermission(auth.PermStatusRead)(s.zoneStatusHandler(f.ID))
	case f.Category == feature.CategoryClient:
		return s.requirePermission(auth.PermStatusRead)(s.clientStatusHandler(f.ID))
	}
	if build, ok := globalQueries[f.ID]; ok {
		return s.requirePermission(auth.PermStatusRead)(s.queryHandler(build))
	}
	return nil
}

// permissionFor returns the permission a command feature requires.
// Latency and zone assignment are installer settings.
func permissionFor(id string) auth.Permission {
	switch id {
	case feature.ClientLatency, feature.ClientZone:
		return auth.PermInstallConfigure
	default:
		return auth.PermPlaybackControl
	}
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
