package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tubenotify/internal/types"
)

// RequestTimeout bounds every request. An admin check-videos call waits for a
// whole poll cycle, so the poll cycle timeout must stay below it.
const RequestTimeout = 2 * time.Minute

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-API-Key",
}

// ServiceName is reported by the root descriptor.
const ServiceName = "TubeNotify Notifications"

// MountRoutes registers the global middleware chain, the public routes and
// the admin and device groups.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "Not found", nil))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	s.router.Get("/", s.HandleRoot)
	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/api/admin", func(r chi.Router) {
		r.Use(s.AdminAuthMiddleware)
		for _, registrar := range s.AdminRoutes {
			registrar(r)
		}
	})
	s.router.Route("/api/devices", func(r chi.Router) {
		r.Use(s.DeviceRateLimit())
		for _, registrar := range s.DeviceRoutes {
			registrar(r)
		}
	})
}

// registerGlobalMiddleware applies middleware in strict order.
//
//  1. Recoverer       - outermost so every panic is caught.
//  2. ContextTimeout  - request deadline.
//  3. RequestID       - correlation id for logs and error bodies.
//  4. SecurityHeaders
//  5. RequestLogger   - structured log line per request, redacted headers.
//  6. CORS
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id header or generates a
// new id, stores it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type serviceDescriptor struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleRoot describes the service and its route groups.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	var version string
	if s.Config != nil {
		version = s.Config.Build.Version
	}
	JSON(w, r, http.StatusOK, serviceDescriptor{
		Service: ServiceName,
		Status:  "running",
		Version: version,
		Endpoints: map[string]string{
			"health":  "/health",
			"devices": "/api/devices",
			"admin":   "/api/admin",
		},
	})
}
