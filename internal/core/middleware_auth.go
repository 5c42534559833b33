package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"tubenotify/internal/types"
)

// AdminAPIKeyHeader carries the admin key on /api/admin requests.
const AdminAPIKeyHeader = "X-API-Key"

// AdminAuthMiddleware guards the admin routes with the static admin key.
//
// An unconfigured key rejects every request with 500 so a misdeployed
// service never runs with open admin routes. A missing or different header
// value is a 401. The comparison is constant time.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var expected types.SecretString
		if s.Config != nil {
			expected = s.Config.Security.AdminAPIKey
		}
		if expected.IsEmpty() {
			s.Logger.Warn("admin request rejected: ADMIN_API_KEY is not set",
				slog.String("path", r.URL.Path),
			)
			Error(w, r, types.NewAppError(types.ErrCodeConfigMissingAPIKey, "Server configuration error", nil))
			return
		}

		provided := r.Header.Get(AdminAPIKeyHeader)
		if provided == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthAPIKeyMissing, "Unauthorized", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected.Unmask())) != 1 {
			s.Logger.Warn("admin request rejected: invalid API key",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthAPIKeyInvalid, "Unauthorized", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}
