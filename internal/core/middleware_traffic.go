package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"tubenotify/internal/types"
)

// defaultDeviceRateLimit is the per-IP budget of the device routes per minute.
const defaultDeviceRateLimit = 30

// RateLimitConfig configures a per-key sliding window limiter.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit builds an httprate limiter that answers over-limit requests with
// the standard error body and a Retry-After header.
func (s *Server) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = s.clientIPKey
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.Logger.Warn("rate limit exceeded",
				slog.String("ip", s.clientIP(r)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Too many requests, please try again later", nil))
		}),
	)
}

// DeviceRateLimit limits the public device routes per client IP.
func (s *Server) DeviceRateLimit() func(http.Handler) http.Handler {
	limit := defaultDeviceRateLimit
	if s.Config != nil && s.Config.Security.DeviceRateLimit > 0 {
		limit = s.Config.Security.DeviceRateLimit
	}
	return s.RateLimit(RateLimitConfig{
		RequestLimit: limit,
		WindowSize:   time.Minute,
	})
}

func (s *Server) clientIPKey(r *http.Request) (string, error) {
	return s.clientIP(r), nil
}

func (s *Server) clientIP(r *http.Request) string {
	var hops int
	if s.Config != nil {
		hops = s.Config.Security.TrustedProxyHops
	}
	return extractClientIP(r, hops)
}

// extractClientIP returns the peer address without its port. Behind
// trustedHops proxies it returns the X-Forwarded-For entry the outermost
// proxy appended, counted from the right; entries further left are supplied
// by the client and ignored.
func extractClientIP(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		var hops []string
		for _, header := range r.Header.Values("X-Forwarded-For") {
			for _, part := range strings.Split(header, ",") {
				if ip := strings.TrimSpace(part); ip != "" {
					hops = append(hops, ip)
				}
			}
		}
		if len(hops) >= trustedHops {
			return hops[len(hops)-trustedHops]
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
