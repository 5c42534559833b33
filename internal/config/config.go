// Package config defines the configuration of the tubenotify service.
// Configuration is loaded once at process start and is immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Malformed values or missing required values fail startup. Credentials that
// only some operations need (video backend OAuth, admin API key) are optional
// here; the operations that use them report their absence.
package config

import (
	"time"

	"tubenotify/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tubenotify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	VideoBackend  VideoBackendConfig
	Push          PushConfig
	Poll          PollConfig
	Security      SecurityConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not Env
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3000"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	// Creates the tables on startup when they are missing.
	AutoMigrate bool `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// VideoBackendConfig points at the PeerTube-compatible video host and holds
// the password-grant credentials used to list videos.
type VideoBackendConfig struct {
	Host         string        `envconfig:"PEERTUBE_BACKEND" default:"course-connect.ab-civil.com" validate:"required,hostname_port|hostname"`
	Scheme       string        `envconfig:"PEERTUBE_SCHEME" default:"https" validate:"oneof=http https"`
	ClientID     string        `envconfig:"PEERTUBE_CLIENT_ID"`
	ClientSecret SecretString  `envconfig:"PEERTUBE_CLIENT_SECRET"`
	Username     string        `envconfig:"PEERTUBE_USERNAME"`
	Password     SecretString  `envconfig:"PEERTUBE_PASSWORD"`
	Timeout      time.Duration `envconfig:"PEERTUBE_TIMEOUT" default:"15s"`
}

// BaseURL returns the API root, e.g. https://tube.example.com/api/v1.
func (c VideoBackendConfig) BaseURL() string {
	return c.Scheme + "://" + c.Host + "/api/v1"
}

// PushConfig holds Expo push gateway settings.
type PushConfig struct {
	APIURL      string        `envconfig:"EXPO_API_URL" default:"https://exp.host/--/api/v2/push/send" validate:"required,url"`
	AccessToken SecretString  `envconfig:"EXPO_ACCESS_TOKEN"`
	Timeout     time.Duration `envconfig:"EXPO_TIMEOUT" default:"30s"`
}

// PollConfig controls the new-video poll loop.
type PollConfig struct {
	Enabled         bool          `envconfig:"POLL_ENABLED" default:"true"`
	IntervalMinutes int           `envconfig:"POLL_INTERVAL_MINUTES" default:"5" validate:"min=1,max=1440"`
	VideoCount      int           `envconfig:"POLL_VIDEO_COUNT" default:"50" validate:"min=1,max=100"`
	StartupDelay    time.Duration `envconfig:"POLL_STARTUP_DELAY" default:"10s"`
	// CycleTimeout bounds one check and is the shared lock's TTL.
	CycleTimeout    time.Duration `envconfig:"POLL_CYCLE_TIMEOUT" default:"90s"`
}

// Interval returns the poll interval as a duration.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// SecurityConfig holds the admin key and CORS settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// Requests per minute per client IP on the public device routes.
	DeviceRateLimit int `envconfig:"DEVICE_RATE_LIMIT" default:"30" validate:"min=1"`
	// Number of reverse proxies in front of the service that append to
	// X-Forwarded-For. Zero keys rate limits on the peer address.
	TrustedProxyHops int `envconfig:"TRUSTED_PROXY_HOPS" default:"0" validate:"min=0,max=5"`
}

// RedisConfig enables the cross-process poll lock when URL is set.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// AWSConfig holds regional settings for SSM and CloudWatch.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"TubeNotify"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
