// Package config loads process configuration once at startup. Values come
// from, in priority order: the OS environment, a .env file, and AWS SSM
// Parameter Store (via NAME_SSM_PARAM pointers, skipped when APP_ENV=local).
// Invalid or missing required values fail startup.
package config

import (
	"time"

	"expenseterminal/internal/types"
)

// SecretString is the redacted string type used for credentials.
type SecretString = types.SecretString

// Config is the API server configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"expenseterminal-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	Build BuildInfo `ignored:"true"`
}

// WorkerConfig is the categorization worker configuration. It shares the
// database and AWS sections with Config but needs no HTTP or billing
// settings.
type WorkerConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"expenseterminal-categorize"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	AI            AIConfig
	Observability ObservabilityConfig

	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds HTTP listener and public URL settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is the web app origin used to build checkout and portal
	// return URLs. No trailing slash.
	DashboardURL    string        `envconfig:"DASHBOARD_URL" validate:"required,url"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds the Postgres connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds region and resource identifiers.
type AWSConfig struct {
	Region             string `envconfig:"AWS_REGION" default:"us-east-1"`
	CategorizeQueueURL string `envconfig:"SQS_CATEGORIZE" validate:"omitempty,url"`
	// EndpointURL points the SDK at LocalStack. Empty in deployed stages.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BillingConfig holds Stripe credentials and the price id per paid plan. A
// missing price id is not a startup error: checkout for that plan answers
// config_plan_not_configured until an operator sets it.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	PriceStarter        string       `envconfig:"STRIPE_PRICE_STARTER"`
	PricePlus           string       `envconfig:"STRIPE_PRICE_PLUS"`
}

// Prices maps each paid plan to its configured Stripe price id.
func (b BillingConfig) Prices() map[types.PlanID]string {
	return map[types.PlanID]string{
		types.PlanStarter: b.PriceStarter,
		types.PlanPlus:    b.PricePlus,
	}
}

// AuthConfig selects how bearer tokens from the identity provider are
// verified: JWKS when JWKSURL is set, otherwise the shared HMAC secret.
type AuthConfig struct {
	Issuer    string        `envconfig:"AUTH_ISSUER"`
	Audience  string        `envconfig:"AUTH_AUDIENCE"`
	JWKSURL   string        `envconfig:"AUTH_JWKS_URL" validate:"omitempty,url"`
	JWTSecret SecretString  `envconfig:"AUTH_JWT_SECRET" validate:"omitempty,min=32"`
	ClockSkew time.Duration `envconfig:"AUTH_CLOCK_SKEW" default:"30s"`
}

// RateLimitConfig bounds per-user request rates on authenticated routes.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"10" validate:"gt=0"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"20" validate:"min=1"`
}

// SecurityConfig holds browser-facing settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// AIConfig holds the categorization model settings.
type AIConfig struct {
	OpenAIKey SecretString  `envconfig:"OPENAI_API_KEY" validate:"required"`
	Model     string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	BaseURL   string        `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
	Timeout   time.Duration `envconfig:"OPENAI_TIMEOUT" default:"45s"`
}

// ObservabilityConfig toggles CloudWatch metric publishing.
type ObservabilityConfig struct {
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
