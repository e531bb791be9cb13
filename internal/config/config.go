package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// QRIS gateways the terminal can talk to.
const (
	GatewayBackend  = "backend"
	GatewayMidtrans = "midtrans"
)

// Config holds terminal configuration loaded from the environment.
type Config struct {
	AppEnv     string
	HTTPAddr   string
	TerminalID string

	BackendURL          string
	BackendSessionToken string
	BackendTimeout      time.Duration
	BackendMaxAttempts  int

	QrisGateway       string
	MidtransServerKey string
	MidtransBaseURL   string
	QrisPollInterval  time.Duration
	QrisWarnAfter     int
	QrisDefaultExpiry time.Duration
	QrisMinAmount     decimal.Decimal

	ScannerDebounce time.Duration

	RedisURL        string
	ProductCacheTTL time.Duration

	RateLimitQrisGenerate string
	RateLimitQrisCheck    string
	RateLimitQrisCancel   string

	CORSAllowedOrigins []string
	HTTPMaxBodyBytes   int64

	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	LatencyBuckets   string
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:     valueOrDefault(k.String("APP_ENV"), "development"),
		HTTPAddr:   valueOrDefault(k.String("POS_HTTP_ADDR"), ":7070"),
		TerminalID: valueOrDefault(k.String("POS_TERMINAL_ID"), "terminal-1"),

		BackendURL:          valueOrDefault(k.String("BACKEND_URL"), "http://localhost:8080"),
		BackendSessionToken: strings.TrimSpace(k.String("BACKEND_SESSION_TOKEN")),
		BackendTimeout:      parseDuration(k.String("BACKEND_TIMEOUT"), "15s"),
		BackendMaxAttempts:  parseInt(k.String("BACKEND_MAX_ATTEMPTS"), 1),

		QrisGateway:       strings.ToLower(valueOrDefault(k.String("QRIS_GATEWAY"), GatewayBackend)),
		MidtransServerKey: strings.TrimSpace(k.String("MIDTRANS_SERVER_KEY")),
		MidtransBaseURL:   valueOrDefault(k.String("MIDTRANS_BASE_URL"), "https://api.sandbox.midtrans.com"),
		QrisPollInterval:  parseDuration(k.String("QRIS_POLL_INTERVAL"), "3s"),
		QrisWarnAfter:     parseInt(k.String("QRIS_WARN_AFTER_ERRORS"), 3),
		QrisDefaultExpiry: parseDuration(k.String("QRIS_DEFAULT_EXPIRY"), "15m"),
		QrisMinAmount:     parseDecimal(k.String("QRIS_MIN_AMOUNT"), 1500),

		ScannerDebounce: parseDuration(k.String("SCANNER_DEBOUNCE"), "50ms"),

		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		ProductCacheTTL: parseDuration(k.String("PRODUCT_CACHE_TTL"), "30s"),

		RateLimitQrisGenerate: valueOrDefault(k.String("RATE_LIMIT_QRIS_GENERATE"), "10-M"),
		RateLimitQrisCheck:    valueOrDefault(k.String("RATE_LIMIT_QRIS_CHECK"), "30-M"),
		RateLimitQrisCancel:   valueOrDefault(k.String("RATE_LIMIT_QRIS_CANCEL"), "5-M"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HTTPMaxBodyBytes:   int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
			LatencyBuckets:   strings.TrimSpace(k.String("OBS_HTTP_BUCKETS_MS")),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QrisGateway {
	case GatewayBackend:
	case GatewayMidtrans:
		key := c.MidtransServerKey
		if key == "" {
			return errors.New("MIDTRANS_SERVER_KEY is required when QRIS_GATEWAY=midtrans")
		}
		if !strings.HasPrefix(key, "Mid-server-") && !strings.HasPrefix(key, "SB-Mid-server-") {
			return errors.New("MIDTRANS_SERVER_KEY must start with Mid-server- or SB-Mid-server-")
		}
	default:
		return fmt.Errorf("QRIS_GATEWAY must be %q or %q, got %q", GatewayBackend, GatewayMidtrans, c.QrisGateway)
	}
	if c.QrisPollInterval <= 0 {
		return errors.New("QRIS_POLL_INTERVAL must be positive")
	}
	if c.ScannerDebounce <= 0 {
		return errors.New("SCANNER_DEBOUNCE must be positive")
	}
	if c.BackendTimeout <= 0 {
		return errors.New("BACKEND_TIMEOUT must be positive")
	}
	if c.BackendMaxAttempts < 1 {
		return errors.New("BACKEND_MAX_ATTEMPTS must be at least 1")
	}
	if !c.QrisMinAmount.IsPositive() {
		return errors.New("QRIS_MIN_AMOUNT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDecimal(value string, fallback int64) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.NewFromInt(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
