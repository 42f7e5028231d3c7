package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MinJWTSecretLen matches the shortest secret the token verifier accepts.
const MinJWTSecretLen = 32

const maxSessionTTL = 90 * 24 * time.Hour

// Store backends selected by StoreBackend.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DatabaseMaxConns      int
	SlowQueryMillis       int
	LogQueryArgs          bool
	RedisURL              string
	SessionTTL            time.Duration
	JWTSecret             string
	QuestionnaireFile     string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (takes precedence over -redis-url)")
	fs.IntVar(&c.DatabaseMaxConns, "database-max-conns", 0, "PostgreSQL pool size (0 = pgx default)")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 0, "only log successful queries slower than this many milliseconds (0 = log all)")
	fs.BoolVar(&c.LogQueryArgs, "log-query-args", false, "include bound arguments in query logs")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL or host:port for session storage (empty with no database = in-memory store)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 7*24*time.Hour, "how long Redis keeps an untouched session")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret for session tokens (at least 32 bytes)")
	fs.StringVar(&c.QuestionnaireFile, "questionnaire-file", "", "YAML questionnaire overriding the built-in one")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for urgent triage notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && !hasScheme(c.DatabaseURL, "postgres", "postgresql") {
		errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
	}
	if c.DatabaseMaxConns < 0 || c.DatabaseMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DATABASE_MAX_CONNS %d (must be 0..1000)", c.DatabaseMaxConns))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	if c.RedisURL != "" && strings.Contains(c.RedisURL, "://") && !hasScheme(c.RedisURL, "redis", "rediss") {
		errs = append(errs, errors.New("REDIS_URL must be a redis:// or rediss:// URL or host:port"))
	}
	if c.SessionTTL <= 0 || c.SessionTTL > maxSessionTTL {
		errs = append(errs, fmt.Errorf("invalid SESSION_TTL %s (must be > 0 and <= %s)", c.SessionTTL, maxSessionTTL))
	}

	// Session tokens cannot be verified without a secret
	if len(c.JWTSecret) < MinJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required and must be at least %d bytes", MinJWTSecretLen))
	}

	if c.SlackWebhookURL != "" && !hasScheme(c.SlackWebhookURL, "https") {
		errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an https:// URL"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StoreBackend reports which session store the configuration selects.
func (c *Config) StoreBackend() string {
	switch {
	case c.DatabaseURL != "":
		return BackendPostgres
	case c.RedisURL != "":
		return BackendRedis
	default:
		return BackendMemory
	}
}

func hasScheme(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
