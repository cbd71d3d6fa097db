/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/slotplanner/internal/slotpolicy"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Slot policy. PolicyFile, when set, takes precedence over the SLOTPLANNER_SLOT_* keys.
	PolicyFile string
	Policy     slotpolicy.Config

	// Reservation and publish timing
	LockTimeout      time.Duration
	LockRetries      int
	LockRetryBackoff time.Duration
	PublishTimeout   time.Duration
	StaleAfter       time.Duration
	SweepInterval    time.Duration

	// External publisher
	PublisherURL   string // Empty selects the logging publisher (development only)
	PublisherToken string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event fan-out
	EventBusBackend EventBusBackend
	NATSURL         string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("SLOTPLANNER_ENV", "development"),
		HTTPBind:      getEnv("SLOTPLANNER_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SLOTPLANNER_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("SLOTPLANNER_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         getEnv("SLOTPLANNER_DB_DSN", ""),
		JWTSigningKey: getEnv("SLOTPLANNER_JWT_SIGNING_KEY", ""),
		PolicyFile:    getEnv("SLOTPLANNER_POLICY_FILE", ""),

		LockTimeout:      getEnvDuration("SLOTPLANNER_LOCK_TIMEOUT", 5*time.Second),
		LockRetries:      getEnvInt("SLOTPLANNER_LOCK_RETRIES", 3),
		LockRetryBackoff: getEnvDuration("SLOTPLANNER_LOCK_RETRY_BACKOFF", 100*time.Millisecond),
		PublishTimeout:   getEnvDuration("SLOTPLANNER_PUBLISH_TIMEOUT", 2*time.Minute),
		StaleAfter:       getEnvDuration("SLOTPLANNER_STALE_AFTER", time.Hour),
		SweepInterval:    getEnvDuration("SLOTPLANNER_SWEEP_INTERVAL", 5*time.Minute),

		PublisherURL:   getEnv("SLOTPLANNER_PUBLISHER_URL", ""),
		PublisherToken: getEnv("SLOTPLANNER_PUBLISHER_TOKEN", ""),

		TracingEnabled:    getEnvBool("SLOTPLANNER_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SLOTPLANNER_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SLOTPLANNER_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: getEnvBool("SLOTPLANNER_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             getEnv("SLOTPLANNER_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("SLOTPLANNER_REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("SLOTPLANNER_REDIS_DB", 0),
		InstanceID:            getEnv("SLOTPLANNER_INSTANCE_ID", ""),

		EventBusBackend: EventBusBackend(getEnv("SLOTPLANNER_EVENT_BUS", string(EventBusMemory))),
		NATSURL:         getEnv("SLOTPLANNER_NATS_URL", "nats://localhost:4222"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SLOTPLANNER_DB_DSN must be provided")
	}

	switch cfg.EventBusBackend {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBusBackend)
	}

	policy, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if _, err := slotpolicy.New(policy); err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("SLOTPLANNER_LOCK_TIMEOUT must be positive")
	}
	if cfg.LockRetries < 0 {
		return nil, fmt.Errorf("SLOTPLANNER_LOCK_RETRIES must not be negative")
	}
	if cfg.PublishTimeout <= 0 {
		return nil, fmt.Errorf("SLOTPLANNER_PUBLISH_TIMEOUT must be positive")
	}
	// A reservation must not be swept while its publish call can still succeed.
	if cfg.PublishTimeout >= cfg.StaleAfter {
		return nil, fmt.Errorf("SLOTPLANNER_PUBLISH_TIMEOUT (%s) must be shorter than SLOTPLANNER_STALE_AFTER (%s)", cfg.PublishTimeout, cfg.StaleAfter)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SLOTPLANNER_SWEEP_INTERVAL must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("SLOTPLANNER_JWT_SIGNING_KEY must be provided in production")
		}
		if cfg.PublisherURL == "" {
			return nil, fmt.Errorf("SLOTPLANNER_PUBLISHER_URL must be provided in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func loadPolicy(path string) (slotpolicy.Config, error) {
	if path != "" {
		return slotpolicy.LoadFile(path)
	}

	policy := slotpolicy.DefaultConfig()
	policy.Location = getEnv("SLOTPLANNER_TIMEZONE", policy.Location)
	if raw := getEnv("SLOTPLANNER_SLOT_TIMES", ""); raw != "" {
		policy.TimeSlots = splitList(raw)
	}
	policy.SlotCapacity = getEnvInt("SLOTPLANNER_SLOT_CAPACITY", policy.SlotCapacity)
	policy.DailyTotalCap = getEnvInt("SLOTPLANNER_DAILY_TOTAL_CAP", policy.DailyTotalCap)
	policy.APICostPerPublish = getEnvInt("SLOTPLANNER_API_COST_PER_PUBLISH", policy.APICostPerPublish)
	policy.APIDailyBudget = getEnvInt("SLOTPLANNER_API_DAILY_BUDGET", policy.APIDailyBudget)
	policy.ProbeDays = getEnvInt("SLOTPLANNER_PROBE_DAYS", policy.ProbeDays)
	if raw := strings.TrimSpace(os.Getenv("SLOTPLANNER_WARNING_THRESHOLD_PERCENT")); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil {
			return policy, fmt.Errorf("parse SLOTPLANNER_WARNING_THRESHOLD_PERCENT: %w", err)
		}
		policy.WarningThresholdPercent = &threshold
	}

	if raw := getEnv("SLOTPLANNER_TYPE_CAPS", ""); raw != "" {
		caps, err := parseTypeCaps(raw)
		if err != nil {
			return policy, err
		}
		policy.PerTypeDailyCap = caps
	}
	return policy, nil
}

// parseTypeCaps parses "short=4,long=2".
func parseTypeCaps(raw string) (map[string]int, error) {
	caps := make(map[string]int)
	for _, pair := range splitList(raw) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("SLOTPLANNER_TYPE_CAPS: expected type=limit, got %q", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("SLOTPLANNER_TYPE_CAPS: limit for %q: %w", name, err)
		}
		caps[strings.TrimSpace(name)] = limit
	}
	return caps, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DB_DSN":          "use SLOTPLANNER_DB_DSN",
		"JWT_SIGNING_KEY": "use SLOTPLANNER_JWT_SIGNING_KEY",
		"PUBLISHER_URL":   "use SLOTPLANNER_PUBLISHER_URL",
		"TRACING_ENABLED": "use SLOTPLANNER_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("5s", "1h30m").
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}
