package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique consumer name using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "phishnot"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL   string
	MongoDBURL    string
	MongoDBName   string
	RedisURL      string
	AutoMigrate   bool
	DBMaxConns    int
	DBMinConns    int
	DBConnTimeout time.Duration

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// JWT
	JWTSecret string

	// Classifier (external /predict service)
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Rate limiting
	RateLimitBackend string // postgres | redis | memory

	// Analytics cache
	AnalyticsCacheTTL time.Duration

	// Audit
	AuditRetention time.Duration

	// Worker (Redis Stream)
	WorkerID                string
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Lexicon override
	LexiconPath string

	// CORS
	AllowedOrigins []string

	Policy Policy
}

// Policy carries every tunable constant of the feedback engine.
// The defaults are product decisions, not derived values.
type Policy struct {
	// Validator
	ReputationWeight      float64
	ConsistencyWeight     float64
	AcceptanceThreshold   float64
	HistoryWindow         int
	MinHistory            int
	SuspiciousRatio       float64
	SuspiciousConsistency float64
	NeutralConsistency    float64

	// Weight store
	DeltaScale    float64
	SkipThreshold float64
	BoostBound    float64

	// Rate limits
	FeedbackLimit   int
	FeedbackWindow  time.Duration
	ClassifyLimit   int
	ClassifyWindow  time.Duration
	AnalyticsLimit  int
	AnalyticsWindow time.Duration
	SettingsLimit   int
	SettingsWindow  time.Duration

	// Alerts
	AlertWindow time.Duration
}

// DefaultPolicy returns the stock tuning.
func DefaultPolicy() Policy {
	return Policy{
		ReputationWeight:      0.7,
		ConsistencyWeight:     0.3,
		AcceptanceThreshold:   0.4,
		HistoryWindow:         10,
		MinHistory:            4,
		SuspiciousRatio:       0.8,
		SuspiciousConsistency: 0.3,
		NeutralConsistency:    1.0,

		DeltaScale:    0.1,
		SkipThreshold: 0.01,
		BoostBound:    0.5,

		FeedbackLimit:   20,
		FeedbackWindow:  time.Hour,
		ClassifyLimit:   60,
		ClassifyWindow:  time.Hour,
		AnalyticsLimit:  120,
		AnalyticsWindow: time.Minute,
		SettingsLimit:   30,
		SettingsWindow:  time.Hour,

		AlertWindow: 24 * time.Hour,
	}
}

// Validate rejects tunings that would break the engine's invariants.
func (p Policy) Validate() error {
	if p.BoostBound <= 0 || p.BoostBound > 1 {
		return fmt.Errorf("boost bound must be in (0, 1], got %v", p.BoostBound)
	}
	if p.HistoryWindow <= 0 || p.MinHistory < 0 || p.MinHistory > p.HistoryWindow {
		return fmt.Errorf("history window %d / minimum %d is inconsistent", p.HistoryWindow, p.MinHistory)
	}
	if p.ReputationWeight < 0 || p.ConsistencyWeight < 0 {
		return fmt.Errorf("validator weights must be non-negative")
	}
	for name, limit := range map[string]int{
		"feedback":  p.FeedbackLimit,
		"classify":  p.ClassifyLimit,
		"analytics": p.AnalyticsLimit,
		"settings":  p.SettingsLimit,
	} {
		if limit <= 0 {
			return fmt.Errorf("%s rate limit must be positive, got %d", name, limit)
		}
	}
	return nil
}

func Load() (*Config, error) {
	defaults := DefaultPolicy()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MongoDBURL:    getEnv("MONGODB_URL", ""),
		MongoDBName:   getEnv("MONGODB_DATABASE", "phishnot"),
		RedisURL:      getEnv("REDIS_URL", ""),
		AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:    getEnvInt("DB_MIN_CONNS", 2),
		DBConnTimeout: getEnvDuration("DB_CONN_TIMEOUT", 10*time.Second),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Classifier
		ClassifierURL:     getEnv("CLASSIFIER_URL", "http://localhost:8000"),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second),

		RateLimitBackend:  strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "postgres")),
		AnalyticsCacheTTL: getEnvDuration("ANALYTICS_CACHE_TTL", time.Minute),
		AuditRetention:    getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),

		// Worker
		WorkerID:                getEnv("WORKER_ID", generateWorkerID()),
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),

		LexiconPath: getEnv("LEXICON_PATH", ""),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		Policy: Policy{
			ReputationWeight:      getEnvFloat("POLICY_REPUTATION_WEIGHT", defaults.ReputationWeight),
			ConsistencyWeight:     getEnvFloat("POLICY_CONSISTENCY_WEIGHT", defaults.ConsistencyWeight),
			AcceptanceThreshold:   getEnvFloat("POLICY_ACCEPTANCE_THRESHOLD", defaults.AcceptanceThreshold),
			HistoryWindow:         getEnvInt("POLICY_HISTORY_WINDOW", defaults.HistoryWindow),
			MinHistory:            getEnvInt("POLICY_MIN_HISTORY", defaults.MinHistory),
			SuspiciousRatio:       getEnvFloat("POLICY_SUSPICIOUS_RATIO", defaults.SuspiciousRatio),
			SuspiciousConsistency: getEnvFloat("POLICY_SUSPICIOUS_CONSISTENCY", defaults.SuspiciousConsistency),
			NeutralConsistency:    defaults.NeutralConsistency,

			DeltaScale:    getEnvFloat("POLICY_DELTA_SCALE", defaults.DeltaScale),
			SkipThreshold: getEnvFloat("POLICY_SKIP_THRESHOLD", defaults.SkipThreshold),
			BoostBound:    getEnvFloat("POLICY_BOOST_BOUND", defaults.BoostBound),

			FeedbackLimit:   getEnvInt("RATE_LIMIT_FEEDBACK", defaults.FeedbackLimit),
			FeedbackWindow:  getEnvDuration("RATE_LIMIT_FEEDBACK_WINDOW", defaults.FeedbackWindow),
			ClassifyLimit:   getEnvInt("RATE_LIMIT_CLASSIFY", defaults.ClassifyLimit),
			ClassifyWindow:  getEnvDuration("RATE_LIMIT_CLASSIFY_WINDOW", defaults.ClassifyWindow),
			AnalyticsLimit:  getEnvInt("RATE_LIMIT_ANALYTICS", defaults.AnalyticsLimit),
			AnalyticsWindow: getEnvDuration("RATE_LIMIT_ANALYTICS_WINDOW", defaults.AnalyticsWindow),
			SettingsLimit:   getEnvInt("RATE_LIMIT_SETTINGS", defaults.SettingsLimit),
			SettingsWindow:  getEnvDuration("RATE_LIMIT_SETTINGS_WINDOW", defaults.SettingsWindow),

			AlertWindow: getEnvDuration("ALERT_WINDOW", defaults.AlertWindow),
		},
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	switch cfg.RateLimitBackend {
	case "postgres", "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}
	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "1h") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
