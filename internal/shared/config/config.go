package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	KurrentDB     KurrentDBConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Certification CertificationConfig
	DraftCache    DraftCacheConfig
	LegacyImport  LegacyImportConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), used as
// the append-only audit backend when enabled.
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// AuditConfig selects the audit log backend.
type AuditConfig struct {
	// Backend: "postgres" or "kurrentdb"
	Backend string
}

// CertificationConfig carries the external certification policy. These
// numbers belong to the certifying body, not to the engine, so they are
// configuration rather than code.
type CertificationConfig struct {
	// Specialty: "neurology" or "neuropediatrics"
	Specialty string
	// TotalGoal overrides the specialty default when > 0
	TotalGoal int
	// FollowUpGoalFraction of TotalGoal that must have follow-ups
	FollowUpGoalFraction float64
	// FocusThreshold for the largest of the focus indication groups
	FocusThreshold int
	// FocusGroups overrides the default focus indication groups when set
	FocusGroups []string
	// DiversityThreshold of distinct indication groups required
	DiversityThreshold int
}

// DraftCacheConfig configures the resume-draft cache.
type DraftCacheConfig struct {
	// Backend: "memory" or "redis"
	Backend string
	// RedisAddr for the redis backend
	RedisAddr string
	// TTL is the freshness window for cached drafts
	TTL time.Duration
}

// LegacyImportConfig configures the legacy practice-system importer.
type LegacyImportConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	PollInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "bontdb"),
			Password: getEnv("DB_PASSWORD", "bontdb"),
			Database: getEnv("DB_NAME", "bontdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "bont-db"),
		},
		Audit: AuditConfig{
			Backend: getEnv("AUDIT_BACKEND", "postgres"),
		},
		Certification: CertificationConfig{
			Specialty:            getEnv("CERT_SPECIALTY", "neurology"),
			TotalGoal:            getEnvInt("CERT_TOTAL_GOAL", 0),
			FollowUpGoalFraction: getEnvFloat("CERT_FOLLOWUP_FRACTION", 0.5),
			FocusThreshold:       getEnvInt("CERT_FOCUS_THRESHOLD", 25),
			FocusGroups:          getEnvList("CERT_FOCUS_GROUPS"),
			DiversityThreshold:   getEnvInt("CERT_DIVERSITY_THRESHOLD", 2),
		},
		DraftCache: DraftCacheConfig{
			Backend:   getEnv("DRAFT_CACHE_BACKEND", "memory"),
			RedisAddr: getEnv("DRAFT_CACHE_REDIS_ADDR", "localhost:6379"),
			TTL:       getEnvDuration("DRAFT_CACHE_TTL", 24*time.Hour),
		},
		LegacyImport: LegacyImportConfig{
			Enabled:      getEnvBool("LEGACY_IMPORT_ENABLED", false),
			Host:         getEnv("LEGACY_DB_HOST", "localhost"),
			Port:         getEnvInt("LEGACY_DB_PORT", 1433),
			User:         getEnv("LEGACY_DB_USER", ""),
			Password:     getEnv("LEGACY_DB_PASSWORD", ""),
			Database:     getEnv("LEGACY_DB_NAME", ""),
			SSLMode:      getEnv("LEGACY_DB_SSLMODE", "disable"),
			PollInterval: getEnvDuration("LEGACY_POLL_INTERVAL", 15*time.Minute),
		},
	}

	if cfg.Server.Env == "production" && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	switch strings.ToLower(cfg.Audit.Backend) {
	case "postgres", "kurrentdb":
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
