package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything main needs to wire the server.
type Config struct {
	Addr string

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Verification  VerificationConfig
	Collaborators CollaboratorConfig
}

// CollaboratorConfig points at the external document-extraction and
// authoritative-registry services. Empty URLs leave the in-process stand-ins
// wired, which is only acceptable for local development.
type CollaboratorConfig struct {
	ExtractorURL string
	RegistryURL  string
	APIKey       string
	Timeout      time.Duration
}

// RedisConfig controls the optional revocation cache. Empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the optional audit mirror. Empty brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// VerificationConfig holds the auto-decision thresholds for document
// cross-checking.
type VerificationConfig struct {
	// AutoVerifyThreshold is the minimum name similarity for auto-verify.
	AutoVerifyThreshold float64
	// FlagThreshold is the lower bound of the ambiguous zone; below it a case
	// fails outright.
	FlagThreshold float64
	// MaxExtractionRetries bounds how often a stuck Submitted case may be
	// re-processed.
	MaxExtractionRetries int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:          getenv("MEMBERGATE_ADDR", ":8080"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getenv("JWT_ISSUER", "membergate"),
		JWTAudience:   getenv("JWT_AUDIENCE", "membergate-api"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getint("REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Verification: VerificationConfig{
			AutoVerifyThreshold: getfloat("VERIFY_AUTO_THRESHOLD", 0.90),
			FlagThreshold:       getfloat("VERIFY_FLAG_THRESHOLD", 0.60),
			MaxExtractionRetries: getint("VERIFY_MAX_EXTRACTION_RETRIES", 3),
		},
		Collaborators: CollaboratorConfig{
			ExtractorURL: os.Getenv("EXTRACTOR_URL"),
			RegistryURL:  os.Getenv("REGISTRY_URL"),
			APIKey:       os.Getenv("COLLABORATOR_API_KEY"),
			Timeout:      10 * time.Second,
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   getenv("KAFKA_AUDIT_TOPIC", "membergate.audit"),
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
