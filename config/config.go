package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AllowedOrigins string

	DatabaseURL string

	JWTSecret  string
	TokenTTL   time.Duration
	AdminToken string

	MaxArtifactBytes    int64
	UploadTimeout       time.Duration
	ParseTimeout        time.Duration
	StaleAfter          time.Duration
	Workers             int
	Backlog             int
	SubmissionRateLimit int

	ArtifactBackend string // local | r2
	ArtifactDir     string

	CloudflareAccountID string
	R2AccessKeyID       string
	R2AccessKeySecret   string
	R2Bucket            string
	S3Endpoint          string

	RedisURL            string
	LeaderboardCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "5001"),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		ArtifactBackend:     getEnv("ARTIFACT_BACKEND", "local"),
		ArtifactDir:         getEnv("ARTIFACT_DIR", "uploads"),
		CloudflareAccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:       os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret:   os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2Bucket:            os.Getenv("R2_BUCKET_NAME"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "submission-results"),
	}

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ParseTimeout, err = getDuration("PARSE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getDuration("STALE_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LeaderboardCacheTTL, err = getDuration("LEADERBOARD_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxArtifactBytes, err = getInt64("MAX_ARTIFACT_BYTES", 100*1024*1024); err != nil {
		return nil, err
	}
	workers, err := getInt64("WORKERS", int64(runtime.NumCPU()))
	if err != nil {
		return nil, err
	}
	cfg.Workers = int(workers)
	backlog, err := getInt64("BACKLOG", 64)
	if err != nil {
		return nil, err
	}
	cfg.Backlog = int(backlog)
	rate, err := getInt64("SUBMISSION_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	cfg.SubmissionRateLimit = int(rate)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable not set")
	}
	if c.MaxArtifactBytes <= 0 {
		return fmt.Errorf("MAX_ARTIFACT_BYTES must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive")
	}
	if c.Backlog < 0 {
		return fmt.Errorf("BACKLOG must not be negative")
	}
	switch c.ArtifactBackend {
	case "local":
	case "r2":
		if c.R2Bucket == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when ARTIFACT_BACKEND=r2")
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_BACKEND %q", c.ArtifactBackend)
	}
	return nil
}

// Origins returns ALLOWED_ORIGINS with whitespace trimmed, joined the way fiber's cors expects.
func (c *Config) Origins() string {
	origins := strings.Split(c.AllowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return strings.Join(origins, ",")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
