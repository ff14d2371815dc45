package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/leaderboard")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PARSE_TIMEOUT", "5s")
	t.Setenv("WORKERS", "3")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test , http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "5001" {
		t.Fatalf("expected default port 5001, got %s", cfg.Port)
	}
	if cfg.ParseTimeout != 5*time.Second {
		t.Fatalf("expected parse timeout 5s, got %s", cfg.ParseTimeout)
	}
	if cfg.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.MaxArtifactBytes != 100*1024*1024 {
		t.Fatalf("unexpected artifact limit: %d", cfg.MaxArtifactBytes)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.Origins() != "http://a.test,http://b.test" {
		t.Fatalf("unexpected origins: %q", cfg.Origins())
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/leaderboard")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("UPLOAD_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid UPLOAD_TIMEOUT")
	}
}

func TestValidate_R2RequiresBucket(t *testing.T) {
	cfg := &Config{
		DatabaseURL:      "postgres://localhost/leaderboard",
		JWTSecret:        "secret",
		MaxArtifactBytes: 1,
		Workers:          1,
		ArtifactBackend:  "r2",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without R2 bucket")
	}
	cfg.R2Bucket = "artifacts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
