// Package config loads process configuration from the environment,
// grounded on the reference repo's pkg/config (Load() reading os.Getenv
// with defaults), generalized to the Trust Primitive's own settings.
package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trustprimitive/core/pkg/trustcrypto"
)

// LockBackend selects the scheduler's cross-instance lease
// implementation (spec §6 SCHEDULER_LOCK_BACKEND).
type LockBackend string

const (
	LockBackendInProcess LockBackend = "in_process"
	LockBackendRedis     LockBackend = "redis"
)

// Config holds every environment-derived setting the core needs to run.
type Config struct {
	Port     string
	LogLevel string

	DBDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockBackend   LockBackend

	// ArchiveBackend selects the checkpoint anchoring backend: "" (no
	// anchoring), "s3", or "gcs" (requires building with the gcp tag).
	ArchiveBackend  string
	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchivePrefix   string

	CheckpointInterval time.Duration
	TimeoutInterval    time.Duration

	OTLPEndpoint string

	AuditRejectedSignatures bool

	// SystemSigner is nil when SYSTEM_SIGNING_KEY is unset (spec §4.2:
	// signing is then skipped without affecting correctness).
	SystemSigner *trustcrypto.SystemSigner
}

// Load reads configuration from the environment, applying the same
// defaults-on-empty pattern the reference repo's config.Load uses.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnvDefault("PORT", "8080"),
		LogLevel:           getEnvDefault("LOG_LEVEL", "INFO"),
		DBDSN:              getEnvDefault("TRUST_DB_DSN", "postgres://trust@localhost:5432/trust?sslmode=disable"),
		RedisAddr:          getEnvDefault("TRUST_REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("TRUST_REDIS_PASSWORD"),
		OTLPEndpoint:       os.Getenv("TRUST_OTLP_ENDPOINT"),
		ArchiveBackend:     os.Getenv("TRUST_ARCHIVE_BACKEND"),
		ArchiveBucket:      os.Getenv("TRUST_ARCHIVE_BUCKET"),
		ArchiveRegion:      getEnvDefault("TRUST_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:    os.Getenv("TRUST_ARCHIVE_ENDPOINT"),
		ArchivePrefix:      getEnvDefault("TRUST_ARCHIVE_PREFIX", "trust-checkpoints"),
		AuditRejectedSignatures: os.Getenv("TRUST_AUDIT_REJECTED_SIGNATURES") == "true",
	}

	switch cfg.ArchiveBackend {
	case "", "s3", "gcs":
	default:
		return nil, fmt.Errorf("config: TRUST_ARCHIVE_BACKEND must be empty, %q, or %q", "s3", "gcs")
	}
	if cfg.ArchiveBackend != "" && cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("config: TRUST_ARCHIVE_BACKEND=%s requires TRUST_ARCHIVE_BUCKET", cfg.ArchiveBackend)
	}

	checkpointInterval, err := durationEnvDefault("TRUST_CHECKPOINT_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.CheckpointInterval = checkpointInterval

	timeoutInterval, err := durationEnvDefault("TRUST_TIMEOUT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.TimeoutInterval = timeoutInterval

	redisDB, err := intEnvDefault("TRUST_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.RedisDB = redisDB

	// After the TRUST_REDIS_* fallbacks, so a redis:// URI's own
	// connection details win.
	if err := cfg.applyLockBackend(os.Getenv("SCHEDULER_LOCK_BACKEND")); err != nil {
		return nil, err
	}

	signer, err := systemSignerFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.SystemSigner = signer

	return cfg, nil
}

// applyLockBackend interprets SCHEDULER_LOCK_BACKEND. Spec §6 defines
// it as the "URI of the distributed lease store", so a redis:// URI is
// the canonical form and carries the connection details itself; the
// bare words "redis" and "in_process" are also accepted, falling back
// to the TRUST_REDIS_* variables for connection details. Absence means
// single-node mode.
func (c *Config) applyLockBackend(raw string) error {
	switch raw {
	case "", string(LockBackendInProcess):
		c.LockBackend = LockBackendInProcess
		return nil
	case string(LockBackendRedis):
		c.LockBackend = LockBackendRedis
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "redis" || u.Host == "" {
		return fmt.Errorf("config: SCHEDULER_LOCK_BACKEND must be empty, %q, %q, or a redis:// URI", LockBackendInProcess, LockBackendRedis)
	}
	c.LockBackend = LockBackendRedis
	c.RedisAddr = u.Host
	if pw, ok := u.User.Password(); ok {
		c.RedisPassword = pw
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("config: SCHEDULER_LOCK_BACKEND redis URI has non-numeric db %q", db)
		}
		c.RedisDB = n
	}
	return nil
}

// systemSignerFromEnv base64-decodes SYSTEM_SIGNING_KEY, a 32-byte
// Ed25519 seed, into a SystemSigner. Absence is not an error (spec
// §4.2): it yields an unconfigured signer, not a nil one, so callers
// never need a presence check of their own.
func systemSignerFromEnv() (*trustcrypto.SystemSigner, error) {
	raw := os.Getenv("SYSTEM_SIGNING_KEY")
	if raw == "" {
		return trustcrypto.NewSystemSigner(nil), nil
	}
	seed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: SYSTEM_SIGNING_KEY is not valid base64: %w", err)
	}
	signer, err := trustcrypto.SignerFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("config: SYSTEM_SIGNING_KEY: %w", err)
	}
	return trustcrypto.NewSystemSigner(signer), nil
}

func getEnvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationEnvDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s is not a valid duration: %w", key, err)
	}
	return d, nil
}

func intEnvDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s is not a valid integer: %w", key, err)
	}
	return n, nil
}
