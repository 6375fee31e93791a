package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("TRUST_DB_DSN", "")
	t.Setenv("SCHEDULER_LOCK_BACKEND", "")
	t.Setenv("SYSTEM_SIGNING_KEY", "")
	t.Setenv("TRUST_CHECKPOINT_INTERVAL", "")
	t.Setenv("TRUST_TIMEOUT_INTERVAL", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DBDSN, "localhost")
	assert.Equal(t, config.LockBackendInProcess, cfg.LockBackend)
	assert.Equal(t, 30*time.Minute, cfg.CheckpointInterval)
	assert.Equal(t, 5*time.Minute, cfg.TimeoutInterval)
	assert.False(t, cfg.SystemSigner.Configured())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SCHEDULER_LOCK_BACKEND", "redis")
	t.Setenv("TRUST_CHECKPOINT_INTERVAL", "10m")
	t.Setenv("TRUST_AUDIT_REJECTED_SIGNATURES", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, config.LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, 10*time.Minute, cfg.CheckpointInterval)
	assert.True(t, cfg.AuditRejectedSignatures)
}

func TestLoad_InvalidSystemSigningKeyIsRejected(t *testing.T) {
	t.Setenv("SYSTEM_SIGNING_KEY", "not-valid-base64!!")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_LockBackendRedisURI(t *testing.T) {
	t.Setenv("SCHEDULER_LOCK_BACKEND", "redis://:secret@redis.internal:6380/2")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "secret", cfg.RedisPassword)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoad_LockBackendRejectsUnknownScheme(t *testing.T) {
	t.Setenv("SCHEDULER_LOCK_BACKEND", "etcd://host:2379")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_ArchiveBackendRequiresBucket(t *testing.T) {
	t.Setenv("TRUST_ARCHIVE_BACKEND", "s3")
	t.Setenv("TRUST_ARCHIVE_BUCKET", "")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("TRUST_ARCHIVE_BUCKET", "trust-anchors")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.ArchiveBackend)
	assert.Equal(t, "trust-anchors", cfg.ArchiveBucket)
}
