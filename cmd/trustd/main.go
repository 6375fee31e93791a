// trustd wires the Trust Primitive core into a runnable process:
// storage, system signing key, receipt/trust ledgers, negotiation
// engine, appeal service, and the scheduler's periodic jobs. Protocol
// transitions themselves are invoked through the library (or an RPC
// binding layered on top, which is out of scope here); trustd's job is
// liveness — deadline enforcement and receipt checkpointing.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/trustprimitive/core/pkg/appeal"
	"github.com/trustprimitive/core/pkg/archive"
	"github.com/trustprimitive/core/pkg/config"
	"github.com/trustprimitive/core/pkg/negotiation"
	"github.com/trustprimitive/core/pkg/observability"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/scheduler"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustevents"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("trustd: config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("trustd: store: %v", err)
	}
	defer closeStore()

	obsCfg := observability.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Enabled = true
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("trustd: observability: %v", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Error("observability shutdown failed", "error", err)
		}
	}()

	ledger := receipts.New(st, cfg.SystemSigner).WithLogger(logger)
	arch, err := newArchive(ctx, cfg)
	if err != nil {
		log.Fatalf("trustd: archive: %v", err)
	}
	if arch != nil {
		ledger = ledger.WithArchive(arch)
		logger.Info("checkpoint archive enabled", "backend", cfg.ArchiveBackend, "bucket", cfg.ArchiveBucket)
	}
	trust := trustevents.New(st)
	appeals := appeal.New(st, ledger, trust)
	engine := negotiation.New(st, ledger, trust, appeals).WithLogger(logger).WithObservability(obs)
	engine.AuditRejectedSignatures = cfg.AuditRejectedSignatures

	var lease scheduler.Lease
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("trustd: redis lease backend unreachable: %v", err)
		}
		defer client.Close()
		lease = scheduler.NewRedisLease(client)
		logger.Info("scheduler lease backend: redis", "addr", cfg.RedisAddr)
	default:
		lease = scheduler.NewInProcessLease()
		logger.Warn("no SCHEDULER_LOCK_BACKEND configured; lease degrades to in-process mutex, single-node only")
	}

	sched := scheduler.New(st, engine, appeals, ledger, lease).
		WithIntervals(cfg.TimeoutInterval, cfg.CheckpointInterval).
		WithLogger(logger).
		WithObservability(obs)

	logger.Info("trustd started",
		"system_signing", cfg.SystemSigner.Configured(),
		"timeout_interval", cfg.TimeoutInterval,
		"checkpoint_interval", cfg.CheckpointInterval)

	sched.Run(ctx)
	logger.Info("trustd stopped")
}

// newArchive selects the checkpoint anchoring backend from
// TRUST_ARCHIVE_BACKEND. Returns nil when anchoring is disabled; the
// receipt ledger then keeps its NopArchive default. The GCS backend is
// only compiled in with the gcp build tag (see archive_gcp.go).
func newArchive(ctx context.Context, cfg *config.Config) (archive.Archive, error) {
	switch cfg.ArchiveBackend {
	case "":
		return nil, nil
	case "s3":
		return archive.NewS3Archive(ctx, archive.S3Config{
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   cfg.ArchivePrefix,
		})
	case "gcs":
		return newGCSArchive(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}

// openStore selects the storage backend from TRUST_DB_DSN: "memory"
// for the in-process store, "sqlite:<path>" for embedded SQLite,
// anything else is treated as a Postgres DSN.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch {
	case cfg.DBDSN == "memory":
		return store.NewMemoryStore(), func() {}, nil
	case strings.HasPrefix(cfg.DBDSN, "sqlite:"):
		db, err := sql.Open("sqlite", strings.TrimPrefix(cfg.DBDSN, "sqlite:"))
		if err != nil {
			return nil, nil, err
		}
		s := store.NewSQLStore(db, store.DialectSQLite)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil
	default:
		db, err := sql.Open("postgres", cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		s := store.NewSQLStore(db, store.DialectPostgres)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
