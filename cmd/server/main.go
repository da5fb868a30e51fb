package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/torquesign/archive"
	"github.com/liamcoop/torquesign/events"
	"github.com/liamcoop/torquesign/internal/config"
	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/rules"
	"github.com/liamcoop/torquesign/signature"
	"github.com/liamcoop/torquesign/stats"
	"github.com/liamcoop/torquesign/validation"
	"github.com/liamcoop/torquesign/workflow"
)

// app holds everything main starts and must stop
type app struct {
	server  *Server
	db      *sql.DB
	bus     *events.Bus
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{bus: events.NewBus()}

	var (
		ruleStore rules.RuleStore = rules.NewInMemoryRuleStore()
		wfOpts                    = []workflow.Option{workflow.WithTimeout(cfg.WorkflowTimeout)}
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		a.db = db
		ruleStore = rules.NewPostgresRuleStore(db)
		wfOpts = append(wfOpts, workflow.WithRepository(workflow.NewPostgresRepository(db)))
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	registry, err := rules.NewRegistryWithCache(ruleStore, rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.RulesCacheTTL}))
	if err != nil {
		a.close()
		return nil, err
	}

	signer, err := newSigner(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	if err := a.wireSinks(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	a.bus.On(events.OutOfSpecAlert, func(e events.Event) {
		if res, ok := e.Payload.(validation.Result); ok {
			logger.Warn("out of spec reading",
				"session_id", e.EntityID,
				"result_id", res.ID,
				"status", res.Status,
				"value", res.Value)
		}
	})

	validator := validation.NewEngine(registry, a.bus, validation.WithStats(stats.NewEngine(cfg.StatsCacheTTL)))
	workflows := workflow.NewEngine(signer, a.bus, wfOpts...)
	if err := workflows.Restore(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.server = NewServer(a.db, registry, validator, workflows)
	return a, nil
}

func newSigner(cfg config.Config) (*signature.LocalService, error) {
	if cfg.SignerKeyB64 == "" {
		logger.Warn("SIGNER_KEY_B64 not set, signing with an ephemeral key", "key_id", cfg.SignerID)
		return signature.NewLocalService(cfg.SignerID), nil
	}
	signer, err := signature.NewLocalServiceFromSeed(cfg.SignerID, cfg.SignerKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return signer, nil
}

// wireSinks attaches the optional Kafka and S3 consumers to the bus
func (a *app) wireSinks(ctx context.Context, cfg config.Config) error {
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		worker := events.Async(publisher.Handle, cfg.EventBuffer)
		off := a.bus.OnEach(events.Names(), worker.Handle)
		a.closers = append(a.closers, func() {
			off()
			worker.Close()
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		})
		logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, archiver.Subscribe(a.bus, cfg.EventBuffer))
		logger.Info("archiving closed workflows", "bucket", cfg.ArchiveBucket, "prefix", cfg.ArchivePrefix)
	}
	return nil
}

// sweep times out stale workflows until ctx is done
func sweep(ctx context.Context, workflows *workflow.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workflows.CheckWorkflowTimeouts(ctx)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}

	go sweep(ctx, a.server.workflows, cfg.SweepInterval)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	a.close()
	logger.Info("server stopped")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
}
