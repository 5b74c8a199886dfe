package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ruletrace/internal/audit"
	httpapi "ruletrace/internal/http"
	"ruletrace/internal/platform/config"
	"ruletrace/internal/platform/httpserver"
	"ruletrace/internal/platform/logger"
	platformmetrics "ruletrace/internal/platform/metrics"
	platformpg "ruletrace/internal/platform/postgres"
	platformredis "ruletrace/internal/platform/redis"
	"ruletrace/internal/rulegraph"
	rghandler "ruletrace/internal/rulegraph/handler"
	"ruletrace/internal/trace"
	tracehandler "ruletrace/internal/trace/handler"
	tracemetrics "ruletrace/internal/trace/metrics"
	"ruletrace/internal/workingmem"
	wmhandler "ruletrace/internal/workingmem/handler"
)

// main wires stores, services, and transport, then runs the server until a
// shutdown signal. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx := context.Background()

	// Working memory: Redis when configured, in-process otherwise.
	var wmStore workingmem.Store
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		wmStore = workingmem.NewRedisStore(redisClient.Client, cfg.WorkingMemoryTTL)
		defer redisClient.Close()
		log.Info("working memory backed by redis")
	} else {
		wmStore = workingmem.NewInMemoryStore(cfg.WorkingMemoryTTL)
		log.Info("working memory backed by process memory")
	}

	// Rule graph and audit log: Postgres when configured.
	var (
		graphStore rulegraph.Store
		auditStore audit.Store
	)
	db, err := platformpg.Open(cfg.Postgres)
	if err != nil {
		log.Error("postgres connect failed", "error", err.Error())
		os.Exit(1)
	}
	if db != nil {
		if err := rulegraph.Migrate(ctx, db); err != nil {
			log.Error("rule graph migration failed", "error", err.Error())
			os.Exit(1)
		}
		if err := audit.Migrate(ctx, db); err != nil {
			log.Error("audit migration failed", "error", err.Error())
			os.Exit(1)
		}
		graphStore = rulegraph.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
		defer db.Close()
		log.Info("rule graph backed by postgres")
	} else {
		graphStore = rulegraph.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		log.Info("rule graph backed by process memory")
	}

	var sink audit.Sink
	kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		log.Error("kafka connect failed", "error", err.Error())
		os.Exit(1)
	}
	if kafkaSink != nil {
		sink = kafkaSink
		defer kafkaSink.Close()
		log.Info("audit events streaming to kafka", "topic", cfg.Kafka.Topic)
	}
	recorder := audit.NewRecorder(auditStore, sink, log)

	wmService := workingmem.NewService(wmStore, cfg.WorkingMemoryTTL)
	graphService := rulegraph.NewService(graphStore)
	traceService := trace.NewService(wmStore, graphStore, recorder, tracemetrics.New(), log)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:        log,
		Metrics:       platformmetrics.New(),
		WorkingMemory: wmhandler.New(wmService, log),
		RuleGraph:     rghandler.New(graphService, log),
		Trace:         tracehandler.New(traceService, log),
		HealthChecks: map[string]httpapi.Pinger{
			"working_memory": wmStore,
			"rule_graph":     graphStore,
		},
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("server stopped")
}
