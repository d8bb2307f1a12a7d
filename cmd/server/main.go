package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core"
	"github.com/agenthands/caire/internal/core/dedupe"
	"github.com/agenthands/caire/internal/core/generation"
	"github.com/agenthands/caire/internal/llm"
	"github.com/agenthands/caire/internal/observability"
	"github.com/agenthands/caire/internal/server"
	"github.com/agenthands/caire/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	var (
		gen *generation.Generator
		dd  *dedupe.Deduplicator
	)
	router, err := llm.NewRouter(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Warn("Compiler disabled", "error", err)
	} else {
		gen = generation.NewGenerator(router, cfg.Prompts, logger)
		dd = dedupe.NewDeduplicator(router.ForRole(llm.RoleStudent))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c := core.NewCaire(st, gen, dd, observability.NewMetrics(reg), cfg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.NewServer(c, cfg, reg, logger).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	c.Wait()
	if err := st.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close store", "error", err)
	}
}
