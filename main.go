package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kapella-hub/ngs/config"
	"github.com/kapella-hub/ngs/internal/bootstrap"
	"github.com/kapella-hub/ngs/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env if present (local development).
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	mode := flag.String("mode", "", "run mode: api, worker, all (overrides NGS_MODE)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("NGS_MODE", *mode)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "ngs",
		Pretty:  cfg.LogPretty,
	})

	ctx := context.Background()
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch cfg.Mode {
	case "api":
		runAPI(cfg, deps)
	case "worker":
		runWorker(cfg, deps)
	case "all":
		go runWorker(cfg, deps)
		runAPI(cfg, deps)
	default:
		logger.Fatal("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(cfg *config.Config, deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(cfg, deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down api server (timeout %v)", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown error: %v", err)
		}
	}()

	logger.Info("starting review api on %s", cfg.HTTPAddr)
	if err := app.Listen(cfg.HTTPAddr); err != nil {
		logger.Fatal("api server failed: %v", err)
	}
}

func runWorker(cfg *config.Config, deps *bootstrap.Dependencies) {
	w := bootstrap.NewWorker(cfg, deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down worker (timeout %v)", shutdownTimeout)
		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("starting worker")
	if err := w.Start(); err != nil {
		logger.Fatal("worker failed: %v", err)
	}
}
