// Command api runs the memory subsystem HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mnemo-backend/internal/config"
	"mnemo-backend/internal/di"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, cfg, logger)
	if err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	} else {
		watcher.OnReload(container.ApplyTunables)
		defer watcher.Stop()
	}

	container.Worker.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      container.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("memory service listening",
			zap.String("addr", server.Addr),
			zap.String("environment", string(cfg.Environment)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error("container shutdown failed", zap.Error(err))
	}
	return nil
}

func buildLogger(env config.Environment) (*zap.Logger, error) {
	if env == config.Production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
