// Package app assembles the dispatch service: configuration, logging, the
// dispatcher core, and the HTTP bridge, with graceful shutdown on SIGINT and
// SIGTERM.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"relaycore/internal/config"
	"relaycore/internal/dispatch"
	"relaycore/internal/infrastructure"
	transporthttp "relaycore/internal/transport/http"
	"relaycore/internal/validation"
)

// Application holds the assembled service.
type Application struct {
	Config     *config.Config
	Logger     *slog.Logger
	Dispatcher *dispatch.Dispatcher
	Server     *http.Server
}

// NewApplication wires configuration, logging, and the dispatcher around the
// caller-supplied route table and handler registry.
func NewApplication(routes dispatch.RouteConfig, registry *dispatch.HandlerRegistry) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Options{
		Routes:              routes,
		Validator:           validation.NewSanitizer(),
		AutoLoader:          dispatch.NewRegistryAutoLoader(registry),
		Logger:              logger,
		AllowedMethods:      cfg.Dispatch.AllowedMethods,
		DependencyRetries:   cfg.Dispatch.DependencyRetries,
		DependencyRetryBase: cfg.Dispatch.DependencyRetryBase,
		HandlerTimeout:      cfg.Dispatch.HandlerTimeout,
		EnableRouteCache:    cfg.Dispatch.EnableRouteCache,
		MaxRouteCacheSize:   cfg.Dispatch.MaxRouteCacheSize,
		EnableVersioning:    cfg.Dispatch.EnableVersioning,
		ParallelHandlers:    cfg.Dispatch.ParallelHandlers,
		DebugMode:           cfg.Dispatch.DebugMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	router := transporthttp.NewRouter(dispatcher, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:     cfg,
		Logger:     logger,
		Dispatcher: dispatcher,
		Server:     server,
	}, nil
}

// Run serves until an interrupt or termination signal arrives, then shuts
// down gracefully within the configured timeout.
func (a *Application) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		a.Logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	infrastructure.CloseLogFile()
	return nil
}
