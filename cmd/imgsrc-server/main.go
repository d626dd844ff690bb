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
	"github.com/tendant/imgsrc/pkg/imgsrc/api"
	"github.com/tendant/imgsrc/pkg/imgsrc/config"
	"github.com/tendant/imgsrc/pkg/imgsrc/store/scan"
	"github.com/tendant/imgsrc/pkg/imgsrc/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := cfg.BuildStore(logger)
	if err != nil {
		return err
	}

	// Staging files older than a request deadline belong to no live upload.
	if _, err := scan.New(st).Scan(ctx, scan.Options{
		Processor:      scan.StagingSweeper(cfg.RequestTimeout, nil),
		IncludeStaging: true,
	}); err != nil {
		logger.Warn("Failed to sweep staging files", "err", err)
	}

	gate, closeGate, err := cfg.BuildGate(ctx, logger)
	if err != nil {
		return err
	}
	defer closeGate()

	opts := []upload.Option{
		upload.WithMaxSize(cfg.MaxUploadSize),
		upload.WithLogger(logger),
	}
	mirror, err := cfg.BuildMirror(ctx, logger)
	if err != nil {
		return err
	}
	if mirror != nil {
		opts = append(opts, upload.WithMirror(mirror))
	}

	svc, err := upload.New(gate, st, opts...)
	if err != nil {
		return err
	}

	server := api.New(gate, svc,
		api.WithLogger(logger),
		api.WithCORS(cfg.AllowCORS),
		api.WithTimeout(cfg.RequestTimeout),
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("imgsrc server starting",
			"addr", cfg.Addr,
			"dir", cfg.OutputDir,
			"extra_dirs", len(cfg.ExtraDirs),
			"digest", cfg.Algorithm(),
			"replay_guard", cfg.ReplayGuard,
			"mirror", mirror != nil,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exiting")
	return nil
}
