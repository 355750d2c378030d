package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/migrant/internal/adminapi"
	"github.com/hyperengineering/migrant/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration admin API and secondary-write retry workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "url", cfg.Migration.URL, "default_phase", cfg.Migration.DefaultPhase)

	db, err := buildDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build migration database: %w", err)
	}
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("connect migration database: %w", err)
	}
	slog.Info("migration database connected")

	handler := adminapi.NewHandler(db, db.VerifySync, "", Version)
	router := adminapi.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("admin server starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	if err := db.Disconnect(shutdownCtx); err != nil {
		slog.Error("migration database disconnect error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
