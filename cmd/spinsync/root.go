package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/spinsync/internal/api"
	"github.com/hyperengineering/spinsync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "spinsync",
	Short:        "spinsync - Topspin catalog sync engine",
	Long:         "Mirrors a remote Topspin catalog into a local store.",
	RunE:         runServe,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and the background scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(prefetchCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Configuration, logger, store and sync components
	a, err := loadApp(os.Stdout)
	if err != nil {
		return err
	}
	cfg := a.cfg

	// 3. Flags left by a process that died mid-pass would block every scope
	if err := a.coord.ResetFlags(ctx); err != nil {
		a.Close()
		return err
	}

	// 4. Initialize HTTP router
	handler := api.NewHandler(ctx, a.coord, a.store, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, cfg.Server.TriggerRate)
	slog.Info("router initialized")

	// 5. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 6. Background workers
	var wg sync.WaitGroup
	if cfg.Worker.Enabled {
		scheduler := worker.NewScheduler(a.coord, worker.Intervals{
			Artists:  time.Duration(cfg.Worker.ArtistsInterval),
			Offers:   time.Duration(cfg.Worker.OffersInterval),
			Products: time.Duration(cfg.Worker.ProductsInterval),
		}, cfg.Sync.Prefetch)
		startWorker(ctx, &wg, "scheduler", scheduler.Run)
	}
	if interval := time.Duration(cfg.Worker.PrefetchInterval); interval > 0 {
		refresher := worker.NewPrefetchCoordinator(a.writer, interval)
		startWorker(ctx, &wg, "prefetch", refresher.Run)
	}

	// 7. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 8. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 9. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 9a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 9b. Wait for workers and API-triggered passes
	wg.Wait()
	handler.Wait()

	// 9c. Close store
	if err := a.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
