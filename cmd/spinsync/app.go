package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hyperengineering/spinsync/internal/asset"
	"github.com/hyperengineering/spinsync/internal/config"
	"github.com/hyperengineering/spinsync/internal/coordinator"
	"github.com/hyperengineering/spinsync/internal/prefetch"
	"github.com/hyperengineering/spinsync/internal/reconcile"
	"github.com/hyperengineering/spinsync/internal/snapshot"
	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/topspin"
)

// app holds the wired component graph shared by every command.
type app struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	client *topspin.Client
	writer *prefetch.Writer
	coord  *coordinator.Coordinator
}

// newApp opens the store and wires the sync components from cfg.
func newApp(cfg *config.Config) (*app, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	mirror, err := snapshot.NewMirror(cfg.SnapshotStorage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot mirror: %w", err)
	}

	client := topspin.NewClient(topspin.Options{
		BaseURL:   cfg.API.BaseURL,
		User:      cfg.API.User,
		Key:       cfg.API.Key,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		Timeout:   time.Duration(cfg.API.Timeout),
	})
	slog.Info("api client initialized", "base_url", cfg.API.BaseURL)

	variants := make([]asset.Size, 0, len(cfg.Assets.Variants))
	for _, v := range cfg.Assets.Variants {
		variants = append(variants, asset.Size{Width: v.Width, Height: v.Height})
	}
	files := asset.NewFileStore(db, asset.Options{
		RootDir:  cfg.Assets.RootDir,
		Variants: variants,
		Timeout:  time.Duration(cfg.Assets.FetchTimeout),
	})

	s := syncer.New(client, prefetch.NewSource(cfg.Sync.PrefetchDir, mirror), db, asset.NewCache(files), cfg.Sync.PageSize)
	coord := coordinator.New(s, reconcile.New(db, files), db, client, coordinator.Options{
		ArtistsEnabled: cfg.Sync.ArtistsEnabled,
		ProductDelay:   time.Duration(cfg.Sync.ProductDelay),
		PurgeOnPartial: cfg.Sync.PurgeOnPartial,
		PrefetchDir:    cfg.Sync.PrefetchDir,
		Mirror:         mirror,
	})

	return &app{
		cfg:    cfg,
		store:  db,
		client: client,
		writer: prefetch.NewWriter(cfg.Sync.PrefetchDir, client, mirror, cfg.Sync.PageSize),
		coord:  coord,
	}, nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// loadApp loads configuration, installs the logger and wires the app.
// Command logs go to stderr so stdout stays parseable.
func loadApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Log, logOut))
	slog.Info("configuration loaded")

	return newApp(cfg)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
