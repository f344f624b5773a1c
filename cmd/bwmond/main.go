// bwmond is the bandwidth telemetry server daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/bwmon/internal/config"
	"github.com/xtxerr/bwmon/internal/ingest"
	"github.com/xtxerr/bwmon/internal/logging"
	"github.com/xtxerr/bwmon/internal/policy"
	"github.com/xtxerr/bwmon/internal/server"
	"github.com/xtxerr/bwmon/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	flag.Parse()

	// Load config
	var cfg *config.Config
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Printf("No config file at %s, using defaults", *cfgPath)
				cfg = config.Default()
			} else {
				log.Fatalf("Load config: %v", err)
			}
		} else {
			cfg = loaded
		}
	} else {
		cfg = config.Default()
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.Storage.Path = ""
		cfg.Policy.AllowListPath = ""
		cfg.Policy.SavingTogglePath = ""
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	if err := cfg.Bootstrap(); err != nil {
		log.Fatalf("Bootstrap data dir: %v", err)
	}

	logging.Init(cfg.LogLevel(), cfg.Logging.JSON)
	logger := logging.Component("main")
	logger.Info("bwmond starting", "version", Version, "data_dir", cfg.DataDir)

	// =========================================================================
	// Storage
	// =========================================================================

	st, err := store.Open(store.DefaultConfig(cfg.Storage.Path))
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// =========================================================================
	// Policy and gateway
	// =========================================================================

	pol := policy.New(cfg.Policy.AllowListPath, cfg.Policy.SavingTogglePath)
	gateway := ingest.New(pol, st)

	srv := server.New(server.Config{
		Listen:             cfg.Server.Listen,
		DrainTimeout:       cfg.Server.DrainTimeout(),
		DefaultWindowHours: cfg.Storage.DefaultWindowHours,
		ExportDir:          filepath.Join(cfg.DataDir, "exports"),
	}, gateway, st, pol)

	// =========================================================================
	// Run
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Policy.Watch {
		watcher, err := policy.NewWatcher(cfg.Policy.AllowListPath, cfg.Policy.SavingTogglePath)
		if err != nil {
			// The policy works without the watcher; it only loses the
			// change log lines.
			logger.Warn("policy watcher unavailable", "error", err)
		} else {
			g.Go(func() error {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bwmond stopped")
}
