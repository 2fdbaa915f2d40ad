// Command fetcharrd runs the library-completion daemon: it mirrors the
// configured media server catalogs, discovers gaps and upgrade candidates
// and dispatches rate-limited searches until the libraries are complete.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fetcharr/fetcharr/internal/auth"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/daemon"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/persistence/postgres"
	"github.com/fetcharr/fetcharr/internal/secrets"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fetcharrd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "", "path to the YAML configuration file")
		showVersion  = flag.Bool("version", false, "print version and exit")
		hashPassword = flag.String("hash-password", "", "print the argon2id hash for ops.basicAuthPasswordHash and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("fetcharrd", version)
		return nil
	}
	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	sink := log.NewSink()
	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Output:  io.MultiWriter(os.Stdout, sink),
		Service: "fetcharrd",
		Version: version,
	})
	logger := log.WithComponent("main")

	if err := secrets.Init(cfg.SecretKey); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	d, err := daemon.New(ctx, cfg, db)
	if err != nil {
		return err
	}
	d.AttachLogSink(sink)
	errCh := d.Start()

	go func() {
		if err := config.Watch(ctx, *configPath, d.ApplyConfig); err != nil {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "main.signal").Msg("shutdown signal received")
	case err := <-errCh:
		stop()
		logger.Error().Err(err).Msg("ops listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGrace+10*time.Second)
	defer cancel()
	d.Stop(shutdownCtx)
	return nil
}
