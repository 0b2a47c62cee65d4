// cloudserverd runs the TidemarkDB commit relay.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/tidemark-io/tidemark-db/internal/cloudserver"
	"github.com/tidemark-io/tidemark-db/internal/config"
	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting cloud relay",
		"listenAddress", cfg.ListenAddress,
		"dataPath", cfg.DataPath)

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{cfg.DataPath},
		MinimumFreeSpace: int(cfg.MinimumFreeGB),
	})
	if err != nil {
		logger.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	server := cloudserver.NewServer(logger, kv)
	if err := server.Listen(ctx, cfg.ListenAddress); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	if err := server.Close(); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("cloud relay stopped")
}
