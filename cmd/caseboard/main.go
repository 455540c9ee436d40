package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/iudanet/caseboard/internal/blob"
	"github.com/iudanet/caseboard/internal/cache/sqlite"
	"github.com/iudanet/caseboard/internal/cli"
	"github.com/iudanet/caseboard/internal/reconcile"
	"github.com/iudanet/caseboard/internal/session"
	"github.com/iudanet/caseboard/internal/settings"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	dataDir := flag.String("data", defaultDataDir(), "Data directory")
	baseURL := flag.String("base-url", "https://caseboard.local", "Base URL for share links")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	// Сессия живет до Ctrl-C
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	settingsStore, err := settings.New(filepath.Join(*dataDir, "settings.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open settings: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := settingsStore.Close(); err != nil {
			logger.Error("failed to close settings store", "error", err)
		}
	}()

	cacheStore, err := sqlite.New(ctx, filepath.Join(*dataDir, "cache.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open report cache: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			logger.Error("failed to close report cache", "error", err)
		}
	}()

	blobStore, err := blob.New(filepath.Join(*dataDir, "blobs.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open blob store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := blobStore.Close(); err != nil {
			logger.Error("failed to close blob store", "error", err)
		}
	}()

	reconciler := reconcile.NewService(cacheStore, logger)
	sessions := session.NewManager(settingsStore, reconciler, *dataDir, logger)

	app := cli.New(sessions, reconciler, settingsStore, blobStore, *dataDir, *baseURL, logger)
	app.Run(ctx, command, args[1:])
}

// defaultDataDir возвращает ~/.caseboard, либо текущую директорию
// как запасной вариант
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caseboard"
	}
	return filepath.Join(home, ".caseboard")
}

func printVersion() {
	fmt.Printf("Caseboard Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
