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

	"whatsrelay/internal/config"
	"whatsrelay/internal/constants"
	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes unmasked identifiers)")
	configPath = flag.String("config", "config.json", "Path to configuration file (.json, .yaml, .yml or .toml)")
	version    = flag.Bool("version", false, "Show version information")
	diagnose   = flag.Bool("diagnose", false, "Check configuration, store and tenant tables, then exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("whatsrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *diagnose {
		if err := runDiagnostics(ctx, *configPath, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "diagnostics failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := newLogger(os.Stdout)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setLogLevel(logger, cfg.LogLevel, *verbose)

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting whatsrelay")

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	watcher := config.NewWatcher(*configPath, logger)
	if !*verbose {
		watcher.OnReload(config.ApplyLogLevel(logger))
	}
	watcher.OnReload(a.applyRateLimits)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warnf("Configuration watcher stopped: %v", err)
		}
	}()

	go a.sweepLimiter(ctx, time.Duration(constants.DefaultLimiterIdleMinutes)*time.Minute, logger)

	server := NewServer(cfg, a, logger, *verbose)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

// setLogLevel applies the configured level. -verbose forces debug.
func setLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - identifiers will be logged unmasked")
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
