package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"whatsrelay/internal/config"
	"whatsrelay/internal/database"
	"whatsrelay/internal/migrations"
	"whatsrelay/internal/tenant"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	down := flag.Int("down", 0, "Roll back this many catalogue migrations instead of migrating up")
	status := flag.Bool("status", false, "Print the current schema version and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *down, *status, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, down int, status bool, out io.Writer) error {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	switch {
	case status:
		defer db.Close()
		res, err := migrations.Version(db, dialect)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version %d (dirty=%t)\n", res.Version, res.Dirty)
		return nil

	case down > 0:
		defer db.Close()
		res, err := migrations.Down(db, dialect, down)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %d step(s), schema version %d\n", down, res.Version)
		return nil
	}

	res, err := migrations.Up(db, dialect)
	closeErr := db.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	fmt.Fprintf(out, "schema version %d (changed=%t)\n", res.Version, res.Changed)

	registry, err := tenant.NewRegistry(cfg.Tenants, cfg.WhatsApp.AccessToken)
	if err != nil {
		return err
	}

	gateway, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer gateway.Close()

	for _, t := range registry.Tenants() {
		if err := gateway.EnsureTenantTable(ctx, t.Table, t.PhoneNumberID); err != nil {
			return fmt.Errorf("tenant %s: %w", t.Name, err)
		}
		fmt.Fprintf(out, "provisioned %s for tenant %s\n", t.Table, t.Name)
	}
	return nil
}
