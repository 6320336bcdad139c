package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"whatsrelay/internal/config"
	"whatsrelay/internal/database"
	"whatsrelay/internal/privacy"
	"whatsrelay/internal/tenant"

	"github.com/sirupsen/logrus"
)

// runDiagnostics validates the configuration, connects to the store and
// makes sure every tenant table exists, reporting each step to out.
func runDiagnostics(ctx context.Context, path string, out io.Writer) error {
	logger := newLogger(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(out, "config: ok (%s)\n", path)

	registry, err := tenant.NewRegistry(cfg.Tenants, cfg.WhatsApp.AccessToken)
	if err != nil {
		return fmt.Errorf("tenants: %w", err)
	}
	fmt.Fprintf(out, "tenants: %d configured\n", registry.Len())

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	fmt.Fprintf(out, "database: ok (%s)\n", db.Dialect())

	for _, t := range registry.Tenants() {
		if err := db.EnsureTenantTable(ctx, t.Table, t.PhoneNumberID); err != nil {
			return fmt.Errorf("tenant %s: %w", t.Name, err)
		}
		fmt.Fprintf(out, "tenant %s: table %s ok (phone %s)\n", t.Name, t.Table, privacy.MaskPhoneNumberID(t.PhoneNumberID))
	}

	if cfg.WhatsApp.AppSecret == "" {
		fmt.Fprintln(out, "warning: whatsapp.app_secret is empty, webhook signatures are not verified")
	}
	return nil
}
