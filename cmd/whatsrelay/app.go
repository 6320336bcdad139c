package main

import (
	"context"
	"fmt"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/database"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/middleware"
	"whatsrelay/internal/models"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tenant"
	"whatsrelay/pkg/circuitbreaker"
	pkgconstants "whatsrelay/pkg/constants"
	"whatsrelay/pkg/media"
	"whatsrelay/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

// app holds the long-lived components shared by the HTTP handlers
type app struct {
	tenants  *tenant.Registry
	db       *database.Database
	media    *media.Store
	webhooks *service.WebhookService
	chats    *service.ChatService
	limiter  *middleware.RateLimiter

	webhookLimiter *middleware.RateLimiter
}

func newApp(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*app, error) {
	registry, err := tenant.NewRegistry(cfg.Tenants, cfg.WhatsApp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to build tenant registry: %w", err)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ProvisionTenants(ctx, registry.Tenants()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to provision tenant tables: %w", err)
	}

	breakers := circuitbreaker.NewGroup("graph", circuitbreaker.Options{
		MaxFailures:   pkgconstants.DefaultBreakerMaxFailures,
		Cooldown:      pkgconstants.DefaultBreakerTimeoutSec * time.Second,
		IsFailure:     errors.IsRetryable,
		OnStateChange: recordBreakerState,
	}, logger)

	client := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:    cfg.WhatsApp.APIBaseURL,
		APIVersion: cfg.WhatsApp.APIVersion,
		Timeout:    time.Duration(cfg.WhatsApp.TimeoutSec) * time.Second,
		Breakers:   breakers,
		Logger:     logger,
	})

	store, err := media.NewStore(media.Config{
		Dir:       cfg.Media.Dir,
		URLPrefix: cfg.Media.URLPrefix,
	}, client, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	normalizer := service.NewNormalizer(store, logger)

	logger.WithFields(logrus.Fields{
		"tenants": registry.Len(),
		"dialect": db.Dialect(),
	}).Info("Relay initialized")

	return &app{
		tenants:  registry,
		db:       db,
		media:    store,
		webhooks: service.NewWebhookService(registry, db, normalizer, cfg.WhatsApp.VerifyToken, logger),
		chats:    service.NewChatService(registry, db, client, store, cfg.WhatsApp.OperatorName, logger),
		limiter: middleware.NewRateLimiter(
			cfg.RateLimit.RequestsPerSecond,
			cfg.RateLimit.Burst,
			time.Duration(constants.DefaultLimiterIdleMinutes)*time.Minute,
		),
		webhookLimiter: middleware.NewRateLimiter(
			cfg.RateLimit.WebhookRequestsPerSecond,
			cfg.RateLimit.WebhookBurst,
			time.Duration(constants.DefaultLimiterIdleMinutes)*time.Minute,
		),
	}, nil
}

// applyRateLimits pushes reloaded limits into both limiters
func (a *app) applyRateLimits(c *models.Config) {
	a.limiter.SetLimits(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	a.webhookLimiter.SetLimits(c.RateLimit.WebhookRequestsPerSecond, c.RateLimit.WebhookBurst)
}

func (a *app) Close() error {
	return a.db.Close()
}

// sweepLimiter drops idle rate limiter entries until ctx is done
func (a *app) sweepLimiter(ctx context.Context, every time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Cleanup() + a.webhookLimiter.Cleanup(); n > 0 {
				logger.WithField("removed", n).Debug("Dropped idle rate limiter entries")
			}
		}
	}
}

func recordBreakerState(name string, _, to circuitbreaker.State) {
	metrics.SetCircuitBreakerState(name, breakerGauge(to))
}

// breakerGauge maps a breaker state onto the gauge scale (0 closed, 1 half-open, 2 open)
func breakerGauge(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
