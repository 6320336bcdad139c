package service

import (
	"context"
	"time"

	"whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/internal/tracing"
	"whatsrelay/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Event kinds reported in WebhookResult and metrics
const (
	EventKindMessage = "message"
	EventKindStatus  = "status"
	EventKindInvalid = "invalid"
	EventKindVerify  = "verify"
)

// WebhookResult summarizes one handled delivery
type WebhookResult struct {
	Kind       string
	Tenant     string
	Persisted  int
	Duplicates int
	Skipped    int
	Failed     int
	Statuses   int
	Unmatched  int
}

// WebhookService runs a webhook body through classification, tenant
// resolution, normalization and persistence. It keeps no per-request state.
type WebhookService struct {
	tenants     TenantResolver
	store       MessageStore
	normalizer  *Normalizer
	verifyToken string
	logger      logrus.FieldLogger
}

func NewWebhookService(tenants TenantResolver, store MessageStore, normalizer *Normalizer, verifyToken string, logger logrus.FieldLogger) *WebhookService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookService{
		tenants:     tenants,
		store:       store,
		normalizer:  normalizer,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// VerifySubscription answers the GET handshake. A mismatch is an
// AUTHENTICATION error.
func (s *WebhookService) VerifySubscription(mode, token, challenge string) (string, error) {
	echo, ok := whatsapp.VerifySubscription(mode, token, challenge, s.verifyToken)
	if !ok {
		metrics.RecordWebhookEvent(EventKindVerify, metrics.ResultRejected)
		return "", errors.NewAuthError("webhook verification failed")
	}
	metrics.RecordWebhookEvent(EventKindVerify, metrics.ResultSuccess)
	return echo, nil
}

// Handle processes one webhook body. Validation and tenant errors are
// returned before anything is written; a store error aborts the request so
// the provider redelivers. Unparseable or unsupported messages are counted
// and acknowledged.
func (s *WebhookService) Handle(ctx context.Context, raw []byte) (*WebhookResult, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.handle")
	defer span.End()

	event, err := whatsapp.Classify(raw)
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.RecordWebhookEvent(EventKindInvalid, metrics.ResultRejected)
		errors.Entry(logEntry(ctx, s.logger, logrus.Fields{}), err).Warn("Rejected webhook envelope")
		return nil, err
	}

	kind := EventKindMessage
	if _, ok := event.(*whatsapp.StatusEvent); ok {
		kind = EventKindStatus
	}
	span.SetAttributes(attribute.String(LogFieldEventKind, kind))

	t, err := s.tenants.Resolve(event.PhoneNumberID())
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.RecordWebhookEvent(kind, metrics.ResultRejected)
		errors.Entry(logEntry(ctx, s.logger, logrus.Fields{
			LogFieldPhoneNumberID: event.PhoneNumberID(),
			LogFieldEventKind:     kind,
		}), err).Warn("Rejected webhook for unknown tenant")
		return nil, err
	}
	span.SetAttributes(attribute.String(LogFieldTenant, t.Name))

	result := &WebhookResult{Kind: kind, Tenant: t.Name}
	switch ev := event.(type) {
	case *whatsapp.MessageEvent:
		err = s.handleMessages(ctx, t, ev, result)
	case *whatsapp.StatusEvent:
		err = s.handleStatuses(ctx, t, ev, result)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.RecordWebhookEvent(kind, metrics.ResultFailure)
		errors.Entry(logEntry(ctx, s.logger, logrus.Fields{
			LogFieldTenant:    t.Name,
			LogFieldEventKind: kind,
		}), err).Error("Failed to persist webhook event")
		return nil, err
	}

	metrics.RecordWebhookEvent(kind, metrics.ResultSuccess)
	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenant:    t.Name,
		LogFieldEventKind: kind,
		"persisted":       result.Persisted,
		"duplicates":      result.Duplicates,
		"skipped":         result.Skipped,
		"failed":          result.Failed,
		"statuses":        result.Statuses,
		"unmatched":       result.Unmatched,
	}).Info("Webhook handled")
	return result, nil
}

func (s *WebhookService) handleMessages(ctx context.Context, t tenant.Tenant, ev *whatsapp.MessageEvent, result *WebhookResult) error {
	outcomes := s.normalizer.Normalize(ctx, t, ev)

	ctx, span := tracing.StartSpan(ctx, "webhook.persist", attribute.String(LogFieldTenant, t.Name))
	defer span.End()

	for _, o := range outcomes {
		fields := logrus.Fields{
			LogFieldTenant:      t.Name,
			LogFieldMessageID:   o.MessageID,
			LogFieldMessageType: o.Type,
		}

		switch o.Kind {
		case OutcomeSkipped:
			result.Skipped++
			metrics.RecordNormalized(t.Name, o.Type, "skipped")
			logEntry(ctx, s.logger, fields).Debug("Skipping unsupported message type")

		case OutcomeFailed:
			result.Failed++
			metrics.RecordNormalized(t.Name, o.Type, "failed")
			errors.Entry(logEntry(ctx, s.logger, fields), o.Err).Warn("Dropping message that could not be normalized")

		case OutcomeRecord:
			start := time.Now()
			inserted, err := s.store.Insert(ctx, t.Table, o.Record)
			metrics.ObserveStore("insert", start)
			if err != nil {
				return err
			}
			fields[LogFieldWaID] = o.Record.WaID
			if inserted {
				result.Persisted++
				metrics.RecordNormalized(t.Name, o.Type, "persisted")
				logEntry(ctx, s.logger, fields).Debug("Stored inbound message")
			} else {
				result.Duplicates++
				metrics.RecordNormalized(t.Name, o.Type, "duplicate")
				logEntry(ctx, s.logger, fields).Debug("Ignored redelivered message")
			}
		}
	}
	return nil
}

func (s *WebhookService) handleStatuses(ctx context.Context, t tenant.Tenant, ev *whatsapp.StatusEvent, result *WebhookResult) error {
	updates, errs := s.normalizer.StatusUpdates(ev)
	for _, err := range errs {
		result.Failed++
		errors.Entry(logEntry(ctx, s.logger, logrus.Fields{LogFieldTenant: t.Name}), err).Warn("Dropping malformed status receipt")
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.status", attribute.String(LogFieldTenant, t.Name))
	defer span.End()

	for _, u := range updates {
		if err := s.applyStatus(ctx, t, u, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookService) applyStatus(ctx context.Context, t tenant.Tenant, u models.StatusUpdate, result *WebhookResult) error {
	start := time.Now()
	n, err := s.store.UpdateStatus(ctx, t.Table, u.ID, u.Status, u.Read)
	metrics.ObserveStore("update_status", start)
	if err != nil {
		return err
	}

	result.Statuses++
	matched := n > 0
	if !matched {
		result.Unmatched++
	}
	metrics.RecordStatusUpdate(t.Name, matched)
	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenant:    t.Name,
		LogFieldMessageID: u.ID,
		LogFieldStatus:    string(u.Status),
		"matched":         matched,
	}).Debug("Applied status receipt")
	return nil
}
