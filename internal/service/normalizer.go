package service

import (
	"context"
	"encoding/json"
	"fmt"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/internal/tracing"
	"whatsrelay/internal/validation"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// OutcomeKind says what became of one inbound message
type OutcomeKind int

const (
	// OutcomeRecord carries a record ready to persist
	OutcomeRecord OutcomeKind = iota
	// OutcomeSkipped marks an unsupported message type
	OutcomeSkipped
	// OutcomeFailed marks a message whose fields could not be normalized
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecord:
		return "record"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the normalization result for a single message
type Outcome struct {
	Kind      OutcomeKind
	MessageID string
	Type      string
	Record    *models.Message
	Err       error
}

// Normalizer turns provider message payloads into canonical records
type Normalizer struct {
	media  MediaFetcher
	logger logrus.FieldLogger
}

// NewNormalizer creates a normalizer. A nil media fetcher stores image
// messages without a local copy.
func NewNormalizer(media MediaFetcher, logger logrus.FieldLogger) *Normalizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Normalizer{media: media, logger: logger}
}

// Normalize converts every message of event independently. One bad message
// never affects the others.
func (n *Normalizer) Normalize(ctx context.Context, t tenant.Tenant, event *whatsapp.MessageEvent) []Outcome {
	ctx, span := tracing.StartSpan(ctx, "webhook.normalize",
		attribute.String(LogFieldTenant, t.Name),
		attribute.Int(LogFieldCount, len(event.Messages)),
	)
	defer span.End()

	outcomes := make([]Outcome, 0, len(event.Messages))
	for _, raw := range event.Messages {
		outcomes = append(outcomes, n.normalizeOne(ctx, t, event, raw))
	}
	return outcomes
}

func (n *Normalizer) normalizeOne(ctx context.Context, t tenant.Tenant, event *whatsapp.MessageEvent, raw json.RawMessage) Outcome {
	var msg types.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return failed("", "", errors.NewNormalizationError("", "message", err))
	}
	if err := validation.ValidateMessageID(msg.ID); err != nil {
		return failed("", msg.Type, errors.NewNormalizationError("", "id", err))
	}
	if msg.From == "" {
		return failed(msg.ID, msg.Type, errors.NewNormalizationError(msg.ID, "from", fmt.Errorf("sender is missing")))
	}

	switch msg.Type {
	case types.MessageTypeText, types.MessageTypeImage:
	default:
		return Outcome{Kind: OutcomeSkipped, MessageID: msg.ID, Type: msg.Type}
	}

	ts, err := types.ParseEpochSeconds(msg.Timestamp)
	if err != nil {
		return failed(msg.ID, msg.Type, errors.NewNormalizationError(msg.ID, "timestamp", err))
	}

	record := &models.Message{
		ID:        msg.ID,
		WaID:      msg.From,
		Name:      event.ContactName(msg.From, constants.DefaultContactName),
		Timestamp: ts,
		Direction: models.DirectionInbound,
		Status:    models.DeliveryStatus(constants.DefaultInboundStatus),
	}

	switch msg.Type {
	case types.MessageTypeText:
		if msg.Text == nil {
			return failed(msg.ID, msg.Type, errors.NewNormalizationError(msg.ID, "text", fmt.Errorf("text payload is missing")))
		}
		record.Type = models.MessageTypeText
		record.Body = msg.Text.Body

	case types.MessageTypeImage:
		if msg.Image == nil || msg.Image.ID == "" {
			return failed(msg.ID, msg.Type, errors.NewNormalizationError(msg.ID, "image", fmt.Errorf("image media id is missing")))
		}
		record.Type = models.MessageTypeImage
		record.Body = InboundImageBody(msg.Image.MimeType, msg.Image.Caption)
		mediaID := msg.Image.ID
		record.ImageID = &mediaID
		record.ImageURL = n.fetchImage(ctx, t, msg.ID, msg.Image)
	}

	return Outcome{Kind: OutcomeRecord, MessageID: msg.ID, Type: msg.Type, Record: record}
}

// fetchImage downloads the image and returns its local URL, or nil when
// either fetch step fails. The record is stored either way.
func (n *Normalizer) fetchImage(ctx context.Context, t tenant.Tenant, messageID string, image *types.ImageContent) *string {
	if n.media == nil {
		return nil
	}

	url, err := n.media.Fetch(ctx, accountFor(t), t.Table.String(), image.ID, image.MimeType)
	if err != nil {
		metrics.RecordMediaFetch(t.Name, metrics.ResultFailure)
		errors.Entry(logEntry(ctx, n.logger, logrus.Fields{
			LogFieldTenant:    t.Name,
			LogFieldMessageID: messageID,
			LogFieldMediaID:   image.ID,
		}), err).Warn("Media fetch failed, storing image without local copy")
		return nil
	}

	metrics.RecordMediaFetch(t.Name, metrics.ResultSuccess)
	return &url
}

// StatusUpdates extracts delivery receipts from event. Receipts without a
// usable id or a status are returned as errors and left out.
func (n *Normalizer) StatusUpdates(event *whatsapp.StatusEvent) ([]models.StatusUpdate, []error) {
	updates := make([]models.StatusUpdate, 0, len(event.Statuses))
	var errs []error

	for _, raw := range event.Statuses {
		var receipt types.StatusReceipt
		if err := json.Unmarshal(raw, &receipt); err != nil {
			errs = append(errs, errors.NewNormalizationError("", "status", err))
			continue
		}
		if err := validation.ValidateMessageID(receipt.ID); err != nil {
			errs = append(errs, errors.NewNormalizationError("", "id", err))
			continue
		}
		if receipt.Status == "" {
			errs = append(errs, errors.NewNormalizationError(receipt.ID, "status", fmt.Errorf("status receipt has no status")))
			continue
		}
		updates = append(updates, models.StatusUpdate{
			ID:     receipt.ID,
			Status: models.DeliveryStatus(receipt.Status),
			Read:   receipt.Status == types.StatusRead,
		})
	}
	return updates, errs
}

// InboundImageBody renders the body stored for a received image
func InboundImageBody(mimeType, caption string) string {
	body := "📷 Image"
	if mimeType != "" {
		body += " (" + mimeType + ")"
	}
	if caption != "" {
		body += ": " + caption
	}
	return body
}

// OutboundImageBody renders the body stored for an image sent by the operator
func OutboundImageBody(caption string) string {
	if caption == "" {
		return "📷 Image"
	}
	return "📷 Image: " + caption
}

func failed(messageID, msgType string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, MessageID: messageID, Type: msgType, Err: err}
}
