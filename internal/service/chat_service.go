package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/internal/tracing"
	"whatsrelay/pkg/media"
	"whatsrelay/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// SendTextRequest is an operator reply. Name is the operator display name
// sent by the UI; stored outbound records always use the configured
// operator name.
type SendTextRequest struct {
	PhoneID string
	WaID    string
	Message string
	Name    string
}

// SendImageRequest is an operator image upload
type SendImageRequest struct {
	PhoneID  string
	WaID     string
	Caption  string
	Name     string
	FileName string
	MimeType string
	Content  io.Reader
}

// ChatService backs the operator API: reading conversations, marking them
// read and sending replies through the Cloud API.
type ChatService struct {
	tenants      TenantResolver
	store        MessageStore
	sender       whatsapp.Sender
	uploads      UploadStore
	operatorName string
	logger       logrus.FieldLogger
	now          func() time.Time
	newID        func() string
}

func NewChatService(tenants TenantResolver, store MessageStore, sender whatsapp.Sender, uploads UploadStore, operatorName string, logger logrus.FieldLogger) *ChatService {
	if operatorName == "" {
		operatorName = constants.DefaultOperatorName
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChatService{
		tenants:      tenants,
		store:        store,
		sender:       sender,
		uploads:      uploads,
		operatorName: operatorName,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

func (s *ChatService) ListChats(ctx context.Context, phoneID string) ([]models.ChatSummary, error) {
	t, err := s.tenants.Resolve(phoneID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer metrics.ObserveStore("list_chats", start)
	return s.store.ListChats(ctx, t.Table)
}

func (s *ChatService) ListMessages(ctx context.Context, phoneID, waID string) ([]models.Message, error) {
	t, err := s.tenants.Resolve(phoneID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer metrics.ObserveStore("list_messages", start)
	return s.store.ListMessages(ctx, t.Table, waID)
}

// MarkRead returns the number of messages that changed from unread to read
func (s *ChatService) MarkRead(ctx context.Context, phoneID, waID string) (int64, error) {
	t, err := s.tenants.Resolve(phoneID)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := s.store.MarkRead(ctx, t.Table, waID)
	metrics.ObserveStore("mark_read", start)
	if err != nil {
		return 0, err
	}
	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenant: t.Name,
		LogFieldWaID:   waID,
		LogFieldCount:  n,
	}).Debug("Marked conversation read")
	return n, nil
}

// SendText sends a text reply and stores it as an outbound record once the
// provider accepted it.
func (s *ChatService) SendText(ctx context.Context, req SendTextRequest) (*models.Message, error) {
	if req.Message == "" {
		return nil, errors.NewValidationError("message", "", "message is required")
	}
	if utf8.RuneCountInString(req.Message) > constants.MaxOutboundMessageLength {
		return nil, errors.NewValidationError("message", "", fmt.Sprintf("message exceeds %d characters", constants.MaxOutboundMessageLength))
	}

	t, err := s.tenants.Resolve(req.PhoneID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "chat.send_text", attribute.String(LogFieldTenant, t.Name))
	defer span.End()

	resp, err := s.sender.SendText(ctx, accountFor(t), req.WaID, req.Message)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.sendFailed(ctx, t, models.MessageTypeText, req.WaID, err)
	}

	record := s.outbound(resp.MessageID(), req.WaID, models.MessageTypeText, req.Message)
	return s.persistOutbound(ctx, t, record, req.Name)
}

// SendImage stores the upload locally, uploads it to the provider, sends it
// by media id and stores the outbound record.
func (s *ChatService) SendImage(ctx context.Context, req SendImageRequest) (*models.Message, error) {
	if req.Content == nil {
		return nil, errors.NewValidationError("image", "", "image file is required")
	}
	mimeType := media.MimeTypeForUpload(req.FileName, req.MimeType)
	if mimeType == constants.DefaultMimeType {
		return nil, errors.NewValidationError("image", req.FileName, "unsupported image type")
	}

	t, err := s.tenants.Resolve(req.PhoneID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "chat.send_image", attribute.String(LogFieldTenant, t.Name))
	defer span.End()

	stored, err := s.uploads.SaveUpload(t.Table.String(), req.FileName, req.Content)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	mediaID, err := s.uploadStored(ctx, t, stored, mimeType)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.sendFailed(ctx, t, models.MessageTypeImage, req.WaID, err)
	}

	resp, err := s.sender.SendImage(ctx, accountFor(t), req.WaID, mediaID, req.Caption)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.sendFailed(ctx, t, models.MessageTypeImage, req.WaID, err)
	}

	record := s.outbound(resp.MessageID(), req.WaID, models.MessageTypeImage, OutboundImageBody(req.Caption))
	url := stored.URL
	record.ImageURL = &url
	record.ImageID = &mediaID
	return s.persistOutbound(ctx, t, record, req.Name)
}

func (s *ChatService) uploadStored(ctx context.Context, t tenant.Tenant, stored *media.StoredFile, mimeType string) (string, error) {
	f, err := os.Open(stored.Path)
	if err != nil {
		return "", errors.NewMediaError("upload", stored.Name, err)
	}
	defer func() { _ = f.Close() }()

	return s.sender.UploadMedia(ctx, accountFor(t), stored.Name, mimeType, f)
}

func (s *ChatService) outbound(providerID, waID string, msgType models.MessageType, body string) *models.Message {
	id := providerID
	if id == "" {
		id = constants.LocalMessageIDPrefix + s.newID()
	}
	return &models.Message{
		ID:        id,
		WaID:      waID,
		Name:      s.operatorName,
		Type:      msgType,
		Body:      body,
		Timestamp: s.now().UTC(),
		Direction: models.DirectionOutbound,
		Status:    models.DeliveryStatus(constants.DefaultOutboundStatus),
		Read:      true,
	}
}

func (s *ChatService) persistOutbound(ctx context.Context, t tenant.Tenant, record *models.Message, operator string) (*models.Message, error) {
	fields := logrus.Fields{
		LogFieldTenant:      t.Name,
		LogFieldWaID:        record.WaID,
		LogFieldMessageID:   record.ID,
		LogFieldMessageType: string(record.Type),
		LogFieldDirection:   string(record.Direction),
		"operator":          operator,
	}

	start := time.Now()
	_, err := s.store.Insert(ctx, t.Table, record)
	metrics.ObserveStore("insert", start)
	if err != nil {
		metrics.RecordOutbound(t.Name, string(record.Type), metrics.ResultFailure)
		errors.Entry(logEntry(ctx, s.logger, fields), err).Error("Message sent but could not be stored")
		return nil, err
	}

	metrics.RecordOutbound(t.Name, string(record.Type), metrics.ResultSuccess)
	logEntry(ctx, s.logger, fields).Info("Operator message sent")
	return record, nil
}

func (s *ChatService) sendFailed(ctx context.Context, t tenant.Tenant, msgType models.MessageType, waID string, err error) error {
	metrics.RecordOutbound(t.Name, string(msgType), metrics.ResultFailure)
	errors.Entry(logEntry(ctx, s.logger, logrus.Fields{
		LogFieldTenant:      t.Name,
		LogFieldWaID:        waID,
		LogFieldMessageType: string(msgType),
	}), err).Error("Failed to send operator message")
	return err
}
