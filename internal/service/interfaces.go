package service

import (
	"context"
	"io"

	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/pkg/media"
	"whatsrelay/pkg/whatsapp"
)

// MessageStore is the persistence gateway surface used by the services
type MessageStore interface {
	Insert(ctx context.Context, table tenant.Table, msg *models.Message) (bool, error)
	UpdateStatus(ctx context.Context, table tenant.Table, id string, status models.DeliveryStatus, read bool) (int64, error)
	ListChats(ctx context.Context, table tenant.Table) ([]models.ChatSummary, error)
	ListMessages(ctx context.Context, table tenant.Table, waID string) ([]models.Message, error)
	MarkRead(ctx context.Context, table tenant.Table, waID string) (int64, error)
}

// TenantResolver maps a business phone number id to its tenant
type TenantResolver interface {
	Resolve(phoneNumberID string) (tenant.Tenant, error)
}

// MediaFetcher downloads inbound provider media into local storage
type MediaFetcher interface {
	Fetch(ctx context.Context, acct whatsapp.Account, table, mediaID, mimeHint string) (string, error)
}

// UploadStore keeps operator uploads before they are sent
type UploadStore interface {
	SaveUpload(table, filename string, content io.Reader) (*media.StoredFile, error)
}

func accountFor(t tenant.Tenant) whatsapp.Account {
	return whatsapp.Account{
		PhoneNumberID: t.PhoneNumberID,
		AccessToken:   t.Credential,
	}
}
