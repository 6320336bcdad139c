package whatsapp

import (
	"context"
	"io"

	"whatsrelay/pkg/whatsapp/types"
)

// Account identifies the business phone number a call is made for
type Account struct {
	PhoneNumberID string
	AccessToken   string
}

// Sender sends outbound messages on behalf of an account
type Sender interface {
	SendText(ctx context.Context, acct Account, to, body string) (*types.SendMessageResponse, error)
	UploadMedia(ctx context.Context, acct Account, filename, mimeType string, content io.Reader) (string, error)
	SendImage(ctx context.Context, acct Account, to, mediaID, caption string) (*types.SendMessageResponse, error)
}

// MediaResolver implements both steps of downloading provider-hosted media
type MediaResolver interface {
	GetMediaInfo(ctx context.Context, acct Account, mediaID string) (*types.MediaInfo, error)
	DownloadMedia(ctx context.Context, acct Account, url string, maxBytes int64) ([]byte, string, error)
}

// CloudAPI is the full client surface used by the relay
type CloudAPI interface {
	Sender
	MediaResolver
}
