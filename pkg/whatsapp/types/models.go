package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Envelope is the outer webhook body posted by the Cloud API. Entries and
// everything below them are decoded lazily so that fields the relay never
// reads cannot fail the whole body.
type Envelope struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

// Entry groups changes for one WhatsApp Business Account
type Entry struct {
	Changes []json.RawMessage `json:"changes"`
}

// Change carries one notification value
type Change struct {
	Value json.RawMessage `json:"value"`
}

// Value is the innermost notification. Messages and statuses are kept raw
// so that one malformed item cannot invalidate the rest. Contacts is kept
// whole because a garbled contacts field only costs the sender name.
type Value struct {
	Metadata Metadata          `json:"metadata"`
	Contacts json.RawMessage   `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

// Metadata identifies the business phone number that received the event
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to inbound messages
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one entry of Value.Messages
type InboundMessage struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Text      *TextContent    `json:"text,omitempty"`
	Image     *ImageContent   `json:"image,omitempty"`
}

// TextContent is the payload of a text message
type TextContent struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// ImageContent is the payload of an inbound image message
type ImageContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
}

// StatusReceipt is one entry of Value.Statuses
type StatusReceipt struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	RecipientID string          `json:"recipient_id"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// maxEpochSeconds is 9999-12-31T23:59:59Z, the last instant time.Time can
// marshal to JSON.
const maxEpochSeconds = 253402300799

// ParseEpochSeconds converts a JSON epoch-seconds value, encoded either as a
// string or as a number, into a UTC time.
func ParseEpochSeconds(raw json.RawMessage) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, fmt.Errorf("timestamp is missing")
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		text = strings.TrimSpace(s)
	}
	secs, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch seconds %q: %w", text, err)
	}
	if secs <= 0 || secs > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("epoch seconds out of range: %d", secs)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// SendTextRequest is the body for sending a text message
type SendTextRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             TextContent `json:"text"`
}

// MediaReference points at an uploaded media object or a public link
type MediaReference struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// SendImageRequest is the body for sending an image message
type SendImageRequest struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Image            MediaReference `json:"image"`
}

// SendMessageResponse is returned by the messages endpoint
type SendMessageResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the id of the first accepted message, if any
func (r *SendMessageResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// MediaUploadResponse is returned by the media upload endpoint
type MediaUploadResponse struct {
	ID string `json:"id"`
}

// MediaInfo is returned when resolving a media id
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// APIErrorResponse is the Graph API error body
type APIErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
