package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"whatsrelay/internal/errors"
	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testTenant(t *testing.T) tenant.Tenant {
	t.Helper()
	reg, err := tenant.NewRegistry([]models.TenantConfig{{Name: "shop", PhoneNumberID: "P1", AccessToken: "tok-p1"}}, "")
	require.NoError(t, err)
	tn, err := reg.Resolve("P1")
	require.NoError(t, err)
	return tn
}

func messageEvent(contacts []types.Contact, messages ...string) *whatsapp.MessageEvent {
	ev := &whatsapp.MessageEvent{
		Metadata: types.Metadata{PhoneNumberID: "P1"},
		Contacts: contacts,
	}
	for _, m := range messages {
		ev.Messages = append(ev.Messages, json.RawMessage(m))
	}
	return ev
}

func contact(waID, name string) types.Contact {
	var c types.Contact
	c.WaID = waID
	c.Profile.Name = name
	return c
}

func TestNormalize_Text(t *testing.T) {
	n := NewNormalizer(nil, quietLogger())
	ev := messageEvent([]types.Contact{contact("256700", "Amy")},
		`{"id":"m1","from":"256700","type":"text","text":{"body":"hi  there\n"},"timestamp":"1700000000"}`)

	outcomes := n.Normalize(context.Background(), testTenant(t), ev)
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	require.Equal(t, OutcomeRecord, o.Kind)

	rec := o.Record
	assert.Equal(t, "m1", rec.ID)
	assert.Equal(t, "256700", rec.WaID)
	assert.Equal(t, "Amy", rec.Name)
	assert.Equal(t, models.MessageTypeText, rec.Type)
	assert.Equal(t, "hi  there\n", rec.Body, "body is stored verbatim")
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rec.Timestamp)
	assert.Equal(t, models.DirectionInbound, rec.Direction)
	assert.Equal(t, models.DeliveryStatusDelivered, rec.Status)
	assert.False(t, rec.Read)
	assert.Nil(t, rec.ImageURL)
	assert.Nil(t, rec.ImageID)
}

func TestNormalize_NumericTimestamp(t *testing.T) {
	n := NewNormalizer(nil, quietLogger())
	ev := messageEvent(nil, `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"},"timestamp":1700000000}`)

	outcomes := n.Normalize(context.Background(), testTenant(t), ev)
	require.Equal(t, OutcomeRecord, outcomes[0].Kind)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), outcomes[0].Record.Timestamp)
	assert.Equal(t, "Unknown Contact", outcomes[0].Record.Name)
}

func TestNormalize_ContactSelection(t *testing.T) {
	tests := []struct {
		name     string
		contacts []types.Contact
		want     string
	}{
		{"matching contact", []types.Contact{contact("111", "Other"), contact("256700", "Amy")}, "Amy"},
		{"first named contact", []types.Contact{contact("111", ""), contact("222", "Bob")}, "Bob"},
		{"no contacts", nil, "Unknown Contact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(nil, quietLogger())
			ev := messageEvent(tt.contacts, `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`)

			outcomes := n.Normalize(context.Background(), testTenant(t), ev)
			require.Equal(t, OutcomeRecord, outcomes[0].Kind)
			assert.Equal(t, tt.want, outcomes[0].Record.Name)
		})
	}
}

func TestNormalize_ImageFetchesMedia(t *testing.T) {
	fetcher := &mockMediaFetcher{}
	tn := testTenant(t)
	fetcher.On("Fetch", mock.Anything, whatsapp.Account{PhoneNumberID: "P1", AccessToken: "tok-p1"},
		"wa_p1_messages", "media-9", "image/png").
		Return("/media/wa_p1_messages/media-9.png", nil)

	n := NewNormalizer(fetcher, quietLogger())
	ev := messageEvent(nil, `{"id":"m2","from":"256700","type":"image","timestamp":"1700000000",
		"image":{"id":"media-9","mime_type":"image/png","caption":"look"}}`)

	outcomes := n.Normalize(context.Background(), tn, ev)
	require.Len(t, outcomes, 1)
	require.Equal(t, OutcomeRecord, outcomes[0].Kind)

	rec := outcomes[0].Record
	assert.Equal(t, models.MessageTypeImage, rec.Type)
	assert.Equal(t, "📷 Image (image/png): look", rec.Body)
	require.NotNil(t, rec.ImageID)
	assert.Equal(t, "media-9", *rec.ImageID)
	require.NotNil(t, rec.ImageURL)
	assert.Equal(t, "/media/wa_p1_messages/media-9.png", *rec.ImageURL)
	fetcher.AssertExpectations(t)
}

func TestNormalize_ImageFetchFailureKeepsRecord(t *testing.T) {
	fetcher := &mockMediaFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything, mock.Anything, "media-9", "image/jpeg").
		Return("", errors.NewMediaError("resolve", "media-9", stderrors.New("404")))

	n := NewNormalizer(fetcher, quietLogger())
	ev := messageEvent(nil, `{"id":"m2","from":"256700","type":"image","timestamp":"1700000000",
		"image":{"id":"media-9","mime_type":"image/jpeg"}}`)

	outcomes := n.Normalize(context.Background(), testTenant(t), ev)
	require.Equal(t, OutcomeRecord, outcomes[0].Kind)
	rec := outcomes[0].Record
	assert.Nil(t, rec.ImageURL)
	require.NotNil(t, rec.ImageID)
	assert.Equal(t, "media-9", *rec.ImageID)
	assert.Equal(t, "📷 Image (image/jpeg)", rec.Body)
}

func TestNormalize_SkipsUnsupportedTypes(t *testing.T) {
	n := NewNormalizer(nil, quietLogger())
	ev := messageEvent(nil,
		`{"id":"m3","from":"256700","type":"sticker","timestamp":"1700000000","sticker":{"id":"s1"}}`,
		`{"id":"m4","from":"256700","type":"location","timestamp":"oops"}`,
	)

	outcomes := n.Normalize(context.Background(), testTenant(t), ev)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, OutcomeSkipped, o.Kind)
		assert.Nil(t, o.Record)
		assert.NoError(t, o.Err)
	}
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not an object", `"garbage"`, "message"},
		{"missing id", `{"from":"256700","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`, "id"},
		{"id with NUL", `{"id":"m\u00001","from":"256700","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`, "id"},
		{"id too long", `{"id":"` + strings.Repeat("m", 257) + `","from":"256700","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`, "id"},
		{"missing sender", `{"id":"m1","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`, "from"},
		{"bad timestamp", `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"},"timestamp":"yesterday"}`, "timestamp"},
		{"missing timestamp", `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"}}`, "timestamp"},
		{"timestamp past year 9999", `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"},"timestamp":"999999999999"}`, "timestamp"},
		{"timestamp overflowing milliseconds", `{"id":"m1","from":"256700","type":"text","text":{"body":"hi"},"timestamp":9300000000000000}`, "timestamp"},
		{"missing text payload", `{"id":"m1","from":"256700","type":"text","timestamp":"1700000000"}`, "text"},
		{"missing image id", `{"id":"m1","from":"256700","type":"image","timestamp":"1700000000","image":{}}`, "image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(nil, quietLogger())
			outcomes := n.Normalize(context.Background(), testTenant(t), messageEvent(nil, tt.payload))
			require.Len(t, outcomes, 1)
			o := outcomes[0]
			assert.Equal(t, OutcomeFailed, o.Kind)
			require.Error(t, o.Err)
			assert.True(t, errors.HasCode(o.Err, errors.ErrCodeNormalization))
			appErr, ok := errors.As(o.Err)
			require.True(t, ok)
			assert.Equal(t, tt.field, appErr.Context["field"])
		})
	}
}

func TestNormalize_IndependentMessages(t *testing.T) {
	n := NewNormalizer(nil, quietLogger())
	ev := messageEvent(nil,
		`{"id":"ok1","from":"256700","type":"text","text":{"body":"a"},"timestamp":"1700000000"}`,
		`{"id":"bad","from":"256700","type":"text","text":{"body":"b"},"timestamp":"never"}`,
		`{"id":"skip","from":"256700","type":"audio","timestamp":"1700000000"}`,
		`{"id":"ok2","from":"256700","type":"text","text":{"body":"c"},"timestamp":"1700000001"}`,
	)

	outcomes := n.Normalize(context.Background(), testTenant(t), ev)
	require.Len(t, outcomes, 4)
	assert.Equal(t, OutcomeRecord, outcomes[0].Kind)
	assert.Equal(t, OutcomeFailed, outcomes[1].Kind)
	assert.Equal(t, OutcomeSkipped, outcomes[2].Kind)
	assert.Equal(t, OutcomeRecord, outcomes[3].Kind)
	assert.Equal(t, "bad", outcomes[1].MessageID)
}

func TestStatusUpdates(t *testing.T) {
	n := NewNormalizer(nil, quietLogger())
	ev := &whatsapp.StatusEvent{
		Metadata: types.Metadata{PhoneNumberID: "P1"},
		Statuses: []json.RawMessage{
			json.RawMessage(`{"id":"m1","status":"read","recipient_id":"256700","timestamp":"1700000000"}`),
			json.RawMessage(`{"id":"m2","status":"delivered"}`),
			json.RawMessage(`{"id":"m3"}`),
			json.RawMessage(`[]`),
			json.RawMessage(`{"id":"m\u0000x","status":"read"}`),
			json.RawMessage(`{"status":"read"}`),
		},
	}

	updates, errs := n.StatusUpdates(ev)
	require.Len(t, updates, 2)
	assert.Equal(t, models.StatusUpdate{ID: "m1", Status: models.DeliveryStatusRead, Read: true}, updates[0])
	assert.Equal(t, models.StatusUpdate{ID: "m2", Status: models.DeliveryStatusDelivered, Read: false}, updates[1])
	assert.Len(t, errs, 4)
}

func TestImageBodies(t *testing.T) {
	assert.Equal(t, "📷 Image", InboundImageBody("", ""))
	assert.Equal(t, "📷 Image (image/webp)", InboundImageBody("image/webp", ""))
	assert.Equal(t, "📷 Image: hello", InboundImageBody("", "hello"))
	assert.Equal(t, "📷 Image", OutboundImageBody(""))
	assert.Equal(t, "📷 Image: hello", OutboundImageBody("hello"))
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "record", OutcomeRecord.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", OutcomeKind(42).String())
}
