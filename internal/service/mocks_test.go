package service

import (
	"context"
	"io"

	"whatsrelay/internal/models"
	"whatsrelay/internal/tenant"
	"whatsrelay/pkg/media"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, table tenant.Table, msg *models.Message) (bool, error) {
	args := m.Called(ctx, table, msg)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, table tenant.Table, id string, status models.DeliveryStatus, read bool) (int64, error) {
	args := m.Called(ctx, table, id, status, read)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListChats(ctx context.Context, table tenant.Table) ([]models.ChatSummary, error) {
	args := m.Called(ctx, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatSummary), args.Error(1)
}

func (m *mockStore) ListMessages(ctx context.Context, table tenant.Table, waID string) ([]models.Message, error) {
	args := m.Called(ctx, table, waID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockStore) MarkRead(ctx context.Context, table tenant.Table, waID string) (int64, error) {
	args := m.Called(ctx, table, waID)
	return args.Get(0).(int64), args.Error(1)
}

type mockMediaFetcher struct {
	mock.Mock
}

func (m *mockMediaFetcher) Fetch(ctx context.Context, acct whatsapp.Account, table, mediaID, mimeHint string) (string, error) {
	args := m.Called(ctx, acct, table, mediaID, mimeHint)
	return args.String(0), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendText(ctx context.Context, acct whatsapp.Account, to, body string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, acct, to, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockSender) UploadMedia(ctx context.Context, acct whatsapp.Account, filename, mimeType string, content io.Reader) (string, error) {
	args := m.Called(ctx, acct, filename, mimeType, content)
	return args.String(0), args.Error(1)
}

func (m *mockSender) SendImage(ctx context.Context, acct whatsapp.Account, to, mediaID, caption string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, acct, to, mediaID, caption)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

type mockUploads struct {
	mock.Mock
}

func (m *mockUploads) SaveUpload(table, filename string, content io.Reader) (*media.StoredFile, error) {
	args := m.Called(table, filename, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*media.StoredFile), args.Error(1)
}

func sendResponse(id string) *types.SendMessageResponse {
	resp := &types.SendMessageResponse{MessagingProduct: types.MessagingProduct}
	if id != "" {
		resp.Messages = append(resp.Messages, struct {
			ID string `json:"id"`
		}{ID: id})
	}
	return resp
}
