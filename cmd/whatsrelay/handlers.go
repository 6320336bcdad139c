package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/models"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tracing"
	"whatsrelay/internal/validation"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/gorilla/mux"
)

const (
	healthCheckTimeout = 2 * time.Second
	multipartOverhead  = 1 << 20
)

type webhookAck struct {
	Status string `json:"status"`
}

type sendResponse struct {
	Status string          `json:"status"`
	Result *models.Message `json:"result"`
}

type markReadResponse struct {
	Status  string `json:"status"`
	Updated int64  `json:"updated"`
}

type chatsResponse struct {
	Chats []models.ChatSummary `json:"chats"`
}

type messagesResponse struct {
	Messages []models.Message `json:"messages"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		errors.Entry(s.logger.WithField("request_id", tracing.GetRequestID(r.Context())), err).
			Error("Request failed")
	}
	writeJSON(w, status, errors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.app.db.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unhealthy",
				"database": "unreachable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"version": Version,
			"tenants": s.app.tenants.Len(),
		})
	}
}

func (s *Server) handleVerifyWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, err := s.app.webhooks.VerifySubscription(
			q.Get(types.HubModeParam),
			q.Get(types.HubVerifyTokenParam),
			q.Get(types.HubChallengeParam),
		)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.cfg.Server.MaxBodyBytes
		if err := validation.ValidateHTTPRequestSize(r, maxBytes); err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request body").
				WithUserMessage("Request body could not be read"))
			return
		}

		if err := verifySignature(body, r.Header.Get(constants.WebhookSignatureHeader), s.cfg.WhatsApp.AppSecret); err != nil {
			s.logger.WithField("request_id", tracing.GetRequestID(r.Context())).
				WithError(err).Warn("Rejected webhook signature")
			s.writeError(w, r, errors.NewAuthError(err.Error()))
			return
		}

		ctx := service.WithVerboseLogging(r.Context(), s.verbose)
		if _, err := s.app.webhooks.Handle(ctx, body); err != nil {
			if errors.HasCode(err, errors.ErrCodeDatabaseQuery) || errors.HasCode(err, errors.ErrCodeDatabaseConnection) {
				w.Header().Set("Retry-After", strconv.Itoa(constants.WebhookRetryAfterSec))
			}
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, webhookAck{Status: "received"})
	}
}

func (s *Server) handleListChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := validation.ConversationQuery{PhoneID: r.URL.Query().Get("phone_id")}
		if err := validation.Struct(query); err != nil {
			s.writeError(w, r, err)
			return
		}

		chats, err := s.app.chats.ListChats(r.Context(), query.PhoneID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if chats == nil {
			chats = []models.ChatSummary{}
		}
		writeJSON(w, http.StatusOK, chatsResponse{Chats: chats})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := validation.ConversationQuery{
			PhoneID: r.URL.Query().Get("phone_id"),
			WaID:    mux.Vars(r)["wa_id"],
		}
		if err := validation.Struct(query); err != nil {
			s.writeError(w, r, err)
			return
		}

		messages, err := s.app.chats.ListMessages(r.Context(), query.PhoneID, query.WaID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}
		writeJSON(w, http.StatusOK, messagesResponse{Messages: messages})
	}
}

func (s *Server) handleRespond() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validation.RespondRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg, err := s.app.chats.SendText(r.Context(), service.SendTextRequest{
			PhoneID: req.PhoneID,
			WaID:    req.WaID,
			Message: req.Message,
			Name:    req.Name,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sendResponse{Status: "success", Result: msg})
	}
}

func (s *Server) handleSendImage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxUpload := validation.MaxUploadBytes(s.cfg.Media.MaxUploadMB)
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			s.writeError(w, r, errors.NewValidationError("image", "", "invalid or oversized multipart form"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		form := validation.SendImageForm{
			WaID:    r.FormValue("wa_id"),
			PhoneID: r.FormValue("phone_id"),
			Caption: r.FormValue("caption"),
			Name:    r.FormValue("name"),
		}
		if err := validation.Struct(form); err != nil {
			s.writeError(w, r, err)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			s.writeError(w, r, errors.NewValidationError("image", "", "image file is required"))
			return
		}
		defer func() { _ = file.Close() }()
		if header.Size > maxUpload {
			s.writeError(w, r, errors.NewValidationError("image", "", "image file is too large"))
			return
		}

		msg, err := s.app.chats.SendImage(r.Context(), service.SendImageRequest{
			PhoneID:  form.PhoneID,
			WaID:     form.WaID,
			Caption:  form.Caption,
			Name:     form.Name,
			FileName: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Content:  file,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sendResponse{Status: "success", Result: msg})
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validation.MarkReadRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		n, err := s.app.chats.MarkRead(r.Context(), req.PhoneID, req.WaID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{Status: "success", Updated: n})
	}
}

// decodeJSON reads a bounded JSON body into v and validates it
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.NewValidationError("body", "", "request body must be a JSON object")
	}
	return validation.Struct(v)
}
