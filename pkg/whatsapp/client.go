package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"whatsrelay/internal/errors"
	"whatsrelay/pkg/circuitbreaker"
	"whatsrelay/pkg/constants"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ClientConfig configures the Cloud API client
type ClientConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breakers   *circuitbreaker.Group
	Logger     *logrus.Logger
}

// Client talks to the WhatsApp Cloud (Graph) API
type Client struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	breakers *circuitbreaker.Group
	logger   *logrus.Logger
}

// NewClient creates a Cloud API client. Every request carries a deadline of
// cfg.Timeout even when the caller's context has none.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeoutSec * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = circuitbreaker.NewGroup("graph", circuitbreaker.Options{
			MaxFailures: constants.DefaultBreakerMaxFailures,
			Cooldown:    constants.DefaultBreakerTimeoutSec * time.Second,
			IsFailure:   errors.IsRetryable,
		}, logger)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion != "" {
		base += "/" + strings.Trim(cfg.APIVersion, "/")
	}

	return &Client{
		baseURL:  base,
		client:   httpClient,
		timeout:  timeout,
		breakers: breakers,
		logger:   logger,
	}
}

// SendText sends a plain text message to the wa_id `to`
func (c *Client) SendText(ctx context.Context, acct Account, to, body string) (*types.SendMessageResponse, error) {
	payload := types.SendTextRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             types.MessageTypeText,
		Text:             types.TextContent{Body: body},
	}

	var result types.SendMessageResponse
	endpoint := fmt.Sprintf(types.EndpointMessages, acct.PhoneNumberID)
	if err := c.guarded(ctx, acct, func(ctx context.Context) error {
		return c.postJSON(ctx, acct, endpoint, payload, &result)
	}); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendImage sends a previously uploaded image by media id
func (c *Client) SendImage(ctx context.Context, acct Account, to, mediaID, caption string) (*types.SendMessageResponse, error) {
	payload := types.SendImageRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             types.MessageTypeImage,
		Image:            types.MediaReference{ID: mediaID, Caption: caption},
	}

	var result types.SendMessageResponse
	endpoint := fmt.Sprintf(types.EndpointMessages, acct.PhoneNumberID)
	if err := c.guarded(ctx, acct, func(ctx context.Context) error {
		return c.postJSON(ctx, acct, endpoint, payload, &result)
	}); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadMedia uploads a file to the account's media store and returns its media id
func (c *Client) UploadMedia(ctx context.Context, acct Account, filename, mimeType string, content io.Reader) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("messaging_product", types.MessagingProduct); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf(types.EndpointMedia, acct.PhoneNumberID)
	payload := body.Bytes()
	var result types.MediaUploadResponse
	err = c.guarded(ctx, acct, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, acct, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return c.do(req, endpoint, &result)
	})
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.NewAPIError(endpoint, http.StatusOK, fmt.Errorf("upload response has no media id"))
	}
	return result.ID, nil
}

// GetMediaInfo resolves a media id to its short-lived download URL
func (c *Client) GetMediaInfo(ctx context.Context, acct Account, mediaID string) (*types.MediaInfo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := fmt.Sprintf(types.EndpointMediaID, mediaID)
	req, err := c.newRequest(ctx, acct, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}

	var info types.MediaInfo
	if err := c.do(req, endpoint, &info); err != nil {
		return nil, err
	}
	if info.URL == "" {
		return nil, errors.NewAPIError(endpoint, http.StatusOK, fmt.Errorf("media %s has no download url", mediaID))
	}
	return &info, nil
}

// DownloadMedia fetches the bytes behind a URL returned by GetMediaInfo.
// It returns the body and the response Content-Type.
func (c *Client) DownloadMedia(ctx context.Context, acct Account, url string, maxBytes int64) ([]byte, string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, acct, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", errors.NewAPIError("media download", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", errors.NewAPIError("media download", resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if maxBytes <= 0 {
		maxBytes = constants.DefaultMaxMediaSizeMB * constants.BytesPerMegabyte
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) guarded(ctx context.Context, acct Account, fn func(context.Context) error) error {
	err := c.breakers.Get(acct.PhoneNumberID).Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return fn(ctx)
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		return errors.Wrap(err, errors.ErrCodeWhatsAppAPI, "whatsapp API temporarily disabled").
			WithContext("phone_number_id", acct.PhoneNumberID).
			WithUserMessage("WhatsApp is temporarily unavailable")
	}
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) postJSON(ctx context.Context, acct Account, endpoint string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := c.newRequest(ctx, acct, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) newRequest(ctx context.Context, acct Account, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewAPIError(endpoint, 0, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"method":      req.Method,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("WhatsApp API call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewAPIError(endpoint, resp.StatusCode, readAPIError(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewAPIError(endpoint, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, constants.DefaultErrorBodyExcerptBytes))

	var apiErr types.APIErrorResponse
	if json.Unmarshal(excerpt, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("status %d: %s (code %d)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
