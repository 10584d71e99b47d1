// Package api talks to the chat backend: REST calls for bootstrap, history,
// uploads, handoff and offline forms, plus the live channel wire types.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/livechat/internal/chat"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client calls the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for baseURL. A nil httpClient uses a client with
// a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// FetchConfig returns the widget prompts for a project.
func (c *Client) FetchConfig(ctx context.Context, projectID string) (*WidgetConfig, error) {
	var cfg WidgetConfig
	path := "/api/widget/" + url.PathEscape(projectID) + "/config"
	if err := c.doJSON(ctx, "fetch config", http.MethodGet, path, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchAvailability returns the current agent availability for a project.
func (c *Client) FetchAvailability(ctx context.Context, projectID string) (chat.Availability, error) {
	var resp availabilityResponse
	path := "/api/widget/" + url.PathEscape(projectID) + "/availability"
	if err := c.doJSON(ctx, "fetch availability", http.MethodGet, path, nil, &resp); err != nil {
		return chat.Availability{}, err
	}
	return chat.Availability{
		Available:            resp.Available,
		Mode:                 chat.ParseMode(resp.Mode),
		AgentsOnline:         resp.AgentsOnline,
		OperatingHoursActive: resp.OperatingHoursActive,
	}, nil
}

// CreateSession creates a session, or restores the visitor's existing one.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.doJSON(ctx, "create session", http.MethodPost, "/api/widget/sessions", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("create session: response has no session id")
	}
	return &resp, nil
}

// FetchMessages returns the authoritative message list for a session.
func (c *Client) FetchMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var resp messagesResponse
	path := "/api/widget/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.doJSON(ctx, "fetch messages", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return ToMessages(resp.Messages), nil
}

// UploadAttachment uploads one file and returns the stored reference.
func (c *Client) UploadAttachment(ctx context.Context, req UploadRequest) (chat.Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("sessionId", req.SessionID); err != nil {
		return chat.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	if err := w.WriteField("visitorId", req.VisitorID); err != nil {
		return chat.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Name))
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	if req.Body != nil {
		if _, err := io.Copy(part, req.Body); err != nil {
			return chat.Attachment{}, fmt.Errorf("upload attachment: read %s: %w", req.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return chat.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	var resp WireAttachment
	if err := c.do(ctx, "upload attachment", http.MethodPost, "/api/widget/uploads", &buf, w.FormDataContentType(), &resp); err != nil {
		return chat.Attachment{}, err
	}
	if resp.URL == "" {
		return chat.Attachment{}, fmt.Errorf("upload attachment: response has no url")
	}
	return resp.ToAttachment(), nil
}

// RequestHandoff asks the backend to route the session to a human agent.
func (c *Client) RequestHandoff(ctx context.Context, sessionID string) error {
	path := "/api/widget/sessions/" + url.PathEscape(sessionID) + "/handoff"
	return c.doJSON(ctx, "request handoff", http.MethodPost, path, struct{}{}, nil)
}

// SubmitOfflineForm submits contact details collected while nobody is online.
func (c *Client) SubmitOfflineForm(ctx context.Context, req OfflineFormRequest) error {
	return c.doJSON(ctx, "submit offline form", http.MethodPost, "/api/widget/offline-forms", req, nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
