// Package send turns visitor input into outbound messages with an optimistic
// local echo, and keeps the last undelivered send for a user-initiated retry.
package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/messages"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage  = errors.New("send: message is empty")
	ErrSendInFlight  = errors.New("send: another send is in flight")
	ErrUploadFailed  = errors.New("send: attachment upload failed")
	ErrSendFailed    = errors.New("send: message not delivered")
	ErrNoPendingSend = errors.New("send: nothing to retry")
	ErrNoSession     = errors.New("send: no active session")
)

const (
	failedNotice = "Message not delivered. Retry to send it again."
	uploadNotice = "Could not upload %s. Your message was not sent."
)

// Transport is the part of the transport layer the controller writes through.
type Transport interface {
	Connected() bool
	Connect(ctx context.Context) error
	Emit(ctx context.Context, event string, payload any) error
}

// Uploader stores attachment bytes and returns a reference to them.
type Uploader interface {
	UploadAttachment(ctx context.Context, req api.UploadRequest) (chat.Attachment, error)
}

// File is a local file to attach to a message.
type File struct {
	Name     string
	MimeType string
	Body     io.Reader
}

type Config struct {
	Transport Transport
	Uploader  Uploader
	Store     *messages.Store
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Controller sends visitor messages for one session.
type Controller struct {
	transport Transport
	uploader  Uploader
	store     *messages.Store
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	session *chat.Session
	busy    bool
	pending *chat.PendingSend
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{
		transport: cfg.Transport,
		uploader:  cfg.Uploader,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// SetSession sets the session sends belong to. A nil session disables sending.
func (c *Controller) SetSession(s *chat.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Pending returns the last send that failed to transmit.
func (c *Controller) Pending() (chat.PendingSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return chat.PendingSend{}, false
	}
	return *c.pending, true
}

// Send uploads files, echoes the message locally and emits it when the
// transport is connected. When it is not, the send is kept for Retry, a
// failure marker is appended and ErrSendFailed is returned. Any earlier
// pending send is dropped, even when this one fails to upload.
func (c *Controller) Send(ctx context.Context, content string, files []File) error {
	content = strings.TrimSpace(content)
	if content == "" && len(files) == 0 {
		return ErrEmptyMessage
	}

	s, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release()
	// New input replaces whatever was waiting for a retry.
	c.setPending(nil)

	attachments := make([]chat.Attachment, 0, len(files))
	for _, f := range files {
		a, err := c.uploader.UploadAttachment(ctx, api.UploadRequest{
			SessionID: s.ID,
			VisitorID: s.VisitorID,
			Name:      f.Name,
			MimeType:  f.MimeType,
			Body:      f.Body,
		})
		if err != nil {
			c.logger.Warn("attachment upload failed", zap.String("name", f.Name), zap.Error(err))
			c.store.Append(chat.Message{
				ID:        "upload-error:" + uuid.NewString(),
				Role:      chat.RoleSystem,
				Content:   fmt.Sprintf(uploadNotice, f.Name),
				Timestamp: c.clock.Now(),
			})
			return fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		attachments = append(attachments, a)
	}

	p := chat.PendingSend{
		ClientID:    "local:" + uuid.NewString(),
		Content:     content,
		Attachments: attachments,
	}
	c.store.Append(chat.Message{
		ID:          p.ClientID,
		Role:        chat.RoleUser,
		Content:     p.Content,
		Attachments: p.Attachments,
		Timestamp:   c.clock.Now(),
	})

	if c.transport.Connected() {
		err := c.emit(ctx, p)
		if err == nil {
			c.setPending(nil)
			return nil
		}
		c.logger.Warn("emit failed", zap.String("client_id", p.ClientID), zap.Error(err))
	}

	c.setPending(&p)
	c.store.Append(chat.Message{
		ID:         p.ClientID + ":failed",
		Role:       chat.RoleSystem,
		Content:    failedNotice,
		Timestamp:  c.clock.Now(),
		SendFailed: true,
	})
	return ErrSendFailed
}

// Retry re-emits the pending send with its original content and attachments.
// A disconnected transport is reconnected first; the pending send is only
// flushed once the reconnect is confirmed, and kept when it is not.
func (c *Controller) Retry(ctx context.Context) error {
	if _, err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	p, ok := c.Pending()
	if !ok {
		return ErrNoPendingSend
	}

	if !c.transport.Connected() {
		if err := c.transport.Connect(ctx); err != nil {
			return fmt.Errorf("%w: reconnect: %w", ErrSendFailed, err)
		}
		if !c.transport.Connected() {
			return fmt.Errorf("%w: transport not connected", ErrSendFailed)
		}
	}

	if err := c.emit(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.setPending(nil)
	removed := c.store.RemoveFailed()
	c.logger.Info("pending send delivered", zap.String("client_id", p.ClientID), zap.Int("markers_removed", removed))
	return nil
}

func (c *Controller) emit(ctx context.Context, p chat.PendingSend) error {
	return c.transport.Emit(ctx, api.EventVisitorMessage, api.VisitorMessage{
		Content:         p.Content,
		Attachments:     api.FromAttachments(p.Attachments),
		ClientMessageID: p.ClientID,
	})
}

func (c *Controller) acquire() (*chat.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	if c.busy {
		return nil, ErrSendInFlight
	}
	c.busy = true
	return c.session, nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) setPending(p *chat.PendingSend) {
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()
}
