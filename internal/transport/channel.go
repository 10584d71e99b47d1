package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/livechat/internal/api"
)

// Params are sent as query parameters when the live channel is established.
type Params struct {
	ProjectID string
	VisitorID string
	SessionID string
}

// Channel is an established live connection carrying JSON envelopes.
type Channel interface {
	Read(ctx context.Context) (api.Envelope, error)
	Write(ctx context.Context, env api.Envelope) error
	Close() error
}

// Dialer establishes live channels.
type Dialer interface {
	Dial(ctx context.Context, p Params) (Channel, error)
}

// WSDialer dials the backend socket endpoint over websocket.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

// Dial connects to d.URL with the session query parameters.
func (d WSDialer) Dial(ctx context.Context, p Params) (Channel, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("projectId", p.ProjectID)
	q.Set("visitorId", p.VisitorID)
	q.Set("sessionId", p.SessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Read(ctx context.Context) (api.Envelope, error) {
	var env api.Envelope
	err := wsjson.Read(ctx, c.conn, &env)
	return env, err
}

func (c *wsChannel) Write(ctx context.Context, env api.Envelope) error {
	return wsjson.Write(ctx, c.conn, env)
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
