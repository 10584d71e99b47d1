package conversation

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/handoff"
	"github.com/matheus3301/livechat/internal/mockbackend"
	"github.com/matheus3301/livechat/internal/send"
	"github.com/matheus3301/livechat/internal/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type env struct {
	mock   *mockbackend.Server
	client *api.Client
	conv   *Conversation
	bus    *bus.Bus
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	t.Helper()
	mock := mockbackend.New(nil)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(func() {
		mock.Close()
		srv.Close()
	})

	e := &env{
		mock:   mock,
		client: api.NewClient(srv.URL, srv.Client(), nil),
		bus:    bus.New(),
	}
	cfg := Config{
		ProjectID:            "p1",
		SourceURL:            "https://shop.example.com/pricing",
		UserAgent:            "conversation-test",
		Backend:              e.client,
		Dialer:               transport.WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/widget/socket", HTTPClient: srv.Client()},
		Bus:                  e.bus,
		PollInterval:         20 * time.Millisecond,
		AvailabilityInterval: time.Hour,
		TypingQuiet:          50 * time.Millisecond,
		RequestTimeout:       2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e.conv = New(cfg)
	t.Cleanup(func() { _ = e.conv.Close() })
	return e
}

func (e *env) sessionID(t *testing.T) string {
	t.Helper()
	s := e.conv.Session()
	require.NotNil(t, s)
	return s.ID
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func requireNoDuplicateIDs(t *testing.T, msgs []chat.Message) {
	t.Helper()
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		require.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestAIReplyThenOfflineRedirect(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, transport.Connected, e.conv.ConnectionState())
	require.Equal(t, chat.ModeAI, e.conv.Mode())

	require.NoError(t, e.conv.Send(ctx, "need help", nil))
	require.Eventually(t, func() bool {
		got := contents(e.conv.Messages())
		return len(got) == 2 && got[0] == "user:need help" && got[1] == "assistant:You said: need help"
	}, waitFor, tick)
	for _, m := range e.conv.Messages() {
		require.False(t, strings.HasPrefix(m.ID, "local:"), "optimistic copy should be replaced by the echo")
	}

	e.mock.SetAvailability("p1", chat.Availability{Available: true, Mode: chat.ModeAI, AgentsOnline: 0})
	st, err := e.conv.RequestHuman(ctx)
	require.NoError(t, err)
	require.Equal(t, handoff.RedirectedOffline, st)
	require.Equal(t, chat.ModeOffline, e.conv.Mode())
	require.Empty(t, e.mock.Handoffs())

	msgs := e.conv.Messages()
	require.Equal(t, chat.RoleSystem, msgs[len(msgs)-1].Role)
	require.ErrorIs(t, e.conv.Send(ctx, "hello?", nil), ErrOfflineMode)
}

func TestDisconnectPollReconnect(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.AutoReconnect = true })
	ctx := context.Background()
	require.NoError(t, e.conv.Open(ctx))
	sid := e.sessionID(t)

	e.mock.SetSocketEnabled(false)
	e.mock.DropConnections(sid)
	require.Eventually(t, func() bool {
		return e.conv.ConnectionState() == transport.Disconnected && e.conv.Polling()
	}, waitFor, tick)

	first, ok := e.mock.AddMessage(sid, chat.RoleAgent, "are you there?")
	require.True(t, ok)
	second, ok := e.mock.AddMessage(sid, chat.RoleAgent, "still here")
	require.True(t, ok)

	require.Eventually(t, func() bool { return e.conv.Store().Len() == 2 }, waitFor, tick)
	require.Equal(t, []string{"agent:are you there?", "agent:still here"}, contents(e.conv.Messages()))

	e.mock.SetSocketEnabled(true)
	require.Eventually(t, func() bool {
		return e.conv.ConnectionState() == transport.Connected && !e.conv.Polling()
	}, waitFor, tick)

	msgs := e.conv.Messages()
	requireNoDuplicateIDs(t, msgs)
	require.Len(t, msgs, 2)
	require.Equal(t, first.ID, msgs[0].ID)
	require.Equal(t, second.ID, msgs[1].ID)
}

func TestHandoffWithAgentsOnline(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	modes, unsub := e.bus.Subscribe(bus.KindModeChanged, 8)
	defer unsub()

	require.NoError(t, e.conv.Open(ctx))
	sid := e.sessionID(t)

	st, err := e.conv.RequestHuman(ctx)
	require.NoError(t, err)
	require.Equal(t, handoff.Escalating, st)
	require.Equal(t, []string{sid}, e.mock.Handoffs())
	require.Equal(t, chat.ModeLive, e.conv.Mode())

	e.mock.Broadcast(sid, api.EventAgentJoined, api.AgentJoined{AgentName: "Rita"})
	require.True(t, e.mock.AgentSays(sid, "Rita", "Hi, I'm Rita"))

	require.Eventually(t, func() bool {
		for _, m := range e.conv.Messages() {
			if m.Role == chat.RoleAgent && m.AgentName == "Rita" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	require.Contains(t, contents(e.conv.Messages()), "system:Rita joined the conversation")

	var sawLive bool
	for len(modes) > 0 {
		if (<-modes).Payload.(ModeChange).To == chat.ModeLive {
			sawLive = true
		}
	}
	require.True(t, sawLive)
}

func TestOfflineShortCircuit(t *testing.T) {
	e := newEnv(t, nil)
	e.mock.SetAvailability("p1", chat.Availability{Mode: chat.ModeOffline})
	e.mock.SetConfig("p1", api.WidgetConfig{OfflineFormSlug: "contact-us"})
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, chat.ModeOffline, e.conv.Mode())
	require.Nil(t, e.conv.Session())
	require.Equal(t, transport.Disconnected, e.conv.ConnectionState())
	require.ErrorIs(t, e.conv.Send(ctx, "hi", nil), ErrOfflineMode)
	_, err := e.conv.RequestHuman(ctx)
	require.ErrorIs(t, err, ErrOfflineMode)

	require.Error(t, e.conv.SubmitOfflineForm(ctx, chat.OfflineForm{Name: "Ana", Email: "nope", Message: "x"}))
	require.Empty(t, e.mock.OfflineForms())

	require.NoError(t, e.conv.SubmitOfflineForm(ctx, chat.OfflineForm{Name: "Ana", Email: "ana@example.com", Message: "call me"}))
	forms := e.mock.OfflineForms()
	require.Len(t, forms, 1)
	visitorID, err := e.conv.VisitorID()
	require.NoError(t, err)
	require.Equal(t, visitorID, forms[0].VisitorID)
	require.Equal(t, "contact-us", forms[0].FormSlug)
	require.Equal(t, "https://shop.example.com/pricing", forms[0].PageURL)
	require.Equal(t, 1, e.conv.Store().Len())
}

func TestWelcomeMessage(t *testing.T) {
	e := newEnv(t, nil)
	e.mock.SetConfig("p1", api.WidgetConfig{WelcomeMessage: "Hi! How can we help?"})

	require.NoError(t, e.conv.Open(context.Background()))
	msgs := e.conv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "welcome:"+e.sessionID(t), msgs[0].ID)
	require.Equal(t, chat.RoleAssistant, msgs[0].Role)
}

type flakyBackend struct {
	*api.Client
	failures atomic.Int32
}

func (f *flakyBackend) CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, &api.StatusError{Op: "create session", StatusCode: 503}
	}
	return f.Client.CreateSession(ctx, req)
}

func TestOpenFailureIsRecoverable(t *testing.T) {
	var backend *flakyBackend
	e := newEnv(t, func(c *Config) {
		backend = &flakyBackend{Client: c.Backend.(*api.Client)}
		backend.failures.Store(1)
		c.Backend = backend
	})
	ctx := context.Background()

	err := e.conv.Open(ctx)
	require.Error(t, err)
	require.ErrorIs(t, e.conv.Send(ctx, "hi", nil), ErrNotOpen)
	require.Equal(t, 0, e.conv.Store().Len())
	require.Equal(t, transport.Disconnected, e.conv.ConnectionState())

	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, transport.Connected, e.conv.ConnectionState())
}

func TestSendWhileDisconnectedThenRetry(t *testing.T) {
	e := newEnv(t, nil)
	e.mock.SetSocketEnabled(false)
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, transport.Disconnected, e.conv.ConnectionState())
	require.True(t, e.conv.Polling())

	require.ErrorIs(t, e.conv.Send(ctx, "hello", nil), send.ErrSendFailed)
	p, ok := e.conv.Pending()
	require.True(t, ok)
	require.Equal(t, "hello", p.Content)

	require.ErrorIs(t, e.conv.Retry(ctx), send.ErrSendFailed)
	_, ok = e.conv.Pending()
	require.True(t, ok, "pending send survives a failed reconnect")

	e.mock.SetSocketEnabled(true)
	require.NoError(t, e.conv.Retry(ctx))
	require.Equal(t, transport.Connected, e.conv.ConnectionState())
	require.False(t, e.conv.Polling())

	require.Eventually(t, func() bool {
		got := contents(e.conv.Messages())
		return len(got) == 2 && got[0] == "user:hello" && got[1] == "assistant:You said: hello"
	}, waitFor, tick)
	for _, m := range e.conv.Messages() {
		require.False(t, m.SendFailed)
	}
}

func TestSendAttachment(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, e.conv.Open(ctx))

	err := e.conv.Send(ctx, "see attached", []send.File{{Name: "receipt.pdf", MimeType: "application/pdf", Body: strings.NewReader("%PDF-1.7")}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, m := range e.conv.Messages() {
			if m.Role == chat.RoleUser && len(m.Attachments) == 1 && !strings.HasPrefix(m.ID, "local:") {
				return m.Attachments[0].Name == "receipt.pdf" && m.Attachments[0].Size == 8
			}
		}
		return false
	}, waitFor, tick)
}

func TestReopenRestoresSession(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	sid := e.sessionID(t)
	require.NoError(t, e.conv.Send(ctx, "first visit", nil))
	require.Eventually(t, func() bool { return len(e.mock.Messages(sid)) == 2 }, waitFor, tick)

	require.NoError(t, e.conv.Close())
	require.NoError(t, e.conv.Close())
	require.Equal(t, transport.Disconnected, e.conv.ConnectionState())
	require.ErrorIs(t, e.conv.Send(ctx, "closed", nil), ErrNotOpen)

	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, sid, e.sessionID(t))
	msgs := e.conv.Messages()
	requireNoDuplicateIDs(t, msgs)
	require.Equal(t, []string{"user:first visit", "assistant:You said: first visit"}, contents(msgs))
}

func TestReopenWhileOfflineKeepsChatting(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	sid := e.sessionID(t)
	require.NoError(t, e.conv.Close())

	e.mock.SetAvailability("p1", chat.Availability{Mode: chat.ModeOffline})
	require.NoError(t, e.conv.Open(ctx))
	require.Equal(t, sid, e.sessionID(t))
	require.Equal(t, chat.ModeAI, e.conv.Mode())
	require.Eventually(t, func() bool { return e.conv.ConnectionState() == transport.Connected }, waitFor, tick)

	require.NoError(t, e.conv.Send(ctx, "still there?", nil))
	require.Eventually(t, func() bool {
		for _, m := range e.mock.Messages(sid) {
			if m.Content == "still there?" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	_, pending := e.conv.Pending()
	require.False(t, pending)
}

// refusingDialer never connects, so the conversation stays on polling.
type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, transport.Params) (transport.Channel, error) {
	return nil, errors.New("connection refused")
}

func TestCloseStopsAllTimers(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	e := newEnv(t, func(c *Config) {
		c.Clock = clk
		c.Dialer = refusingDialer{}
		c.AutoReconnect = true
		c.PollInterval = 3 * time.Second
		c.AvailabilityInterval = 30 * time.Second
		c.TypingQuiet = 2 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, e.conv.Open(ctx))
	require.True(t, e.conv.Polling())
	// Message poll and availability poll.
	require.Equal(t, 2, clk.Pending())

	sid := e.sessionID(t)
	_, ok := e.mock.AddMessage(sid, chat.RoleAgent, "polled")
	require.True(t, ok)
	clk.Advance(3 * time.Second)
	require.Equal(t, 1, e.conv.Store().Len())

	require.NoError(t, e.conv.Close())
	require.Equal(t, 0, clk.Pending(), "no timer may survive Close")

	_, ok = e.mock.AddMessage(sid, chat.RoleAgent, "after close")
	require.True(t, ok)
	clk.Advance(time.Hour)
	require.Equal(t, 1, e.conv.Store().Len(), "nothing reaches the store after Close")
}
