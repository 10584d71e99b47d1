package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/messages"
	"github.com/stretchr/testify/require"
)

type memVisitors struct {
	id      string
	saves   int
	saveErr error
}

func (m *memVisitors) VisitorID() (string, error) { return m.id, nil }

func (m *memVisitors) SaveVisitorID(id string) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.id = id
	return nil
}

type stubBackend struct {
	resp *api.CreateSessionResponse
	err  error
	reqs []api.CreateSessionRequest
}

func (b *stubBackend) CreateSession(_ context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error) {
	b.reqs = append(b.reqs, req)
	return b.resp, b.err
}

func TestEnsureVisitorIDGeneratesOnce(t *testing.T) {
	visitors := &memVisitors{}
	m := NewManager(ManagerConfig{Visitors: visitors})

	first, err := m.EnsureVisitorID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := m.EnsureVisitorID()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, visitors.saves)

	// A new manager over the same store reuses the persisted id.
	again, err := NewManager(ManagerConfig{Visitors: visitors}).EnsureVisitorID()
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestEnsureVisitorIDSurvivesSaveFailure(t *testing.T) {
	m := NewManager(ManagerConfig{Visitors: &memVisitors{saveErr: errors.New("disk full")}})

	first, err := m.EnsureVisitorID()
	require.NoError(t, err)
	second, err := m.EnsureVisitorID()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestStartSeedsHistory(t *testing.T) {
	store := messages.New(nil)
	backend := &stubBackend{resp: &api.CreateSessionResponse{
		SessionID: "s1",
		Messages: []api.WireMessage{
			{ID: "m2", Role: "ai", Content: "hello", CreatedAt: time.UnixMilli(2000)},
			{ID: "m1", Role: "visitor", Content: "hi", CreatedAt: time.UnixMilli(1000)},
		},
	}}
	m := NewManager(ManagerConfig{
		Visitors:  &memVisitors{id: "v1"},
		Backend:   backend,
		Store:     store,
		SourceURL: "https://shop.example.com",
		UserAgent: "test-agent",
	})

	s, err := m.Start(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)
	require.Equal(t, "v1", s.VisitorID)
	require.Equal(t, chat.ModeAI, s.Mode)

	require.Equal(t, []api.CreateSessionRequest{{
		ProjectID: "p1", VisitorID: "v1", SourceURL: "https://shop.example.com", UserAgent: "test-agent",
	}}, backend.reqs)

	snap := store.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "m1", snap[0].ID)
	require.Equal(t, chat.RoleUser, snap[0].Role)
	require.Equal(t, chat.RoleAssistant, snap[1].Role)
}

func TestStartFailureLeavesStoreUntouched(t *testing.T) {
	store := messages.New(nil)
	store.Append(chat.Message{ID: "local", Role: chat.RoleSystem, Content: "welcome", Timestamp: time.UnixMilli(1)})
	m := NewManager(ManagerConfig{
		Backend: &stubBackend{err: &api.StatusError{Op: "create session", StatusCode: 503}},
		Store:   store,
	})

	s, err := m.Start(context.Background(), "p1")
	require.Error(t, err)
	require.Nil(t, s)

	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.True(t, statusErr.Temporary())
	require.Equal(t, 1, store.Len())
}
