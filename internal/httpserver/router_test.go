package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rtclient/internal/domain"
	"rtclient/internal/httpserver"
	"rtclient/internal/rtc"
	"rtclient/internal/service"
	"rtclient/internal/signaling"
	"rtclient/internal/signaling/signalingtest"
	"rtclient/internal/ws"
)

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockChatAPI) CreateConversation(ctx context.Context, in domain.CreateConversationInput) (*domain.Conversation, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) CreateDirectConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) AddMembers(ctx context.Context, conversationID string, userIDs []string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) RemoveMember(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockChatAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

type fakeLink struct {
	*signalingtest.FakeBus
}

func (l *fakeLink) Connect(ctx context.Context, token string) error {
	l.FakeBus.Connect()
	return nil
}

func (l *fakeLink) Status() signaling.Status {
	if l.Connected() {
		return signaling.StatusConnected
	}
	return signaling.StatusDisconnected
}

type fixture struct {
	api  *MockChatAPI
	link *fakeLink
	sess *service.Session
	srv  *httptest.Server
}

const secret = "bridge-secret"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := new(MockChatAPI)
	api.On("ListConversations", mock.Anything).Return([]domain.Conversation{
		{ID: "c1", Type: domain.ConversationGroup, Members: []domain.Member{{UserID: "u1"}, {UserID: "u2"}}},
	}, nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	link := &fakeLink{FakeBus: signalingtest.NewFakeBus()}
	peers, err := rtc.NewPionFactory(rtc.PionConfig{})
	require.NoError(t, err)
	sess := service.NewSession(link, api, peers, &rtc.SyntheticDevices{}, service.Options{
		Token: "tok", UserID: "u1", UserName: "Ann", Logger: logger,
	})
	require.NoError(t, sess.Chat.LoadConversations(context.Background()))

	hub := ws.NewHub(logger)
	srv := httptest.NewServer(httpserver.NewRouter(sess, hub, httpserver.Options{Secret: secret, Logger: logger}))
	t.Cleanup(func() {
		srv.Close()
		sess.Stop()
	})
	return &fixture{api: api, link: link, sess: sess, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndAuth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/connection")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/connection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conn service.ConnectionView
	decode(t, resp, &conn)
	assert.Equal(t, signaling.StatusConnected, conn.Status)
	assert.Equal(t, "u1", conn.UserID)
}

func TestPresenceAndTyping(t *testing.T) {
	f := newFixture(t)
	f.link.Deliver(domain.EventOnlineUsers, []map[string]string{{"user_id": "u2", "status": "away"}})
	f.link.Deliver(domain.EventUserTyping, map[string]string{"user_id": "u2", "user_name": "Bo", "channel_id": "c1"})

	resp := f.do(t, http.MethodGet, "/api/presence/u2", nil)
	var rec struct {
		Status string `json:"status"`
		Online bool   `json:"online"`
	}
	decode(t, resp, &rec)
	assert.Equal(t, "away", rec.Status)
	assert.True(t, rec.Online)

	resp = f.do(t, http.MethodGet, "/api/presence/u9", nil)
	decode(t, resp, &rec)
	assert.Equal(t, "offline", rec.Status)
	assert.False(t, rec.Online)

	resp = f.do(t, http.MethodGet, "/api/typing/c1", nil)
	var facts []domain.TypingFact
	decode(t, resp, &facts)
	require.Len(t, facts, 1)
	assert.Equal(t, "Bo", facts[0].UserName)
}

func TestOpenConversationAndSend(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.api.On("ListMessages", mock.Anything, "c1", 50, 0).Return([]domain.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hi", CreatedAt: at},
	}, nil)

	resp := f.do(t, http.MethodPut, "/api/active", map[string]string{"conversation_id": "c1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active struct {
		ActiveID string           `json:"active_id"`
		Messages []domain.Message `json:"messages"`
	}
	decode(t, resp, &active)
	assert.Equal(t, "c1", active.ActiveID)
	require.Len(t, active.Messages, 1)
	assert.NotEmpty(t, f.link.Emitted(domain.EventJoinChannel))
	assert.NotEmpty(t, f.link.Emitted(domain.EventMarkRead))

	resp = f.do(t, http.MethodPut, "/api/active", map[string]string{"conversation_id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/messages", map[string]string{"conversation_id": "c1", "content": "hello"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var sent domain.SendMessagePayload
	require.True(t, f.link.Last(domain.EventSendMessage, &sent))
	assert.Equal(t, "hello", sent.Content)
	assert.Len(t, f.sess.Chat.Messages(), 1, "nothing is added before the server echo")

	resp = f.do(t, http.MethodPost, "/api/messages", map[string]string{"conversation_id": "c1", "content": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.link.SetConnected(false)
	resp = f.do(t, http.MethodPost, "/api/messages", map[string]string{"conversation_id": "c1", "content": "later"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLeaveConversation(t *testing.T) {
	f := newFixture(t)
	f.api.On("RemoveMember", mock.Anything, "c1", "u1").Return(nil, nil)

	resp := f.do(t, http.MethodDelete, "/api/conversations/c1/members/u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.sess.Chat.Conversations())
	assert.NotEmpty(t, f.link.Emitted(domain.EventLeaveChannel))

	f.api.On("DeleteConversation", mock.Anything, "gone").Return(domain.ErrNotFound)
	resp = f.do(t, http.MethodDelete, "/api/conversations/gone", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoomRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/room/join", map[string]any{"room_id": "r1", "observer": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view rtc.RoomView
	decode(t, resp, &view)
	assert.Equal(t, domain.RoomConnected, view.Status)
	assert.True(t, view.Observer)

	resp = f.do(t, http.MethodPost, "/api/room/join", map[string]any{"room_id": "r1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/room/audio", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "observers have no local media")

	resp = f.do(t, http.MethodPost, "/api/room/leave", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &view)
	assert.Equal(t, domain.RoomDisconnected, view.Status)

	resp = f.do(t, http.MethodPost, "/api/room/join", map[string]any{"room_id": "r2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/room/audio", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var toggled map[string]bool
	decode(t, resp, &toggled)
	assert.False(t, toggled["enabled"])

	resp = f.do(t, http.MethodPost, "/api/room/screen", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &toggled)
	assert.True(t, toggled["screen_sharing"])

	resp = f.do(t, http.MethodDelete, "/api/room/screen", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &toggled)
	assert.False(t, toggled["screen_sharing"])
}
