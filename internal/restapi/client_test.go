package restapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtclient/internal/domain"
	"rtclient/internal/restapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/chat/channels", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []domain.Conversation{
				{ID: "c1", Type: domain.ConversationGroup},
				{ID: "c2", Type: domain.ConversationDirect},
			})
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var in domain.CreateConversationInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.MemberIDs) == 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "member_ids required"})
				return
			}
			members := make([]domain.Member, 0, len(in.MemberIDs))
			for _, id := range in.MemberIDs {
				members = append(members, domain.Member{UserID: id})
			}
			writeJSON(w, http.StatusCreated, domain.Conversation{ID: "c3", Name: in.Name, Type: in.Type, Members: members})
		})
		r.Post("/direct", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, domain.Conversation{ID: "dm-" + body.UserID, Type: domain.ConversationDirect})
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") != "c1" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
				return
			}
			writeJSON(w, http.StatusOK, domain.Conversation{ID: "c1"})
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") == "locked" {
				writeJSON(w, http.StatusForbidden, map[string]string{"message": "only owners can delete"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []domain.Message{
				{ID: "m1", ConversationID: chi.URLParam(r, "id"), Content: r.URL.Query().Get("limit")},
				{ID: "m2", ConversationID: chi.URLParam(r, "id"), Content: r.URL.Query().Get("offset")},
			})
		})
		r.Post("/{id}/members", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				UserIDs []string `json:"user_ids"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			conv := domain.Conversation{ID: chi.URLParam(r, "id")}
			for _, id := range body.UserIDs {
				conv.Members = append(conv.Members, domain.Member{UserID: id})
			}
			writeJSON(w, http.StatusOK, conv)
		})
		r.Delete("/{id}/members/{userID}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "userID") == "me" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			writeJSON(w, http.StatusOK, domain.Conversation{ID: chi.URLParam(r, "id")})
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := restapi.NewClient(srv.URL+"/", "tok", nil)

	t.Run("ListConversations", func(t *testing.T) {
		convs, err := c.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.Equal(t, "c1", convs[0].ID)
	})

	t.Run("GetConversationNotFound", func(t *testing.T) {
		_, err := c.GetConversation(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		var apiErr *restapi.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "channel not found", apiErr.Message)
	})

	t.Run("ListMessagesSendsPaging", func(t *testing.T) {
		msgs, err := c.ListMessages(ctx, "c1", 50, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "50", msgs[0].Content)
		assert.Equal(t, "0", msgs[1].Content)
	})

	t.Run("CreateConversation", func(t *testing.T) {
		name := "ops"
		conv, err := c.CreateConversation(ctx, domain.CreateConversationInput{Name: &name, Type: domain.ConversationGroup, MemberIDs: []string{"u1", "u2"}})
		require.NoError(t, err)
		assert.Equal(t, "c3", conv.ID)
		assert.Len(t, conv.Members, 2)

		_, err = c.CreateConversation(ctx, domain.CreateConversationInput{Type: domain.ConversationGroup})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("CreateDirectConversation", func(t *testing.T) {
		conv, err := c.CreateDirectConversation(ctx, "u7")
		require.NoError(t, err)
		assert.Equal(t, "dm-u7", conv.ID)
	})

	t.Run("Members", func(t *testing.T) {
		conv, err := c.AddMembers(ctx, "c1", []string{"u5"})
		require.NoError(t, err)
		assert.True(t, conv.HasMember("u5"))

		conv, err = c.RemoveMember(ctx, "c1", "u5")
		require.NoError(t, err)
		require.NotNil(t, conv)

		conv, err = c.RemoveMember(ctx, "c1", "me")
		require.NoError(t, err)
		assert.Nil(t, conv)
	})

	t.Run("DeleteConversation", func(t *testing.T) {
		require.NoError(t, c.DeleteConversation(ctx, "c1"))
		err := c.DeleteConversation(ctx, "locked")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Contains(t, err.Error(), "only owners can delete")
	})

	t.Run("BadToken", func(t *testing.T) {
		bad := restapi.NewClient(srv.URL, "other", nil)
		_, err := bad.ListConversations(ctx)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
