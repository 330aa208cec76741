package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rtclient/internal/domain"
	"rtclient/internal/service"
)

func handleListConversations(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Chat.Conversations())
	}
}

func handleReloadConversations(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Chat.LoadConversations(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Chat.Conversations())
	}
}

func handleCreateConversation(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateConversationInput
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := sess.Chat.CreateConversation(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

type directRequest struct {
	UserID string `json:"user_id"`
}

func handleCreateDirect(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req directRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := sess.Chat.CreateDirectConversation(r.Context(), req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

type addMembersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func handleAddMembers(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMembersRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := sess.Chat.AddMembers(r.Context(), chi.URLParam(r, "conversationID"), req.UserIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleRemoveMember(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := sess.Chat.RemoveMember(r.Context(), chi.URLParam(r, "conversationID"), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if conv == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleDeleteConversation(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Chat.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type setActiveRequest struct {
	ConversationID *string `json:"conversation_id"`
}

// handleSetActive opens a conversation; a null id closes the current one.
func handleSetActive(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setActiveRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var target *domain.Conversation
		if req.ConversationID != nil && *req.ConversationID != "" {
			conv, ok := sess.Chat.Conversation(*req.ConversationID)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
				return
			}
			target = &conv
		}
		if err := sess.Chat.SetActiveConversation(r.Context(), target); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"active_id": sess.Chat.ActiveID(),
			"messages":  sess.Chat.Messages(),
		})
	}
}

type setPanelRequest struct {
	Visible bool `json:"visible"`
}

func handleSetPanel(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setPanelRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sess.Chat.SetPanelVisible(req.Visible)
		writeJSON(w, http.StatusOK, sess.Chat.Visibility())
	}
}
