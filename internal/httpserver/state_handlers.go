package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rtclient/internal/domain"
	"rtclient/internal/service"
)

func handleConnection(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Connection())
	}
}

func handleReconnect(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Reconnect(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sess.Connection())
	}
}

func handlePresence(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Presence.Snapshot())
	}
}

type userPresenceResponse struct {
	domain.PresenceRecord
	Online bool `json:"online"`
}

func handleUserPresence(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		rec, ok := sess.Presence.Record(userID)
		if !ok {
			rec = domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
		}
		writeJSON(w, http.StatusOK, userPresenceResponse{PresenceRecord: rec, Online: rec.Status.Reachable()})
	}
}

type unreadResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func handleUnread(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, unreadResponse{Counts: sess.Unread.Counts(), Total: sess.Unread.Total()})
	}
}

func handleTyping(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facts := sess.Typing.Typing(chi.URLParam(r, "conversationID"))
		if facts == nil {
			facts = []domain.TypingFact{}
		}
		writeJSON(w, http.StatusOK, facts)
	}
}

type sendTypingRequest struct {
	ConversationID string `json:"conversation_id"`
}

func handleSendTyping(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendTypingRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ConversationID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
			return
		}
		sent := sess.Chat.SendTyping(req.ConversationID)
		writeJSON(w, http.StatusOK, map[string]bool{"sent": sent})
	}
}
