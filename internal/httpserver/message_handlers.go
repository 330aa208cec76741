package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rtclient/internal/chatsync"
	"rtclient/internal/domain"
	"rtclient/internal/service"
)

// handleListMessages returns the active conversation's loaded page.
func handleListMessages(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs := sess.Chat.Messages()
		if msgs == nil {
			msgs = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": sess.Chat.ActiveID(),
			"messages":        msgs,
		})
	}
}

type sendMessageRequest struct {
	ConversationID string              `json:"conversation_id"`
	Content        string              `json:"content"`
	Type           domain.MessageType  `json:"type"`
	Attachments    []domain.Attachment `json:"attachments"`
}

// handleSendMessage answers 202: the message shows up once the server echoes it.
func handleSendMessage(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err := sess.Chat.SendMessage(chatsync.SendMessageInput{
			ConversationID: req.ConversationID,
			Content:        req.Content,
			Type:           req.Type,
			Attachments:    req.Attachments,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func handleEditMessage(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req editMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := sess.Chat.EditMessage(chi.URLParam(r, "messageID"), req.Content); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleDeleteMessage(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Chat.DeleteMessage(chi.URLParam(r, "messageID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
