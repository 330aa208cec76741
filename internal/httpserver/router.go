package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"rtclient/internal/domain"
	"rtclient/internal/service"
	"rtclient/internal/ws"
)

type Options struct {
	CORSOrigins []string
	// Secret, when set, must be presented as a bearer token on every /api and /ws request.
	Secret string
	Logger *slog.Logger
}

// NewRouter builds the local bridge a host UI uses to drive the session
// and to subscribe to its state.
func NewRouter(sess *service.Session, hub *ws.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(BridgeAuth(opts.Secret))

		r.Get("/connection", handleConnection(sess))
		r.Post("/connection/reconnect", handleReconnect(sess))

		r.Get("/presence", handlePresence(sess))
		r.Get("/presence/{userID}", handleUserPresence(sess))
		r.Get("/unread", handleUnread(sess))
		r.Get("/typing/{conversationID}", handleTyping(sess))
		r.Post("/typing", handleSendTyping(sess))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(sess))
			r.Post("/", handleCreateConversation(sess))
			r.Post("/reload", handleReloadConversations(sess))
			r.Post("/direct", handleCreateDirect(sess))
			r.Delete("/{conversationID}", handleDeleteConversation(sess))
			r.Post("/{conversationID}/members", handleAddMembers(sess))
			r.Delete("/{conversationID}/members/{userID}", handleRemoveMember(sess))
		})
		r.Put("/active", handleSetActive(sess))
		r.Put("/panel", handleSetPanel(sess))

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", handleListMessages(sess))
			r.Post("/", handleSendMessage(sess))
			r.Patch("/{messageID}", handleEditMessage(sess))
			r.Delete("/{messageID}", handleDeleteMessage(sess))
		})

		r.Route("/room", func(r chi.Router) {
			r.Get("/", handleRoom(sess))
			r.Post("/join", handleJoinRoom(sess))
			r.Post("/leave", handleLeaveRoom(sess))
			r.Post("/audio", handleToggleAudio(sess))
			r.Post("/video", handleToggleVideo(sess))
			r.Post("/screen", handleStartScreen(sess))
			r.Delete("/screen", handleStopScreen(sess))
		})
	})

	// the subscription checks the secret itself; browsers cannot set headers on a WebSocket
	r.Get("/ws", ws.MakeHandler(hub, opts.Secret, opts.CORSOrigins, opts.Logger))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrNoLocalMedia), errors.Is(err, domain.ErrRoomClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMediaAcquire):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrGaveUp):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
