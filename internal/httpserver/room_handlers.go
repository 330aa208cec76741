package httpserver

import (
	"net/http"

	"rtclient/internal/service"
)

func handleRoom(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Room.View())
	}
}

type joinRoomRequest struct {
	RoomID   string `json:"room_id"`
	Observer bool   `json:"observer"`
}

func handleJoinRoom(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRoomRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := sess.JoinRoom(r.Context(), req.RoomID, req.Observer); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Room.View())
	}
}

func handleLeaveRoom(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Room.Leave(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Room.View())
	}
}

func handleToggleAudio(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := sess.Media.ToggleAudio()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
	}
}

func handleToggleVideo(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := sess.Media.ToggleVideo()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
	}
}

func handleStartScreen(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Media.StartScreenShare(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"screen_sharing": sess.Media.ScreenSharing()})
	}
}

func handleStopScreen(sess *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Media.StopScreenShare(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"screen_sharing": sess.Media.ScreenSharing()})
	}
}
