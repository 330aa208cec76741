package rtc

import "github.com/pion/webrtc/v4"

// Wire payloads of the webrtc:* events. The server stamps from_user_id and
// from_user_name on everything it relays to a target.

type joinRoomPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Observer bool   `json:"observer,omitempty"`
}

type userJoinedPayload struct {
	RoomID   string `json:"room_id,omitempty"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

type userLeftPayload struct {
	RoomID string `json:"room_id,omitempty"`
	UserID string `json:"user_id"`
}

type leaveRoomPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type offerPayload struct {
	RoomID       string                     `json:"room_id,omitempty"`
	TargetUserID string                     `json:"target_user_id,omitempty"`
	FromUserID   string                     `json:"from_user_id,omitempty"`
	FromUserName string                     `json:"from_user_name,omitempty"`
	Offer        *webrtc.SessionDescription `json:"offer"`
}

type answerPayload struct {
	RoomID       string                     `json:"room_id,omitempty"`
	TargetUserID string                     `json:"target_user_id,omitempty"`
	FromUserID   string                     `json:"from_user_id,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer"`
}

type iceCandidatePayload struct {
	RoomID       string                   `json:"room_id,omitempty"`
	TargetUserID string                   `json:"target_user_id,omitempty"`
	FromUserID   string                   `json:"from_user_id,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate"`
}
