package domain

// Signaling event names exchanged over the persistent channel.
const (
	EventJoinChannels   = "chat:join_channels"
	EventJoinChannel    = "chat:join_channel"
	EventLeaveChannel   = "chat:leave_channel"
	EventSendMessage    = "chat:send_message"
	EventEditMessage    = "chat:edit_message"
	EventDeleteMessage  = "chat:delete_message"
	EventTyping         = "chat:typing"
	EventMarkRead       = "chat:mark_read"
	EventNewMessage     = "chat:new_message"
	EventMessageEdited  = "chat:message_edited"
	EventMessageDeleted = "chat:message_deleted"
	EventUserTyping     = "chat:user_typing"
	EventChatError      = "chat:error"

	EventGetOnlineUsers    = "status:get_online_users"
	EventOnlineUsers       = "status:online_users"
	EventUserStatusChanged = "status:user_status_changed"

	EventJoinRoom     = "webrtc:join-room"
	EventLeaveRoom    = "webrtc:leave-room"
	EventUserJoined   = "webrtc:user-joined"
	EventUserLeft     = "webrtc:user-left"
	EventOffer        = "webrtc:offer"
	EventAnswer       = "webrtc:answer"
	EventICECandidate = "webrtc:ice-candidate"
)

type JoinChannelsPayload struct {
	ChannelIDs []string `json:"channel_ids"`
}

type ChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type SendMessagePayload struct {
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	Type        MessageType  `json:"type"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Content   string `json:"content"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

type UserTypingPayload struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	ChannelID string `json:"channel_id"`
}

type ChatErrorPayload struct {
	Message string `json:"message"`
}

type OnlineUsersPayload struct {
	Users []PresenceRecord `json:"users"`
}
