package domain

import "time"

// ConversationType is the kind of chat channel.
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationPublic  ConversationType = "public"
	ConversationPrivate ConversationType = "private"
)

// Member is a participant of a conversation.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Conversation is the locally cached copy of a server-owned channel.
type Conversation struct {
	ID            string           `json:"id"`
	Name          *string          `json:"name,omitempty"`
	Type          ConversationType `json:"type"`
	Members       []Member         `json:"members"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
	UnreadCount   int              `json:"unread_count,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// HasMember reports whether userID belongs to the conversation.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MessageType distinguishes user content from server notices.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Attachment is file metadata carried by a message; the bytes live in file storage.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message represents a single chat message.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name,omitempty"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"type"`
	IsEdited       bool         `json:"is_edited"`
	IsDeleted      bool         `json:"is_deleted"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PresenceStatus is a user's reachability state. Offline is never stored.
type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusOffline   PresenceStatus = "offline"
	StatusAway      PresenceStatus = "away"
	StatusBusy      PresenceStatus = "busy"
	StatusInMeeting PresenceStatus = "in_meeting"
)

// Reachable reports whether the status counts as online for UI purposes.
func (s PresenceStatus) Reachable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusInMeeting:
		return true
	}
	return false
}

// PresenceRecord is one entry of the presence map.
type PresenceRecord struct {
	UserID        string         `json:"user_id"`
	Status        PresenceStatus `json:"status"`
	CustomMessage string         `json:"custom_message,omitempty"`
}

// TypingFact records that a user is typing in a conversation.
type TypingFact struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name,omitempty"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
}

// RoomStatus is the state of a conferencing room from the local side.
type RoomStatus string

const (
	RoomConnecting   RoomStatus = "connecting"
	RoomConnected    RoomStatus = "connected"
	RoomDisconnected RoomStatus = "disconnected"
	RoomError        RoomStatus = "error"
)
