package domain

import (
	"context"
)

// ChatAPI is the REST collaborator that owns conversations and messages.
type ChatAPI interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	CreateConversation(ctx context.Context, in CreateConversationInput) (*Conversation, error)
	CreateDirectConversation(ctx context.Context, userID string) (*Conversation, error)
	AddMembers(ctx context.Context, conversationID string, userIDs []string) (*Conversation, error)
	RemoveMember(ctx context.Context, conversationID, userID string) (*Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// CreateConversationInput is the body of a create-conversation call.
type CreateConversationInput struct {
	Name      *string          `json:"name,omitempty"`
	Type      ConversationType `json:"type"`
	MemberIDs []string         `json:"member_ids"`
}

// ConversationCache persists the last known conversation list for warm starts.
type ConversationCache interface {
	SaveConversations(ctx context.Context, convs []Conversation) error
	LoadConversations(ctx context.Context) ([]Conversation, error)
}

// Notifier receives state-change notifications for UI subscribers.
type Notifier interface {
	Notify(topic string, payload any)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, any) {}

// Notification topics published to UI subscribers.
const (
	TopicConnection    = "connection"
	TopicPresence      = "presence"
	TopicUnread        = "unread"
	TopicTyping        = "typing"
	TopicConversations = "conversations"
	TopicMessages      = "messages"
	TopicChatError     = "chat_error"
	TopicRoom          = "room"
	TopicMedia         = "media"
)
