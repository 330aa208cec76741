package chatsync

import (
	"context"
	"fmt"
	"strings"

	"rtclient/internal/domain"
)

// SendMessageInput is an outbound chat message.
type SendMessageInput struct {
	ConversationID string
	Content        string
	Type           domain.MessageType
	Attachments    []domain.Attachment
}

// SendMessage emits the message. Nothing is added locally; the server's
// chat:new_message echo appends it.
func (e *Engine) SendMessage(in SendMessageInput) error {
	if in.ConversationID == "" {
		return fmt.Errorf("%w: conversation id required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, errEmptyMessage)
	}
	if !e.bus.Connected() {
		return domain.ErrNotConnected
	}
	if in.Type == "" {
		in.Type = domain.MessageText
		if len(in.Attachments) > 0 {
			in.Type = domain.MessageFile
		}
	}
	e.bus.Emit(domain.EventSendMessage, domain.SendMessagePayload{
		ChannelID:   in.ConversationID,
		Content:     in.Content,
		Type:        in.Type,
		Attachments: in.Attachments,
	})
	return nil
}

func (e *Engine) EditMessage(messageID, content string) error {
	if messageID == "" || strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message id and content required", domain.ErrInvalidInput)
	}
	if !e.bus.Connected() {
		return domain.ErrNotConnected
	}
	e.bus.Emit(domain.EventEditMessage, domain.EditMessagePayload{
		MessageID: messageID,
		ChannelID: e.ActiveID(),
		Content:   content,
	})
	return nil
}

func (e *Engine) DeleteMessage(messageID string) error {
	if messageID == "" {
		return fmt.Errorf("%w: message id required", domain.ErrInvalidInput)
	}
	if !e.bus.Connected() {
		return domain.ErrNotConnected
	}
	e.bus.Emit(domain.EventDeleteMessage, domain.DeleteMessagePayload{
		MessageID: messageID,
		ChannelID: e.ActiveID(),
	})
	return nil
}

// SendTyping tells the conversation that the local user is typing, at most
// once per throttle window. It reports whether an event was emitted.
func (e *Engine) SendTyping(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	now := e.opts.Now()

	e.mu.Lock()
	last, ok := e.lastTyping[conversationID]
	if ok && now.Sub(last) < e.opts.TypingThrottle {
		e.mu.Unlock()
		return false
	}
	e.lastTyping[conversationID] = now
	e.mu.Unlock()

	e.bus.Emit(domain.EventTyping, domain.ChannelPayload{ChannelID: conversationID})
	return true
}

// Membership operations are REST calls. Errors go back to the caller and
// leave the cached list untouched.

func (e *Engine) CreateConversation(ctx context.Context, in domain.CreateConversationInput) (*domain.Conversation, error) {
	conv, err := e.api.CreateConversation(ctx, in)
	if err != nil {
		return nil, err
	}
	e.upsert(ctx, *conv)
	e.bus.Emit(domain.EventJoinChannel, domain.ChannelPayload{ChannelID: conv.ID})
	return conv, nil
}

// CreateDirectConversation returns the direct conversation with userID,
// reusing the cached entry when the server hands back an existing one.
func (e *Engine) CreateDirectConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	if userID == "" || userID == e.opts.SelfID {
		return nil, fmt.Errorf("%w: invalid direct conversation peer", domain.ErrInvalidInput)
	}
	conv, err := e.api.CreateDirectConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.upsert(ctx, *conv)
	e.bus.Emit(domain.EventJoinChannel, domain.ChannelPayload{ChannelID: conv.ID})
	return conv, nil
}

func (e *Engine) AddMembers(ctx context.Context, conversationID string, userIDs []string) (*domain.Conversation, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: no members given", domain.ErrInvalidInput)
	}
	conv, err := e.api.AddMembers(ctx, conversationID, userIDs)
	if err != nil {
		return nil, err
	}
	e.upsert(ctx, *conv)
	return conv, nil
}

// RemoveMember removes userID. Removing the local user drops the
// conversation from the list and leaves its channel.
func (e *Engine) RemoveMember(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := e.api.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if userID == e.opts.SelfID || conv == nil {
		e.drop(ctx, conversationID)
		return conv, nil
	}
	e.upsert(ctx, *conv)
	return conv, nil
}

func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := e.api.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	e.drop(ctx, conversationID)
	return nil
}

// upsert replaces the entry with the same id, or prepends a new one.
func (e *Engine) upsert(ctx context.Context, conv domain.Conversation) {
	e.mu.Lock()
	if i := e.indexOf(conv.ID); i >= 0 {
		e.conversations[i] = mergeConversation(conv, e.conversations[i])
	} else {
		e.conversations = append([]domain.Conversation{conv}, e.conversations...)
	}
	e.mu.Unlock()
	e.saveCache(ctx)
	e.publishConversations()
}

func (e *Engine) drop(ctx context.Context, conversationID string) {
	e.mu.Lock()
	if i := e.indexOf(conversationID); i >= 0 {
		e.conversations = append(e.conversations[:i], e.conversations[i+1:]...)
	}
	wasActive := e.activeID == conversationID
	if wasActive {
		e.activeID = ""
		e.messages = nil
		e.loadSeq++
	}
	e.mu.Unlock()

	e.bus.Emit(domain.EventLeaveChannel, domain.ChannelPayload{ChannelID: conversationID})
	e.unread.Forget(conversationID)
	e.saveCache(ctx)
	e.publishConversations()
	if wasActive {
		e.publishMessages()
	}
}
