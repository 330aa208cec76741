package chatsync

import (
	"context"
	"encoding/json"
	"time"

	"rtclient/internal/domain"
	"rtclient/internal/unread"
)

// Handlers run on the signaling dispatch goroutine. They read the active
// conversation and panel state under the lock when they fire and never
// block on REST.

func (e *Engine) handleNewMessage(payload json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" || msg.ConversationID == "" {
		e.log.Warn("bad new message payload", "err", err)
		return
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = e.opts.Now()
	}

	e.mu.Lock()
	known := e.touch(msg.ConversationID, at)
	appended := false
	if msg.ConversationID == e.activeID && !e.hasMessage(msg.ID) {
		e.messages = append(e.messages, msg)
		appended = true
	}
	vis := e.visibilityLocked()
	fetch := !known && !e.fetching[msg.ConversationID]
	if fetch {
		e.fetching[msg.ConversationID] = true
	}
	e.mu.Unlock()

	counted := e.unread.Track(msg.ConversationID, msg.SenderID, e.opts.SelfID, vis)
	if !counted && msg.SenderID != e.opts.SelfID && vis.Shows(msg.ConversationID) {
		e.bus.Emit(domain.EventMarkRead, domain.ChannelPayload{ChannelID: msg.ConversationID})
	}
	if appended {
		e.publishMessages()
	}
	if fetch {
		id := msg.ConversationID
		e.goBackground(func(ctx context.Context) { e.fetchUnknown(ctx, id, at) })
	} else {
		e.publishConversations()
	}
}

// fetchUnknown adds a conversation the list did not know about yet, e.g. a
// direct chat someone else just opened with us.
func (e *Engine) fetchUnknown(ctx context.Context, id string, at time.Time) {
	conv, err := e.api.GetConversation(ctx, id)

	e.mu.Lock()
	delete(e.fetching, id)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("fetch unknown conversation", "conversation_id", id, "err", err)
		return
	}
	fresh := *conv
	if fresh.LastMessageAt == nil || at.After(*fresh.LastMessageAt) {
		fresh.LastMessageAt = &at
	}
	if i := e.indexOf(id); i >= 0 {
		e.conversations[i] = mergeConversation(fresh, e.conversations[i])
	} else {
		e.conversations = append([]domain.Conversation{fresh}, e.conversations...)
	}
	e.mu.Unlock()

	e.bus.Emit(domain.EventJoinChannel, domain.ChannelPayload{ChannelID: id})
	e.saveCache(ctx)
	e.publishConversations()
}

// messageEdit is the part of an edited message the server resends. Fields
// it leaves out keep their current value.
type messageEdit struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	Content        *string              `json:"content"`
	Attachments    *[]domain.Attachment `json:"attachments"`
}

func (e *Engine) handleMessageEdited(payload json.RawMessage) {
	var edit messageEdit
	if err := json.Unmarshal(payload, &edit); err != nil || edit.ID == "" {
		e.log.Warn("bad edited message payload", "err", err)
		return
	}

	e.mu.Lock()
	changed := false
	if edit.ConversationID == "" || edit.ConversationID == e.activeID {
		for i := range e.messages {
			m := &e.messages[i]
			if m.ID != edit.ID {
				continue
			}
			if edit.Content != nil {
				m.Content = *edit.Content
			}
			if edit.Attachments != nil {
				m.Attachments = *edit.Attachments
			}
			m.IsEdited = true
			changed = true
			break
		}
	}
	e.mu.Unlock()

	if changed {
		e.publishMessages()
	}
}

func (e *Engine) handleMessageDeleted(payload json.RawMessage) {
	var p domain.MessageDeletedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.MessageID == "" {
		e.log.Warn("bad deleted message payload", "err", err)
		return
	}

	e.mu.Lock()
	changed := false
	if p.ChannelID == "" || p.ChannelID == e.activeID {
		for i := range e.messages {
			if e.messages[i].ID == p.MessageID {
				e.messages[i].IsDeleted = true
				e.messages[i].Content = ""
				e.messages[i].Attachments = nil
				changed = true
				break
			}
		}
	}
	e.mu.Unlock()

	if changed {
		e.publishMessages()
	}
}

func (e *Engine) handleChatError(payload json.RawMessage) {
	var p domain.ChatErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Message == "" {
		var text string
		if json.Unmarshal(payload, &text) != nil || text == "" {
			text = "chat error"
		}
		p.Message = text
	}
	e.log.Info("chat error from server", "message", p.Message)
	e.setError(p.Message)
}

// touch moves a conversation to the top with a new last-message time.
// It reports whether the conversation is known. Must be called with mu held.
func (e *Engine) touch(id string, at time.Time) bool {
	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	conv := e.conversations[i]
	if conv.LastMessageAt == nil || at.After(*conv.LastMessageAt) {
		t := at
		conv.LastMessageAt = &t
	}
	copy(e.conversations[1:i+1], e.conversations[:i])
	e.conversations[0] = conv
	return true
}

func (e *Engine) hasMessage(id string) bool {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) visibilityLocked() unread.Visibility {
	return unread.Visibility{ActiveID: e.activeID, PanelVisible: e.panelVisible}
}

// mergeConversation keeps the fresher last-message time of the two copies.
func mergeConversation(fresh, cached domain.Conversation) domain.Conversation {
	if cached.LastMessageAt != nil && (fresh.LastMessageAt == nil || cached.LastMessageAt.After(*fresh.LastMessageAt)) {
		fresh.LastMessageAt = cached.LastMessageAt
	}
	return fresh
}
