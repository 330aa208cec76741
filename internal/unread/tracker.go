// Package unread keeps per-conversation unread counters.
package unread

import (
	"sync"

	"rtclient/internal/domain"
)

// Visibility is what the user currently looks at: the selected conversation
// and whether the chat panel around it is open.
type Visibility struct {
	ActiveID     string `json:"active_id"`
	PanelVisible bool   `json:"panel_visible"`
}

// Shows reports whether a message in conversationID is on screen right now.
func (v Visibility) Shows(conversationID string) bool {
	return v.PanelVisible && v.ActiveID != "" && v.ActiveID == conversationID
}

// Tracker holds unread counts. Counts never go below zero.
type Tracker struct {
	mu     sync.RWMutex
	counts map[string]int
	notify domain.Notifier
}

func NewTracker(notify domain.Notifier) *Tracker {
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Tracker{counts: make(map[string]int), notify: notify}
}

// Track applies the unread rule to an inbound message and reports whether
// the counter was incremented. Own messages and messages in the active,
// visible conversation are not counted.
func (t *Tracker) Track(conversationID, senderID, selfID string, v Visibility) bool {
	if conversationID == "" || senderID == selfID || v.Shows(conversationID) {
		return false
	}
	t.Increment(conversationID)
	return true
}

func (t *Tracker) Increment(conversationID string) {
	t.mu.Lock()
	t.counts[conversationID]++
	n := t.counts[conversationID]
	t.mu.Unlock()
	t.publish(conversationID, n)
}

// Clear zeroes a conversation's counter.
func (t *Tracker) Clear(conversationID string) {
	t.mu.Lock()
	_, had := t.counts[conversationID]
	delete(t.counts, conversationID)
	t.mu.Unlock()
	if had {
		t.publish(conversationID, 0)
	}
}

// Seed raises counters to the values reported by the server after a list
// load. It never lowers a counter; only Clear does.
func (t *Tracker) Seed(counts map[string]int) {
	t.mu.Lock()
	for id, n := range counts {
		if n > t.counts[id] {
			t.counts[id] = n
		}
	}
	t.mu.Unlock()
	t.publish("", 0)
}

// Forget drops the counter of a conversation that no longer exists.
func (t *Tracker) Forget(conversationID string) {
	t.Clear(conversationID)
}

func (t *Tracker) Count(conversationID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[conversationID]
}

// Total is the sum over every conversation.
func (t *Tracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// Counts returns a copy of the non-zero counters.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.counts))
	for id, n := range t.counts {
		out[id] = n
	}
	return out
}

// State is what every unread notification carries: all counters, plus the
// conversation that changed when a single counter moved.
type State struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Count          int            `json:"count"`
	Total          int            `json:"total"`
	Counts         map[string]int `json:"counts"`
}

// Snapshot returns the counters and their total taken under one lock.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := State{Counts: make(map[string]int, len(t.counts))}
	for id, n := range t.counts {
		st.Counts[id] = n
		st.Total += n
	}
	return st
}

func (t *Tracker) publish(conversationID string, n int) {
	st := t.Snapshot()
	st.ConversationID = conversationID
	st.Count = n
	t.notify.Notify(domain.TopicUnread, st)
}
