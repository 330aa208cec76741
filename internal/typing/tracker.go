// Package typing tracks who is typing in which conversation.
package typing

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rtclient/internal/domain"
	"rtclient/internal/signaling"
)

// DefaultTTL is how long a typing fact lives after the last typing event.
const DefaultTTL = 3000 * time.Millisecond

// Stopper is the part of *time.Timer the tracker needs.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via a wrapper.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

type Options struct {
	SelfID    string
	TTL       time.Duration
	Logger    *slog.Logger
	Notifier  domain.Notifier
	AfterFunc AfterFunc
	Now       func() time.Time
}

type key struct {
	user string
	conv string
}

type fact struct {
	domain.TypingFact
	gen   uint64
	timer Stopper
}

// Tracker holds at most one fact per (user, conversation) and removes it
// on a timer exactly TTL after the latest event for that pair.
type Tracker struct {
	bus       signaling.Bus
	self      string
	ttl       time.Duration
	afterFunc AfterFunc
	now       func() time.Time
	log       *slog.Logger
	notify    domain.Notifier

	mu    sync.Mutex
	gen   uint64
	facts map[key]*fact

	subs []signaling.Subscription
}

func NewTracker(bus signaling.Bus, opts Options) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	t := &Tracker{
		bus:       bus,
		self:      opts.SelfID,
		ttl:       opts.TTL,
		afterFunc: opts.AfterFunc,
		now:       opts.Now,
		log:       opts.Logger.With("component", "typing"),
		notify:    opts.Notifier,
		facts:     make(map[key]*fact),
	}
	t.subs = []signaling.Subscription{
		bus.On(domain.EventUserTyping, t.handleTyping),
	}
	return t
}

func (t *Tracker) handleTyping(payload json.RawMessage) {
	var p domain.UserTypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" || p.ChannelID == "" {
		t.log.Warn("bad typing payload", "err", err)
		return
	}
	t.Observe(p.UserID, p.UserName, p.ChannelID)
}

// Observe records a typing event. Events from the local user are ignored.
func (t *Tracker) Observe(userID, userName, conversationID string) {
	if userID == t.self {
		return
	}
	k := key{user: userID, conv: conversationID}

	t.mu.Lock()
	if old, ok := t.facts[k]; ok {
		old.timer.Stop()
	}
	t.gen++
	g := t.gen
	f := &fact{
		TypingFact: domain.TypingFact{
			UserID:         userID,
			UserName:       userName,
			ConversationID: conversationID,
			At:             t.now(),
		},
		gen: g,
	}
	t.facts[k] = f
	f.timer = t.afterFunc(t.ttl, func() { t.expire(k, g) })
	t.mu.Unlock()

	t.publish(conversationID)
}

// expire removes the fact only if no newer event replaced it.
func (t *Tracker) expire(k key, gen uint64) {
	t.mu.Lock()
	f, ok := t.facts[k]
	if !ok || f.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.facts, k)
	t.mu.Unlock()

	t.publish(k.conv)
}

// Typing returns who is typing in a conversation, oldest first.
func (t *Tracker) Typing(conversationID string) []domain.TypingFact {
	t.mu.Lock()
	var out []domain.TypingFact
	for k, f := range t.facts {
		if k.conv == conversationID {
			out = append(out, f.TypingFact)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

func (t *Tracker) IsTyping(userID, conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.facts[key{user: userID, conv: conversationID}]
	return ok
}

// Close unsubscribes and cancels every pending expiry.
func (t *Tracker) Close() {
	for _, s := range t.subs {
		t.bus.Off(s.Event, s)
	}
	t.subs = nil

	t.mu.Lock()
	for k, f := range t.facts {
		f.timer.Stop()
		delete(t.facts, k)
	}
	t.mu.Unlock()
}

type typingChange struct {
	ConversationID string              `json:"conversation_id"`
	Users          []domain.TypingFact `json:"users"`
}

func (t *Tracker) publish(conversationID string) {
	t.notify.Notify(domain.TopicTyping, typingChange{ConversationID: conversationID, Users: t.Typing(conversationID)})
}
