// Package chatsync reconciles REST-loaded conversations and messages with
// live pushes from the signaling channel.
package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rtclient/internal/domain"
	"rtclient/internal/signaling"
	"rtclient/internal/unread"
)

const (
	DefaultPageSize       = 50
	DefaultErrorTTL       = 5 * time.Second
	DefaultTypingThrottle = 2 * time.Second
	backgroundTimeout     = 15 * time.Second
)

type Options struct {
	SelfID         string
	PageSize       int
	ErrorTTL       time.Duration
	TypingThrottle time.Duration
	Cache          domain.ConversationCache
	Logger         *slog.Logger
	Notifier       domain.Notifier
	Now            func() time.Time
}

// Engine is the single owner of the conversation list and of the active
// conversation's message list. Outbound chat operations are emitted without
// touching local state; the server's echo updates it.
type Engine struct {
	bus    signaling.Bus
	api    domain.ChatAPI
	unread *unread.Tracker
	opts   Options
	log    *slog.Logger
	notify domain.Notifier

	mu            sync.RWMutex
	conversations []domain.Conversation
	activeID      string
	panelVisible  bool
	messages      []domain.Message
	loadSeq       uint64
	fetching      map[string]bool
	lastTyping    map[string]time.Time

	errMu    sync.Mutex
	errText  string
	errGen   uint64
	errTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []signaling.Subscription
}

func NewEngine(bus signaling.Bus, api domain.ChatAPI, tracker *unread.Tracker, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ErrorTTL <= 0 {
		opts.ErrorTTL = DefaultErrorTTL
	}
	if opts.TypingThrottle <= 0 {
		opts.TypingThrottle = DefaultTypingThrottle
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
	if tracker == nil {
		tracker = unread.NewTracker(opts.Notifier)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		bus:        bus,
		api:        api,
		unread:     tracker,
		opts:       opts,
		log:        opts.Logger.With("component", "chatsync"),
		notify:     opts.Notifier,
		fetching:   make(map[string]bool),
		lastTyping: make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.subs = []signaling.Subscription{
		bus.On(signaling.EventConnect, func(json.RawMessage) { e.goBackground(e.resync) }),
		bus.On(domain.EventNewMessage, e.handleNewMessage),
		bus.On(domain.EventMessageEdited, e.handleMessageEdited),
		bus.On(domain.EventMessageDeleted, e.handleMessageDeleted),
		bus.On(domain.EventChatError, e.handleChatError),
	}
	return e
}

// Close unsubscribes, cancels background fetches and waits for them.
func (e *Engine) Close() {
	for _, s := range e.subs {
		e.bus.Off(s.Event, s)
	}
	e.subs = nil
	e.cancel()
	e.wg.Wait()

	e.errMu.Lock()
	if e.errTimer != nil {
		e.errTimer.Stop()
	}
	e.errMu.Unlock()
}

// Unread exposes the tracker the engine feeds.
func (e *Engine) Unread() *unread.Tracker { return e.unread }

func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// WarmStart fills an empty conversation list from the local cache.
func (e *Engine) WarmStart(ctx context.Context) error {
	if e.opts.Cache == nil {
		return nil
	}
	convs, err := e.opts.Cache.LoadConversations(ctx)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	e.mu.Lock()
	if len(e.conversations) == 0 {
		e.conversations = convs
	}
	e.mu.Unlock()
	e.publishConversations()
	return nil
}

// LoadConversations replaces the cached list with the server's. On failure
// the previous list is kept as is.
func (e *Engine) LoadConversations(ctx context.Context) error {
	convs, err := e.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}

	seed := make(map[string]int, len(convs))
	for _, c := range convs {
		seed[c.ID] = c.UnreadCount
	}

	e.mu.Lock()
	e.conversations = append([]domain.Conversation(nil), convs...)
	active := e.activeID
	e.mu.Unlock()

	if active != "" {
		delete(seed, active)
	}
	e.unread.Seed(seed)
	e.saveCache(ctx)
	e.publishConversations()
	return nil
}

// resync runs after every (re)connect: missed pushes cannot be replayed, so
// the list and the visible page are fetched again.
func (e *Engine) resync(ctx context.Context) {
	if err := e.LoadConversations(ctx); err != nil {
		e.log.Warn("resync: conversations", "err", err)
	}
	ids := e.conversationIDs()
	if len(ids) > 0 {
		e.bus.Emit(domain.EventJoinChannels, domain.JoinChannelsPayload{ChannelIDs: ids})
	}
	if active := e.ActiveID(); active != "" {
		e.bus.Emit(domain.EventJoinChannel, domain.ChannelPayload{ChannelID: active})
		if _, err := e.LoadMessages(ctx, active); err != nil {
			e.log.Warn("resync: messages", "conversation_id", active, "err", err)
		}
	}
}

// LoadMessages fetches the first page of a conversation, oldest first. The
// page replaces the visible list only if the conversation is still active
// and no newer load was started meanwhile.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	e.mu.Lock()
	e.loadSeq++
	seq := e.loadSeq
	e.mu.Unlock()

	page, err := e.api.ListMessages(ctx, conversationID, e.opts.PageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	sort.SliceStable(page, func(i, j int) bool { return page[i].CreatedAt.Before(page[j].CreatedAt) })

	e.mu.Lock()
	if seq != e.loadSeq || e.activeID != conversationID {
		e.mu.Unlock()
		e.log.Debug("discarding stale message page", "conversation_id", conversationID)
		return page, nil
	}
	// keep pushes that arrived while the page was in flight
	seen := make(map[string]bool, len(page))
	for _, m := range page {
		seen[m.ID] = true
	}
	next := append([]domain.Message(nil), page...)
	for _, m := range e.messages {
		if !seen[m.ID] {
			next = append(next, m)
		}
	}
	e.messages = next
	e.mu.Unlock()

	e.publishMessages()
	return page, nil
}

// SetActiveConversation switches the visible conversation. The message
// list is cleared before anything is fetched. A nil conversation only clears.
func (e *Engine) SetActiveConversation(ctx context.Context, conv *domain.Conversation) error {
	e.mu.Lock()
	e.loadSeq++
	e.messages = nil
	if conv == nil {
		e.activeID = ""
		e.mu.Unlock()
		e.publishMessages()
		return nil
	}
	e.activeID = conv.ID
	if e.indexOf(conv.ID) < 0 {
		e.conversations = append([]domain.Conversation{*conv}, e.conversations...)
	}
	e.mu.Unlock()
	e.publishMessages()

	e.bus.Emit(domain.EventJoinChannel, domain.ChannelPayload{ChannelID: conv.ID})
	e.markRead(conv.ID)

	_, err := e.LoadMessages(ctx, conv.ID)
	return err
}

// SetPanelVisible records whether the chat surface is open. Opening it on
// the active conversation marks that conversation read.
func (e *Engine) SetPanelVisible(visible bool) {
	e.mu.Lock()
	e.panelVisible = visible
	active := e.activeID
	e.mu.Unlock()

	if visible && active != "" && e.unread.Count(active) > 0 {
		e.markRead(active)
	}
}

func (e *Engine) markRead(conversationID string) {
	e.unread.Clear(conversationID)
	e.bus.Emit(domain.EventMarkRead, domain.ChannelPayload{ChannelID: conversationID})
}

// Visibility is the current unread gate input.
func (e *Engine) Visibility() unread.Visibility {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return unread.Visibility{ActiveID: e.activeID, PanelVisible: e.panelVisible}
}

func (e *Engine) ActiveID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeID
}

// Messages returns a copy of the active conversation's message list.
func (e *Engine) Messages() []domain.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Message(nil), e.messages...)
}

// Conversations returns a copy of the cached conversation list.
func (e *Engine) Conversations() []domain.Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Conversation(nil), e.conversations...)
}

func (e *Engine) Conversation(id string) (domain.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.indexOf(id); i >= 0 {
		return e.conversations[i], true
	}
	return domain.Conversation{}, false
}

// LastError returns the current transient chat error, if it has not expired.
func (e *Engine) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.errText
}

func (e *Engine) conversationIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.conversations))
	for _, c := range e.conversations {
		ids = append(ids, c.ID)
	}
	return ids
}

// indexOf must be called with mu held.
func (e *Engine) indexOf(id string) int {
	for i := range e.conversations {
		if e.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) saveCache(ctx context.Context) {
	if e.opts.Cache == nil {
		return
	}
	if err := e.opts.Cache.SaveConversations(ctx, e.Conversations()); err != nil {
		e.log.Warn("save conversation cache", "err", err)
	}
}

func (e *Engine) publishConversations() {
	e.notify.Notify(domain.TopicConversations, e.Conversations())
}

type messagesChange struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

func (e *Engine) publishMessages() {
	e.mu.RLock()
	change := messagesChange{ConversationID: e.activeID, Messages: append([]domain.Message(nil), e.messages...)}
	e.mu.RUnlock()
	e.notify.Notify(domain.TopicMessages, change)
}

func (e *Engine) setError(text string) {
	e.errMu.Lock()
	e.errGen++
	gen := e.errGen
	e.errText = text
	if e.errTimer != nil {
		e.errTimer.Stop()
	}
	e.errTimer = time.AfterFunc(e.opts.ErrorTTL, func() {
		e.errMu.Lock()
		if e.errGen != gen {
			e.errMu.Unlock()
			return
		}
		e.errText = ""
		e.errMu.Unlock()
		e.notify.Notify(domain.TopicChatError, domain.ChatErrorPayload{})
	})
	e.errMu.Unlock()
	e.notify.Notify(domain.TopicChatError, domain.ChatErrorPayload{Message: text})
}

var errEmptyMessage = errors.New("message has no content")
