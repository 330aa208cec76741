// Package service wires one signaling connection into every real-time
// component of a logged-in session.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"rtclient/internal/chatsync"
	"rtclient/internal/domain"
	"rtclient/internal/presence"
	"rtclient/internal/rtc"
	"rtclient/internal/signaling"
	"rtclient/internal/typing"
	"rtclient/internal/unread"
)

// Link is the session's signaling connection. *signaling.Manager satisfies it.
type Link interface {
	signaling.Bus
	Connect(ctx context.Context, token string) error
	Disconnect()
	Status() signaling.Status
}

var _ Link = (*signaling.Manager)(nil)

type Options struct {
	Token    string
	UserID   string
	UserName string

	PageSize       int
	TypingTTL      time.Duration
	ErrorTTL       time.Duration
	TypingThrottle time.Duration

	Cache    domain.ConversationCache
	Notifier domain.Notifier
	Logger   *slog.Logger
}

// ConnectionView is the connection state published to UI subscribers.
type ConnectionView struct {
	Status   signaling.Status `json:"status"`
	UserID   string           `json:"user_id"`
	UserName string           `json:"user_name,omitempty"`
}

// Session owns the components of one logged-in user. All of them share
// the same Link, so there is exactly one signaling connection.
type Session struct {
	link   Link
	opts   Options
	log    *slog.Logger
	notify domain.Notifier
	subs   []signaling.Subscription

	Presence *presence.Tracker
	Unread   *unread.Tracker
	Typing   *typing.Tracker
	Chat     *chatsync.Engine
	Room     *rtc.Room
	Media    *rtc.MediaController
}

func NewSession(link Link, api domain.ChatAPI, peers rtc.PeerFactory, devices rtc.MediaDevices, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	if devices == nil {
		devices = &rtc.SyntheticDevices{}
	}
	logger := opts.Logger.With("user_id", opts.UserID)

	s := &Session{
		link:   link,
		opts:   opts,
		log:    logger.With("component", "session"),
		notify: opts.Notifier,
	}
	s.Presence = presence.NewTracker(link, logger, opts.Notifier)
	s.Unread = unread.NewTracker(opts.Notifier)
	s.Typing = typing.NewTracker(link, typing.Options{
		SelfID:   opts.UserID,
		TTL:      opts.TypingTTL,
		Logger:   logger,
		Notifier: opts.Notifier,
	})
	s.Chat = chatsync.NewEngine(link, api, s.Unread, chatsync.Options{
		SelfID:         opts.UserID,
		PageSize:       opts.PageSize,
		ErrorTTL:       opts.ErrorTTL,
		TypingThrottle: opts.TypingThrottle,
		Cache:          opts.Cache,
		Logger:         logger,
		Notifier:       opts.Notifier,
	})
	s.Room = rtc.NewRoom(link, peers, devices, rtc.RoomOptions{Logger: logger, Notifier: opts.Notifier})
	s.Media = rtc.NewMediaController(s.Room, devices, logger)

	for _, event := range []string{signaling.EventConnect, signaling.EventDisconnect, signaling.EventReconnectFailed} {
		event := event
		s.subs = append(s.subs, link.On(event, func(json.RawMessage) { s.connectionChanged(event) }))
	}
	return s
}

// Start renders the cached conversation list, if any, and opens the
// signaling connection. It does not wait for the connection to come up.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Chat.WarmStart(ctx); err != nil {
		s.log.Warn("warm start from cache failed", "err", err)
	}
	if err := s.link.Connect(ctx, s.opts.Token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.publishConnection()
	return nil
}

// Stop leaves any room, releases every component and closes the connection.
func (s *Session) Stop() {
	if err := s.Room.Leave(); err != nil {
		s.log.Warn("leave room on shutdown", "err", err)
	}
	s.Chat.Close()
	s.Typing.Close()
	s.Presence.Close()
	for _, sub := range s.subs {
		s.link.Off(sub.Event, sub)
	}
	s.subs = nil
	s.link.Disconnect()
	s.publishConnection()
}

// Reconnect starts a fresh connection loop after the link gave up.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.link.Connect(ctx, s.opts.Token); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	s.publishConnection()
	return nil
}

// JoinRoom joins a conference room as the session's user.
func (s *Session) JoinRoom(ctx context.Context, roomID string, observer bool) error {
	return s.Room.Join(ctx, rtc.JoinOptions{
		RoomID:   roomID,
		UserID:   s.opts.UserID,
		UserName: s.opts.UserName,
		Observer: observer,
	})
}

func (s *Session) Connection() ConnectionView {
	return ConnectionView{Status: s.link.Status(), UserID: s.opts.UserID, UserName: s.opts.UserName}
}

func (s *Session) connectionChanged(event string) {
	switch event {
	case signaling.EventReconnectFailed:
		s.log.Error("signaling gave up reconnecting")
	case signaling.EventDisconnect:
		s.log.Warn("signaling disconnected")
	default:
		s.log.Info("signaling connected")
	}
	s.publishConnection()
}

func (s *Session) publishConnection() {
	s.notify.Notify(domain.TopicConnection, s.Connection())
}
