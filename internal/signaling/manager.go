package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rtclient/internal/domain"
)

// Reserved local events delivered through the same handler registry as wire events.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)

// Status is the lifecycle state of the signaling connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 5 * time.Second
	dispatchQueueSize  = 256
)

// Handler receives the raw JSON payload of an event. Reserved events carry nil.
type Handler func(payload json.RawMessage)

// Subscription identifies one registered handler.
type Subscription struct {
	Event string
	ID    string
}

// Bus is the part of Manager the trackers and engines depend on.
type Bus interface {
	Emit(event string, payload any)
	On(event string, h Handler) Subscription
	Off(event string, subs ...Subscription)
	Connected() bool
}

// Options configures a Manager. Zero values fall back to the defaults
// (5 attempts, 1s base delay, 5s cap).
type Options struct {
	Transports  []Transport
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

type handlerEntry struct {
	id string
	fn Handler
}

// Manager owns the single authenticated signaling connection of a session.
// Every handler runs on one dispatch goroutine, in arrival order.
type Manager struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	conn     Conn
	status   Status
	attempts int
	lastErr  error
	cancel   context.CancelFunc

	hmu      sync.RWMutex
	handlers map[string][]handlerEntry
}

var _ Bus = (*Manager)(nil)

func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		log:      logger.With("component", "signaling"),
		status:   StatusDisconnected,
		handlers: make(map[string][]handlerEntry),
	}
}

// Connect starts the connection loop. It is a no-op while a loop is already
// running; after the manager gave up it starts over with a fresh counter.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", domain.ErrUnauthorized)
	}
	if len(m.opts.Transports) == 0 {
		return errors.New("signaling: no transports configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil && m.status != StatusFailed {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	queue := make(chan func(), dispatchQueueSize)
	m.cancel = cancel
	m.attempts = 0
	m.lastErr = nil
	m.status = StatusConnecting

	go m.dispatchLoop(runCtx, queue)
	go m.run(runCtx, token, queue)
	return nil
}

// Disconnect tears the transport down and resets the retry counter.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.attempts = 0
	m.status = StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Emit sends an event. Delivery is best effort: when not connected the event
// is dropped with a warning.
func (m *Manager) Emit(event string, payload any) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		m.log.Warn("emit while not connected", "event", event)
		return
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			m.log.Warn("emit: encode payload", "event", event, "err", err)
			return
		}
		data = raw
	}
	if err := conn.Write(Envelope{Event: event, Data: data}); err != nil {
		m.log.Warn("emit failed", "event", event, "err", err)
	}
}

// On registers a handler for event.
func (m *Manager) On(event string, h Handler) Subscription {
	sub := Subscription{Event: event, ID: uuid.NewString()}
	m.hmu.Lock()
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: sub.ID, fn: h})
	m.hmu.Unlock()
	return sub
}

// Off removes the given subscriptions, or every handler of event when none are given.
func (m *Manager) Off(event string, subs ...Subscription) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	if len(subs) == 0 {
		delete(m.handlers, event)
		return
	}
	drop := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		drop[s.ID] = struct{}{}
	}
	kept := m.handlers[event][:0:0]
	for _, e := range m.handlers[event] {
		if _, ok := drop[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = kept
}

func (m *Manager) Connected() bool {
	return m.Status() == StatusConnected
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempts returns the number of consecutive failed connection attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the error that made the manager give up, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) run(ctx context.Context, token string, queue chan func()) {
	for {
		conn, err := m.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n, ok := m.recordFailure(ctx)
			if !ok {
				return
			}
			if n >= m.opts.MaxAttempts {
				m.giveUp(ctx, queue, err)
				return
			}
			delay := m.backoff(n)
			m.log.Warn("connect failed, retrying", "attempt", n, "delay", delay, "err", err)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		if !m.attach(ctx, queue, conn) {
			_ = conn.Close()
			return
		}
		err = m.readLoop(ctx, queue, conn)
		m.detach(ctx, queue, conn)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("signaling connection dropped", "err", err)
		if !sleepCtx(ctx, m.backoff(1)) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (Conn, error) {
	var errs []error
	for _, t := range m.opts.Transports {
		conn, err := t.Dial(ctx, token)
		if err == nil {
			m.log.Info("signaling connected", "transport", t.Name())
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (m *Manager) readLoop(ctx context.Context, queue chan func(), conn Conn) error {
	for {
		env, err := conn.Read()
		if err != nil {
			return err
		}
		event, data := env.Event, env.Data
		enqueue(ctx, queue, func() { m.deliver(event, data) })
	}
}

func (m *Manager) attach(ctx context.Context, queue chan func(), conn Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.status = StatusConnected
	m.mu.Unlock()

	enqueue(ctx, queue, func() { m.deliver(EventConnect, nil) })
	return true
}

func (m *Manager) detach(ctx context.Context, queue chan func(), conn Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if ctx.Err() == nil {
		m.status = StatusReconnecting
	}
	m.mu.Unlock()

	_ = conn.Close()
	enqueue(ctx, queue, func() { m.deliver(EventDisconnect, nil) })
}

func (m *Manager) recordFailure(ctx context.Context) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return 0, false
	}
	m.attempts++
	m.status = StatusReconnecting
	return m.attempts, true
}

func (m *Manager) giveUp(ctx context.Context, queue chan func(), err error) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.status = StatusFailed
	m.lastErr = fmt.Errorf("%w: %v", domain.ErrGaveUp, err)
	attempts := m.attempts
	m.mu.Unlock()

	m.log.Error("giving up on signaling connection", "attempts", attempts, "err", err)
	enqueue(ctx, queue, func() { m.deliver(EventReconnectFailed, nil) })
}

// backoff returns the delay before retry n (1-based): base doubled per
// attempt, capped at MaxDelay.
func (m *Manager) backoff(n int) time.Duration {
	d := m.opts.BaseDelay
	for i := 1; i < n && d < m.opts.MaxDelay; i++ {
		d *= 2
	}
	if d > m.opts.MaxDelay {
		d = m.opts.MaxDelay
	}
	return d
}

func (m *Manager) dispatchLoop(ctx context.Context, queue <-chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-queue:
			fn()
		}
	}
}

func (m *Manager) deliver(event string, payload json.RawMessage) {
	m.hmu.RLock()
	entries := append([]handlerEntry(nil), m.handlers[event]...)
	m.hmu.RUnlock()

	for _, e := range entries {
		m.invoke(event, e.fn, payload)
	}
}

func (m *Manager) invoke(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("signaling handler panic", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

func enqueue(ctx context.Context, queue chan func(), fn func()) {
	select {
	case queue <- fn:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
