// Package signalingtest provides an in-memory signaling.Bus for component tests.
package signalingtest

import (
	"encoding/json"
	"strconv"
	"sync"

	"rtclient/internal/signaling"
)

// Emitted is one event sent through the bus.
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

type entry struct {
	id string
	fn signaling.Handler
}

// FakeBus records emits and lets tests deliver inbound events synchronously.
// Like the real manager it drops emits while disconnected.
type FakeBus struct {
	mu        sync.Mutex
	connected bool
	seq       int
	handlers  map[string][]entry
	emitted   []Emitted
	dropped   []Emitted
}

var _ signaling.Bus = (*FakeBus)(nil)

// NewFakeBus returns a connected bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{connected: true, handlers: make(map[string][]entry)}
}

func (b *FakeBus) Emit(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		raw = data
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		b.dropped = append(b.dropped, Emitted{Event: event, Payload: raw})
		return
	}
	b.emitted = append(b.emitted, Emitted{Event: event, Payload: raw})
}

func (b *FakeBus) On(event string, h signaling.Handler) signaling.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := strconv.Itoa(b.seq)
	b.handlers[event] = append(b.handlers[event], entry{id: id, fn: h})
	return signaling.Subscription{Event: event, ID: id}
}

func (b *FakeBus) Off(event string, subs ...signaling.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(subs) == 0 {
		delete(b.handlers, event)
		return
	}
	var kept []entry
	for _, e := range b.handlers[event] {
		drop := false
		for _, s := range subs {
			if s.ID == e.id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, event)
		return
	}
	b.handlers[event] = kept
}

func (b *FakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetConnected flips the connection flag without delivering lifecycle events.
func (b *FakeBus) SetConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// Connect marks the bus connected and delivers the connect event.
func (b *FakeBus) Connect() {
	b.SetConnected(true)
	b.Deliver(signaling.EventConnect, nil)
}

// Disconnect marks the bus disconnected and delivers the disconnect event.
func (b *FakeBus) Disconnect() {
	b.SetConnected(false)
	b.Deliver(signaling.EventDisconnect, nil)
}

// Deliver runs every handler of event on the calling goroutine.
// payload may be a json.RawMessage or any value encodable as JSON.
func (b *FakeBus) Deliver(event string, payload any) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			panic(err)
		}
		raw = data
	}

	b.mu.Lock()
	entries := append([]entry(nil), b.handlers[event]...)
	b.mu.Unlock()
	for _, e := range entries {
		e.fn(raw)
	}
}

// Emitted returns the payloads sent for event, or every emit when event is empty.
func (b *FakeBus) Emitted(event string) []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Emitted
	for _, e := range b.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the names of every emitted event in order.
func (b *FakeBus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.emitted))
	for _, e := range b.emitted {
		out = append(out, e.Event)
	}
	return out
}

// Last decodes the most recent payload emitted for event into v.
func (b *FakeBus) Last(event string, v any) bool {
	all := b.Emitted(event)
	if len(all) == 0 {
		return false
	}
	return json.Unmarshal(all[len(all)-1].Payload, v) == nil
}

// Dropped returns the emits discarded while disconnected.
func (b *FakeBus) Dropped() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emitted(nil), b.dropped...)
}

// HandlerCount returns how many handlers are registered for event.
func (b *FakeBus) HandlerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// Reset forgets recorded emits.
func (b *FakeBus) Reset() {
	b.mu.Lock()
	b.emitted = nil
	b.dropped = nil
	b.mu.Unlock()
}
