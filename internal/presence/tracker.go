// Package presence keeps the live map of reachable users.
package presence

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"rtclient/internal/domain"
	"rtclient/internal/signaling"
)

// Tracker derives user presence from the online-users snapshot and
// per-user status deltas. A user missing from the map is offline.
type Tracker struct {
	bus    signaling.Bus
	log    *slog.Logger
	notify domain.Notifier

	mu      sync.RWMutex
	records map[string]domain.PresenceRecord

	subs []signaling.Subscription
}

func NewTracker(bus signaling.Bus, logger *slog.Logger, notify domain.Notifier) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	t := &Tracker{
		bus:     bus,
		log:     logger.With("component", "presence"),
		notify:  notify,
		records: make(map[string]domain.PresenceRecord),
	}
	t.subs = []signaling.Subscription{
		bus.On(signaling.EventConnect, func(json.RawMessage) { t.requestSnapshot() }),
		bus.On(domain.EventOnlineUsers, t.handleSnapshot),
		bus.On(domain.EventUserStatusChanged, t.handleDelta),
	}
	if bus.Connected() {
		t.requestSnapshot()
	}
	return t
}

// Close detaches the tracker from the signaling bus.
func (t *Tracker) Close() {
	for _, s := range t.subs {
		t.bus.Off(s.Event, s)
	}
	t.subs = nil
}

func (t *Tracker) requestSnapshot() {
	t.bus.Emit(domain.EventGetOnlineUsers, nil)
}

func (t *Tracker) handleSnapshot(payload json.RawMessage) {
	records, err := decodeSnapshot(payload)
	if err != nil {
		t.log.Warn("bad online users payload", "err", err)
		return
	}
	t.Replace(records)
}

func (t *Tracker) handleDelta(payload json.RawMessage) {
	var rec domain.PresenceRecord
	if err := json.Unmarshal(payload, &rec); err != nil || rec.UserID == "" {
		t.log.Warn("bad status change payload", "err", err)
		return
	}
	t.Apply(rec)
}

// decodeSnapshot accepts either {"users": [...]} or a bare array.
func decodeSnapshot(payload json.RawMessage) ([]domain.PresenceRecord, error) {
	var list []domain.PresenceRecord
	if err := json.Unmarshal(payload, &list); err == nil {
		return list, nil
	}
	var body domain.OnlineUsersPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

// Replace swaps the whole map for a snapshot. Offline entries are skipped.
func (t *Tracker) Replace(records []domain.PresenceRecord) {
	next := make(map[string]domain.PresenceRecord, len(records))
	for _, r := range records {
		if r.UserID == "" || r.Status == domain.StatusOffline {
			continue
		}
		if r.Status == "" {
			r.Status = domain.StatusOnline
		}
		next[r.UserID] = r
	}
	t.mu.Lock()
	t.records = next
	t.mu.Unlock()
	t.publish(nil)
}

// Apply upserts one record, or removes it when the status is offline.
func (t *Tracker) Apply(rec domain.PresenceRecord) {
	t.mu.Lock()
	if rec.Status == domain.StatusOffline || rec.Status == "" {
		delete(t.records, rec.UserID)
	} else {
		t.records[rec.UserID] = rec
	}
	t.mu.Unlock()
	t.publish(&rec)
}

// StatusOf returns the user's status; ok is false when the user is offline.
func (t *Tracker) StatusOf(userID string) (domain.PresenceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec.Status, ok
}

// Record returns the full presence record of a reachable user.
func (t *Tracker) Record(userID string) (domain.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// IsOnline reports reachability: online, away, busy and in_meeting all count.
func (t *Tracker) IsOnline(userID string) bool {
	s, ok := t.StatusOf(userID)
	return ok && s.Reachable()
}

// Snapshot returns every present record sorted by user id.
func (t *Tracker) Snapshot() []domain.PresenceRecord {
	t.mu.RLock()
	out := make([]domain.PresenceRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// State is what every presence notification carries: the full map, plus
// the record that changed when the notification follows a delta.
type State struct {
	Changed *domain.PresenceRecord  `json:"changed,omitempty"`
	Records []domain.PresenceRecord `json:"records"`
}

func (t *Tracker) publish(changed *domain.PresenceRecord) {
	t.notify.Notify(domain.TopicPresence, State{Changed: changed, Records: t.Snapshot()})
}
