package rtc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"rtclient/internal/domain"
	"rtclient/internal/rtc"
	"rtclient/internal/signaling"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog orders emits and peer connection closes across a test.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *eventLog) since(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries[n:]...)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// fakeNet is an in-memory stand-in for the media plane. Setting a remote
// description delivers the other side's sent tracks through OnTrack.
type fakeNet struct {
	log *eventLog

	mu  sync.Mutex
	seq int
	pcs map[string]*fakePC
}

func newFakeNet(log *eventLog) *fakeNet {
	return &fakeNet{log: log, pcs: make(map[string]*fakePC)}
}

type fakeFactory struct {
	net   *fakeNet
	owner string
}

func (n *fakeNet) factoryFor(owner string) rtc.PeerFactory {
	return &fakeFactory{net: n, owner: owner}
}

func (f *fakeFactory) NewPeerConnection() (rtc.PeerConnection, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	f.net.seq++
	pc := &fakePC{id: fmt.Sprintf("pc%d", f.net.seq), owner: f.owner, net: f.net}
	f.net.pcs[pc.id] = pc
	return pc, nil
}

// open returns the owner's peer connections that are not closed.
func (n *fakeNet) open(owner string) []*fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*fakePC
	for _, pc := range n.pcs {
		if pc.owner == owner && !pc.isClosed() {
			out = append(out, pc)
		}
	}
	return out
}

func (n *fakeNet) all(owner string) []*fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*fakePC
	for _, pc := range n.pcs {
		if pc.owner == owner {
			out = append(out, pc)
		}
	}
	return out
}

func (n *fakeNet) get(id string) *fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pcs[id]
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
	fail  error
	// before runs once, ahead of the next ReplaceTrack.
	before func()
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	before := s.before
	s.before = nil
	s.mu.Unlock()
	if before != nil {
		before()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lt, ok := t.(*rtc.LocalTrack); ok && s.fail != nil && lt.Source() == rtc.SourceScreen {
		return s.fail
	}
	s.track = t
	return nil
}

type fakeRemote struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (r fakeRemote) ID() string                { return r.id }
func (r fakeRemote) StreamID() string          { return r.stream }
func (r fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }

type fakePC struct {
	id    string
	owner string
	net   *fakeNet

	mu         sync.Mutex
	senders    []*fakeSender
	recvOnly   []webrtc.RTPCodecType
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	onICE      func(*webrtc.ICECandidateInit)
	onTrack    func(rtc.RemoteTrack)
	onState    func(webrtc.PeerConnectionState)
}

func (pc *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake:" + pc.id}, nil
}

func (pc *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil || pc.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake:" + pc.id}, nil
}

func (pc *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return errors.New("closed")
	}
	pc.local = &d
	onICE := pc.onICE
	pc.mu.Unlock()

	if onICE != nil {
		onICE(&webrtc.ICECandidateInit{Candidate: "candidate:" + pc.id})
	}
	pc.maybeConnected()
	return nil
}

func (pc *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return errors.New("closed")
	}
	if d.Type == webrtc.SDPTypeAnswer && (pc.local == nil || pc.local.Type != webrtc.SDPTypeOffer) {
		pc.mu.Unlock()
		return errors.New("answer without local offer")
	}
	pc.remote = &d
	onTrack := pc.onTrack
	pc.mu.Unlock()

	if other := pc.net.get(strings.TrimPrefix(d.SDP, "fake:")); other != nil && onTrack != nil {
		for _, t := range other.sentTracks() {
			onTrack(fakeRemote{id: t.ID(), stream: t.StreamID(), kind: t.Kind()})
		}
	}
	pc.maybeConnected()
	return nil
}

func (pc *fakePC) maybeConnected() {
	pc.mu.Lock()
	ready := pc.local != nil && pc.remote != nil && !pc.closed
	onState := pc.onState
	pc.mu.Unlock()
	if ready && onState != nil {
		onState(webrtc.PeerConnectionStateConnected)
	}
}

func (pc *fakePC) sentTracks() []webrtc.TrackLocal {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, s := range pc.senders {
		if t := s.Track(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (pc *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil {
		return errors.New("remote description not set")
	}
	pc.candidates = append(pc.candidates, c)
	return nil
}

func (pc *fakePC) AddTrack(t webrtc.TrackLocal) (rtc.Sender, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	s := &fakeSender{track: t}
	pc.senders = append(pc.senders, s)
	return s, nil
}

func (pc *fakePC) AddReceiveOnly(kind webrtc.RTPCodecType) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.recvOnly = append(pc.recvOnly, kind)
	return nil
}

func (pc *fakePC) Senders() []rtc.Sender {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make([]rtc.Sender, 0, len(pc.senders))
	for _, s := range pc.senders {
		out = append(out, s)
	}
	return out
}

func (pc *fakePC) videoSender() *fakeSender {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, s := range pc.senders {
		if t := s.Track(); t != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
			return s
		}
	}
	return nil
}

func (pc *fakePC) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	pc.mu.Lock()
	pc.onICE = fn
	pc.mu.Unlock()
}

func (pc *fakePC) OnTrack(fn func(rtc.RemoteTrack)) {
	pc.mu.Lock()
	pc.onTrack = fn
	pc.mu.Unlock()
}

func (pc *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	pc.mu.Lock()
	pc.onState = fn
	pc.mu.Unlock()
}

func (pc *fakePC) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	onState := pc.onState
	pc.mu.Unlock()

	pc.net.log.add("close:" + pc.owner + ":" + pc.id)
	if onState != nil {
		onState(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (pc *fakePC) isClosed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

func (pc *fakePC) candidateCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.candidates)
}

// meshServer relays webrtc:* events between clients the way the signaling
// server does, stamping the sender on targeted messages. Deliveries are
// queued and run by Drain so each client sees them one at a time.
type meshServer struct {
	log *eventLog

	mu      sync.Mutex
	queue   []delivery
	members map[string]map[string]*meshClient
}

type delivery struct {
	to      *meshClient
	event   string
	payload json.RawMessage
}

func newMeshServer(log *eventLog) *meshServer {
	return &meshServer{log: log, members: make(map[string]map[string]*meshClient)}
}

type handlerEntry struct {
	id string
	fn signaling.Handler
}

type meshClient struct {
	srv      *meshServer
	userID   string
	userName string

	mu       sync.Mutex
	seq      int
	handlers map[string][]handlerEntry
	emitted  []string
}

var _ signaling.Bus = (*meshClient)(nil)

func (s *meshServer) client(userID string) *meshClient {
	return &meshClient{srv: s, userID: userID, userName: strings.ToUpper(userID), handlers: make(map[string][]handlerEntry)}
}

func (c *meshClient) Emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.emitted = append(c.emitted, event)
	c.mu.Unlock()
	c.srv.log.add("emit:" + c.userID + ":" + event)
	c.srv.receive(c, event, raw)
}

func (c *meshClient) On(event string, h signaling.Handler) signaling.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprint(c.seq)
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: h})
	return signaling.Subscription{Event: event, ID: id}
}

func (c *meshClient) Off(event string, subs ...signaling.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(subs) == 0 {
		delete(c.handlers, event)
		return
	}
	var kept []handlerEntry
	for _, e := range c.handlers[event] {
		drop := false
		for _, s := range subs {
			drop = drop || s.ID == e.id
		}
		if !drop {
			kept = append(kept, e)
		}
	}
	c.handlers[event] = kept
}

func (c *meshClient) Connected() bool { return true }

func (c *meshClient) deliver(event string, payload json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(payload)
	}
}

func (c *meshClient) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emitted...)
}

func (s *meshServer) receive(from *meshClient, event string, raw json.RawMessage) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	room, _ := m["room_id"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch event {
	case domain.EventJoinRoom:
		if s.members[room] == nil {
			s.members[room] = make(map[string]*meshClient)
		}
		for _, other := range s.members[room] {
			s.enqueue(other, domain.EventUserJoined, map[string]any{"room_id": room, "user_id": from.userID, "user_name": from.userName})
		}
		s.members[room][from.userID] = from
	case domain.EventLeaveRoom:
		delete(s.members[room], from.userID)
		for _, other := range s.members[room] {
			s.enqueue(other, domain.EventUserLeft, map[string]any{"room_id": room, "user_id": from.userID})
		}
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		target, _ := m["target_user_id"].(string)
		to := s.members[room][target]
		if to == nil {
			return
		}
		delete(m, "target_user_id")
		m["from_user_id"] = from.userID
		m["from_user_name"] = from.userName
		s.enqueue(to, event, m)
	}
}

// enqueue must be called with mu held.
func (s *meshServer) enqueue(to *meshClient, event string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	s.queue = append(s.queue, delivery{to: to, event: event, payload: raw})
}

// Drain runs queued deliveries until the mesh is quiet.
func (s *meshServer) Drain() {
	for i := 0; i < 10000; i++ {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		d.to.deliver(d.event, d.payload)
	}
	panic("mesh did not settle")
}

// participant bundles one client's room with its bus and devices.
type participant struct {
	id      string
	bus     *meshClient
	room    *rtc.Room
	devices *recordingDevices
	media   *rtc.MediaController
}

// recordingDevices remembers every screen track it hands out.
type recordingDevices struct {
	rtc.SyntheticDevices

	mu      sync.Mutex
	screens []*rtc.LocalTrack
}

func (d *recordingDevices) GetDisplayMedia(ctx context.Context) (*rtc.LocalTrack, error) {
	t, err := d.SyntheticDevices.GetDisplayMedia(ctx)
	if err == nil {
		d.mu.Lock()
		d.screens = append(d.screens, t)
		d.mu.Unlock()
	}
	return t, err
}

func (d *recordingDevices) lastScreen() *rtc.LocalTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}

type harness struct {
	log *eventLog
	net *fakeNet
	srv *meshServer
}

func newHarness() *harness {
	log := &eventLog{}
	return &harness{log: log, net: newFakeNet(log), srv: newMeshServer(log)}
}

func (h *harness) participant(id string) *participant {
	bus := h.srv.client(id)
	devices := &recordingDevices{}
	room := rtc.NewRoom(bus, h.net.factoryFor(id), devices, rtc.RoomOptions{Logger: quietLogger()})
	return &participant{
		id:      id,
		bus:     bus,
		room:    room,
		devices: devices,
		media:   rtc.NewMediaController(room, devices, quietLogger()),
	}
}

func (h *harness) join(p *participant, observer bool) error {
	err := p.room.Join(context.Background(), rtc.JoinOptions{RoomID: "r1", UserID: p.id, UserName: strings.ToUpper(p.id), Observer: observer})
	h.srv.Drain()
	return err
}
