package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"rtclient/internal/domain"
	"rtclient/internal/signaling"
)

const maxEarlyCandidates = 64

type RoomOptions struct {
	Logger   *slog.Logger
	Notifier domain.Notifier
}

type JoinOptions struct {
	RoomID   string
	UserID   string
	UserName string
	// Observer joins without local media and still receives everyone else's.
	Observer bool
}

// PeerSession is the single record of one remote participant.
type PeerSession struct {
	PeerID       string
	DisplayName  string
	State        webrtc.PeerConnectionState
	RemoteStream *RemoteStream

	conn      PeerConnection
	offered   bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// PeerInfo is a copy of a PeerSession safe to hand out.
type PeerInfo struct {
	PeerID      string        `json:"peer_id"`
	DisplayName string        `json:"display_name,omitempty"`
	State       string        `json:"state"`
	HasAudio    bool          `json:"has_audio"`
	HasVideo    bool          `json:"has_video"`
	Stream      *RemoteStream `json:"-"`
}

// RoomView is the state published to UI subscribers.
type RoomView struct {
	RoomID        string            `json:"room_id,omitempty"`
	Status        domain.RoomStatus `json:"status,omitempty"`
	Observer      bool              `json:"observer"`
	AudioEnabled  bool              `json:"audio_enabled"`
	VideoEnabled  bool              `json:"video_enabled"`
	ScreenSharing bool              `json:"screen_sharing"`
	Peers         []PeerInfo        `json:"peers"`
}

// Room negotiates a full mesh: one peer connection per remote participant,
// with offers, answers and ICE candidates relayed over the signaling bus.
// Existing participants offer to a newcomer; the newcomer answers.
type Room struct {
	bus     signaling.Bus
	factory PeerFactory
	devices MediaDevices
	log     *slog.Logger
	notify  domain.Notifier

	// attachMu is held by newSession from attaching local media until the
	// session is registered, and by the media controller while it swaps the
	// outgoing video, so no session is created with a track being retired.
	attachMu sync.Mutex

	mu       sync.Mutex
	joined   bool
	gen      uint64
	roomID   string
	userID   string
	userName string
	observer bool
	status   domain.RoomStatus
	local    *LocalStream
	peers    map[string]*PeerSession
	early    map[string][]webrtc.ICECandidateInit
	subs     []signaling.Subscription
}

func NewRoom(bus signaling.Bus, factory PeerFactory, devices MediaDevices, opts RoomOptions) *Room {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	if devices == nil {
		devices = &SyntheticDevices{}
	}
	return &Room{
		bus:     bus,
		factory: factory,
		devices: devices,
		log:     opts.Logger.With("component", "rtc"),
		notify:  opts.Notifier,
		status:  domain.RoomDisconnected,
		peers:   make(map[string]*PeerSession),
	}
}

// Join enters a room. A participant first acquires camera and microphone;
// if that fails the room goes to the error state and nothing is sent.
// An observer skips media and is connected immediately.
func (r *Room) Join(ctx context.Context, opts JoinOptions) error {
	if opts.RoomID == "" || opts.UserID == "" {
		return fmt.Errorf("%w: room id and user id required", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	if r.joined {
		r.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	r.joined = true
	r.gen++
	gen := r.gen
	r.roomID = opts.RoomID
	r.userID = opts.UserID
	r.userName = opts.UserName
	r.observer = opts.Observer
	r.status = domain.RoomConnecting
	r.local = nil
	r.peers = make(map[string]*PeerSession)
	r.early = make(map[string][]webrtc.ICECandidateInit)
	r.mu.Unlock()
	r.publish()

	if !opts.Observer {
		local, err := r.devices.GetUserMedia(ctx, Constraints{Audio: true, Video: true})
		if err != nil {
			r.mu.Lock()
			if r.gen == gen {
				r.status = domain.RoomError
				r.joined = false
			}
			r.mu.Unlock()
			r.publish()
			r.log.Warn("local media unavailable", "room_id", opts.RoomID, "err", err)
			return fmt.Errorf("%w: %v", domain.ErrMediaAcquire, err)
		}
		r.mu.Lock()
		if r.gen != gen || !r.joined {
			r.mu.Unlock()
			local.Stop()
			return domain.ErrRoomClosed
		}
		r.local = local
		r.mu.Unlock()
	}

	subs := []signaling.Subscription{
		r.bus.On(domain.EventUserJoined, r.handleUserJoined),
		r.bus.On(domain.EventOffer, r.handleOffer),
		r.bus.On(domain.EventAnswer, r.handleAnswer),
		r.bus.On(domain.EventICECandidate, r.handleICECandidate),
		r.bus.On(domain.EventUserLeft, r.handleUserLeft),
	}
	r.mu.Lock()
	r.subs = subs
	if opts.Observer {
		r.status = domain.RoomConnected
	}
	r.mu.Unlock()

	r.bus.Emit(domain.EventJoinRoom, joinRoomPayload{
		RoomID:   opts.RoomID,
		UserID:   opts.UserID,
		UserName: opts.UserName,
		Observer: opts.Observer,
	})
	r.log.Info("joined room", "room_id", opts.RoomID, "observer", opts.Observer)
	r.publish()
	return nil
}

// Leave announces the exit, then closes every peer connection and stops
// local tracks before returning.
func (r *Room) Leave() error {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return nil
	}
	roomID, userID := r.roomID, r.userID
	peers := r.peers
	local := r.local
	subs := r.subs
	r.peers = make(map[string]*PeerSession)
	r.early = nil
	r.local = nil
	r.subs = nil
	r.joined = false
	r.gen++
	r.status = domain.RoomDisconnected
	r.mu.Unlock()

	r.bus.Emit(domain.EventLeaveRoom, leaveRoomPayload{RoomID: roomID, UserID: userID})
	for _, s := range subs {
		r.bus.Off(s.Event, s)
	}
	for _, sess := range peers {
		if err := sess.conn.Close(); err != nil {
			r.log.Debug("close peer connection", "peer_id", sess.PeerID, "err", err)
		}
	}
	if local != nil {
		local.Stop()
	}
	r.log.Info("left room", "room_id", roomID)
	r.publish()
	return nil
}

func (r *Room) handleUserJoined(payload json.RawMessage) {
	var p userJoinedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		r.log.Warn("bad user-joined payload", "err", err)
		return
	}
	if !r.accepts(p.RoomID) || p.UserID == r.self() {
		return
	}

	sess, err := r.newSession(p.UserID, p.UserName)
	if err != nil {
		r.log.Warn("create peer connection", "peer_id", p.UserID, "err", err)
		return
	}
	offer, err := sess.conn.CreateOffer()
	if err != nil {
		r.peerFailed(sess, "create offer", err)
		return
	}
	if err := sess.conn.SetLocalDescription(offer); err != nil {
		r.peerFailed(sess, "set local offer", err)
		return
	}

	r.mu.Lock()
	if r.peers[sess.PeerID] != sess {
		r.mu.Unlock()
		return
	}
	sess.offered = true
	roomID := r.roomID
	r.mu.Unlock()

	r.bus.Emit(domain.EventOffer, offerPayload{RoomID: roomID, TargetUserID: p.UserID, Offer: &offer})
}

func (r *Room) handleOffer(payload json.RawMessage) {
	var p offerPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.FromUserID == "" || p.Offer == nil {
		r.log.Warn("bad offer payload", "err", err)
		return
	}
	if !r.accepts(p.RoomID) {
		return
	}

	r.mu.Lock()
	sess := r.peers[p.FromUserID]
	self := r.userID
	collision := sess != nil && sess.offered && !sess.remoteSet
	if sess != nil && p.FromUserName != "" {
		sess.DisplayName = p.FromUserName
	}
	r.mu.Unlock()

	if collision {
		// both sides offered at once: the lower id keeps its own offer
		if self < p.FromUserID {
			r.log.Info("ignoring colliding offer", "peer_id", p.FromUserID)
			return
		}
		sess = nil
	}
	if sess == nil {
		var err error
		if sess, err = r.newSession(p.FromUserID, p.FromUserName); err != nil {
			r.log.Warn("create peer connection", "peer_id", p.FromUserID, "err", err)
			return
		}
	}

	if err := sess.conn.SetRemoteDescription(*p.Offer); err != nil {
		r.peerFailed(sess, "set remote offer", err)
		return
	}
	r.remoteApplied(sess)

	answer, err := sess.conn.CreateAnswer()
	if err != nil {
		r.peerFailed(sess, "create answer", err)
		return
	}
	if err := sess.conn.SetLocalDescription(answer); err != nil {
		r.peerFailed(sess, "set local answer", err)
		return
	}

	roomID, ok := r.currentRoom(sess)
	if !ok {
		return
	}
	r.bus.Emit(domain.EventAnswer, answerPayload{RoomID: roomID, TargetUserID: p.FromUserID, Answer: &answer})
	r.negotiated(sess)
}

func (r *Room) handleAnswer(payload json.RawMessage) {
	var p answerPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.FromUserID == "" || p.Answer == nil {
		r.log.Warn("bad answer payload", "err", err)
		return
	}
	if !r.accepts(p.RoomID) {
		return
	}

	r.mu.Lock()
	sess := r.peers[p.FromUserID]
	r.mu.Unlock()
	if sess == nil {
		r.log.Warn("answer from unknown peer", "peer_id", p.FromUserID)
		return
	}

	if err := sess.conn.SetRemoteDescription(*p.Answer); err != nil {
		r.peerFailed(sess, "set remote answer", err)
		return
	}
	r.remoteApplied(sess)
	r.negotiated(sess)
}

// handleICECandidate applies a candidate, or queues it until the remote
// description is set. Late and duplicate candidates are expected; errors
// are only logged.
func (r *Room) handleICECandidate(payload json.RawMessage) {
	var p iceCandidatePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.FromUserID == "" {
		r.log.Warn("bad ice-candidate payload", "err", err)
		return
	}
	if p.Candidate == nil || !r.accepts(p.RoomID) {
		return
	}

	r.mu.Lock()
	sess := r.peers[p.FromUserID]
	if sess == nil {
		if r.early != nil && len(r.early[p.FromUserID]) < maxEarlyCandidates {
			r.early[p.FromUserID] = append(r.early[p.FromUserID], *p.Candidate)
		}
		r.mu.Unlock()
		return
	}
	if !sess.remoteSet {
		sess.pending = append(sess.pending, *p.Candidate)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := sess.conn.AddICECandidate(*p.Candidate); err != nil {
		r.log.Debug("add ice candidate", "peer_id", sess.PeerID, "err", err)
	}
}

func (r *Room) handleUserLeft(payload json.RawMessage) {
	var p userLeftPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		r.log.Warn("bad user-left payload", "err", err)
		return
	}
	if !r.accepts(p.RoomID) {
		return
	}

	r.mu.Lock()
	sess := r.peers[p.UserID]
	delete(r.peers, p.UserID)
	delete(r.early, p.UserID)
	r.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.conn.Close(); err != nil {
		r.log.Debug("close peer connection", "peer_id", p.UserID, "err", err)
	}
	r.log.Info("peer left", "peer_id", p.UserID)
	r.publish()
}

// newSession creates the peer connection for peerID, attaches local media
// and replaces any previous session of that peer.
func (r *Room) newSession(peerID, name string) (*PeerSession, error) {
	r.mu.Lock()
	gen := r.gen
	local := r.local
	r.mu.Unlock()

	pc, err := r.factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	sess := &PeerSession{
		PeerID:      peerID,
		DisplayName: name,
		State:       webrtc.PeerConnectionStateNew,
		conn:        pc,
	}
	r.attachMu.Lock()
	if err := attachLocal(pc, local); err != nil {
		r.attachMu.Unlock()
		_ = pc.Close()
		return nil, err
	}

	r.mu.Lock()
	if !r.joined || r.gen != gen {
		r.mu.Unlock()
		r.attachMu.Unlock()
		_ = pc.Close()
		return nil, domain.ErrRoomClosed
	}
	old := r.peers[peerID]
	r.peers[peerID] = sess
	sess.pending = r.early[peerID]
	delete(r.early, peerID)
	r.mu.Unlock()
	r.attachMu.Unlock()

	r.wire(sess)
	if old != nil {
		r.log.Info("replacing peer connection", "peer_id", peerID)
		_ = old.conn.Close()
	}
	r.publish()
	return sess, nil
}

// attachLocal sends every local track and adds a receive-only transceiver
// for each kind we do not send.
func attachLocal(pc PeerConnection, local *LocalStream) error {
	var audio, video *LocalTrack
	if local != nil {
		audio, video = local.Audio(), local.Video()
	}
	for _, kt := range []struct {
		kind  webrtc.RTPCodecType
		track *LocalTrack
	}{
		{webrtc.RTPCodecTypeAudio, audio},
		{webrtc.RTPCodecTypeVideo, video},
	} {
		if kt.track != nil {
			if _, err := pc.AddTrack(kt.track); err != nil {
				return fmt.Errorf("add %s track: %w", kt.kind, err)
			}
			continue
		}
		if err := pc.AddReceiveOnly(kt.kind); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kt.kind, err)
		}
	}
	return nil
}

func (r *Room) wire(sess *PeerSession) {
	sess.conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		roomID, ok := r.currentRoom(sess)
		if !ok {
			return
		}
		r.bus.Emit(domain.EventICECandidate, iceCandidatePayload{RoomID: roomID, TargetUserID: sess.PeerID, Candidate: c})
	})

	sess.conn.OnTrack(func(track RemoteTrack) {
		r.mu.Lock()
		if r.peers[sess.PeerID] != sess {
			r.mu.Unlock()
			return
		}
		sess.RemoteStream = sess.RemoteStream.with(track)
		r.mu.Unlock()
		r.log.Debug("remote track", "peer_id", sess.PeerID, "kind", track.Kind().String())
		r.publish()
	})

	sess.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.mu.Lock()
		if r.peers[sess.PeerID] != sess {
			r.mu.Unlock()
			return
		}
		sess.State = state
		r.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			// no ICE restart is attempted
			r.log.Warn("peer connection lost, reconnection candidate", "peer_id", sess.PeerID, "state", state.String())
		}
		r.publish()
	})
}

func (r *Room) remoteApplied(sess *PeerSession) {
	r.mu.Lock()
	if r.peers[sess.PeerID] != sess {
		r.mu.Unlock()
		return
	}
	sess.remoteSet = true
	pending := sess.pending
	sess.pending = nil
	r.mu.Unlock()

	for _, c := range pending {
		if err := sess.conn.AddICECandidate(c); err != nil {
			r.log.Debug("add queued ice candidate", "peer_id", sess.PeerID, "err", err)
		}
	}
}

// negotiated moves the room to connected after the first completed exchange.
func (r *Room) negotiated(sess *PeerSession) {
	r.mu.Lock()
	changed := r.peers[sess.PeerID] == sess && r.status == domain.RoomConnecting
	if changed {
		r.status = domain.RoomConnected
	}
	r.mu.Unlock()
	if changed {
		r.publish()
	}
}

func (r *Room) peerFailed(sess *PeerSession, op string, err error) {
	r.log.Warn("negotiation failed", "peer_id", sess.PeerID, "op", op, "err", err)
}

func (r *Room) accepts(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined && (roomID == "" || roomID == r.roomID)
}

func (r *Room) self() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

func (r *Room) currentRoom(sess *PeerSession) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID, r.joined && r.peers[sess.PeerID] == sess
}

func (r *Room) Status() domain.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Room) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joined {
		return ""
	}
	return r.roomID
}

func (r *Room) IsObserver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined && r.observer
}

// LocalStream is nil for observers and outside a room.
func (r *Room) LocalStream() *LocalStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Peers returns every peer session, sorted by peer id.
func (r *Room) Peers() []PeerInfo {
	r.mu.Lock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, s := range r.peers {
		out = append(out, PeerInfo{
			PeerID:      s.PeerID,
			DisplayName: s.DisplayName,
			State:       s.State.String(),
			HasAudio:    s.RemoteStream.HasAudio(),
			HasVideo:    s.RemoteStream.HasVideo(),
			Stream:      s.RemoteStream,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// RemoteStreams maps peer id to the last stream received from that peer.
func (r *Room) RemoteStreams() map[string]*RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*RemoteStream)
	for id, s := range r.peers {
		if s.RemoteStream != nil {
			out[id] = s.RemoteStream
		}
	}
	return out
}

func (r *Room) View() RoomView {
	r.mu.Lock()
	v := RoomView{Status: r.status}
	if r.joined {
		v.RoomID = r.roomID
		v.Observer = r.observer
	}
	local := r.local
	r.mu.Unlock()

	if local != nil {
		if a := local.Audio(); a != nil {
			v.AudioEnabled = a.Enabled()
		}
		if vt := local.Video(); vt != nil {
			v.VideoEnabled = vt.Enabled()
			v.ScreenSharing = vt.Source() == SourceScreen
		}
	}
	v.Peers = r.Peers()
	return v
}

// lockMedia holds back session creation until the returned func runs.
func (r *Room) lockMedia() func() {
	r.attachMu.Lock()
	return r.attachMu.Unlock
}

// videoSenders returns the outgoing video sender of every peer connection.
func (r *Room) videoSenders() []Sender {
	r.mu.Lock()
	conns := make([]PeerConnection, 0, len(r.peers))
	for _, s := range r.peers {
		conns = append(conns, s.conn)
	}
	r.mu.Unlock()

	var out []Sender
	for _, pc := range conns {
		for _, s := range pc.Senders() {
			if t := s.Track(); t != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
				out = append(out, s)
			}
		}
	}
	return out
}

func (r *Room) publish() {
	r.notify.Notify(domain.TopicRoom, r.View())
}
