// Package rtc coordinates full-mesh WebRTC rooms over the signaling channel
// and controls the local media sent into them.
package rtc

import (
	"github.com/pion/webrtc/v4"
)

// Sender is the outgoing side of one transceiver. *webrtc.RTPSender satisfies it.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is media arriving from a peer. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnection is the subset of a WebRTC peer connection the mesh uses.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	// AddReceiveOnly adds a recvonly transceiver so media of kind is
	// negotiated even when nothing of that kind is sent.
	AddReceiveOnly(kind webrtc.RTPCodecType) error
	Senders() []Sender
	OnICECandidate(fn func(c *webrtc.ICECandidateInit))
	OnTrack(fn func(track RemoteTrack))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory creates one peer connection per remote participant.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// RemoteStream is the last known media of one peer.
type RemoteStream struct {
	ID    string      `json:"id"`
	Audio RemoteTrack `json:"-"`
	Video RemoteTrack `json:"-"`
}

func (s *RemoteStream) HasAudio() bool { return s != nil && s.Audio != nil }
func (s *RemoteStream) HasVideo() bool { return s != nil && s.Video != nil }

func (s *RemoteStream) with(track RemoteTrack) *RemoteStream {
	next := &RemoteStream{ID: track.StreamID()}
	if s != nil {
		next.Audio, next.Video = s.Audio, s.Video
		if s.ID != "" && next.ID == "" {
			next.ID = s.ID
		}
	}
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		next.Audio = track
	case webrtc.RTPCodecTypeVideo:
		next.Video = track
	}
	return next
}
