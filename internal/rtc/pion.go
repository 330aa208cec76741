package rtc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are public STUN servers. No TURN relay is configured,
// so peers behind symmetric NATs may fail to connect.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// RTPSink receives every RTP packet of remote tracks.
type RTPSink func(track RemoteTrack, pkt *rtp.Packet)

type PionConfig struct {
	STUNServers []string
	Sink        RTPSink
	Logger      *slog.Logger
}

// PionFactory builds pion peer connections with default codecs and the
// default interceptor chain (NACK, RTCP reports, TWCC).
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	sink   RTPSink
	log    *slog.Logger
}

var _ PeerFactory = (*PionFactory)(nil)

func NewPionFactory(cfg PionConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	servers := cfg.STUNServers
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PionFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: servers}},
		},
		sink: cfg.Sink,
		log:  logger.With("component", "pion"),
	}, nil
}

func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &pionPeer{pc: pc, sink: f.sink, log: f.log}, nil
}

type pionPeer struct {
	pc   *webrtc.PeerConnection
	sink RTPSink
	log  *slog.Logger
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// RTCP has to be read for the interceptors to process NACKs and reports.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (p *pionPeer) AddReceiveOnly(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeer) Senders() []Sender {
	raw := p.pc.GetSenders()
	out := make([]Sender, 0, len(raw))
	for _, s := range raw {
		out = append(out, s)
	}
	return out
}

func (p *pionPeer) OnICECandidate(fn func(c *webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

func (p *pionPeer) OnTrack(fn func(track RemoteTrack)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			// ask for a keyframe so the picture starts without waiting for the next one
			err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}})
			if err != nil {
				p.log.Debug("send PLI", "track", remote.ID(), "err", err)
			}
		}
		go p.drain(remote)
		fn(remote)
	})
}

func (p *pionPeer) drain(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug("remote track read ended", "track", remote.ID(), "err", err)
			}
			return
		}
		if p.sink != nil {
			p.sink(remote, pkt)
		}
	}
}

func (p *pionPeer) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
