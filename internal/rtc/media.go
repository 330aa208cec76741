package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Source is the device a local track captures from.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

func (s Source) kind() webrtc.RTPCodecType {
	if s == SourceMicrophone {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// LocalTrack is a captured track that can be muted in place. It is a
// webrtc.TrackLocal, so it can be attached to or swapped into any sender.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample

	source  Source
	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func()
}

// NewLocalTrack creates an Opus track for microphones and a VP8 track otherwise.
func NewLocalTrack(source Source, streamID string) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if source.kind() == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	static, err := webrtc.NewTrackLocalStaticSample(codec, string(source)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{TrackLocalStaticSample: static, source: source}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Source() Source { return t.source }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes or unmutes without releasing the device.
func (t *LocalTrack) SetEnabled(v bool) { t.enabled.Store(v) }

func (t *LocalTrack) Stopped() bool { return t.stopped.Load() }

// WriteSample forwards captured media. Samples of a disabled track are dropped.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return io.ErrClosedPipe
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// Stop releases the device. It does not fire the ended hook.
func (t *LocalTrack) Stop() {
	t.stopped.Store(true)
}

// OnEnded registers the hook run when the capture ends outside our control,
// e.g. the user stopping a screen share from the system UI.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// End marks the capture as ended by the device and runs the ended hook once.
func (t *LocalTrack) End() {
	if t.stopped.Swap(true) {
		return
	}
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// LocalStream groups the local audio and video tracks.
type LocalStream struct {
	id string

	mu    sync.RWMutex
	audio *LocalTrack
	video *LocalTrack
}

func NewLocalStream(id string, audio, video *LocalTrack) *LocalStream {
	if id == "" {
		id = uuid.NewString()
	}
	return &LocalStream{id: id, audio: audio, video: video}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Audio() *LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *LocalStream) Video() *LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// SetVideo swaps the displayed video track and returns the previous one.
func (s *LocalStream) SetVideo(t *LocalTrack) *LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.video
	s.video = t
	return old
}

func (s *LocalStream) Tracks() []*LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LocalTrack
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

// Stop stops every track of the stream.
func (s *LocalStream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Constraints selects which devices GetUserMedia opens.
type Constraints struct {
	Audio bool
	Video bool
}

// MediaDevices acquires capture tracks.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error)
	GetDisplayMedia(ctx context.Context) (*LocalTrack, error)
}

var ErrPermissionDenied = errors.New("device permission denied")

// SyntheticDevices hands out tracks that carry no captured media until
// samples are written to them. It backs headless sessions.
type SyntheticDevices struct {
	NoCamera     bool
	NoMicrophone bool
	NoScreen     bool
}

var _ MediaDevices = (*SyntheticDevices)(nil)

func (d *SyntheticDevices) GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if (c.Video && d.NoCamera) || (c.Audio && d.NoMicrophone) {
		return nil, ErrPermissionDenied
	}
	streamID := uuid.NewString()
	var audio, video *LocalTrack
	var err error
	if c.Audio {
		if audio, err = NewLocalTrack(SourceMicrophone, streamID); err != nil {
			return nil, err
		}
	}
	if c.Video {
		if video, err = NewLocalTrack(SourceCamera, streamID); err != nil {
			return nil, err
		}
	}
	return NewLocalStream(streamID, audio, video), nil
}

func (d *SyntheticDevices) GetDisplayMedia(ctx context.Context) (*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.NoScreen {
		return nil, ErrPermissionDenied
	}
	return NewLocalTrack(SourceScreen, uuid.NewString())
}
