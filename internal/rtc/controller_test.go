package rtc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtclient/internal/domain"
	"rtclient/internal/rtc"
)

func threeWay(t *testing.T) (*harness, *participant) {
	t.Helper()
	h := newHarness()
	a, b, c := h.participant("a"), h.participant("b"), h.participant("c")
	for _, p := range []*participant{a, b, c} {
		require.NoError(t, h.join(p, false))
	}
	return h, a
}

func outgoingVideo(t *testing.T, h *harness, owner string) []*rtc.LocalTrack {
	t.Helper()
	var out []*rtc.LocalTrack
	for _, pc := range h.net.open(owner) {
		s := pc.videoSender()
		require.NotNil(t, s, "pc %s has a video sender", pc.id)
		lt, ok := s.Track().(*rtc.LocalTrack)
		require.True(t, ok)
		out = append(out, lt)
	}
	return out
}

func TestToggles(t *testing.T) {
	_, a := threeWay(t)
	local := a.room.LocalStream()

	on, err := a.media.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, local.Audio().Enabled())
	assert.False(t, local.Audio().Stopped(), "muting does not release the device")

	on, err = a.media.ToggleVideo()
	require.NoError(t, err)
	assert.False(t, on)

	on, err = a.media.ToggleAudio()
	require.NoError(t, err)
	assert.True(t, on)

	t.Run("Observer", func(t *testing.T) {
		h := newHarness()
		obs := h.participant("obs")
		require.NoError(t, h.join(obs, true))

		_, err := obs.media.ToggleAudio()
		assert.ErrorIs(t, err, domain.ErrNoLocalMedia)
		_, err = obs.media.ToggleVideo()
		assert.ErrorIs(t, err, domain.ErrNoLocalMedia)
		assert.ErrorIs(t, obs.media.StartScreenShare(context.Background()), domain.ErrNoLocalMedia)
	})
}

func TestScreenShareRoundTrip(t *testing.T) {
	h, a := threeWay(t)
	ctx := context.Background()
	camera := a.room.LocalStream().Video()

	require.NoError(t, a.media.StartScreenShare(ctx))
	screen := a.devices.lastScreen()
	require.NotNil(t, screen)

	sent := outgoingVideo(t, h, "a")
	require.Len(t, sent, 2)
	for _, tr := range sent {
		assert.Same(t, screen, tr)
	}
	assert.Same(t, screen, a.room.LocalStream().Video())
	assert.True(t, camera.Stopped())
	assert.True(t, a.media.ScreenSharing())
	assert.True(t, a.room.View().ScreenSharing)

	require.NoError(t, a.media.StopScreenShare(ctx))

	for _, tr := range outgoingVideo(t, h, "a") {
		assert.Equal(t, rtc.SourceCamera, tr.Source())
		assert.False(t, tr.Stopped())
	}
	assert.True(t, screen.Stopped())
	assert.False(t, a.media.ScreenSharing())
	assert.Equal(t, rtc.SourceCamera, a.room.LocalStream().Video().Source())
}

func TestScreenShareIsAtomic(t *testing.T) {
	h, a := threeWay(t)
	pcs := h.net.open("a")
	require.Len(t, pcs, 2)
	pcs[1].videoSender().fail = errors.New("sender gone")

	err := a.media.StartScreenShare(context.Background())
	require.Error(t, err)

	for _, tr := range outgoingVideo(t, h, "a") {
		assert.Equal(t, rtc.SourceCamera, tr.Source(), "rolled back")
	}
	assert.Equal(t, rtc.SourceCamera, a.room.LocalStream().Video().Source())
	assert.False(t, a.room.LocalStream().Video().Stopped())
	assert.True(t, a.devices.lastScreen().Stopped())
	assert.False(t, a.media.ScreenSharing())
}

func TestScreenShareEndedByDevice(t *testing.T) {
	h, a := threeWay(t)
	require.NoError(t, a.media.StartScreenShare(context.Background()))
	screen := a.devices.lastScreen()

	screen.End()

	assert.False(t, a.media.ScreenSharing())
	for _, tr := range outgoingVideo(t, h, "a") {
		assert.Equal(t, rtc.SourceCamera, tr.Source())
	}
}

func TestStopScreenShareWithoutCamera(t *testing.T) {
	h, a := threeWay(t)
	ctx := context.Background()
	require.NoError(t, a.media.StartScreenShare(ctx))
	screen := a.devices.lastScreen()

	a.devices.NoCamera = true
	err := a.media.StopScreenShare(ctx)
	assert.ErrorIs(t, err, domain.ErrMediaAcquire)

	assert.True(t, a.media.ScreenSharing(), "prior state is kept")
	assert.False(t, screen.Stopped())
	for _, tr := range outgoingVideo(t, h, "a") {
		assert.Same(t, screen, tr)
	}
}

func TestScreenShareKeepsCameraMute(t *testing.T) {
	_, a := threeWay(t)
	ctx := context.Background()

	_, err := a.media.ToggleVideo()
	require.NoError(t, err)
	require.NoError(t, a.media.StartScreenShare(ctx))
	assert.True(t, a.room.LocalStream().Video().Enabled(), "screen starts enabled")

	require.NoError(t, a.media.StopScreenShare(ctx))
	assert.False(t, a.room.LocalStream().Video().Enabled())
}

func TestNewPeerGetsScreenWhileSharing(t *testing.T) {
	h, a := threeWay(t)
	require.NoError(t, a.media.StartScreenShare(context.Background()))
	screen := a.devices.lastScreen()

	d := h.participant("d")
	require.NoError(t, h.join(d, false))

	sent := outgoingVideo(t, h, "a")
	require.Len(t, sent, 3)
	for _, tr := range sent {
		assert.Same(t, screen, tr)
	}
}

func TestPeerJoiningDuringSwapGetsScreen(t *testing.T) {
	h, a := threeWay(t)
	pcs := h.net.open("a")
	require.Len(t, pcs, 2)

	d := h.participant("d")
	joined := make(chan error, 1)
	pcs[0].videoSender().before = func() {
		go func() { joined <- h.join(d, false) }()
		// let a's side of the join get as far as it can mid-swap
		deadline := time.Now().Add(500 * time.Millisecond)
		for len(h.net.all("a")) < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	require.NoError(t, a.media.StartScreenShare(context.Background()))
	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not finish")
	}
	h.srv.Drain()

	screen := a.devices.lastScreen()
	sent := outgoingVideo(t, h, "a")
	require.Len(t, sent, 3)
	for _, tr := range sent {
		assert.Same(t, screen, tr)
	}
}
