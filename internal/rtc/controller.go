package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"rtclient/internal/domain"
)

// MediaController mutes local tracks and swaps camera and screen capture
// on every open peer connection by track replacement, without renegotiation.
type MediaController struct {
	room    *Room
	devices MediaDevices
	log     *slog.Logger

	mu            sync.Mutex
	screen        *LocalTrack
	cameraEnabled bool
}

func NewMediaController(room *Room, devices MediaDevices, logger *slog.Logger) *MediaController {
	if logger == nil {
		logger = slog.Default()
	}
	if devices == nil {
		devices = room.devices
	}
	return &MediaController{room: room, devices: devices, log: logger.With("component", "media")}
}

// ToggleAudio flips the microphone track's enabled flag and returns the new value.
func (c *MediaController) ToggleAudio() (bool, error) {
	local := c.room.LocalStream()
	if local == nil || local.Audio() == nil {
		return false, domain.ErrNoLocalMedia
	}
	t := local.Audio()
	t.SetEnabled(!t.Enabled())
	c.room.publish()
	return t.Enabled(), nil
}

// ToggleVideo flips the current video track, camera or screen.
func (c *MediaController) ToggleVideo() (bool, error) {
	local := c.room.LocalStream()
	if local == nil || local.Video() == nil {
		return false, domain.ErrNoLocalMedia
	}
	t := local.Video()
	t.SetEnabled(!t.Enabled())
	c.room.publish()
	return t.Enabled(), nil
}

func (c *MediaController) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharingLocked()
}

func (c *MediaController) sharingLocked() bool {
	return c.screen != nil && !c.screen.Stopped()
}

// StartScreenShare replaces the outgoing video of every peer connection
// with a display capture. Either every sender is swapped or none is.
func (c *MediaController) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sharingLocked() {
		return nil
	}
	local := c.room.LocalStream()
	if local == nil {
		return domain.ErrNoLocalMedia
	}

	screen, err := c.devices.GetDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("%w: display capture: %v", domain.ErrMediaAcquire, err)
	}
	unlock := c.room.lockMedia()
	camera := local.Video()
	if err := c.swapVideo(camera, screen); err != nil {
		unlock()
		screen.Stop()
		return fmt.Errorf("start screen share: %w", err)
	}
	local.SetVideo(screen)
	unlock()

	if camera != nil {
		c.cameraEnabled = camera.Enabled()
		camera.Stop()
	} else {
		c.cameraEnabled = true
	}
	c.screen = screen
	screen.OnEnded(func() {
		if err := c.stopFor(context.Background(), screen); err != nil {
			c.log.Warn("stop screen share after capture ended", "err", err)
		}
	})
	c.log.Info("screen share started")
	c.room.publish()
	return nil
}

// StopScreenShare re-acquires the camera, swaps it back into every sender
// and then releases the screen capture.
func (c *MediaController) StopScreenShare(ctx context.Context) error {
	c.mu.Lock()
	screen := c.screen
	c.mu.Unlock()
	if screen == nil {
		return nil
	}
	return c.stopFor(ctx, screen)
}

func (c *MediaController) stopFor(ctx context.Context, screen *LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != screen {
		return nil
	}
	local := c.room.LocalStream()
	if local == nil {
		// the room was left; its teardown stopped the track already
		c.screen = nil
		screen.Stop()
		return nil
	}

	cam, err := c.devices.GetUserMedia(ctx, Constraints{Video: true})
	if err != nil {
		return fmt.Errorf("%w: camera: %v", domain.ErrMediaAcquire, err)
	}
	camera := cam.Video()
	if camera == nil {
		return fmt.Errorf("%w: no camera track", domain.ErrMediaAcquire)
	}
	camera.SetEnabled(c.cameraEnabled)

	unlock := c.room.lockMedia()
	if err := c.swapVideo(screen, camera); err != nil {
		unlock()
		camera.Stop()
		return fmt.Errorf("stop screen share: %w", err)
	}
	local.SetVideo(camera)
	unlock()
	screen.Stop()
	c.screen = nil
	c.log.Info("screen share stopped")
	c.room.publish()
	return nil
}

// swapVideo replaces from with to on every video sender. On the first
// failure the senders already swapped are put back.
func (c *MediaController) swapVideo(from, to *LocalTrack) error {
	var prev webrtc.TrackLocal
	if from != nil {
		prev = from
	}
	var done []Sender
	for _, s := range c.room.videoSenders() {
		if err := s.ReplaceTrack(to); err != nil {
			var rollbackErr error
			for _, d := range done {
				rollbackErr = errors.Join(rollbackErr, d.ReplaceTrack(prev))
			}
			if rollbackErr != nil {
				c.log.Error("rollback of track swap failed", "err", rollbackErr)
			}
			return err
		}
		done = append(done, s)
	}
	return nil
}
