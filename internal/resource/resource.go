// Package resource is the resource controller of spec §4.7: it tracks one
// resource set of kind "call" against a local-transport resource-protocol
// client, requesting audio (always, while any call needs it) and video
// (only while some call carries a video stream) resources as the call
// population changes.
package resource

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
)

// Mask is a bitset of the resource classes spec §4.7 names.
type Mask uint32

const (
	AudioPlayback Mask = 1 << iota
	AudioRecording
	VideoPlayback
	VideoRecording
)

// BaseAudio and PlusVideo are spec §4.7's fixed mask constants.
const (
	BaseAudio = AudioPlayback | AudioRecording
	PlusVideo = VideoPlayback | VideoRecording
)

func (m Mask) String() string {
	var names []string
	if m&AudioPlayback != 0 {
		names = append(names, "audio-playback")
	}
	if m&AudioRecording != 0 {
		names = append(names, "audio-recording")
	}
	if m&VideoPlayback != 0 {
		names = append(names, "video-playback")
	}
	if m&VideoRecording != 0 {
		names = append(names, "video-recording")
	}
	if len(names) == 0 {
		return "none"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

// Transport is the narrow interface onto the local resource-protocol
// client; spec §1 treats the transport itself as an external collaborator,
// so only the request shapes the controller needs are typed here.
type Transport interface {
	Acquire(ctx context.Context, id uuid.UUID, resourceClass string, mask Mask) error
	Update(ctx context.Context, id uuid.UUID, mask Mask) error
	Release(ctx context.Context, id uuid.UUID) error
	SetStreamEnginePID(ctx context.Context, pid int) error
}

// ResourceClass is the fixed resource-set kind spec §4.7 names.
const ResourceClass = "call"

// Controller tracks the granted mask of the single "call" resource set
// and reallocates it per spec §4.7's rule whenever the call population
// changes.
type Controller struct {
	transport Transport
	logger    hclog.Logger

	haveAudio bool
	haveVideo bool
	currentID uuid.UUID

	streamEnginePID int

	// Disabled is spec §9's escape hatch: "Audio/video resource gating
	// when the process-wide playback fact is present disables the
	// resource controller entirely."
	Disabled bool
}

func New(transport Transport, logger hclog.Logger) *Controller {
	return &Controller{transport: transport, logger: logger.Named("resource")}
}

// Reconcile implements spec §4.7's reallocation rule verbatim, invoked
// after every hook that changes the population of active calls.
func (c *Controller) Reconcile(ctx context.Context, needAudio, needVideo bool) error {
	if c.Disabled {
		return nil
	}

	if !needAudio {
		if c.haveAudio {
			if err := c.release(ctx); err != nil {
				return err
			}
		}
		c.haveVideo = false
		return nil
	}

	if needVideo != c.haveVideo {
		mask := BaseAudio
		if needVideo {
			mask |= PlusVideo
		}
		if c.haveAudio {
			if err := c.update(ctx, mask); err != nil {
				return err
			}
		}
		c.haveVideo = needVideo
	}

	if !c.haveAudio {
		if err := c.acquire(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context) error {
	mask := BaseAudio
	if c.haveVideo {
		mask |= PlusVideo
	}
	c.currentID = uuid.New()
	if err := c.transport.Acquire(ctx, c.currentID, ResourceClass, mask); err != nil {
		// spec §7 item 6: resource protocol status errors are logged, the
		// call-state machine still proceeds since routing is advisory.
		c.logger.Warn("acquire failed", "mask", mask, "error", err)
		return fmt.Errorf("resource: acquire: %w", err)
	}
	c.haveAudio = true
	return nil
}

func (c *Controller) update(ctx context.Context, mask Mask) error {
	if err := c.transport.Update(ctx, c.currentID, mask); err != nil {
		c.logger.Warn("update failed", "mask", mask, "error", err)
		return fmt.Errorf("resource: update: %w", err)
	}
	return nil
}

func (c *Controller) release(ctx context.Context) error {
	if err := c.transport.Release(ctx, c.currentID); err != nil {
		c.logger.Warn("release failed", "error", err)
		return fmt.Errorf("resource: release: %w", err)
	}
	c.haveAudio = false
	return nil
}

// HaveAudio/HaveVideo expose the granted state for tests and the console.
func (c *Controller) HaveAudio() bool { return c.haveAudio }
func (c *Controller) HaveVideo() bool { return c.haveVideo }

// SetStreamEnginePID publishes the Telepathy stream-engine PID so the
// resource manager can apply per-process routing, rediscovered on every
// stream-engine name-owner change (spec §4.7).
func (c *Controller) SetStreamEnginePID(ctx context.Context, pid int) error {
	if pid == c.streamEnginePID {
		return nil
	}
	c.streamEnginePID = pid
	if err := c.transport.SetStreamEnginePID(ctx, pid); err != nil {
		c.logger.Warn("set stream-engine pid failed", "pid", pid, "error", err)
		return fmt.Errorf("resource: set stream-engine pid: %w", err)
	}
	return nil
}
