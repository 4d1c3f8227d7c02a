package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/intervue/internal/observability"
)

// ErrDeviceUnavailable is returned when the microphone cannot be acquired or
// enabled (no device, permission denied, missing capture binary).
var ErrDeviceUnavailable = errors.New("capture: microphone unavailable")

// Track is a live microphone handle. While enabled it delivers encoded chunks
// on Chunks; disabling flushes any buffered tail before returning.
type Track interface {
	SetEnabled(enabled bool) error
	Chunks() <-chan []byte
	Close() error
}

// Device hands out microphone tracks.
type Device interface {
	Acquire(ctx context.Context) (Track, error)
}

// Controller owns the microphone for one session and turns explicit
// start/stop actions into segments. It is not safe for concurrent use: the
// session loop owns it and feeds Collect from Chunks.
type Controller struct {
	device Device
	encode Encoder
	logger *slog.Logger
	now    func() time.Time

	track     Track
	recording bool
	chunks    [][]byte
	startedAt time.Time
	seq       int
}

func NewController(device Device, encode Encoder, logger *slog.Logger) *Controller {
	if encode == nil {
		encode = ConcatEncoder
	}
	return &Controller{
		device: device,
		encode: encode,
		logger: observability.OrDiscard(logger),
		now:    time.Now,
	}
}

// Recording reports whether a segment is active.
func (c *Controller) Recording() bool {
	return c.recording
}

// Chunks exposes the live track's chunk stream. It is nil until the device
// has been acquired, which blocks forever in a select.
func (c *Controller) Chunks() <-chan []byte {
	if c.track == nil {
		return nil
	}
	return c.track.Chunks()
}

// StartSegment acquires the microphone on first use, enables the track and
// begins buffering. Calling it while recording is a no-op.
func (c *Controller) StartSegment(ctx context.Context) error {
	if c.recording {
		return nil
	}
	if c.device == nil {
		return fmt.Errorf("%w: no capture device configured", ErrDeviceUnavailable)
	}
	if c.track == nil {
		track, err := c.device.Acquire(ctx)
		if err != nil {
			return deviceErr(err)
		}
		c.track = track
	}
	c.discardPending()
	if err := c.track.SetEnabled(true); err != nil {
		return deviceErr(err)
	}
	c.recording = true
	c.chunks = c.chunks[:0]
	c.startedAt = c.now()
	c.logger.Debug("segment started", "seq", c.seq+1)
	return nil
}

// Collect appends a chunk to the active segment. Chunks arriving while idle
// are dropped.
func (c *Controller) Collect(chunk []byte) {
	if !c.recording || len(chunk) == 0 {
		return
	}
	c.chunks = append(c.chunks, chunk)
}

// StopSegment disables the track (it stays acquired), finalizes the buffer and
// returns the segment. It returns nil when no segment is active.
func (c *Controller) StopSegment() *Segment {
	if !c.recording {
		return nil
	}
	if err := c.track.SetEnabled(false); err != nil {
		c.logger.Warn("disable microphone track failed", "error", err)
	}
	c.drainInto()
	c.recording = false
	c.seq++

	seg := &Segment{
		Seq:       c.seq,
		Data:      c.encode(c.chunks),
		Chunks:    len(c.chunks),
		StartedAt: c.startedAt,
		Duration:  c.now().Sub(c.startedAt),
	}
	c.chunks = nil
	c.logger.Debug("segment stopped", "seq", seg.Seq, "chunks", seg.Chunks, "bytes", len(seg.Data))
	return seg
}

// Close releases the microphone. A segment still recording is dropped.
func (c *Controller) Close() error {
	if c.track == nil {
		c.recording = false
		return nil
	}
	if c.recording {
		_ = c.track.SetEnabled(false)
		c.recording = false
		c.chunks = nil
	}
	err := c.track.Close()
	c.track = nil
	return err
}

func (c *Controller) drainInto() {
	ch := c.track.Chunks()
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if len(chunk) > 0 {
				c.chunks = append(c.chunks, chunk)
			}
		default:
			return
		}
	}
}

func (c *Controller) discardPending() {
	ch := c.track.Chunks()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func deviceErr(err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
