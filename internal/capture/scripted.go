package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/intervue/internal/audio"
)

// ScriptedDevice is an in-memory microphone. Each time its track is enabled
// it emits the chunks returned by Next for that enable count (1-based).
type ScriptedDevice struct {
	AcquireErr error
	Next       func(enable int) [][]byte

	mu       sync.Mutex
	acquired int
	tracks   []*ScriptedTrack
}

func (d *ScriptedDevice) Acquire(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired++
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	t := &ScriptedTrack{next: d.Next, chunks: make(chan []byte, 256)}
	d.tracks = append(d.tracks, t)
	return t, nil
}

// Acquisitions reports how many times Acquire was called.
func (d *ScriptedDevice) Acquisitions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// Tracks returns the tracks handed out so far.
func (d *ScriptedDevice) Tracks() []*ScriptedTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ScriptedTrack(nil), d.tracks...)
}

// Segments scripts one list of chunks per enable; enables past the end emit nothing.
func Segments(segs ...[][]byte) func(int) [][]byte {
	return func(enable int) [][]byte {
		if enable < 1 || enable > len(segs) {
			return nil
		}
		return segs[enable-1]
	}
}

// ToneSegments scripts every enable as a short PCM16 tone split into chunks.
func ToneSegments(sampleRate int, chunk time.Duration, chunks int) func(int) [][]byte {
	return func(enable int) [][]byte {
		out := make([][]byte, 0, chunks)
		for i := 0; i < chunks; i++ {
			out = append(out, audio.SineTonePCM16LE(220+enable*40, sampleRate, chunk, 0.2))
		}
		return out
	}
}

type ScriptedTrack struct {
	next   func(int) [][]byte
	chunks chan []byte

	mu      sync.Mutex
	enabled bool
	enables int
	closed  bool
}

func (t *ScriptedTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("scripted track closed")
	}
	if enabled == t.enabled {
		return nil
	}
	t.enabled = enabled
	if !enabled {
		return nil
	}
	t.enables++
	if t.next == nil {
		return nil
	}
	for _, c := range t.next(t.enables) {
		select {
		case t.chunks <- c:
		default:
		}
	}
	return nil
}

func (t *ScriptedTrack) Chunks() <-chan []byte {
	return t.chunks
}

func (t *ScriptedTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.enabled = false
	close(t.chunks)
	return nil
}

// Enabled reports whether the track is live.
func (t *ScriptedTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Closed reports whether Close was called.
func (t *ScriptedTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
