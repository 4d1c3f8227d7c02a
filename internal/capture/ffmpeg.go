package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/intervue/internal/observability"
)

const (
	CodecWebM = "webm"
	CodecPCM  = "pcm"
)

// FFmpegMic captures the microphone through an ffmpeg subprocess.
//
// With CodecPCM one process runs for the life of the track and bytes read
// while the track is disabled are dropped. CodecWebM restarts the encoder for
// every enabled period, since each segment must carry its own container
// header to be playable on its own.
type FFmpegMic struct {
	Path          string
	InputFormat   string
	Input         string
	Codec         string
	SampleRate    int
	ChunkInterval time.Duration
	Logger        *slog.Logger
}

func (m *FFmpegMic) Acquire(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(m.Path)
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	interval := m.ChunkInterval
	if interval <= 0 {
		interval = time.Second
	}
	sampleRate := m.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	trackCtx, cancel := context.WithCancel(context.Background())
	return &ffmpegTrack{
		mic:        m,
		path:       resolved,
		interval:   interval,
		sampleRate: sampleRate,
		logger:     observability.OrDiscard(m.Logger),
		ctx:        trackCtx,
		cancel:     cancel,
		chunks:     make(chan []byte, 256),
	}, nil
}

func (m *FFmpegMic) args(sampleRate int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-f", m.InputFormat,
		"-i", m.Input,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
	}
	if m.Codec == CodecPCM {
		return append(args, "-f", "s16le", "-")
	}
	return append(args, "-c:a", "libopus", "-b:a", "32k", "-f", "webm", "-")
}

type ffmpegTrack struct {
	mic        *FFmpegMic
	path       string
	interval   time.Duration
	sampleRate int
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	chunks     chan []byte

	mu      sync.Mutex
	enabled bool
	pending []byte
	proc    *ffmpegProc
	closed  bool
}

type ffmpegProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrTail
	readDn chan struct{}
	stop   chan struct{}
}

func (p *ffmpegProc) exited() bool {
	select {
	case <-p.readDn:
		return true
	default:
		return false
	}
}

func (t *ffmpegTrack) Chunks() <-chan []byte {
	return t.chunks
}

func (t *ffmpegTrack) SetEnabled(enabled bool) error {
	if enabled {
		return t.enable()
	}
	t.disable()
	return nil
}

func (t *ffmpegTrack) enable() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: track closed", ErrDeviceUnavailable)
	}
	if p := t.proc; p != nil {
		if !p.exited() {
			t.pending = t.pending[:0]
			t.enabled = true
			t.mu.Unlock()
			return nil
		}
		// The encoder died while idle; reap it and start a fresh one.
		t.proc = nil
		t.mu.Unlock()
		t.logger.Warn("ffmpeg exited unexpectedly, restarting", "stderr", p.stderr.String())
		t.shutdown(p)
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return fmt.Errorf("%w: track closed", ErrDeviceUnavailable)
		}
	}
	defer t.mu.Unlock()
	if err := t.startLocked(); err != nil {
		return err
	}
	t.pending = t.pending[:0]
	t.enabled = true
	return nil
}

func (t *ffmpegTrack) disable() {
	if t.mic.Codec != CodecPCM {
		t.stopProc()
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		t.emitLocked()
	}
	t.enabled = false
	t.pending = t.pending[:0]
}

func (t *ffmpegTrack) startLocked() error {
	cmd := exec.CommandContext(t.ctx, t.path, t.mic.args(t.sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	tail := &stderrTail{}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}
	t.logger.Debug("ffmpeg started", "pid", cmd.Process.Pid, "codec", t.mic.Codec)

	p := &ffmpegProc{
		cmd:    cmd,
		stdin:  stdin,
		stderr: tail,
		readDn: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	t.proc = p
	go t.readLoop(p, stdout)
	go t.flushLoop(p)
	return nil
}

func (t *ffmpegTrack) readLoop(p *ffmpegProc, stdout io.Reader) {
	defer close(p.readDn)
	reader := bufio.NewReaderSize(stdout, 64*1024)
	buf := make([]byte, 16*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			t.mu.Lock()
			if t.enabled {
				t.pending = append(t.pending, buf[:n]...)
			}
			t.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("ffmpeg stdout read ended", "error", err)
			}
			return
		}
	}
}

func (t *ffmpegTrack) flushLoop(p *ffmpegProc) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.readDn:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.emitLocked()
			t.mu.Unlock()
		}
	}
}

// emitLocked hands the buffered bytes to the consumer. A full channel drops
// the chunk rather than stalling the reader.
func (t *ffmpegTrack) emitLocked() {
	if len(t.pending) == 0 {
		return
	}
	chunk := make([]byte, len(t.pending))
	copy(chunk, t.pending)
	t.pending = t.pending[:0]
	select {
	case t.chunks <- chunk:
	default:
		t.logger.Warn("microphone chunk dropped", "bytes", len(chunk))
	}
}

// stopProc ends the running encoder and flushes what it produced while
// enabled.
func (t *ffmpegTrack) stopProc() {
	t.mu.Lock()
	p := t.proc
	t.proc = nil
	t.mu.Unlock()
	if p != nil {
		t.shutdown(p)
	}

	t.mu.Lock()
	if t.enabled {
		t.emitLocked()
	}
	t.enabled = false
	t.pending = t.pending[:0]
	t.mu.Unlock()
}

func (t *ffmpegTrack) shutdown(p *ffmpegProc) {
	close(p.stop)

	// "q" asks ffmpeg to finalize the container before exiting.
	_, _ = io.WriteString(p.stdin, "q\n")
	_ = p.stdin.Close()
	select {
	case <-p.readDn:
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.readDn
	}
	if err := p.cmd.Wait(); err != nil && p.cmd.ProcessState != nil && !p.cmd.ProcessState.Success() {
		t.logger.Debug("ffmpeg exited", "error", err, "stderr", p.stderr.String())
	}
}

func (t *ffmpegTrack) Close() error {
	t.stopProc()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}

// stderrTail keeps the last few KB of ffmpeg diagnostics.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

func (s *stderrTail) Write(p []byte) (int, error) {
	const max = 4096
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	if len(s.buf) > max {
		s.buf = s.buf[len(s.buf)-max:]
	}
	return len(p), nil
}

func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(string(s.buf))
}
