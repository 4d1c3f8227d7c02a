package playback

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/ent0n29/intervue/internal/observability"
)

var errPlayerClosed = errors.New("playback: player closed")

// FFPlayPlayer plays each clip through a short-lived ffplay process fed on
// stdin. ffplay detects the container itself, so wav, mp3 and ogg all work.
type FFPlayPlayer struct {
	path   string
	volume int
	logger *slog.Logger

	mu     sync.Mutex
	cur    *ffplayClip
	closed bool
	events chan Event
	done   chan struct{}
}

type ffplayClip struct {
	id     uint64
	cmd    *exec.Cmd
	reason EventKind
}

func NewFFPlayPlayer(path string, volume int, logger *slog.Logger) (*FFPlayPlayer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffplay"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("find ffplay: %w", err)
	}
	if volume <= 0 || volume > 100 {
		volume = 80
	}
	return &FFPlayPlayer{
		path:   resolved,
		volume: volume,
		logger: observability.OrDiscard(logger),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}, nil
}

func (p *FFPlayPlayer) Events() <-chan Event {
	return p.events
}

func (p *FFPlayPlayer) Play(clip Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPlayerClosed
	}
	if p.cur != nil {
		p.killLocked(EventStopped)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-volume", fmt.Sprintf("%d", p.volume),
		"-i", "-",
	}
	cmd := exec.Command(p.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	cmd.Stdin = bytes.NewReader(clip.Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}

	c := &ffplayClip{id: clip.ID, cmd: cmd}
	p.cur = c
	go p.wait(c, &stderr)
	return nil
}

func (p *FFPlayPlayer) wait(c *ffplayClip, stderr *bytes.Buffer) {
	p.emit(Event{Kind: EventStarted, ClipID: c.id})
	err := c.cmd.Wait()

	p.mu.Lock()
	reason := c.reason
	if p.cur == c {
		p.cur = nil
	}
	p.mu.Unlock()

	switch {
	case reason != "":
		p.emit(Event{Kind: reason, ClipID: c.id})
	case err != nil:
		p.emit(Event{Kind: EventFailed, ClipID: c.id, Err: fmt.Errorf("ffplay: %w: %s", err, strings.TrimSpace(stderr.String()))})
	default:
		p.emit(Event{Kind: EventEnded, ClipID: c.id})
	}
}

func (p *FFPlayPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked(EventPaused)
	return nil
}

func (p *FFPlayPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked(EventStopped)
	return nil
}

func (p *FFPlayPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.killLocked(EventStopped)
	p.closed = true
	close(p.done)
	return nil
}

func (p *FFPlayPlayer) killLocked(reason EventKind) {
	c := p.cur
	if c == nil {
		return
	}
	c.reason = reason
	p.cur = nil
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (p *FFPlayPlayer) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}
