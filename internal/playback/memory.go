package playback

import (
	"sync"
	"time"
)

// MemoryPlayer records clips instead of rendering them. With AutoEnd set,
// each clip ends on its own after that long; otherwise Finish ends it.
type MemoryPlayer struct {
	AutoEnd time.Duration

	mu      sync.Mutex
	played  []Clip
	current uint64
	events  chan Event
}

func NewMemoryPlayer(autoEnd time.Duration) *MemoryPlayer {
	return &MemoryPlayer{AutoEnd: autoEnd, events: make(chan Event, 256)}
}

func (p *MemoryPlayer) Play(clip Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != 0 {
		p.sendLocked(Event{Kind: EventStopped, ClipID: p.current})
	}
	p.played = append(p.played, clip)
	p.current = clip.ID
	p.sendLocked(Event{Kind: EventStarted, ClipID: clip.ID})
	if p.AutoEnd > 0 {
		id := clip.ID
		time.AfterFunc(p.AutoEnd, func() { p.end(id) })
	}
	return nil
}

// Finish ends the current clip as if it played to completion.
func (p *MemoryPlayer) Finish() {
	p.mu.Lock()
	id := p.current
	p.mu.Unlock()
	if id != 0 {
		p.end(id)
	}
}

func (p *MemoryPlayer) end(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != id {
		return
	}
	p.current = 0
	p.sendLocked(Event{Kind: EventEnded, ClipID: id})
}

func (p *MemoryPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != 0 {
		p.sendLocked(Event{Kind: EventPaused, ClipID: p.current})
		p.current = 0
	}
	return nil
}

func (p *MemoryPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != 0 {
		p.sendLocked(Event{Kind: EventStopped, ClipID: p.current})
		p.current = 0
	}
	return nil
}

func (p *MemoryPlayer) Events() <-chan Event {
	return p.events
}

func (p *MemoryPlayer) Close() error {
	return p.Stop()
}

// Played returns the clips handed to the player so far.
func (p *MemoryPlayer) Played() []Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Clip(nil), p.played...)
}

func (p *MemoryPlayer) sendLocked(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}
