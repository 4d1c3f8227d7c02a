package observability

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Live turn stages measured by the session.
const (
	StageSegmentToReplyText = "segment_to_reply_text"
	StageReplyTextToSpeech  = "reply_text_to_speech"
	StageSegmentToSpeech    = "segment_to_speech"
)

var stageTargets = map[string]time.Duration{
	StageSegmentToReplyText: 2500 * time.Millisecond,
	StageReplyTextToSpeech:  1500 * time.Millisecond,
	StageSegmentToSpeech:    4 * time.Second,
}

// StageStats summarizes the retained samples of one stage.
type StageStats struct {
	Stage   string
	Samples int
	Last    time.Duration
	Mean    time.Duration
	P50     time.Duration
	P95     time.Duration
	// Target is the p95 budget for the stage, zero when it has none.
	Target time.Duration
}

// OverTarget reports whether the stage's p95 exceeds its budget.
func (s StageStats) OverTarget() bool {
	return s.Target > 0 && s.P95 > s.Target
}

type StageSnapshot struct {
	Window     int
	Stages     []StageStats
	Indicators map[string]int
}

// Stage returns the stats for one stage, if it has samples.
func (s StageSnapshot) Stage(name string) (StageStats, bool) {
	for _, st := range s.Stages {
		if st.Stage == name {
			return st, true
		}
	}
	return StageStats{}, false
}

// StageWindow keeps the most recent latency samples per stage and counts
// named events. A nil window discards everything.
type StageWindow struct {
	mu     sync.Mutex
	size   int
	rings  map[string]*ring
	counts map[string]int
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 64
	}
	return &StageWindow{
		size:   size,
		rings:  make(map[string]*ring),
		counts: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{buf: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.counts[name]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	if w == nil {
		return StageSnapshot{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		Window:     w.size,
		Indicators: maps.Clone(w.counts),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		snap.Stages = append(snap.Stages, summarize(stage, w.rings[stage]))
	}
	return snap
}

type ring struct {
	buf []time.Duration
	n   int
}

func (r *ring) add(d time.Duration) {
	r.buf[r.n%len(r.buf)] = d
	r.n++
}

func (r *ring) last() time.Duration {
	return r.buf[(r.n-1)%len(r.buf)]
}

func (r *ring) values() []time.Duration {
	return slices.Clone(r.buf[:min(r.n, len(r.buf))])
}

func summarize(stage string, r *ring) StageStats {
	vals := r.values()
	slices.Sort(vals)
	var sum time.Duration
	for _, v := range vals {
		sum += v
	}
	return StageStats{
		Stage:   stage,
		Samples: len(vals),
		Last:    r.last(),
		Mean:    sum / time.Duration(len(vals)),
		P50:     percentile(vals, 50),
		P95:     percentile(vals, 95),
		Target:  stageTargets[stage],
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}
