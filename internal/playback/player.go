package playback

type EventKind string

const (
	EventStarted EventKind = "started"
	EventEnded   EventKind = "ended"
	EventPaused  EventKind = "paused"
	EventStopped EventKind = "stopped"
	EventFailed  EventKind = "failed"
)

// Event is a player lifecycle notification for one clip.
type Event struct {
	Kind   EventKind
	ClipID uint64
	Err    error
}

// Clip is one complete speech frame.
type Clip struct {
	ID          uint64
	Data        []byte
	ContentType string
}

// Player renders clips. Play replaces whatever is playing. Results arrive on
// Events in order for each clip: started, then one of ended, paused,
// stopped or failed.
type Player interface {
	Play(clip Clip) error
	Pause() error
	Stop() error
	Events() <-chan Event
	Close() error
}
