package tui

import (
	"time"

	"github.com/ent0n29/intervue/internal/live"
)

// OpenedMsg is sent once the interviewer channel has been opened or failed to open.
type OpenedMsg struct {
	Err error
}

// SnapshotMsg carries a fresh render snapshot from the session.
type SnapshotMsg struct {
	Snapshot live.Snapshot
}

// SessionDoneMsg is sent when the session has been torn down. It carries
// the last snapshot so the final state stays on screen.
type SessionDoneMsg struct {
	Snapshot live.Snapshot
}

// EndedMsg carries the outcome of an end-call request.
type EndedMsg struct {
	Result live.EndResult
	Err    error
}

// ClosedMsg is sent after the session has been closed on quit.
type ClosedMsg struct{}

// TickMsg refreshes time-based state such as caption expiry.
type TickMsg time.Time
