package turns

import (
	"context"
	"sync"
)

// lane runs persistence jobs for one speaker strictly one after another.
// The queue is unbounded so enqueueing never blocks the session loop.
type lane struct {
	run func(job)

	mu     sync.Mutex
	queue  []job
	busy   int
	idle   chan struct{}
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newLane(run func(job)) *lane {
	idle := make(chan struct{})
	close(idle)
	l := &lane{
		run:  run,
		idle: idle,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *lane) enqueue(j job) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if l.busy == 0 {
		l.idle = make(chan struct{})
	}
	l.busy++
	l.queue = append(l.queue, j)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *lane) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		j := l.queue[0]
		l.queue[0] = job{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(j)

		l.mu.Lock()
		l.busy--
		if l.busy == 0 {
			close(l.idle)
		}
		l.mu.Unlock()
	}
}

// wait blocks until every job enqueued so far has finished.
func (l *lane) wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *lane) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy
}
