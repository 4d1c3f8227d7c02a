package calls

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateDescribeEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("iv-1")
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}
	if err := m.Describe(c.ID, "Backend Engineer", "alloy"); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InterviewID != "iv-1" || got.Role != "Backend Engineer" || got.Status != StatusActive {
		t.Fatalf("unexpected call state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End(c.ID, ReasonEndCall)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != ReasonEndCall {
		t.Fatalf("ended = %+v, want ended by end_call", ended)
	}
	again, _ := m.End(c.ID, ReasonDisconnect)
	if again.EndReason != ReasonEndCall {
		t.Fatalf("EndReason = %q, want first reason kept", again.EndReason)
	}
	m.Forget(c.ID)
	if _, err := m.Get(c.ID); err != ErrNotFound {
		t.Fatalf("Get() after Forget error = %v, want ErrNotFound", err)
	}
}

func TestManagerRecordSegmentCounts(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("")
	for i := 1; i <= 3; i++ {
		n, err := m.RecordSegment(c.ID)
		if err != nil {
			t.Fatalf("RecordSegment() error = %v", err)
		}
		if n != i {
			t.Fatalf("RecordSegment() = %d, want %d", n, i)
		}
	}
	if _, err := m.RecordSegment("missing"); err != ErrNotFound {
		t.Fatalf("RecordSegment(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	c := m.Create("iv-1")
	var hooked atomic.Int32
	m.SetExpireHook(func(*Call) { hooked.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded || got.EndReason != ReasonExpired {
		t.Fatalf("call = %+v, want expired", got)
	}
	if hooked.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hooked.Load())
	}
}
