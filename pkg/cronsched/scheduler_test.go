package cronsched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_ValidateAcceptsAndRejects(t *testing.T) {
	s := New(nil, nil)

	if err := s.Validate("0 0 * * * ?"); err != nil {
		t.Fatalf("Validate(%q) error = %v, want nil", "0 0 * * * ?", err)
	}
	if err := s.Validate(""); err == nil {
		t.Fatalf("Validate(\"\") error = nil, want error")
	}
}

func TestScheduler_StartRejectsDuplicateFlow(t *testing.T) {
	s := New(nil, nil)
	if err := s.Start(context.Background(), "F1", "0 */5 * * * ?", "corr-1", false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background(), "F1", "0 */5 * * * ?", "corr-2", false); err == nil {
		t.Fatalf("Start() on already-armed flow returned nil error, want ErrCodeAlreadyScheduled")
	}
}

func TestScheduler_StopRejectsAbsentFlow(t *testing.T) {
	s := New(nil, nil)
	if err := s.Stop("missing"); err == nil {
		t.Fatalf("Stop() on absent flow returned nil error, want ErrCodeNotScheduled")
	}
}

func TestScheduler_FirePreservesCorrelationID(t *testing.T) {
	var gotCorrelation atomic.Value
	var fires int32

	s := New(func(ctx context.Context, flowID, correlationID string) error {
		gotCorrelation.Store(correlationID)
		atomic.AddInt32(&fires, 1)
		return nil
	}, nil)

	if err := s.Start(context.Background(), "F2", "* * * * * *", "preserved-corr", true); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Run()
	defer s.Shutdown(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fires) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&fires) == 0 {
		t.Fatalf("job never fired within deadline")
	}
	if got := gotCorrelation.Load(); got != "preserved-corr" {
		t.Fatalf("correlation id on fire = %v, want preserved-corr", got)
	}

	// one-time execution must self-remove after firing.
	time.Sleep(50 * time.Millisecond)
	if s.IsRunning("F2") {
		t.Fatalf("IsRunning(F2) = true after one-time fire, want false")
	}
}

func TestScheduler_UpdateReplacesExisting(t *testing.T) {
	s := New(nil, nil)
	if err := s.Start(context.Background(), "F3", "0 0 * * * ?", "corr", false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Update(context.Background(), "F3", "0 */10 * * * ?", "corr", false); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	expr, ok := s.GetCronExpression("F3")
	if !ok || expr != "0 */10 * * * ?" {
		t.Fatalf("GetCronExpression(F3) = %q, %v, want 0 */10 * * * ?, true", expr, ok)
	}
}
