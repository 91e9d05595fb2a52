package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_Execute_TripsOpenAfterFailureThreshold(t *testing.T) {
	b := New(Options{FailureThreshold: 3, MonitoringWindow: time.Second, Timeout: time.Second})
	defer b.Close()

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected underlying error, got %v", err)
		}
	}

	if b.State() != Open {
		t.Fatalf("expected breaker to be open after reaching failure threshold, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrOpenCircuit) {
		t.Fatalf("expected ErrOpenCircuit while open, got %v", err)
	}
}

func TestBreaker_Execute_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := New(Options{
		FailureThreshold: 1,
		MonitoringWindow: time.Second,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})
	defer b.Close()

	b.Execute(context.Background(), func(context.Context) error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected open after single failure with threshold 1, got %s", b.State())
	}

	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after one success (threshold 2), got %s", b.State())
	}

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected second half-open probe to succeed, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after success threshold reached, got %s", b.State())
	}
}

func TestBreaker_Execute_HalfOpenFailureReturnsToOpen(t *testing.T) {
	b := New(Options{
		FailureThreshold: 1,
		MonitoringWindow: time.Second,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})
	defer b.Close()

	b.Execute(context.Background(), func(context.Context) error { return errBoom })
	time.Sleep(15 * time.Millisecond)

	b.Execute(context.Background(), func(context.Context) error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected any half-open failure to return to open, got %s", b.State())
	}
}

func TestBreaker_Execute_TimeoutCountsAsFailure(t *testing.T) {
	b := New(Options{FailureThreshold: 1, MonitoringWindow: time.Second, Timeout: 5 * time.Millisecond})
	defer b.Close()

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected timeout to trip breaker open, got %s", b.State())
	}
}

func TestBreaker_OnStateChange_FiresOnTransition(t *testing.T) {
	changes := make(chan StateChange, 4)
	b := New(Options{
		FailureThreshold: 1,
		MonitoringWindow: time.Second,
		Timeout:          time.Second,
		OnStateChange:    func(sc StateChange) { changes <- sc },
	})
	defer b.Close()

	b.Execute(context.Background(), func(context.Context) error { return errBoom })

	select {
	case sc := <-changes:
		if sc.From != Closed || sc.To != Open {
			t.Fatalf("unexpected transition: %+v", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change event")
	}
}

func TestBreaker_Reset_ForcesClosed(t *testing.T) {
	b := New(Options{FailureThreshold: 1, MonitoringWindow: time.Second, Timeout: time.Second})
	defer b.Close()

	b.Execute(context.Background(), func(context.Context) error { return errBoom })
	if b.State() != Open {
		t.Fatalf("expected open before reset")
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("expected closed after reset, got %s", b.State())
	}
}
