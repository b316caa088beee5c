package hsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/rvsbi/internal/sbi"
)

func newManager(t *testing.T, n int, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(n, 0, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestInitialStates(t *testing.T) {
	m := newManager(t, 3)
	want := []sbi.HartState{sbi.HartStarted, sbi.HartStopped, sbi.HartStopped}
	if diff := cmp.Diff(want, m.States()); diff != "" {
		t.Fatalf("initial states mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewManager(2, 2); err == nil {
		t.Fatalf("expected error for out of range boot hart")
	}
	if _, err := NewManager(0, 0); err == nil {
		t.Fatalf("expected error for zero harts")
	}
}

func TestStartStop(t *testing.T) {
	m := newManager(t, 2)

	if err := m.Start(1, 0x8020_0000, 42); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st, _ := m.Status(1); st != sbi.HartStartPending {
		t.Fatalf("state after start = %v", st)
	}
	if err := m.Start(1, 0, 0); !errors.Is(err, sbi.ErrAlreadyAvailable) {
		t.Fatalf("second start = %v", err)
	}

	tr, ok := m.Complete(1)
	if !ok {
		t.Fatalf("Complete found nothing pending")
	}
	want := Transition{Hart: 1, From: sbi.HartStartPending, To: sbi.HartStarted, Addr: 0x8020_0000, Opaque: 42}
	if diff := cmp.Diff(want, tr); diff != "" {
		t.Fatalf("transition mismatch (-want +got):\n%s", diff)
	}
	if !tr.Jump() {
		t.Fatalf("start transition should jump")
	}

	if err := m.Stop(1); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(1); !errors.Is(err, sbi.ErrFailed) {
		t.Fatalf("second stop = %v", err)
	}
	if tr, _ := m.Complete(1); tr.To != sbi.HartStopped {
		t.Fatalf("stop completed to %v", tr.To)
	}
	if _, ok := m.Complete(1); ok {
		t.Fatalf("nothing should be pending")
	}
}

func TestInvalidHart(t *testing.T) {
	m := newManager(t, 1)
	if _, err := m.Status(1); !errors.Is(err, sbi.ErrInvalidParam) {
		t.Fatalf("Status = %v", err)
	}
	if err := m.Start(7, 0, 0); !errors.Is(err, sbi.ErrInvalidParam) {
		t.Fatalf("Start = %v", err)
	}
	if m.Wake(3) {
		t.Fatalf("Wake on invalid hart")
	}
}

func TestSuspendTypes(t *testing.T) {
	m := newManager(t, 1, WithSuspendTypes(sbi.SuspendRetDefault, sbi.SuspendRetPlatform))

	tests := []struct {
		name string
		typ  sbi.SuspendType
		want error
	}{
		{"ret_default", sbi.SuspendRetDefault, nil},
		{"ret_platform", sbi.SuspendRetPlatform, nil},
		{"non_ret_default_unsupported", sbi.SuspendNonRetDefault, sbi.ErrNotSupported},
		{"reserved", 0x00000005, sbi.ErrInvalidParam},
		{"non_ret_reserved", 0x80000005, sbi.ErrInvalidParam},
		{"unimplemented_platform", sbi.SuspendRetPlatform + 1, sbi.ErrNotSupported},
		{"unimplemented_non_ret_platform", sbi.SuspendNonRetPlatform + 5, sbi.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckSuspendType(tt.typ)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CheckSuspendType(%v) = %v, want %v", tt.typ, err, tt.want)
			}
		})
	}
}

func TestRetentiveSuspendResume(t *testing.T) {
	m := newManager(t, 1)

	if err := m.Suspend(0, sbi.SuspendRetDefault, 0xdead, 1); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if tr, _ := m.Complete(0); tr.To != sbi.HartSuspended {
		t.Fatalf("suspend completed to %v", tr.To)
	}
	if !m.Wake(0) {
		t.Fatalf("Wake returned false")
	}
	tr, ok := m.Complete(0)
	if !ok || tr.To != sbi.HartStarted {
		t.Fatalf("resume = %+v, %v", tr, ok)
	}
	if tr.Jump() || tr.Addr != 0 {
		t.Fatalf("retentive resume must not jump: %+v", tr)
	}
}

func TestNonRetentiveResumeJumps(t *testing.T) {
	m := newManager(t, 1)

	if err := m.Suspend(0, sbi.SuspendNonRetDefault, 0x8000_1000, 9); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	// Wake before the hart reaches SUSPENDED: it should resume straight away.
	if !m.Wake(0) {
		t.Fatalf("Wake returned false")
	}
	if tr, _ := m.Complete(0); tr.To != sbi.HartSuspended {
		t.Fatalf("got %v", tr.To)
	}
	if st, _ := m.Status(0); st != sbi.HartResumePending {
		t.Fatalf("state = %v, want RESUME_PENDING", st)
	}
	tr, _ := m.Complete(0)
	if !tr.Jump() || tr.Addr != 0x8000_1000 || tr.Opaque != 9 {
		t.Fatalf("unexpected resume %+v", tr)
	}
}

func TestWaitBlocksUntilStart(t *testing.T) {
	m := newManager(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Transition, 1)
	go func() {
		tr, err := m.Wait(ctx, 1)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- tr
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned before start")
	case <-time.After(20 * time.Millisecond):
	}

	if err := m.Start(1, 0x1000, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := <-done
	if tr.To != sbi.HartStarted || tr.Addr != 0x1000 {
		t.Fatalf("unexpected transition %+v", tr)
	}
}

func TestWaitCancelled(t *testing.T) {
	m := newManager(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Wait(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v", err)
	}
}

func TestLegal(t *testing.T) {
	if !Legal(sbi.HartStopped, sbi.HartStartPending) {
		t.Fatalf("STOPPED -> START_PENDING should be legal")
	}
	if Legal(sbi.HartStopped, sbi.HartStarted) {
		t.Fatalf("STOPPED -> STARTED must go through START_PENDING")
	}
	if Legal(sbi.HartSuspended, sbi.HartStarted) {
		t.Fatalf("SUSPENDED -> STARTED must go through RESUME_PENDING")
	}
}
