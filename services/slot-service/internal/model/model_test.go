package model

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

func TestIsActive(t *testing.T) {
	cases := []struct {
		name    string
		state   State
		payment Payment
		channel Channel
		want    bool
	}{
		{"online pending", StatePending, PaymentPending, ChannelOnline, false},
		{"online processing", StatePending, PaymentProcessing, ChannelOnline, false},
		{"online confirmed paid", StateConfirmed, PaymentPaid, ChannelOnline, true},
		{"online confirmed unpaid", StateConfirmed, PaymentPending, ChannelOnline, false},
		{"online completed paid", StateCompleted, PaymentPaid, ChannelOnline, true},
		{"offline confirmed", StateConfirmed, PaymentPaid, ChannelOffline, true},
		{"offline confirmed unpaid", StateConfirmed, PaymentPending, ChannelOffline, true},
		{"cancelled paid", StateCancelled, PaymentPaid, ChannelOnline, false},
		{"offline cancelled", StateCancelled, PaymentPaid, ChannelOffline, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Reservation{State: tc.state, Payment: tc.payment, Channel: tc.channel}
			if got := r.IsActive(); got != tc.want {
				t.Fatalf("IsActive = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStateAtCompletesLazily(t *testing.T) {
	start := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	r := Reservation{
		Window:  window.Window{Start: start, End: start.Add(2 * time.Hour)},
		State:   StateConfirmed,
		Payment: PaymentPaid,
	}
	if got := r.StateAt(start.Add(time.Hour)); got != StateConfirmed {
		t.Fatalf("mid-window state = %s", got)
	}
	if got := r.StateAt(start.Add(2 * time.Hour)); got != StateCompleted {
		t.Fatalf("state at end = %s", got)
	}
	if r.State != StateConfirmed {
		t.Fatal("StateAt must not mutate")
	}

	r.State = StatePending
	if got := r.StateAt(start.Add(3 * time.Hour)); got != StatePending {
		t.Fatalf("pending must not complete, got %s", got)
	}
}

func TestSweepableBefore(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-15 * time.Minute)
	old := now.Add(-20 * time.Minute)

	cases := []struct {
		name string
		r    Reservation
		want bool
	}{
		{"stale online pending", Reservation{Channel: ChannelOnline, State: StatePending, Payment: PaymentPending, CreatedAt: old}, true},
		{"stale processing", Reservation{Channel: ChannelOnline, State: StatePending, Payment: PaymentProcessing, CreatedAt: old}, true},
		{"stale failed", Reservation{Channel: ChannelOnline, State: StatePending, Payment: PaymentFailed, CreatedAt: old}, true},
		{"fresh pending", Reservation{Channel: ChannelOnline, State: StatePending, Payment: PaymentPending, CreatedAt: now.Add(-time.Minute)}, false},
		{"offline confirmed", Reservation{Channel: ChannelOffline, State: StateConfirmed, Payment: PaymentPaid, CreatedAt: old}, false},
		{"confirmed online", Reservation{Channel: ChannelOnline, State: StateConfirmed, Payment: PaymentPaid, CreatedAt: old}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.SweepableBefore(cutoff); got != tc.want {
				t.Fatalf("SweepableBefore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTransitionGuards(t *testing.T) {
	r := Reservation{State: StatePending, Payment: PaymentPending}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	confirm := ReservationTransition{
		FromStates:  []State{StatePending},
		State:       StatePtr(StateConfirmed),
		Payment:     PaymentPtr(PaymentPaid),
		ConfirmedAt: TimePtr(at),
	}
	if err := confirm.Apply(&r); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r.State != StateConfirmed || r.Payment != PaymentPaid || r.ConfirmedAt == nil || !r.ConfirmedAt.Equal(at) {
		t.Fatalf("unexpected reservation %+v", r)
	}
	if err := confirm.Apply(&r); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged on second apply, got %v", err)
	}
}
