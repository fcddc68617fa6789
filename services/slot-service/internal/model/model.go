package model

import (
	"errors"
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

var (
	// ErrWriteConflict is returned by a store when a conditional write finds an
	// overlapping active reservation or block that appeared after the check.
	ErrWriteConflict = errors.New("conditional write rejected")
	// ErrStateChanged is returned when a transition guard no longer matches
	// the stored reservation.
	ErrStateChanged = errors.New("reservation state changed")
)

type Channel string

const (
	ChannelOnline  Channel = "online"
	ChannelOffline Channel = "offline"
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

type Payment string

const (
	PaymentPending    Payment = "pending"
	PaymentProcessing Payment = "processing"
	PaymentPaid       Payment = "paid"
	PaymentFailed     Payment = "failed"
)

// SweepablePayments are the payment states a stale online hold can be in
// when the sweep deletes it.
var SweepablePayments = []Payment{PaymentPending, PaymentProcessing, PaymentFailed}

type Unit struct {
	ID        string
	Name      string
	Available bool
}

// UnitRef identifies a unit across resources. It is the unit of conflict.
type UnitRef struct {
	ResourceID string
	UnitID     string
}

func (u UnitRef) Key() string { return u.ResourceID + "/" + u.UnitID }

type Resource struct {
	ID              string
	OwnerID         string
	Name            string
	Location        string
	Timezone        string
	HourlyRateMinor int64
	Units           []Unit
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Resource) Unit(id string) (Unit, bool) {
	for _, u := range r.Units {
		if u.ID == id {
			return u, true
		}
	}
	return Unit{}, false
}

func (r Resource) OwnedBy(principal string) bool {
	return principal != "" && r.OwnerID == principal
}

type Block struct {
	ID         string
	ResourceID string
	UnitID     string
	Window     window.Window
	Reason     string
	CreatedBy  string
	CreatedAt  time.Time
}

func (b Block) Unit() UnitRef { return UnitRef{ResourceID: b.ResourceID, UnitID: b.UnitID} }

type Reservation struct {
	ID            string
	ResourceID    string
	UnitID        string
	Window        window.Window
	RequesterID   string
	Channel       Channel
	State         State
	Payment       Payment
	AmountMinor   int64
	ContactNumber string
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
}

func (r Reservation) Unit() UnitRef { return UnitRef{ResourceID: r.ResourceID, UnitID: r.UnitID} }

// IsActive reports whether the reservation occupies its window: it is
// confirmed or completed, and either paid or booked offline by the owner.
// Every availability decision goes through this method.
func (r Reservation) IsActive() bool {
	if r.State != StateConfirmed && r.State != StateCompleted {
		return false
	}
	return r.Payment == PaymentPaid || r.Channel == ChannelOffline
}

// StateAt returns the state as observed at now. A confirmed reservation whose
// window has ended reads as completed without being rewritten.
func (r Reservation) StateAt(now time.Time) State {
	if r.State == StateConfirmed && !now.Before(r.Window.End) {
		return StateCompleted
	}
	return r.State
}

// Observed returns a copy with State replaced by StateAt(now).
func (r Reservation) Observed(now time.Time) Reservation {
	r.State = r.StateAt(now)
	return r
}

// SweepableBefore reports whether the sweep should delete this reservation
// given the cutoff (now minus the grace period).
func (r Reservation) SweepableBefore(cutoff time.Time) bool {
	return r.Channel == ChannelOnline &&
		r.State == StatePending &&
		slices.Contains(SweepablePayments, r.Payment) &&
		r.CreatedAt.Before(cutoff)
}

// ReservationTransition changes lifecycle fields of a stored reservation.
// The window, unit and requester cannot be changed through it.
// FromStates and FromPayments guard the update against concurrent writers;
// empty guards accept any stored value.
type ReservationTransition struct {
	FromStates   []State
	FromPayments []Payment
	State        *State
	Payment      *Payment
	ConfirmedAt  *time.Time
	CancelledAt  *time.Time
}

// Apply checks the guards against r and mutates it.
func (t ReservationTransition) Apply(r *Reservation) error {
	if len(t.FromStates) > 0 && !slices.Contains(t.FromStates, r.State) {
		return ErrStateChanged
	}
	if len(t.FromPayments) > 0 && !slices.Contains(t.FromPayments, r.Payment) {
		return ErrStateChanged
	}
	if t.State != nil {
		r.State = *t.State
	}
	if t.Payment != nil {
		r.Payment = *t.Payment
	}
	if t.ConfirmedAt != nil {
		at := *t.ConfirmedAt
		r.ConfirmedAt = &at
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		r.CancelledAt = &at
	}
	return nil
}

// ResourceFilter narrows aggregate queries. A zero filter matches everything.
type ResourceFilter struct {
	ResourceIDs []string
	OwnerID     string
}

func (f ResourceFilter) Matches(r Resource) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	return len(f.ResourceIDs) == 0 || slices.Contains(f.ResourceIDs, r.ID)
}

func StatePtr(s State) *State       { return &s }
func PaymentPtr(p Payment) *Payment { return &p }
func TimePtr(t time.Time) *time.Time {
	return &t
}
