// Package notify publishes unit change events. Delivery is best effort; a
// failed publish never undoes the change that caused it.
package notify

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindCreated   Kind = "created"
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
	KindBlocked   Kind = "blocked"
	KindUnblocked Kind = "unblocked"
)

type Event struct {
	ID            string    `json:"event_id"`
	Kind          Kind      `json:"kind"`
	ResourceID    string    `json:"resource_id"`
	UnitID        string    `json:"unit_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ReservationID string    `json:"reservation_id,omitempty"`
	BlockID       string    `json:"block_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Topic is the event type name, e.g. slots.unit.created.v1.
func (e Event) Topic() string { return "slots.unit." + string(e.Kind) + ".v1" }

// Key groups events of one unit so consumers see them in order.
func (e Event) Key() string { return e.ResourceID + "/" + e.UnitID }

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
