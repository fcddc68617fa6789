// Package testfixtures wires a booking manager over the memory store with a
// controllable clock and a recording notifier.
package testfixtures

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/lock"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/memstore"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/notify"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

const (
	OwnerID    = "owner-1"
	CustomerID = "customer-1"
)

// Recorder is a notify.Publisher that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

func (r *Recorder) Kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// IDs returns a deterministic id generator with the given prefix.
func IDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type Env struct {
	Store    *memstore.Store
	Clock    *Clock
	Events   *Recorder
	Manager  *booking.Manager
	Resource model.Resource
}

// NewEnv returns a manager with one resource of four units owned by OwnerID
// at an hourly rate of 120000 minor units.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	env := &Env{
		Store:  memstore.New(),
		Clock:  NewClock(time.Time{}),
		Events: &Recorder{},
	}
	env.Manager = booking.NewManager(booking.Deps{
		Resources:    env.Store,
		Blocks:       env.Store,
		Reservations: env.Store,
		Locker:       lock.NewKeyed(),
		Notifier:     env.Events,
		Now:          env.Clock.Now,
		NewID:        IDs("id"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r, err := env.Manager.CreateResource(context.Background(), booking.ResourceSpec{
		OwnerID:         OwnerID,
		Name:            "Green Turf Arena",
		Location:        "Pune",
		HourlyRateMinor: 120000,
		Units:           4,
	})
	if err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	env.Resource = r
	return env
}

func (e *Env) Unit(id string) model.UnitRef {
	return model.UnitRef{ResourceID: e.Resource.ID, UnitID: id}
}

// Window returns [now+fromHours, now+toHours).
func (e *Env) Window(fromHours, toHours float64) window.Window {
	now := e.Clock.Now()
	return window.Window{
		Start: now.Add(time.Duration(fromHours * float64(time.Hour))),
		End:   now.Add(time.Duration(toHours * float64(time.Hour))),
	}
}
