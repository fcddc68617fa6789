// Package booking is the only writer of reservations and blocks. Every write
// that can introduce an overlap runs its availability check and its store
// write under the unit's lock.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/lock"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/notify"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

const DefaultGrace = 15 * time.Minute

type Resources interface {
	availability.ResourceReader
	CreateResource(ctx context.Context, r model.Resource) error
	UpdateResourceUnits(ctx context.Context, id string, units []model.Unit, at time.Time) error
}

type Blocks interface {
	availability.BlockReader
	InsertBlock(ctx context.Context, b model.Block) error
	FindBlock(ctx context.Context, id string) (model.Block, error)
	DeleteBlock(ctx context.Context, id string) error
	ListBlocksByResource(ctx context.Context, resourceID string, from time.Time) ([]model.Block, error)
}

type Reservations interface {
	availability.ReservationReader
	InsertReservation(ctx context.Context, r model.Reservation) error
	UpdateReservation(ctx context.Context, id string, tr model.ReservationTransition) (model.Reservation, error)
	FindReservation(ctx context.Context, id string) (model.Reservation, error)
	ListReservationsByResource(ctx context.Context, resourceID string) ([]model.Reservation, error)
	ListReservationsByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)
	HasUpcoming(ctx context.Context, unit model.UnitRef, now time.Time) (bool, error)
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error)
}

type Deps struct {
	Resources    Resources
	Blocks       Blocks
	Reservations Reservations
	Locker       lock.UnitLocker
	Notifier     notify.Publisher
	Pricer       Pricer
	Now          func() time.Time
	NewID        func() string
	Logger       *slog.Logger
	// Grace is how long an unpaid online hold survives before the sweep.
	Grace time.Duration
}

type Manager struct {
	resources    Resources
	blocks       Blocks
	reservations Reservations
	resolver     *availability.Resolver
	locker       lock.UnitLocker
	notifier     notify.Publisher
	pricer       Pricer
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	grace        time.Duration
	tracer       trace.Tracer
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		resources:    d.Resources,
		blocks:       d.Blocks,
		reservations: d.Reservations,
		locker:       d.Locker,
		notifier:     d.Notifier,
		pricer:       d.Pricer,
		now:          d.Now,
		newID:        d.NewID,
		logger:       d.Logger,
		grace:        d.Grace,
		tracer:       otel.Tracer("slot-service/booking"),
	}
	if m.locker == nil {
		m.locker = lock.NewKeyed()
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.pricer == nil {
		m.pricer = HourlyPricer{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.grace <= 0 {
		m.grace = DefaultGrace
	}
	m.resolver = availability.NewResolver(d.Resources, d.Blocks, d.Reservations)
	return m
}

// Resolver exposes the read side that shares this manager's stores.
func (m *Manager) Resolver() *availability.Resolver { return m.resolver }

// Now is the manager's clock.
func (m *Manager) Now() time.Time { return m.now() }

func (m *Manager) Grace() time.Duration { return m.grace }

// withUnitLock runs fn while holding the unit's lock.
func (m *Manager) withUnitLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return apperr.Unavailablef(fmt.Errorf("lock %s: %w", key, err))
	}
	defer unlock()
	return fn()
}

// checkAndWrite verifies w is clear on ref and calls write, both under the
// unit lock. With requireOpen the unit must also still accept new
// reservations. A write rejected by the store's own overlap check is retried
// once before it is reported as a conflict.
func (m *Manager) checkAndWrite(ctx context.Context, ref model.UnitRef, w window.Window, requireOpen bool, write func() error) error {
	for attempt := 1; ; attempt++ {
		err := m.withUnitLock(ctx, ref.Key(), func() error {
			// The unit may have been removed or closed while we waited for the lock.
			_, unit, err := m.resolver.Unit(ctx, ref)
			if err != nil {
				return err
			}
			if requireOpen && !unit.Available {
				return fmt.Errorf("unit %s is not accepting reservations: %w", ref.Key(), apperr.Conflict)
			}
			free, err := m.resolver.Clear(ctx, ref, w)
			if err != nil {
				return apperr.Unavailablef(err)
			}
			if !free {
				return fmt.Errorf("%s %s: %w", ref.Key(), w, apperr.Conflict)
			}
			return write()
		})
		if !errors.Is(err, model.ErrWriteConflict) {
			return err
		}
		if attempt >= 2 {
			return fmt.Errorf("%s %s: %w", ref.Key(), w, apperr.Conflict)
		}
		m.logger.Debug("conditional write rejected, retrying", "unit", ref.Key())
	}
}

func (m *Manager) publish(ctx context.Context, e notify.Event) {
	e.ID = m.newID()
	e.OccurredAt = m.now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.notifier.Publish(ctx, e); err != nil {
		m.logger.Warn("change event publish failed", "kind", e.Kind, "unit", e.Key(), "err", err)
	}
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, apperr.Code(*errp))
		}
		span.End()
	}
}

func unitAttrs(ref model.UnitRef) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("slot.resource_id", ref.ResourceID),
		attribute.String("slot.unit_id", ref.UnitID),
	}
}
