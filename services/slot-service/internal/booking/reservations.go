package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/notify"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

var contactPattern = regexp.MustCompile(`^[0-9]{10}$`)

type CreateRequest struct {
	Unit          model.UnitRef
	Window        window.Window
	RequesterID   string
	Channel       model.Channel
	ContactNumber string
}

type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "success"
	PaymentFailed    PaymentOutcome = "failure"
)

// CreateReservation books req.Window on req.Unit. Online bookings start as an
// unpaid hold that does not occupy the window; offline bookings by the owner
// are confirmed immediately.
func (m *Manager) CreateReservation(ctx context.Context, req CreateRequest) (res model.Reservation, err error) {
	ctx, end := m.startSpan(ctx, "booking.CreateReservation",
		append(unitAttrs(req.Unit), attribute.String("slot.channel", string(req.Channel)))...)
	defer end(&err)

	now := m.now()
	if req.Window.Start.Before(now) {
		return model.Reservation{}, fmt.Errorf("start %s: %w", req.Window.Start.Format("2006-01-02 15:04"), apperr.PastWindow)
	}
	if !req.Window.Start.Before(req.Window.End) {
		return model.Reservation{}, fmt.Errorf("window %s: %w", req.Window, apperr.InvalidTimeFormat)
	}
	if req.RequesterID == "" {
		return model.Reservation{}, fmt.Errorf("requester is required: %w", apperr.InvalidInput)
	}
	if req.ContactNumber != "" && !contactPattern.MatchString(req.ContactNumber) {
		return model.Reservation{}, fmt.Errorf("contact number must be 10 digits: %w", apperr.InvalidInput)
	}

	resource, unit, err := m.resolver.Unit(ctx, req.Unit)
	if err != nil {
		return model.Reservation{}, err
	}
	if !unit.Available {
		return model.Reservation{}, fmt.Errorf("unit %s is not accepting reservations: %w", req.Unit.Key(), apperr.Conflict)
	}

	r := model.Reservation{
		ID:            m.newID(),
		ResourceID:    req.Unit.ResourceID,
		UnitID:        req.Unit.UnitID,
		Window:        req.Window,
		RequesterID:   req.RequesterID,
		Channel:       req.Channel,
		AmountMinor:   m.pricer.Price(resource, req.Window),
		ContactNumber: req.ContactNumber,
		CreatedAt:     now,
	}
	switch req.Channel {
	case model.ChannelOnline:
		r.State, r.Payment = model.StatePending, model.PaymentPending
	case model.ChannelOffline:
		if !resource.OwnedBy(req.RequesterID) {
			return model.Reservation{}, fmt.Errorf("offline booking on %s: %w", resource.ID, apperr.Forbidden)
		}
		r.State, r.Payment = model.StateConfirmed, model.PaymentPaid
		r.ConfirmedAt = model.TimePtr(now)
	default:
		return model.Reservation{}, fmt.Errorf("channel %q: %w", req.Channel, apperr.InvalidInput)
	}

	err = m.checkAndWrite(ctx, req.Unit, req.Window, true, func() error {
		return m.reservations.InsertReservation(ctx, r)
	})
	if err != nil {
		return model.Reservation{}, err
	}

	m.logger.Info("reservation created",
		"reservation_id", r.ID, "unit", req.Unit.Key(), "channel", r.Channel,
		"start", r.Window.Start, "end", r.Window.End)
	m.publish(ctx, reservationEvent(notify.KindCreated, r))
	return r, nil
}

// ConfirmPayment records the payment collaborator's verdict. Success confirms
// the hold if its window is still clear; a hold that lost its window is
// cancelled and the call reports a conflict. Repeated callbacks are no-ops.
func (m *Manager) ConfirmPayment(ctx context.Context, id string, outcome PaymentOutcome) (res model.Reservation, err error) {
	ctx, end := m.startSpan(ctx, "booking.ConfirmPayment",
		attribute.String("slot.reservation_id", id), attribute.String("slot.payment_outcome", string(outcome)))
	defer end(&err)

	r, err := m.reservations.FindReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}

	switch outcome {
	case PaymentFailed:
		if r.State != model.StatePending || r.Payment == model.PaymentPaid || r.Payment == model.PaymentFailed {
			return r.Observed(m.now()), nil
		}
		updated, err := m.reservations.UpdateReservation(ctx, id, model.ReservationTransition{
			FromStates:   []model.State{model.StatePending},
			FromPayments: []model.Payment{model.PaymentPending, model.PaymentProcessing},
			Payment:      model.PaymentPtr(model.PaymentFailed),
		})
		if errors.Is(err, model.ErrStateChanged) {
			return m.reload(ctx, id)
		}
		if err != nil {
			return model.Reservation{}, err
		}
		m.logger.Info("reservation payment failed", "reservation_id", id)
		return updated, nil
	case PaymentSucceeded:
	default:
		return model.Reservation{}, fmt.Errorf("payment outcome %q: %w", outcome, apperr.InvalidInput)
	}

	if r.IsActive() {
		return r.Observed(m.now()), nil
	}
	if r.State == model.StateCancelled {
		return model.Reservation{}, fmt.Errorf("reservation %s was cancelled: %w", id, apperr.Conflict)
	}

	now := m.now()
	var confirmed model.Reservation
	err = m.checkAndWrite(ctx, r.Unit(), r.Window, false, func() error {
		var uerr error
		confirmed, uerr = m.reservations.UpdateReservation(ctx, id, model.ReservationTransition{
			FromStates:  []model.State{model.StatePending},
			State:       model.StatePtr(model.StateConfirmed),
			Payment:     model.PaymentPtr(model.PaymentPaid),
			ConfirmedAt: model.TimePtr(now),
		})
		return uerr
	})
	switch {
	case err == nil:
		m.logger.Info("reservation confirmed", "reservation_id", id, "unit", r.Unit().Key())
		m.publish(ctx, reservationEvent(notify.KindConfirmed, confirmed))
		return confirmed.Observed(now), nil
	case errors.Is(err, model.ErrStateChanged):
		current, rerr := m.reload(ctx, id)
		if rerr != nil {
			return model.Reservation{}, rerr
		}
		if current.IsActive() {
			return current, nil
		}
		return model.Reservation{}, fmt.Errorf("reservation %s is %s: %w", id, current.State, apperr.Conflict)
	case errors.Is(err, apperr.Conflict):
		return model.Reservation{}, m.releaseLostHold(ctx, r, err)
	default:
		return model.Reservation{}, err
	}
}

// releaseLostHold cancels a paid hold whose window was taken in the meantime.
// When the cancel cannot be stored the hold stays pending and the caller gets
// Unavailable, never the conflict, so the payment outcome is delivered again.
func (m *Manager) releaseLostHold(ctx context.Context, r model.Reservation, cause error) error {
	now := m.now()
	cancelled, err := m.reservations.UpdateReservation(ctx, r.ID, model.ReservationTransition{
		FromStates:  []model.State{model.StatePending},
		State:       model.StatePtr(model.StateCancelled),
		Payment:     model.PaymentPtr(model.PaymentPaid),
		CancelledAt: model.TimePtr(now),
	})
	if err != nil && !errors.Is(err, model.ErrStateChanged) && !errors.Is(err, apperr.NotFound) {
		m.logger.Error("could not release lost hold", "reservation_id", r.ID, "err", err)
		return apperr.Unavailablef(fmt.Errorf("release reservation %s: %w", r.ID, err))
	}
	if err == nil {
		m.logger.Warn("paid reservation lost its window", "reservation_id", r.ID, "unit", r.Unit().Key())
		m.publish(ctx, reservationEvent(notify.KindCancelled, cancelled))
	}
	return cause
}

// BeginPayment marks that the requester has started paying for a hold.
func (m *Manager) BeginPayment(ctx context.Context, id, requesterID string) (model.Reservation, error) {
	r, err := m.reservations.FindReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.RequesterID != requesterID {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, apperr.Forbidden)
	}
	if r.State != model.StatePending || r.Payment == model.PaymentPaid {
		return model.Reservation{}, fmt.Errorf("reservation %s is %s/%s: %w", id, r.State, r.Payment, apperr.Conflict)
	}
	if r.Payment == model.PaymentProcessing {
		return r, nil
	}
	updated, err := m.reservations.UpdateReservation(ctx, id, model.ReservationTransition{
		FromStates:   []model.State{model.StatePending},
		FromPayments: []model.Payment{model.PaymentPending, model.PaymentFailed},
		Payment:      model.PaymentPtr(model.PaymentProcessing),
	})
	if errors.Is(err, model.ErrStateChanged) {
		return model.Reservation{}, fmt.Errorf("reservation %s changed: %w", id, apperr.Conflict)
	}
	return updated, err
}

// CancelReservation is restricted to the resource owner. Cancelling twice
// succeeds both times.
func (m *Manager) CancelReservation(ctx context.Context, id, principal string) (res model.Reservation, err error) {
	ctx, end := m.startSpan(ctx, "booking.CancelReservation", attribute.String("slot.reservation_id", id))
	defer end(&err)

	r, err := m.reservations.FindReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	resource, err := m.resources.GetResource(ctx, r.ResourceID)
	if err != nil {
		return model.Reservation{}, err
	}
	if !resource.OwnedBy(principal) {
		return model.Reservation{}, fmt.Errorf("cancel %s: %w", id, apperr.Forbidden)
	}

	now := m.now()
	if r.State == model.StateCancelled {
		return r, nil
	}
	if r.StateAt(now) == model.StateCompleted {
		return model.Reservation{}, fmt.Errorf("reservation %s already completed: %w", id, apperr.Conflict)
	}

	cancelled, err := m.reservations.UpdateReservation(ctx, id, model.ReservationTransition{
		FromStates:  []model.State{model.StatePending, model.StateConfirmed},
		State:       model.StatePtr(model.StateCancelled),
		CancelledAt: model.TimePtr(now),
	})
	if errors.Is(err, model.ErrStateChanged) {
		current, rerr := m.reload(ctx, id)
		if rerr != nil {
			return model.Reservation{}, rerr
		}
		if current.State == model.StateCancelled {
			return current, nil
		}
		return model.Reservation{}, fmt.Errorf("reservation %s is %s: %w", id, current.State, apperr.Conflict)
	}
	if err != nil {
		return model.Reservation{}, err
	}

	m.logger.Info("reservation cancelled", "reservation_id", id, "by", principal)
	m.publish(ctx, reservationEvent(notify.KindCancelled, cancelled))
	return cancelled, nil
}

// SweepExpiredPending deletes online holds that stayed unpaid past the grace
// period.
func (m *Manager) SweepExpiredPending(ctx context.Context) (n int, err error) {
	ctx, end := m.startSpan(ctx, "booking.SweepExpiredPending")
	defer end(&err)

	cutoff := m.now().Add(-m.grace)
	n, err = m.reservations.DeleteExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("expired holds swept", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// GetReservation is visible to the requester and the resource owner.
func (m *Manager) GetReservation(ctx context.Context, id, principal string) (model.Reservation, error) {
	r, err := m.reservations.FindReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.RequesterID != principal {
		resource, err := m.resources.GetResource(ctx, r.ResourceID)
		if err != nil {
			return model.Reservation{}, err
		}
		if !resource.OwnedBy(principal) {
			return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, apperr.Forbidden)
		}
	}
	return r.Observed(m.now()), nil
}

func (m *Manager) ListReservationsForResource(ctx context.Context, resourceID, principal string) ([]model.Reservation, error) {
	resource, err := m.resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !resource.OwnedBy(principal) {
		return nil, fmt.Errorf("resource %s: %w", resourceID, apperr.Forbidden)
	}
	list, err := m.reservations.ListReservationsByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return m.observeAll(list), nil
}

func (m *Manager) ListReservationsForRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	list, err := m.reservations.ListReservationsByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	return m.observeAll(list), nil
}

func (m *Manager) reload(ctx context.Context, id string) (model.Reservation, error) {
	r, err := m.reservations.FindReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	return r.Observed(m.now()), nil
}

func (m *Manager) observeAll(list []model.Reservation) []model.Reservation {
	now := m.now()
	out := make([]model.Reservation, 0, len(list))
	for _, r := range list {
		out = append(out, r.Observed(now))
	}
	return out
}

func reservationEvent(kind notify.Kind, r model.Reservation) notify.Event {
	return notify.Event{
		Kind:          kind,
		ResourceID:    r.ResourceID,
		UnitID:        r.UnitID,
		Start:         r.Window.Start,
		End:           r.Window.End,
		ReservationID: r.ID,
	}
}
