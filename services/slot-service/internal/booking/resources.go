package booking

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type ResourceSpec struct {
	OwnerID         string
	Name            string
	Location        string
	Timezone        string
	HourlyRateMinor int64
	Units           int
}

const maxUnits = 64

func (m *Manager) CreateResource(ctx context.Context, spec ResourceSpec) (model.Resource, error) {
	name := strings.TrimSpace(spec.Name)
	switch {
	case spec.OwnerID == "":
		return model.Resource{}, fmt.Errorf("owner is required: %w", apperr.InvalidInput)
	case name == "":
		return model.Resource{}, fmt.Errorf("name is required: %w", apperr.InvalidInput)
	case spec.Units < 1 || spec.Units > maxUnits:
		return model.Resource{}, fmt.Errorf("units must be between 1 and %d: %w", maxUnits, apperr.InvalidInput)
	case spec.HourlyRateMinor < 0:
		return model.Resource{}, fmt.Errorf("hourly rate must not be negative: %w", apperr.InvalidInput)
	}
	if spec.Timezone != "" {
		if _, err := time.LoadLocation(spec.Timezone); err != nil {
			return model.Resource{}, fmt.Errorf("timezone %q: %w", spec.Timezone, apperr.InvalidInput)
		}
	}

	now := m.now()
	r := model.Resource{
		ID:              m.newID(),
		OwnerID:         spec.OwnerID,
		Name:            name,
		Location:        strings.TrimSpace(spec.Location),
		Timezone:        spec.Timezone,
		HourlyRateMinor: spec.HourlyRateMinor,
		Units:           growUnits(nil, spec.Units),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.resources.CreateResource(ctx, r); err != nil {
		return model.Resource{}, err
	}
	m.logger.Info("resource created", "resource_id", r.ID, "owner", r.OwnerID, "units", len(r.Units))
	return r, nil
}

func (m *Manager) GetResource(ctx context.Context, id string) (model.Resource, error) {
	return m.resources.GetResource(ctx, id)
}

func (m *Manager) ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.Resource, error) {
	list, err := m.resources.ListResources(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Resource{}
	}
	return list, nil
}

// SetUnits grows or shrinks the resource to count units. Units are only
// removed from the end, and only when none of them has a reservation that
// is not cancelled and has not ended.
func (m *Manager) SetUnits(ctx context.Context, resourceID string, count int, principal string) (model.Resource, error) {
	if count < 1 || count > maxUnits {
		return model.Resource{}, fmt.Errorf("units must be between 1 and %d: %w", maxUnits, apperr.InvalidInput)
	}

	var out model.Resource
	err := m.withUnitLock(ctx, resourceKey(resourceID), func() error {
		r, err := m.ownedResource(ctx, resourceID, principal)
		if err != nil {
			return err
		}
		if count == len(r.Units) {
			out = r
			return nil
		}
		if count > len(r.Units) {
			r.Units = growUnits(r.Units, count)
			return m.saveUnits(ctx, &r, &out)
		}

		removed := r.Units[count:]
		unlocks := make([]func(), 0, len(removed))
		defer func() {
			for _, u := range unlocks {
				u()
			}
		}()
		now := m.now()
		for _, u := range removed {
			ref := model.UnitRef{ResourceID: r.ID, UnitID: u.ID}
			unlock, err := m.locker.Lock(ctx, ref.Key())
			if err != nil {
				return apperr.Unavailablef(err)
			}
			unlocks = append(unlocks, unlock)
			busy, err := m.reservations.HasUpcoming(ctx, ref, now)
			if err != nil {
				return err
			}
			if busy {
				return fmt.Errorf("unit %s has upcoming reservations: %w", ref.Key(), apperr.Conflict)
			}
		}
		r.Units = slices.Clone(r.Units[:count])
		return m.saveUnits(ctx, &r, &out)
	})
	if err != nil {
		return model.Resource{}, err
	}
	return out, nil
}

// SetUnitAvailability opens or closes a unit for new reservations. Existing
// reservations are unaffected.
func (m *Manager) SetUnitAvailability(ctx context.Context, ref model.UnitRef, available bool, principal string) (model.Resource, error) {
	var out model.Resource
	err := m.withUnitLock(ctx, resourceKey(ref.ResourceID), func() error {
		r, err := m.ownedResource(ctx, ref.ResourceID, principal)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(r.Units, func(u model.Unit) bool { return u.ID == ref.UnitID })
		if idx < 0 {
			return fmt.Errorf("unit %s: %w", ref.Key(), apperr.InvalidUnit)
		}
		// Creates check the flag under the unit lock, so flip it under the same lock.
		unlock, err := m.locker.Lock(ctx, ref.Key())
		if err != nil {
			return apperr.Unavailablef(err)
		}
		defer unlock()
		r.Units = slices.Clone(r.Units)
		r.Units[idx].Available = available
		return m.saveUnits(ctx, &r, &out)
	})
	if err != nil {
		return model.Resource{}, err
	}
	return out, nil
}

func (m *Manager) ownedResource(ctx context.Context, id, principal string) (model.Resource, error) {
	r, err := m.resources.GetResource(ctx, id)
	if err != nil {
		return model.Resource{}, err
	}
	if !r.OwnedBy(principal) {
		return model.Resource{}, fmt.Errorf("resource %s: %w", id, apperr.Forbidden)
	}
	return r, nil
}

func (m *Manager) saveUnits(ctx context.Context, r *model.Resource, out *model.Resource) error {
	r.UpdatedAt = m.now()
	if err := m.resources.UpdateResourceUnits(ctx, r.ID, r.Units, r.UpdatedAt); err != nil {
		return err
	}
	m.logger.Info("resource units updated", "resource_id", r.ID, "units", len(r.Units))
	*out = *r
	return nil
}

func resourceKey(resourceID string) string { return resourceID + "/*" }

// growUnits appends units q<n+1>..q<count> after the existing ones.
func growUnits(units []model.Unit, count int) []model.Unit {
	out := slices.Clone(units)
	for i := len(units) + 1; i <= count; i++ {
		out = append(out, model.Unit{
			ID:        "q" + strconv.Itoa(i),
			Name:      "Quarter " + strconv.Itoa(i),
			Available: true,
		})
	}
	return out
}
