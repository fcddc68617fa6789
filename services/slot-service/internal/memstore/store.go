// Package memstore keeps resources, blocks and reservations in process
// memory. It backs local runs and tests, and performs the same conditional
// writes as the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

type Store struct {
	mu           sync.RWMutex
	resources    map[string]model.Resource
	blocks       map[string]model.Block
	reservations map[string]model.Reservation
}

func New() *Store {
	return &Store{
		resources:    map[string]model.Resource{},
		blocks:       map[string]model.Block{},
		reservations: map[string]model.Reservation{},
	}
}

func (s *Store) CreateResource(_ context.Context, r model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; ok {
		return fmt.Errorf("resource %s: %w", r.ID, apperr.Conflict)
	}
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *Store) GetResource(_ context.Context, id string) (model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return model.Resource{}, fmt.Errorf("resource %s: %w", id, apperr.NotFound)
	}
	return cloneResource(r), nil
}

func (s *Store) ListResources(_ context.Context, filter model.ResourceFilter) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if filter.Matches(r) {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateResourceUnits(_ context.Context, id string, units []model.Unit, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %s: %w", id, apperr.NotFound)
	}
	r.Units = slices.Clone(units)
	r.UpdatedAt = at
	s.resources[id] = r
	return nil
}

// InsertBlock rejects the block with model.ErrWriteConflict when another block
// or an active reservation overlaps it on the same unit.
func (s *Store) InsertBlock(_ context.Context, b model.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockOverlapLocked(b.Unit(), b.Window) || s.activeOverlapLocked(b.Unit(), b.Window, "") {
		return model.ErrWriteConflict
	}
	s.blocks[b.ID] = b
	return nil
}

func (s *Store) FindBlock(_ context.Context, id string) (model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return model.Block{}, fmt.Errorf("block %s: %w", id, apperr.NotFound)
	}
	return b, nil
}

func (s *Store) DeleteBlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; !ok {
		return fmt.Errorf("block %s: %w", id, apperr.NotFound)
	}
	delete(s.blocks, id)
	return nil
}

func (s *Store) ListOverlappingBlocks(_ context.Context, unit model.UnitRef, w window.Window) ([]model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Block
	for _, b := range s.blocks {
		if b.Unit() == unit && b.Window.Overlaps(w) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) ListBlocksByResource(_ context.Context, resourceID string, from time.Time) ([]model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Block
	for _, b := range s.blocks {
		if b.ResourceID == resourceID && b.Window.End.After(from) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

// InsertReservation stores r. An active reservation is only written when no
// other active reservation or block overlaps it.
func (s *Store) InsertReservation(_ context.Context, r model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s: %w", r.ID, apperr.Conflict)
	}
	if r.IsActive() && (s.activeOverlapLocked(r.Unit(), r.Window, "") || s.blockOverlapLocked(r.Unit(), r.Window)) {
		return model.ErrWriteConflict
	}
	s.reservations[r.ID] = r
	return nil
}

// UpdateReservation applies tr atomically. A transition that makes the
// reservation active is subject to the same overlap check as an insert.
func (s *Store) UpdateReservation(_ context.Context, id string, tr model.ReservationTransition) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, apperr.NotFound)
	}
	wasActive := r.IsActive()
	if err := tr.Apply(&r); err != nil {
		return model.Reservation{}, err
	}
	if !wasActive && r.IsActive() && (s.activeOverlapLocked(r.Unit(), r.Window, r.ID) || s.blockOverlapLocked(r.Unit(), r.Window)) {
		return model.Reservation{}, model.ErrWriteConflict
	}
	s.reservations[id] = r
	return r, nil
}

func (s *Store) FindReservation(_ context.Context, id string) (model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, apperr.NotFound)
	}
	return r, nil
}

func (s *Store) ListActiveOverlapping(_ context.Context, unit model.UnitRef, w window.Window) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r model.Reservation) bool {
		return r.Unit() == unit && r.IsActive() && r.Window.Overlaps(w)
	}), nil
}

func (s *Store) ListReservationsByResource(_ context.Context, resourceID string) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r model.Reservation) bool { return r.ResourceID == resourceID }), nil
}

func (s *Store) ListReservationsByRequester(_ context.Context, requesterID string) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r model.Reservation) bool { return r.RequesterID == requesterID }), nil
}

// HasUpcoming reports whether unit has a non-cancelled reservation that ends
// after now.
func (s *Store) HasUpcoming(_ context.Context, unit model.UnitRef, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if r.Unit() == unit && r.State != model.StateCancelled && r.Window.End.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteExpiredPending(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reservations {
		if r.SweepableBefore(cutoff) {
			delete(s.reservations, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) activeOverlapLocked(unit model.UnitRef, w window.Window, skipID string) bool {
	for _, r := range s.reservations {
		if r.ID != skipID && r.Unit() == unit && r.IsActive() && r.Window.Overlaps(w) {
			return true
		}
	}
	return false
}

func (s *Store) blockOverlapLocked(unit model.UnitRef, w window.Window) bool {
	for _, b := range s.blocks {
		if b.Unit() == unit && b.Window.Overlaps(w) {
			return true
		}
	}
	return false
}

func (s *Store) collectLocked(keep func(model.Reservation) bool) []model.Reservation {
	var out []model.Reservation
	for _, r := range s.reservations {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].Window.Start.Before(out[j].Window.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortBlocks(bs []model.Block) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].Window.Start.Equal(bs[j].Window.Start) {
			return bs[i].Window.Start.Before(bs[j].Window.Start)
		}
		return bs[i].ID < bs[j].ID
	})
}

func cloneResource(r model.Resource) model.Resource {
	r.Units = slices.Clone(r.Units)
	return r
}
