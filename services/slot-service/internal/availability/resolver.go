package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

type ResourceReader interface {
	GetResource(ctx context.Context, id string) (model.Resource, error)
	ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.Resource, error)
}

type BlockReader interface {
	ListOverlappingBlocks(ctx context.Context, unit model.UnitRef, w window.Window) ([]model.Block, error)
}

type ReservationReader interface {
	ListActiveOverlapping(ctx context.Context, unit model.UnitRef, w window.Window) ([]model.Reservation, error)
}

// FreeUnit is one unit that is free for the queried window.
type FreeUnit struct {
	ResourceID   string
	ResourceName string
	UnitID       string
	UnitName     string
}

// Resolver answers availability questions from the block and reservation
// stores. It never writes.
type Resolver struct {
	resources    ResourceReader
	blocks       BlockReader
	reservations ReservationReader
	parallelism  int
}

func NewResolver(resources ResourceReader, blocks BlockReader, reservations ReservationReader) *Resolver {
	return &Resolver{resources: resources, blocks: blocks, reservations: reservations, parallelism: 8}
}

// WithParallelism bounds how many units FindFreeUnits checks at once.
func (r *Resolver) WithParallelism(n int) *Resolver {
	if n > 0 {
		r.parallelism = n
	}
	return r
}

// Unit resolves a unit reference to its resource and unit, failing with
// apperr.InvalidUnit when either is unknown.
func (r *Resolver) Unit(ctx context.Context, ref model.UnitRef) (model.Resource, model.Unit, error) {
	res, err := r.resources.GetResource(ctx, ref.ResourceID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return model.Resource{}, model.Unit{}, fmt.Errorf("resource %s: %w", ref.ResourceID, apperr.InvalidUnit)
		}
		return model.Resource{}, model.Unit{}, err
	}
	u, ok := res.Unit(ref.UnitID)
	if !ok {
		return model.Resource{}, model.Unit{}, fmt.Errorf("unit %s: %w", ref.Key(), apperr.InvalidUnit)
	}
	return res, u, nil
}

// IsUnitFree reports whether the unit has no overlapping block and no
// overlapping active reservation. A unit marked unavailable is never free.
func (r *Resolver) IsUnitFree(ctx context.Context, ref model.UnitRef, w window.Window) (bool, error) {
	_, u, err := r.Unit(ctx, ref)
	if err != nil {
		return false, err
	}
	if !u.Available {
		return false, nil
	}
	return r.Clear(ctx, ref, w)
}

// Clear checks only the stores, without resolving the unit. Callers that
// already hold the resource use it inside their critical section.
func (r *Resolver) Clear(ctx context.Context, ref model.UnitRef, w window.Window) (bool, error) {
	blocks, err := r.blocks.ListOverlappingBlocks(ctx, ref, w)
	if err != nil {
		return false, err
	}
	if len(blocks) > 0 {
		return false, nil
	}
	active, err := r.reservations.ListActiveOverlapping(ctx, ref, w)
	if err != nil {
		return false, err
	}
	for _, res := range active {
		// Stores already filter, this keeps the decision tied to IsActive.
		if res.IsActive() && res.Window.Overlaps(w) {
			return false, nil
		}
	}
	return true, nil
}

// FindFreeUnits returns every free unit across the resources matched by
// filter, one entry per unit, in resource then unit order. No resources
// yields an empty result.
func (r *Resolver) FindFreeUnits(ctx context.Context, w window.Window, filter model.ResourceFilter) ([]FreeUnit, error) {
	resources, err := r.resources.ListResources(ctx, filter)
	if err != nil {
		return nil, err
	}

	var candidates []FreeUnit
	for _, res := range resources {
		for _, u := range res.Units {
			if !u.Available {
				continue
			}
			candidates = append(candidates, FreeUnit{
				ResourceID: res.ID, ResourceName: res.Name,
				UnitID: u.ID, UnitName: u.Name,
			})
		}
	}

	free := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, c := range candidates {
		g.Go(func() error {
			ok, err := r.Clear(gctx, model.UnitRef{ResourceID: c.ResourceID, UnitID: c.UnitID}, w)
			if err != nil {
				return err
			}
			free[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]FreeUnit, 0, len(candidates))
	for i, c := range candidates {
		if free[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

// FreeStarts lists bookable start times for one unit inside span.
func (r *Resolver) FreeStarts(ctx context.Context, ref model.UnitRef, span window.Window, duration, step time.Duration, now time.Time) ([]time.Time, error) {
	_, u, err := r.Unit(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !u.Available {
		return []time.Time{}, nil
	}
	blocks, err := r.blocks.ListOverlappingBlocks(ctx, ref, span)
	if err != nil {
		return nil, err
	}
	active, err := r.reservations.ListActiveOverlapping(ctx, ref, span)
	if err != nil {
		return nil, err
	}
	busy := make([]window.Window, 0, len(blocks)+len(active))
	for _, b := range blocks {
		busy = append(busy, b.Window)
	}
	for _, res := range active {
		if res.IsActive() {
			busy = append(busy, res.Window)
		}
	}
	starts := FreeStarts(span, duration, step, busy, now)
	if starts == nil {
		starts = []time.Time{}
	}
	return starts, nil
}
