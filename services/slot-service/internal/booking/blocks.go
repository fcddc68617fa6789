package booking

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/notify"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

type BlockRequest struct {
	Unit        model.UnitRef
	Window      window.Window
	Reason      string
	PrincipalID string
}

// AddBlock closes a window on a unit. It fails with a conflict when another
// block or an active reservation already covers part of it. Unpaid holds do
// not protect a window from a block.
func (m *Manager) AddBlock(ctx context.Context, req BlockRequest) (b model.Block, err error) {
	ctx, end := m.startSpan(ctx, "booking.AddBlock", unitAttrs(req.Unit)...)
	defer end(&err)

	now := m.now()
	if req.Window.Start.Before(now) {
		return model.Block{}, fmt.Errorf("block start %s: %w", req.Window.Start.Format("2006-01-02 15:04"), apperr.PastWindow)
	}
	if !req.Window.Start.Before(req.Window.End) {
		return model.Block{}, fmt.Errorf("window %s: %w", req.Window, apperr.InvalidTimeFormat)
	}
	resource, _, err := m.resolver.Unit(ctx, req.Unit)
	if err != nil {
		return model.Block{}, err
	}
	if !resource.OwnedBy(req.PrincipalID) {
		return model.Block{}, fmt.Errorf("block on %s: %w", resource.ID, apperr.Forbidden)
	}

	b = model.Block{
		ID:         m.newID(),
		ResourceID: req.Unit.ResourceID,
		UnitID:     req.Unit.UnitID,
		Window:     req.Window,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedBy:  req.PrincipalID,
		CreatedAt:  now,
	}
	err = m.checkAndWrite(ctx, req.Unit, req.Window, false, func() error {
		return m.blocks.InsertBlock(ctx, b)
	})
	if err != nil {
		return model.Block{}, err
	}

	m.logger.Info("block added", "block_id", b.ID, "unit", req.Unit.Key(), "start", b.Window.Start, "end", b.Window.End)
	m.publish(ctx, blockEvent(notify.KindBlocked, b))
	return b, nil
}

func (m *Manager) RemoveBlock(ctx context.Context, id, principal string) (err error) {
	ctx, end := m.startSpan(ctx, "booking.RemoveBlock", attribute.String("slot.block_id", id))
	defer end(&err)

	b, err := m.blocks.FindBlock(ctx, id)
	if err != nil {
		return err
	}
	resource, err := m.resources.GetResource(ctx, b.ResourceID)
	if err != nil {
		return err
	}
	if !resource.OwnedBy(principal) {
		return fmt.Errorf("block %s: %w", id, apperr.Forbidden)
	}
	if err := m.blocks.DeleteBlock(ctx, id); err != nil {
		return err
	}

	m.logger.Info("block removed", "block_id", id, "unit", b.Unit().Key())
	m.publish(ctx, blockEvent(notify.KindUnblocked, b))
	return nil
}

// ListUpcomingBlocks returns the resource's blocks that have not ended yet.
func (m *Manager) ListUpcomingBlocks(ctx context.Context, resourceID string) ([]model.Block, error) {
	if _, err := m.resources.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	blocks, err := m.blocks.ListBlocksByResource(ctx, resourceID, m.now())
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []model.Block{}
	}
	return blocks, nil
}

func blockEvent(kind notify.Kind, b model.Block) notify.Event {
	return notify.Event{
		Kind:       kind,
		ResourceID: b.ResourceID,
		UnitID:     b.UnitID,
		Start:      b.Window.Start,
		End:        b.Window.End,
		BlockID:    b.ID,
	}
}
