package booking

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

// OwnerSummary aggregates an owner's resources. Only active reservations
// count towards bookings, revenue and customers.
type OwnerSummary struct {
	Resources    int
	Units        int
	Bookings     int
	RevenueMinor int64
	Customers    int
}

func (m *Manager) OwnerSummary(ctx context.Context, ownerID string) (sum OwnerSummary, err error) {
	ctx, end := m.startSpan(ctx, "booking.OwnerSummary", attribute.String("slot.owner_id", ownerID))
	defer end(&err)

	resources, err := m.resources.ListResources(ctx, model.ResourceFilter{OwnerID: ownerID})
	if err != nil {
		return OwnerSummary{}, err
	}
	customers := map[string]struct{}{}
	for _, r := range resources {
		sum.Resources++
		sum.Units += len(r.Units)
		list, err := m.reservations.ListReservationsByResource(ctx, r.ID)
		if err != nil {
			return OwnerSummary{}, err
		}
		for _, res := range list {
			if !res.IsActive() {
				continue
			}
			sum.Bookings++
			sum.RevenueMinor += res.AmountMinor
			customers[res.RequesterID] = struct{}{}
		}
	}
	sum.Customers = len(customers)
	return sum, nil
}
