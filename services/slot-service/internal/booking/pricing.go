package booking

import (
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

// Pricer computes the amount charged for a reservation, in minor units.
type Pricer interface {
	Price(r model.Resource, w window.Window) int64
}

// HourlyPricer charges the resource's hourly rate pro rata per started minute.
type HourlyPricer struct{}

func (HourlyPricer) Price(r model.Resource, w window.Window) int64 {
	if r.HourlyRateMinor <= 0 {
		return 0
	}
	d := w.Duration()
	minutes := int64(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return (r.HourlyRateMinor*minutes + 59) / 60
}
