package availability

import (
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

// FreeStarts returns start times within span where a booking of length
// duration would not overlap any busy window. Starts before now are skipped.
func FreeStarts(span window.Window, duration, step time.Duration, busy []window.Window, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !span.End.After(span.Start) || span.Start.Add(duration).After(span.End) {
		return nil
	}

	var starts []time.Time
	for t := span.Start; !t.Add(duration).After(span.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(window.Window{Start: t, End: t.Add(duration)}, busy) {
			starts = append(starts, t)
		}
	}
	return starts
}

func overlapsAny(w window.Window, busy []window.Window) bool {
	for _, b := range busy {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}
