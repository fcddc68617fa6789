package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

func TestFreeStarts_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	span := window.Window{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}
	busy := []window.Window{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	starts := FreeStarts(span, 15*time.Minute, 15*time.Minute, busy, day)
	if len(starts) != 2 {
		t.Fatalf("expected 2 starts, got %d", len(starts))
	}
	if !starts[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first start 09:00, got %s", starts[0].Format(time.RFC3339))
	}
	if !starts[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second start 09:45, got %s", starts[1].Format(time.RFC3339))
	}
}

func TestFreeStarts_SkipsPast(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	span := window.Window{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	now := day.Add(9*time.Hour + 31*time.Minute)
	starts := FreeStarts(span, 15*time.Minute, 15*time.Minute, nil, now)
	if len(starts) != 1 {
		t.Fatalf("expected 1 start, got %d", len(starts))
	}
	if !starts[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected start 09:45, got %s", starts[0].Format(time.RFC3339))
	}
}

func TestFreeStarts_DegenerateInput(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	span := window.Window{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}
	if FreeStarts(span, 0, time.Hour, nil, day) != nil {
		t.Fatal("zero duration must yield nil")
	}
	if FreeStarts(span, 2*time.Hour, time.Hour, nil, day) != nil {
		t.Fatal("duration longer than span must yield nil")
	}
}
