package window

import (
	"errors"
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	return Window{Start: s, End: e}
}

func TestNormalizeOvernight(t *testing.T) {
	w, err := Normalize(time.UTC, "2024-01-10", "11:00 PM", At("02:00 AM"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wantStart := time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) || !w.End.Equal(wantEnd) {
		t.Fatalf("got %s", w)
	}
}

func TestNormalizeVariants(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	cases := []struct {
		name      string
		date      string
		start     string
		end       EndSpec
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"same day 12h", "2024-03-05", "6:00 PM", At("8:30 PM"),
			time.Date(2024, 3, 5, 18, 0, 0, 0, ist), time.Date(2024, 3, 5, 20, 30, 0, 0, ist)},
		{"24h clock", "2024-03-05", "09:15", At("10:45"),
			time.Date(2024, 3, 5, 9, 15, 0, 0, ist), time.Date(2024, 3, 5, 10, 45, 0, 0, ist)},
		{"lowercase no space", "2024-03-05", "10:00pm", At("1:00am"),
			time.Date(2024, 3, 5, 22, 0, 0, 0, ist), time.Date(2024, 3, 6, 1, 0, 0, 0, ist)},
		{"equal end wraps a full day", "2024-03-05", "7:00 AM", At("7:00 AM"),
			time.Date(2024, 3, 5, 7, 0, 0, 0, ist), time.Date(2024, 3, 6, 7, 0, 0, 0, ist)},
		{"duration", "2024-03-05", "11:00 PM", Hours(3),
			time.Date(2024, 3, 5, 23, 0, 0, 0, ist), time.Date(2024, 3, 6, 2, 0, 0, 0, ist)},
		{"month end wrap", "2024-02-29", "11:30 PM", At("12:30 AM"),
			time.Date(2024, 2, 29, 23, 30, 0, 0, ist), time.Date(2024, 3, 1, 0, 30, 0, 0, ist)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := Normalize(ist, tc.date, tc.start, tc.end)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if !w.Start.Equal(tc.wantStart) || !w.End.Equal(tc.wantEnd) {
				t.Fatalf("got %s want [%s, %s)", w, tc.wantStart, tc.wantEnd)
			}
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	cases := []struct {
		name  string
		date  string
		start string
		end   EndSpec
	}{
		{"bad date", "10/01/2024", "10:00 AM", At("11:00 AM")},
		{"bad start", "2024-01-10", "25:00", At("11:00 AM")},
		{"bad end", "2024-01-10", "10:00 AM", At("noon")},
		{"empty start", "2024-01-10", "", At("11:00 AM")},
		{"zero hours", "2024-01-10", "10:00 AM", Hours(0)},
		{"negative hours", "2024-01-10", "10:00 AM", Hours(-2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize(time.UTC, tc.date, tc.start, tc.end); !errors.Is(err, ErrInvalidTimeFormat) {
				t.Fatalf("expected ErrInvalidTimeFormat, got %v", err)
			}
		})
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	booked := mustWindow(t, "2024-01-10T10:00:00Z", "2024-01-10T12:00:00Z")

	cases := []struct {
		name string
		w    Window
		want bool
	}{
		{"adjacent after", mustWindow(t, "2024-01-10T12:00:00Z", "2024-01-10T13:00:00Z"), false},
		{"adjacent before", mustWindow(t, "2024-01-10T09:00:00Z", "2024-01-10T10:00:00Z"), false},
		{"straddles end", mustWindow(t, "2024-01-10T11:59:00Z", "2024-01-10T12:01:00Z"), true},
		{"inside", mustWindow(t, "2024-01-10T10:30:00Z", "2024-01-10T11:00:00Z"), true},
		{"covers", mustWindow(t, "2024-01-10T09:00:00Z", "2024-01-10T13:00:00Z"), true},
		{"identical", booked, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := booked.Overlaps(tc.w); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := tc.w.Overlaps(booked); got != tc.want {
				t.Fatalf("Overlaps not symmetric")
			}
		})
	}
}

func TestNewRejectsEmptyWindow(t *testing.T) {
	at := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	if _, err := New(at, at); !errors.Is(err, ErrInvalidTimeFormat) {
		t.Fatalf("expected error for empty window, got %v", err)
	}
}
