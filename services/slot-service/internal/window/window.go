package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimeFormat is returned for any date, time or duration that cannot
// be parsed. Callers map it onto their own error kinds.
var ErrInvalidTimeFormat = errors.New("invalid time format")

const DateLayout = "2006-01-02"

// Window is a half-open interval [Start, End) with Start < End.
type Window struct {
	Start time.Time
	End   time.Time
}

// New validates start < end.
func New(start, end time.Time) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidTimeFormat,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Overlaps reports whether the two windows share an instant. A window that
// ends exactly when the other starts does not overlap it.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) In(loc *time.Location) Window {
	return Window{Start: w.Start.In(loc), End: w.End.In(loc)}
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// EndSpec is how the end of a window is given: a wall-clock time or a number
// of whole hours after the start. Build one with At or Hours.
type EndSpec struct {
	wallClock string
	hours     int
	isHours   bool
}

func At(wallClock string) EndSpec { return EndSpec{wallClock: wallClock} }

func Hours(n int) EndSpec { return EndSpec{hours: n, isHours: true} }

func (e EndSpec) IsHours() bool { return e.isHours }

var clockLayouts = []string{"3:04 PM", "3:04PM", "3 PM", "3PM", "15:04", "15:04:05"}

// ParseClock parses a wall-clock time such as "11:00 PM", "11:00pm" or "23:00"
// and returns hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, 0, fmt.Errorf("%w: empty time", ErrInvalidTimeFormat)
	}
	for _, layout := range clockLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (year int, month time.Month, day int, err error) {
	t, perr := time.Parse(DateLayout, strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, 0, fmt.Errorf("%w: date %q", ErrInvalidTimeFormat, s)
	}
	return t.Year(), t.Month(), t.Day(), nil
}

// Normalize combines a calendar date with a wall-clock start and an end spec
// into an absolute window in loc. When the end falls on or before the start
// the end moves to the next calendar day.
func Normalize(loc *time.Location, date, start string, end EndSpec) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d, err := ParseDate(date)
	if err != nil {
		return Window{}, err
	}
	sh, sm, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	startAt := time.Date(y, m, d, sh, sm, 0, 0, loc)

	if end.isHours {
		if end.hours <= 0 {
			return Window{}, fmt.Errorf("%w: duration must be a positive number of hours", ErrInvalidTimeFormat)
		}
		return Window{Start: startAt, End: startAt.Add(time.Duration(end.hours) * time.Hour)}, nil
	}

	eh, em, err := ParseClock(end.wallClock)
	if err != nil {
		return Window{}, err
	}
	endAt := time.Date(y, m, d, eh, em, 0, 0, loc)
	if !endAt.After(startAt) {
		endAt = time.Date(y, m, d+1, eh, em, 0, 0, loc)
	}
	return Window{Start: startAt, End: endAt}, nil
}
