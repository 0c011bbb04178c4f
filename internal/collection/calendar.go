package collection

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"famhub/backend"
)

// Calendar is the events controller. Its list is scoped to one month.
type Calendar struct {
	*Controller[backend.Event, backend.EventPatch]
}

// MonthScope returns the list scope for the month containing t.
func MonthScope(t time.Time) backend.Scope {
	return backend.Scope{
		"year":  strconv.Itoa(t.Year()),
		"month": strconv.Itoa(int(t.Month())),
	}
}

// NewCalendar creates an events controller showing the month containing
// month.
func NewCalendar(api backend.Collaborator[backend.Event, backend.EventPatch], cfg Config, month time.Time, opts ...Option[backend.Event]) *Calendar {
	opts = append([]Option[backend.Event]{WithScope[backend.Event](MonthScope(month))}, opts...)
	return &Calendar{Controller: New(backend.Events, api, cfg, opts...)}
}

// Month returns the first day of the month being shown.
func (c *Calendar) Month() time.Time {
	return scopeMonth(c.Scope())
}

func scopeMonth(scope backend.Scope) time.Time {
	year, err := strconv.Atoi(scope["year"])
	if err != nil {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
	}
	month, err := strconv.Atoi(scope["month"])
	if err != nil || month < 1 || month > 12 {
		month = 1
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.Local)
}

// MonthLabel returns e.g. "March 2026".
func (c *Calendar) MonthLabel() string {
	return c.Month().Format("January 2006")
}

// SetMonth switches to the month containing t.
func (c *Calendar) SetMonth(ctx context.Context, t time.Time) {
	c.SetScope(ctx, MonthScope(t))
}

// NextMonth moves forward one month.
func (c *Calendar) NextMonth(ctx context.Context) {
	c.shiftMonths(ctx, 1)
}

// PrevMonth moves back one month.
func (c *Calendar) PrevMonth(ctx context.Context) {
	c.shiftMonths(ctx, -1)
}

func (c *Calendar) shiftMonths(ctx context.Context, n int) {
	c.ShiftScope(ctx, func(cur backend.Scope) backend.Scope {
		return MonthScope(scopeMonth(cur).AddDate(0, n, 0))
	})
}

// Add creates an event, defaulting its color.
func (c *Calendar) Add(ctx context.Context, draft backend.Event) (backend.Event, error) {
	if draft.Color == "" {
		draft.Color = backend.DefaultEventColor
	}
	return c.Controller.Add(ctx, draft)
}

// EventsOn returns the events on day, all-day events first and the rest by
// start time.
func (c *Calendar) EventsOn(day time.Time) []backend.Event {
	return EventsOn(c.Items(), day)
}

// EventsOn filters events to those dated day.
func EventsOn(events []backend.Event, day time.Time) []backend.Event {
	date := day.Format("2006-01-02")
	var out []backend.Event
	for _, e := range events {
		if strings.HasPrefix(e.Date, date) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})
	return out
}

// Weeks returns the month grid: rows of seven days starting on Sunday.
// Cells outside the month are zero.
func (c *Calendar) Weeks() [][7]time.Time {
	return MonthGrid(c.Month())
}

// MonthGrid lays out the month containing t as weeks starting on Sunday.
func MonthGrid(t time.Time) [][7]time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	days := first.AddDate(0, 1, -1).Day()

	var weeks [][7]time.Time
	var week [7]time.Time
	col := int(first.Weekday())
	for d := 1; d <= days; d++ {
		week[col] = first.AddDate(0, 0, d-1)
		col++
		if col == 7 {
			weeks = append(weeks, week)
			week = [7]time.Time{}
			col = 0
		}
	}
	if col > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}
