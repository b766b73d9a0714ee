package agenda

import (
	"iter"
	"time"

	"classagenda/internal/model"
)

// Occurrence pairs a calendar day with the item that falls on it. Every
// occurrence of a multi-day item points at the same CalendarItem; edits must
// go through the item's ID, never through an occurrence.
type Occurrence struct {
	Day  Date
	Item *model.CalendarItem

	// start is the item's normalized start, used for ordering.
	start time.Time
}

// Expand turns items into their per-day occurrences, using each timestamp's
// own location to decide calendar days.
func Expand(items []model.CalendarItem) iter.Seq[Occurrence] {
	return ExpandIn(items, nil)
}

// ExpandIn is Expand with all timestamps converted to loc first. A nil loc
// keeps the timestamps' own locations.
//
// The returned sequence is lazy and can be iterated any number of times:
//
//   - end before start is swapped, never reported
//   - single-day kinds, and multi-day kinds whose start and end fall on the
//     same date, yield exactly one occurrence on the start date
//   - multi-day kinds spanning several dates yield one occurrence per date,
//     start and end dates included
func ExpandIn(items []model.CalendarItem, loc *time.Location) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		for i := range items {
			it := &items[i]

			start, end := it.Span()
			if loc != nil {
				start = start.In(loc)
				end = end.In(loc)
			}
			startDay := DateOf(start)
			endDay := DateOf(end)

			if !model.IsMultiDayKind(it.Kind) || startDay == endDay {
				if !yield(Occurrence{Day: startDay, Item: it, start: start}) {
					return
				}
				continue
			}

			for d := startDay; !d.After(endDay); d = d.AddDays(1) {
				if !yield(Occurrence{Day: d, Item: it, start: start}) {
					return
				}
			}
		}
	}
}

// timeOfDay is the wall-clock offset of the occurrence's item start.
func (o Occurrence) timeOfDay() time.Duration {
	start := o.start
	if start.IsZero() && o.Item != nil {
		start, _ = o.Item.Span()
	}
	h, m, s := start.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(start.Nanosecond())
}
