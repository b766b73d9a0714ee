package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "classagenda/internal/log"
	"classagenda/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd is the inclusive window recurring instances are
	// generated in. Non-recurring events are always kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the imported items and the UIDs that hit the cap.
type ExpandResult struct {
	Items           []model.CalendarItem
	TruncatedEvents []string
}

// ToItems turns parsed events into calendar items:
//
//   - single events become one item
//   - RRULE events become one item per instance inside the window
//   - EXDATEs are removed and RECURRENCE-ID overrides replace their instance
//   - cancelled events are dropped
//
// All-day events end one second before the next midnight so that a one-day
// event stays on one agenda day.
func ToItems(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Base events keep input order; overrides are looked up by UID.
	var base []ParsedEvent
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			base = append(base, ev)
		}
	}

	items := make([]model.CalendarItem, 0, len(base))
	for _, ev := range base {
		if ev.RawRRule == "" {
			if it, ok := expandSingleEvent(ev, overridesByUID[ev.UID]); ok {
				items = append(items, it)
			}
			continue
		}

		occ, hitCap := expandRecurringEvent(ev, overridesByUID[ev.UID], cfg)
		items = append(items, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("ics: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Items = items
	return result, nil
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent) (model.CalendarItem, bool) {
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end = o.Start, o.End
		ev = o
	}
	if ev.Cancelled {
		return model.CalendarItem{}, false
	}
	return makeItem(ev, start, end, ""), true
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.CalendarItem, bool) {
	out := make([]model.CalendarItem, 0)
	if ev.Cancelled {
		return out, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	spanDays := max(1, daysBetween(ev.Start, ev.End))
	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.AddDate(0, 0, spanDays)
		}

		instance := occStart.UTC().Format("20060102T150405Z")
		baseEv, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseEv, start, end = o, o.Start, o.End
		}
		if baseEv.Cancelled {
			continue
		}
		out = append(out, makeItem(baseEv, start, end, instance))
	}

	return out, hitCap
}

// daysBetween counts calendar days from a's date to b's date, each read in
// its own location. DST shifts do not change the count.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeItem(ev ParsedEvent, start, end time.Time, instance string) model.CalendarItem {
	if ev.AllDay && end.After(start) {
		end = end.Add(-time.Second)
	}

	id := ev.Subscription.ID + ":" + ev.UID
	if instance != "" {
		id += ":" + instance
	}

	it := model.CalendarItem{
		ID:          id,
		Kind:        kindFor(ev),
		Start:       start,
		End:         end,
		Title:       ev.Summary,
		Description: ev.Description,
		Source:      ev.Subscription.ID,
	}
	if ev.Location != "" {
		it.Description = strings.TrimSpace(it.Description + "\n" + ev.Location)
	}
	if ev.URL != "" {
		it.Links = []string{ev.URL}
	}
	return it
}

var knownKinds = []string{
	model.KindLesson, model.KindLessonPlan, model.KindPlan, model.KindEvent, model.KindExam,
}

// kindFor prefers a CATEGORIES value naming a known kind, then the
// subscription's kind, then "Evento".
func kindFor(ev ParsedEvent) string {
	for _, c := range ev.Categories {
		for _, k := range knownKinds {
			if strings.EqualFold(c, k) {
				return k
			}
		}
	}
	if ev.Subscription.Kind != "" {
		return ev.Subscription.Kind
	}
	return model.KindEvent
}
