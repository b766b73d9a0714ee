package ics

import (
	"io"
	"time"

	"github.com/emersion/go-ical"

	"classagenda/internal/model"
)

const productID = "-//classagenda//agenda//PT"

// Export writes items as an iCalendar feed. Kind goes to CATEGORIES so a
// re-import keeps it.
func Export(w io.Writer, items []model.CalendarItem, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, it := range items {
		start, end := it.Span()

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, it.ID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		ev.Props.SetText(ical.PropSummary, it.Title)
		if it.Description != "" {
			ev.Props.SetText(ical.PropDescription, it.Description)
		}
		if it.Kind != "" {
			ev.Props.SetText(ical.PropCategories, it.Kind)
		}
		if len(it.Links) > 0 {
			ev.Props.SetText(ical.PropURL, it.Links[0])
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}
