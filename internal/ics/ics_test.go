package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classagenda/internal/model"
)

func crlf(s string) []byte {
	s = strings.TrimLeft(s, "\n")
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var sampleFeed = crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:conselho-1
DTSTAMP:20240101T000000Z
DTSTART:20240304T130000Z
DTEND:20240304T150000Z
SUMMARY:Conselho de classe
LOCATION:Sala 3
END:VEVENT
BEGIN:VEVENT
UID:feriado-1
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240329
DTEND;VALUE=DATE:20240330
SUMMARY:Sexta-feira Santa
END:VEVENT
BEGIN:VEVENT
UID:semana-1
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240311
DTEND;VALUE=DATE:20240316
SUMMARY:Semana de provas
CATEGORIES:Prova
END:VEVENT
BEGIN:VEVENT
UID:plantao
DTSTAMP:20240101T000000Z
DTSTART:20240304T100000Z
DTEND:20240304T110000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20240311T100000Z
SUMMARY:Plantão de dúvidas
END:VEVENT
BEGIN:VEVENT
UID:plantao
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240318T100000Z
DTSTART:20240318T140000Z
DTEND:20240318T150000Z
SUMMARY:Plantão de dúvidas (tarde)
END:VEVENT
BEGIN:VEVENT
UID:cancelado
DTSTAMP:20240101T000000Z
DTSTART:20240305T100000Z
DTEND:20240305T110000Z
STATUS:CANCELLED
SUMMARY:Reunião cancelada
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240305T100000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`)

var escola = Subscription{ID: "escola", Name: "Escola", URL: "https://example.com/escola.ics"}

func importWindow() ExpandConfig {
	return ExpandConfig{
		RangeStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}
}

func byID(items []model.CalendarItem) map[string]model.CalendarItem {
	out := make(map[string]model.CalendarItem, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(escola, sampleFeed)
	require.NoError(t, err)
	// The VEVENT without UID is skipped.
	require.Len(t, events, 6)

	assert.Equal(t, "conselho-1", events[0].UID)
	assert.Equal(t, "Sala 3", events[0].Location)
	assert.False(t, events[0].AllDay)

	assert.True(t, events[1].AllDay)
	assert.Equal(t, []string{"Prova"}, events[2].Categories)

	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[3].RawRRule)
	require.Len(t, events[3].ExDates, 1)
	assert.True(t, events[4].IsOverride)
	assert.True(t, events[5].Cancelled)
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(escola, []byte("  "))
	assert.Error(t, err)
}

func TestToItems(t *testing.T) {
	events, err := ParseICS(escola, sampleFeed)
	require.NoError(t, err)

	res, err := ToItems(events, importWindow())
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	items := byID(res.Items)

	single, ok := items["escola:conselho-1"]
	require.True(t, ok)
	assert.Equal(t, model.KindEvent, single.Kind)
	assert.Equal(t, "escola", single.Source)
	assert.Equal(t, "Conselho de classe", single.Title)
	assert.Contains(t, single.Description, "Sala 3")
	assert.Equal(t, time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC), single.Start.UTC())

	// One-day all-day event stays on its day.
	holiday := items["escola:feriado-1"]
	assert.Equal(t, holiday.Start.YearDay(), holiday.End.YearDay())

	week := items["escola:semana-1"]
	assert.Equal(t, model.KindExam, week.Kind)
	assert.Equal(t, 15, week.End.Day())

	// Weekly x4 minus the EXDATE; the 18th is moved to the afternoon.
	_, ok = items["escola:plantao:20240304T100000Z"]
	assert.True(t, ok)
	_, ok = items["escola:plantao:20240311T100000Z"]
	assert.False(t, ok)
	moved := items["escola:plantao:20240318T100000Z"]
	assert.Equal(t, 14, moved.Start.UTC().Hour())
	assert.Equal(t, "Plantão de dúvidas (tarde)", moved.Title)
	_, ok = items["escola:plantao:20240325T100000Z"]
	assert.True(t, ok)

	for id := range items {
		assert.NotContains(t, id, "cancelado")
	}
	assert.Len(t, res.Items, 6)
}

func TestToItemsCapsRecurrence(t *testing.T) {
	ev := ParsedEvent{
		Subscription: escola,
		UID:          "daily",
		Start:        time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		RawRRule:     "FREQ=DAILY",
	}
	cfg := importWindow()
	cfg.MaxOccurrencesPerEvent = 5

	res, err := ToItems([]ParsedEvent{ev}, cfg)
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}

func TestToItemsAllDaySpanAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks spring forward on 2024-03-10, so the span is 47 hours long.
	ev := ParsedEvent{
		Subscription: escola,
		UID:          "semana-cultural",
		Summary:      "Semana cultural",
		Start:        time.Date(2024, 3, 9, 0, 0, 0, 0, ny),
		End:          time.Date(2024, 3, 11, 0, 0, 0, 0, ny),
		AllDay:       true,
		RawRRule:     "FREQ=YEARLY;COUNT=2",
	}
	res, err := ToItems([]ParsedEvent{ev}, importWindow())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	it := res.Items[0]
	assert.True(t, it.Start.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, ny)))
	assert.True(t, it.End.Equal(time.Date(2024, 3, 10, 23, 59, 59, 0, ny)), "end = %s", it.End)
}

func TestDaysBetween(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.Equal(t, 2, daysBetween(time.Date(2024, 3, 9, 0, 0, 0, 0, ny), time.Date(2024, 3, 11, 0, 0, 0, 0, ny)))
	assert.Equal(t, 2, daysBetween(time.Date(2024, 11, 2, 0, 0, 0, 0, ny), time.Date(2024, 11, 4, 0, 0, 0, 0, ny)))
	assert.Equal(t, 0, daysBetween(time.Date(2024, 3, 9, 1, 0, 0, 0, ny), time.Date(2024, 3, 9, 23, 0, 0, 0, ny)))
}

func TestToItemsRejectsInvertedWindow(t *testing.T) {
	cfg := importWindow()
	cfg.RangeStart, cfg.RangeEnd = cfg.RangeEnd, cfg.RangeStart
	_, err := ToItems(nil, cfg)
	assert.Error(t, err)
}

func TestKindForSubscriptionDefault(t *testing.T) {
	sub := escola
	sub.Kind = model.KindLesson
	assert.Equal(t, model.KindLesson, kindFor(ParsedEvent{Subscription: sub}))
	assert.Equal(t, model.KindLessonPlan, kindFor(ParsedEvent{Subscription: sub, Categories: []string{"x", "PLANO DE AULA"}}))
	assert.Equal(t, model.KindEvent, kindFor(ParsedEvent{Subscription: escola}))
}

func TestImporter(t *testing.T) {
	var (
		status atomic.Int32
		body   atomic.Value
	)
	status.Store(http.StatusOK)
	body.Store(sampleFeed)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write(body.Load().([]byte))
	}))
	defer srv.Close()

	sub := Subscription{ID: "escola", URL: srv.URL + "/escola.ics"}
	imp := NewImporter([]Subscription{sub},
		WithClock(func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }),
		WithWindow(30, 30),
	)
	ctx := context.Background()

	items, errs := imp.Import(ctx)
	require.Empty(t, errs)
	require.Len(t, items, 6)

	// Failures fall back to the last good import.
	status.Store(http.StatusInternalServerError)
	items, errs = imp.Import(ctx)
	require.Len(t, errs, 1)
	assert.Len(t, items, 6)

	status.Store(http.StatusOK)
	body.Store([]byte("<!DOCTYPE html><html>login</html>"))
	items, errs = imp.Import(ctx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "HTML")
	assert.Len(t, items, 6)
}

func TestImporterWithoutHistory(t *testing.T) {
	imp := NewImporter([]Subscription{{ID: "x"}})
	items, errs := imp.Import(context.Background())
	assert.Empty(t, items)
	require.Len(t, errs, 1)
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	items := []model.CalendarItem{
		{ID: "a", Kind: model.KindLessonPlan, Title: "Frações", Description: "Cap. 3",
			Start: start, End: start.AddDate(0, 0, 2), Links: []string{"https://example.com/plano"}},
		// Reversed span is written in order.
		{ID: "b", Kind: model.KindExam, Title: "Prova 1", Start: start.Add(2 * time.Hour), End: start},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, items, start))

	events, err := ParseICS(Subscription{ID: "rt"}, buf.Bytes())
	require.NoError(t, err)
	res, err := ToItems(events, importWindow())
	require.NoError(t, err)

	got := byID(res.Items)
	a := got["rt:a"]
	assert.Equal(t, model.KindLessonPlan, a.Kind)
	assert.Equal(t, "Frações", a.Title)
	assert.Equal(t, "Cap. 3", a.Description)
	assert.Equal(t, []string{"https://example.com/plano"}, a.Links)
	assert.True(t, a.Start.Equal(start))
	assert.True(t, a.End.Equal(start.AddDate(0, 0, 2)))

	b := got["rt:b"]
	assert.Equal(t, model.KindExam, b.Kind)
	assert.True(t, b.Start.Equal(start))
	assert.True(t, b.End.Equal(start.Add(2*time.Hour)))
}
