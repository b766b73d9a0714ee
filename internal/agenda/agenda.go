package agenda

import (
	"errors"
	"slices"
	"time"

	"classagenda/internal/model"
)

// ErrMissingDay is returned when ModeExactDay is requested without a day.
var ErrMissingDay = errors.New("agenda: exact-day filter requires a day")

// Agenda holds the current item set and filter and the rows derived from
// them. Rows are rebuilt from scratch on every setter call.
//
// An Agenda has a single owner and does no locking.
type Agenda struct {
	items  []model.CalendarItem
	filter Filter
	today  Date
	rows   []Row

	now   func() time.Time
	loc   *time.Location
	label Labeler
}

type Option func(*Agenda)

// WithClock sets the clock used to determine "today".
func WithClock(now func() time.Time) Option {
	return func(a *Agenda) { a.now = now }
}

// WithLocation sets the zone in which calendar days are computed.
func WithLocation(loc *time.Location) Option {
	return func(a *Agenda) { a.loc = loc }
}

// WithLabeler sets the header label format.
func WithLabeler(l Labeler) Option {
	return func(a *Agenda) { a.label = l }
}

// New returns an empty agenda filtered from today.
func New(opts ...Option) *Agenda {
	a := &Agenda{
		filter: Filter{Mode: ModeFromToday},
		now:    time.Now,
		loc:    time.Local,
		label:  LongDatePT,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.rebuild()
	return a
}

// SetItems replaces the working set. The slice is copied.
func (a *Agenda) SetItems(items []model.CalendarItem) {
	a.items = slices.Clone(items)
	a.rebuild()
}

// SetFilterMode switches the filter. exactDay is required for ModeExactDay
// and ignored otherwise.
func (a *Agenda) SetFilterMode(mode Mode, exactDay *Date) error {
	f := Filter{Mode: mode}
	if mode == ModeExactDay {
		if exactDay == nil {
			return ErrMissingDay
		}
		f.Day = *exactDay
	}
	a.SetFilter(f)
	return nil
}

// SetFilter switches to an already resolved filter.
func (a *Agenda) SetFilter(f Filter) {
	if f.Mode != ModeExactDay {
		f.Day = Date{}
	}
	a.filter = f
	a.rebuild()
}

// Rows returns the current rows. The returned slice is a copy; the items it
// points to are shared with the agenda and must be treated as read-only.
func (a *Agenda) Rows() []Row {
	return slices.Clone(a.rows)
}

// Empty reports whether the current filter produced no rows.
func (a *Agenda) Empty() bool {
	return len(a.rows) == 0
}

// ExactDayActive reports whether an exact-day filter is in effect; callers
// use it to pick the right empty state.
func (a *Agenda) ExactDayActive() bool {
	return a.filter.Mode == ModeExactDay
}

func (a *Agenda) Filter() Filter { return a.filter }

// Today is the reference date captured on the last rebuild.
func (a *Agenda) Today() Date { return a.today }

// Len returns the number of items in the working set.
func (a *Agenda) Len() int { return len(a.items) }

func (a *Agenda) rebuild() {
	now := a.now()
	if a.loc != nil {
		now = now.In(a.loc)
	}
	a.today = DateOf(now)

	occs := FilterOccurrences(ExpandIn(a.items, a.loc), a.filter, a.today)
	a.rows = BuildRows(occs, a.label)
}
