package agenda

import (
	"fmt"
	"iter"
	"strings"
)

// Mode selects which occurrences the agenda keeps.
type Mode int

const (
	// ModeFromToday keeps occurrences on or after today. Default.
	ModeFromToday Mode = iota
	// ModeShowAll keeps past and future occurrences.
	ModeShowAll
	// ModeExactDay keeps occurrences of a single day.
	ModeExactDay
)

func (m Mode) String() string {
	switch m {
	case ModeFromToday:
		return "from_today"
	case ModeShowAll:
		return "show_all"
	case ModeExactDay:
		return "exact"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names produced by Mode.String. An empty string is
// ModeFromToday.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "from_today", "today":
		return ModeFromToday, nil
	case "show_all", "all":
		return ModeShowAll, nil
	case "exact", "exact_day", "day":
		return ModeExactDay, nil
	default:
		return ModeFromToday, fmt.Errorf("agenda: unknown filter mode %q", s)
	}
}

// Filter is a resolved filter: exactly one predicate is active.
type Filter struct {
	Mode Mode
	// Day is only meaningful for ModeExactDay.
	Day Date
}

// ResolveFilter collapses the two UI controls into one filter. An exact day
// wins over the show-past toggle.
func ResolveFilter(showPast bool, exact *Date) Filter {
	switch {
	case exact != nil:
		return Filter{Mode: ModeExactDay, Day: *exact}
	case showPast:
		return Filter{Mode: ModeShowAll}
	default:
		return Filter{Mode: ModeFromToday}
	}
}

// Keep reports whether o passes the filter relative to today.
func (f Filter) Keep(o Occurrence, today Date) bool {
	switch f.Mode {
	case ModeExactDay:
		return o.Day == f.Day
	case ModeShowAll:
		return true
	default:
		return !o.Day.Before(today)
	}
}

// FilterOccurrences lazily applies f to seq.
func FilterOccurrences(seq iter.Seq[Occurrence], f Filter, today Date) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		for o := range seq {
			if !f.Keep(o, today) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}
