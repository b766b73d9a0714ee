package agenda

import (
	"cmp"
	"iter"
	"slices"

	"classagenda/internal/model"
)

// RowKind tags a Row.
type RowKind int

const (
	RowHeader RowKind = iota
	RowItem
)

func (k RowKind) String() string {
	if k == RowHeader {
		return "header"
	}
	return "item"
}

// Row is one line of the agenda list: either a day header or an item.
type Row struct {
	Kind RowKind
	Day  Date

	// Label is set on header rows.
	Label string

	// Item is set on item rows.
	Item *model.CalendarItem
}

// BuildRows sorts occurrences by (day, start time of day) and groups them
// under one header per day. Equal keys keep their input order. label may be
// nil, in which case LongDatePT is used.
func BuildRows(seq iter.Seq[Occurrence], label Labeler) []Row {
	if label == nil {
		label = LongDatePT
	}

	occs := slices.Collect(seq)
	if len(occs) == 0 {
		return nil
	}

	slices.SortStableFunc(occs, func(a, b Occurrence) int {
		if c := a.Day.Compare(b.Day); c != 0 {
			return c
		}
		return cmp.Compare(a.timeOfDay(), b.timeOfDay())
	})

	rows := make([]Row, 0, len(occs)+len(occs)/2)
	var (
		current Date
		started bool
	)
	for _, o := range occs {
		if !started || o.Day != current {
			rows = append(rows, Row{Kind: RowHeader, Day: o.Day, Label: label(o.Day)})
			current = o.Day
			started = true
		}
		rows = append(rows, Row{Kind: RowItem, Day: o.Day, Item: o.Item})
	}
	return rows
}
