package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMultiDayKind(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{"Plano de aula", true},
		{"plano DE AULA", true},
		{"Plano", true},
		{"EVENTO", true},
		{" evento ", true},
		{"Aula", false},
		{"Prova", false},
		{"", false},
		{"Planos", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMultiDayKind(tt.kind), tt.kind)
	}
}

func TestSpanSwapsReversedItems(t *testing.T) {
	a := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	it := CalendarItem{Start: a, End: b}
	s, e := it.Span()
	assert.Equal(t, b, s)
	assert.Equal(t, a, e)

	ok := CalendarItem{Start: b, End: a}
	s, e = ok.Span()
	assert.Equal(t, b, s)
	assert.Equal(t, a, e)
}

func TestImported(t *testing.T) {
	assert.False(t, (&CalendarItem{}).Imported())
	assert.False(t, (&CalendarItem{Source: SourceApp}).Imported())
	assert.True(t, (&CalendarItem{Source: "school-holidays"}).Imported())
}
