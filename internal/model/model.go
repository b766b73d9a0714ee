package model

import (
	"strings"
	"time"
)

// Kind labels used by the teaching app. The set is open-ended; anything not
// listed here is stored and displayed as-is.
const (
	KindLesson     = "Aula"
	KindLessonPlan = "Plano de aula"
	KindPlan       = "Plano"
	KindEvent      = "Evento"
	KindExam       = "Prova"
)

// SourceApp marks items created through the app (as opposed to items
// imported from an ICS subscription, whose Source is the subscription ID).
const SourceApp = "app"

// multiDayKinds may span several calendar days in the agenda.
var multiDayKinds = []string{KindLessonPlan, KindPlan, KindEvent}

// IsMultiDayKind reports whether kind is one of the multi-day categories.
// Matching is case-insensitive.
func IsMultiDayKind(kind string) bool {
	kind = strings.TrimSpace(kind)
	for _, k := range multiDayKinds {
		if strings.EqualFold(kind, k) {
			return true
		}
	}
	return false
}

// EntityRef is a typed link to another entity of the app (a class, an
// institution, a lesson plan, ...). Callers resolve it with explicit lookups.
type EntityRef struct {
	Kind string `json:"kind" yaml:"kind"`
	ID   string `json:"id" yaml:"id"`
}

// CalendarItem is a stored schedulable entity: a lesson, lesson plan, event
// or exam.
type CalendarItem struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Links       []string `json:"links,omitempty"`

	// Scope within the app.
	InstitutionID string `json:"institution_id,omitempty"`
	ClassID       string `json:"class_id,omitempty"`

	Ref *EntityRef `json:"ref,omitempty"`

	// Source is SourceApp or the ID of the ICS subscription the item was
	// imported from.
	Source string `json:"source,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Span returns the item's start and end, swapped if end is before start.
func (c *CalendarItem) Span() (time.Time, time.Time) {
	if c.End.Before(c.Start) {
		return c.End, c.Start
	}
	return c.Start, c.End
}

// Imported reports whether the item came from an ICS subscription.
func (c *CalendarItem) Imported() bool {
	return c.Source != "" && c.Source != SourceApp
}
