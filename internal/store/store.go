package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"classagenda/internal/model"
)

var (
	ErrNotFound    = errors.New("store: item not found")
	ErrInvalidItem = errors.New("store: invalid item")
)

// Listing is the outcome of ItemStore.List.
type Listing struct {
	Items []model.CalendarItem
	// FromCache is true when the store could not reach its backend and
	// served its last known copy instead.
	FromCache bool
}

// ItemStore is the CRUD surface of a calendar item backend.
type ItemStore interface {
	List(ctx context.Context) (Listing, error)
	Upsert(ctx context.Context, item model.CalendarItem) error
	Delete(ctx context.Context, id string) error
}

// Cacher is implemented by stores that keep an offline copy, which can be
// read without touching the network.
type Cacher interface {
	Cached() ([]model.CalendarItem, error)
}

// Validate checks the fields every backend relies on.
func Validate(item model.CalendarItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if item.Start.IsZero() {
		return fmt.Errorf("%w: missing start", ErrInvalidItem)
	}
	if item.End.IsZero() {
		return fmt.Errorf("%w: missing end", ErrInvalidItem)
	}
	return nil
}

// Scope restricts a listing to one institution and/or class. Empty fields
// match everything.
type Scope struct {
	InstitutionID string
	ClassID       string
}

func (s Scope) IsZero() bool {
	return s.InstitutionID == "" && s.ClassID == ""
}

func (s Scope) Match(item model.CalendarItem) bool {
	if s.InstitutionID != "" && item.InstitutionID != s.InstitutionID {
		return false
	}
	if s.ClassID != "" && item.ClassID != s.ClassID {
		return false
	}
	return true
}

// FilterScope returns the items matching s, preserving order.
func FilterScope(items []model.CalendarItem, s Scope) []model.CalendarItem {
	if s.IsZero() {
		return items
	}
	out := make([]model.CalendarItem, 0, len(items))
	for _, it := range items {
		if s.Match(it) {
			out = append(out, it)
		}
	}
	return out
}

// Memory is an in-process ItemStore. Items are listed in insertion order.
type Memory struct {
	mu    sync.RWMutex
	items []model.CalendarItem
}

func NewMemory(items ...model.CalendarItem) *Memory {
	return &Memory{items: slices.Clone(items)}
}

func (m *Memory) List(_ context.Context) (Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Listing{Items: slices.Clone(m.items)}, nil
}

func (m *Memory) Upsert(_ context.Context, item model.CalendarItem) error {
	if err := Validate(item); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = upsertItem(m.items, item)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := deleteItem(m.items, id)
	if !ok {
		return ErrNotFound
	}
	m.items = out
	return nil
}

func upsertItem(items []model.CalendarItem, item model.CalendarItem) []model.CalendarItem {
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func deleteItem(items []model.CalendarItem, id string) ([]model.CalendarItem, bool) {
	i := slices.IndexFunc(items, func(it model.CalendarItem) bool { return it.ID == id })
	if i < 0 {
		return items, false
	}
	return slices.Delete(items, i, i+1), true
}
