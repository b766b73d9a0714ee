package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"classagenda/internal/agenda"
	appLog "classagenda/internal/log"
	"classagenda/internal/model"
	"classagenda/internal/store"
)

var (
	// ErrReadOnly is returned when editing an item imported from ICS.
	ErrReadOnly = errors.New("service: imported items are read-only")
	// ErrLimitReached is returned by policies that cap item creation.
	ErrLimitReached = errors.New("service: item limit reached")
)

// Importer yields items from external feeds. Failed feeds are reported in
// the error slice; the items returned are whatever is still known.
type Importer interface {
	Import(ctx context.Context) ([]model.CalendarItem, []error)
}

// Policy decides whether another item may be created. current counts the
// app-owned items.
type Policy interface {
	AllowCreate(current int) error
}

// Unlimited allows any number of items.
type Unlimited struct{}

func (Unlimited) AllowCreate(int) error { return nil }

// MaxItems caps app-owned items.
type MaxItems int

func (m MaxItems) AllowCreate(current int) error {
	if current >= int(m) {
		return fmt.Errorf("%w (%d)", ErrLimitReached, int(m))
	}
	return nil
}

// PolicyFor returns MaxItems(limit), or Unlimited when limit is not positive.
func PolicyFor(limit int) Policy {
	if limit <= 0 {
		return Unlimited{}
	}
	return MaxItems(limit)
}

// Query selects an ad-hoc agenda view.
type Query struct {
	Filter agenda.Filter
	Scope  store.Scope
}

// View is a materialized agenda.
type View struct {
	Rows           []agenda.Row
	Empty          bool
	ExactDayActive bool
	Filter         agenda.Filter
	Today          agenda.Date
	FromCache      bool
	RefreshedAt    time.Time
}

// Service owns the agenda and keeps it in step with the item store and the
// ICS subscriptions. It is safe for concurrent use.
type Service struct {
	store    store.ItemStore
	importer Importer
	policy   Policy
	now      func() time.Time
	opts     []agenda.Option

	mu          sync.RWMutex
	agenda      *agenda.Agenda
	stored      []model.CalendarItem
	imported    []model.CalendarItem
	fromCache   bool
	refreshedAt time.Time
	lastErr     error

	refreshMu sync.Mutex
	// writeMu makes each Create/Update/Delete check-then-write atomic.
	writeMu   sync.Mutex
	scheduler *scheduler
}

type Option func(*Service)

// WithImporter adds ICS subscriptions to every reload.
func WithImporter(i Importer) Option {
	return func(s *Service) { s.importer = i }
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAgendaOptions configures the agendas the service builds.
func WithAgendaOptions(opts ...agenda.Option) Option {
	return func(s *Service) { s.opts = append(s.opts, opts...) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.opts = append(s.opts, agenda.WithClock(now))
	}
}

// WithInitialFilter sets the filter of the owned agenda.
func WithInitialFilter(f agenda.Filter) Option {
	return func(s *Service) { s.agenda.SetFilter(f) }
}

func New(st store.ItemStore, opts ...Option) *Service {
	s := &Service{
		store:  st,
		policy: Unlimited{},
		now:    time.Now,
	}
	s.agenda = agenda.New()
	for _, opt := range opts {
		opt(s)
	}
	// Rebuild with the final options, keeping any initial filter.
	f := s.agenda.Filter()
	s.agenda = agenda.New(s.opts...)
	s.agenda.SetFilter(f)
	return s
}

// Load primes the agenda from the store's offline copy, if it has one, and
// then refreshes from the backends.
func (s *Service) Load(ctx context.Context) error {
	if c, ok := s.store.(store.Cacher); ok {
		cached, err := c.Cached()
		switch {
		case err == nil:
			s.mu.Lock()
			s.stored = cached
			s.fromCache = true
			s.applyLocked()
			s.mu.Unlock()
			appLog.Info("agenda primed from cache", "item_count", len(cached))
		default:
			appLog.Debug("no cached items", "err", err)
		}
	}
	return s.Refresh(ctx)
}

// Refresh lists the store and imports the ICS subscriptions, then replaces
// the working set. When the store cannot be listed the previous set is kept
// and the error returned.
func (s *Service) Refresh(ctx context.Context) error {
	// One refresh at a time; concurrent callers queue.
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	listing, listErr := s.store.List(ctx)

	var imported []model.CalendarItem
	if s.importer != nil {
		var errs []error
		imported, errs = s.importer.Import(ctx)
		if len(errs) > 0 {
			appLog.Error("ics import finished with errors", errors.Join(errs...), "error_count", len(errs))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if listErr != nil {
		s.lastErr = listErr
		appLog.Error("item store list failed; keeping previous items", listErr, "item_count", len(s.stored))
	} else {
		s.stored = listing.Items
		s.fromCache = listing.FromCache
		s.lastErr = nil
	}
	if s.importer != nil {
		s.imported = imported
	}
	s.refreshedAt = s.now()
	s.applyLocked()

	appLog.Info("agenda refreshed",
		"stored", len(s.stored),
		"imported", len(s.imported),
		"from_cache", s.fromCache,
		"rows", len(s.agenda.Rows()),
	)
	return listErr
}

// applyLocked feeds the merged item set to the agenda. Store items win over
// imported items with the same ID.
func (s *Service) applyLocked() {
	s.agenda.SetItems(s.mergedLocked())
}

func (s *Service) mergedLocked() []model.CalendarItem {
	out := make([]model.CalendarItem, 0, len(s.stored)+len(s.imported))
	seen := make(map[string]struct{}, len(s.stored))
	for _, it := range s.stored {
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	for _, it := range s.imported {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		out = append(out, it)
	}
	return out
}

// SetFilter changes the filter of the owned agenda.
func (s *Service) SetFilter(f agenda.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agenda.SetFilter(f)
}

// Current returns the owned agenda's rows.
func (s *Service) Current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked(s.agenda)
}

// Query builds a one-off view for q without touching the owned agenda.
func (s *Service) Query(q Query) View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := agenda.New(s.opts...)
	a.SetItems(store.FilterScope(s.mergedLocked(), q.Scope))
	a.SetFilter(q.Filter)
	return s.viewLocked(a)
}

func (s *Service) viewLocked(a *agenda.Agenda) View {
	return View{
		Rows:           a.Rows(),
		Empty:          a.Empty(),
		ExactDayActive: a.ExactDayActive(),
		Filter:         a.Filter(),
		Today:          a.Today(),
		FromCache:      s.fromCache,
		RefreshedAt:    s.refreshedAt,
	}
}

// Items returns the merged item set restricted to scope.
func (s *Service) Items(scope store.Scope) []model.CalendarItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(store.FilterScope(s.mergedLocked(), scope))
}

// Item looks an item up by ID.
func (s *Service) Item(id string) (model.CalendarItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.mergedLocked() {
		if it.ID == id {
			return it, nil
		}
	}
	return model.CalendarItem{}, store.ErrNotFound
}

// LastError is the error of the last store listing, nil if it succeeded.
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Create stores a new app item. An empty ID gets a UUID.
func (s *Service) Create(ctx context.Context, item model.CalendarItem) (model.CalendarItem, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.mu.RLock()
	exists := slices.ContainsFunc(s.mergedLocked(), func(it model.CalendarItem) bool { return it.ID == item.ID })
	count := 0
	for _, it := range s.stored {
		if !it.Imported() {
			count++
		}
	}
	s.mu.RUnlock()

	if exists {
		return model.CalendarItem{}, fmt.Errorf("%w: id %q already exists", store.ErrInvalidItem, item.ID)
	}
	if err := s.policy.AllowCreate(count); err != nil {
		return model.CalendarItem{}, err
	}
	return s.write(ctx, item)
}

// Update replaces the app item with the given ID.
func (s *Service) Update(ctx context.Context, id string, item model.CalendarItem) (model.CalendarItem, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.Item(id)
	if err != nil {
		return model.CalendarItem{}, err
	}
	if cur.Imported() {
		return model.CalendarItem{}, ErrReadOnly
	}
	item.ID = id
	return s.write(ctx, item)
}

// Delete removes the app item with the given ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.Item(id)
	if err != nil {
		return err
	}
	if cur.Imported() {
		return ErrReadOnly
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.stored = slices.DeleteFunc(slices.Clone(s.stored), func(it model.CalendarItem) bool { return it.ID == id })
	s.applyLocked()
	s.mu.Unlock()

	s.refreshAfterWrite(ctx)
	return nil
}

func (s *Service) write(ctx context.Context, item model.CalendarItem) (model.CalendarItem, error) {
	item.Source = model.SourceApp
	item.UpdatedAt = s.now().UTC()
	if err := store.Validate(item); err != nil {
		return model.CalendarItem{}, err
	}
	if err := s.store.Upsert(ctx, item); err != nil {
		return model.CalendarItem{}, err
	}

	s.mu.Lock()
	stored := slices.Clone(s.stored)
	if i := slices.IndexFunc(stored, func(it model.CalendarItem) bool { return it.ID == item.ID }); i >= 0 {
		stored[i] = item
	} else {
		stored = append(stored, item)
	}
	s.stored = stored
	s.applyLocked()
	s.mu.Unlock()

	s.refreshAfterWrite(ctx)
	return item, nil
}

// refreshAfterWrite reloads after a successful write. The local copy was
// already updated, so a failed reload only leaves the view slightly stale.
func (s *Service) refreshAfterWrite(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		appLog.Warn("reload after write failed; serving local copy", "err", err)
	}
}
