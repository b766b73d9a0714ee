package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classagenda/internal/agenda"
	"classagenda/internal/model"
	"classagenda/internal/store"
)

var errOffline = errors.New("offline")

// flakyStore wraps a Memory store and can be switched offline.
type flakyStore struct {
	*store.Memory

	mu      sync.Mutex
	offline bool
	cached  []model.CalendarItem
}

func (f *flakyStore) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *flakyStore) List(ctx context.Context) (store.Listing, error) {
	f.mu.Lock()
	offline := f.offline
	f.mu.Unlock()
	if offline {
		return store.Listing{}, errOffline
	}
	return f.Memory.List(ctx)
}

func (f *flakyStore) Cached() ([]model.CalendarItem, error) {
	if f.cached == nil {
		return nil, errors.New("no cache")
	}
	return f.cached, nil
}

// slowStore widens the window between a write's check and its upsert.
type slowStore struct {
	*store.Memory
	delay time.Duration
}

func (s *slowStore) Upsert(ctx context.Context, item model.CalendarItem) error {
	time.Sleep(s.delay)
	return s.Memory.Upsert(ctx, item)
}

type fakeImporter struct {
	items []model.CalendarItem
	errs  []error
	calls int
}

func (f *fakeImporter) Import(context.Context) ([]model.CalendarItem, []error) {
	f.calls++
	return f.items, f.errs
}

var now = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func lesson(id string, day int, hour int) model.CalendarItem {
	start := time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
	return model.CalendarItem{ID: id, Kind: model.KindLesson, Title: id, Start: start, End: start.Add(time.Hour)}
}

func newService(t *testing.T, st store.ItemStore, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithClock(clock),
		WithAgendaOptions(agenda.WithLocation(time.UTC)),
	}
	return New(st, append(base, opts...)...)
}

func itemIDs(v View) []string {
	var ids []string
	for _, r := range v.Rows {
		if r.Kind == agenda.RowItem {
			ids = append(ids, r.Item.ID)
		}
	}
	return ids
}

func TestLoadPrimesFromCacheThenRefreshes(t *testing.T) {
	st := &flakyStore{
		Memory: store.NewMemory(lesson("fresh", 5, 8)),
		cached: []model.CalendarItem{lesson("cached", 5, 9)},
	}
	st.setOffline(true)

	svc := newService(t, st)
	err := svc.Load(context.Background())
	require.ErrorIs(t, err, errOffline)

	v := svc.Current()
	assert.Equal(t, []string{"cached"}, itemIDs(v))
	assert.True(t, v.FromCache)
	assert.ErrorIs(t, svc.LastError(), errOffline)

	st.setOffline(false)
	require.NoError(t, svc.Refresh(context.Background()))
	v = svc.Current()
	assert.Equal(t, []string{"fresh"}, itemIDs(v))
	assert.False(t, v.FromCache)
	assert.NoError(t, svc.LastError())
}

func TestRefreshFailureKeepsPreviousSet(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(lesson("a", 5, 8), lesson("b", 6, 8))}
	svc := newService(t, st)
	require.NoError(t, svc.Refresh(context.Background()))

	st.setOffline(true)
	assert.Error(t, svc.Refresh(context.Background()))
	assert.Equal(t, []string{"a", "b"}, itemIDs(svc.Current()))
}

func TestImportedItemsAreMergedAndReadOnly(t *testing.T) {
	imp := &fakeImporter{items: []model.CalendarItem{
		{ID: "a", Kind: model.KindEvent, Source: "feriados", Start: now, End: now},
		{ID: "feriados:1", Kind: model.KindEvent, Source: "feriados",
			Start: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)},
	}, errs: []error{errors.New("one feed failed")}}
	st := store.NewMemory(lesson("a", 4, 8))

	svc := newService(t, st, WithImporter(imp))
	require.NoError(t, svc.Refresh(context.Background()))

	// Store item "a" wins over the imported one with the same ID.
	a, err := svc.Item("a")
	require.NoError(t, err)
	assert.Equal(t, model.KindLesson, a.Kind)

	v := svc.Current()
	assert.Equal(t, []string{"feriados:1", "a", "feriados:1"}, itemIDs(v))

	_, err = svc.Update(context.Background(), "feriados:1", lesson("x", 4, 8))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, svc.Delete(context.Background(), "feriados:1"), ErrReadOnly)
}

func TestCreateUpdateDelete(t *testing.T) {
	st := store.NewMemory()
	svc := newService(t, st)
	ctx := context.Background()
	require.NoError(t, svc.Refresh(ctx))

	in := lesson("", 5, 10)
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.SourceApp, created.Source)
	assert.Equal(t, now, created.UpdatedAt)
	assert.Equal(t, []string{created.ID}, itemIDs(svc.Current()))

	_, err = svc.Create(ctx, created)
	assert.ErrorIs(t, err, store.ErrInvalidItem, "duplicate id")

	changed := created
	changed.Title = "Geografia"
	changed.ID = "ignored"
	updated, err := svc.Update(ctx, created.ID, changed)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	got, err := svc.Item(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Geografia", got.Title)

	_, err = svc.Update(ctx, "missing", changed)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.True(t, svc.Current().Empty)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), store.ErrNotFound)

	_, err = svc.Create(ctx, model.CalendarItem{Kind: model.KindLesson})
	assert.ErrorIs(t, err, store.ErrInvalidItem)
}

func TestWriteSurvivesFailedReload(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	svc := newService(t, st)
	ctx := context.Background()
	require.NoError(t, svc.Refresh(ctx))

	st.setOffline(true)
	created, err := svc.Create(ctx, lesson("n", 5, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, itemIDs(svc.Current()))
}

func TestPolicyLimitsCreation(t *testing.T) {
	svc := newService(t, store.NewMemory(lesson("a", 5, 8)), WithPolicy(MaxItems(1)))
	ctx := context.Background()
	require.NoError(t, svc.Refresh(ctx))

	_, err := svc.Create(ctx, lesson("b", 5, 9))
	assert.ErrorIs(t, err, ErrLimitReached)
}

func TestQueryAndFilter(t *testing.T) {
	past := lesson("past", 1, 8)
	past.ClassID = "c1"
	today := lesson("today", 4, 8)
	today.ClassID = "c2"
	later := lesson("later", 6, 8)
	later.ClassID = "c1"

	svc := newService(t, store.NewMemory(past, today, later))
	require.NoError(t, svc.Refresh(context.Background()))

	assert.Equal(t, []string{"today", "later"}, itemIDs(svc.Current()))
	assert.Equal(t, agenda.Date{Year: 2024, Month: time.March, Day: 4}, svc.Current().Today)

	all := svc.Query(Query{Filter: agenda.Filter{Mode: agenda.ModeShowAll}, Scope: store.Scope{ClassID: "c1"}})
	assert.Equal(t, []string{"past", "later"}, itemIDs(all))

	day := svc.Query(Query{Filter: agenda.Filter{Mode: agenda.ModeExactDay, Day: agenda.Date{Year: 2024, Month: time.March, Day: 2}}})
	assert.True(t, day.Empty)
	assert.True(t, day.ExactDayActive)

	// Ad-hoc queries leave the owned agenda alone.
	assert.Equal(t, agenda.ModeFromToday, svc.Current().Filter.Mode)

	svc.SetFilter(agenda.Filter{Mode: agenda.ModeShowAll})
	assert.Equal(t, []string{"past", "today", "later"}, itemIDs(svc.Current()))
	assert.Len(t, svc.Items(store.Scope{ClassID: "c2"}), 1)
}

func TestInitialFilter(t *testing.T) {
	svc := newService(t, store.NewMemory(lesson("past", 1, 8)),
		WithInitialFilter(agenda.Filter{Mode: agenda.ModeShowAll}))
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, []string{"past"}, itemIDs(svc.Current()))
}

func TestSchedulerLifecycle(t *testing.T) {
	svc := newService(t, store.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, svc.Start(ctx, "", nil))
	assert.Error(t, svc.Start(ctx, "not a cron spec", nil))

	require.NoError(t, svc.Start(ctx, "*/15 * * * *", time.UTC))
	assert.Error(t, svc.Start(ctx, "*/15 * * * *", time.UTC), "already running")

	svc.Stop()
	svc.Stop()
	require.NoError(t, svc.Start(ctx, "@every 1h", nil))
	cancel()
	assert.Eventually(t, func() bool {
		svc.mu.RLock()
		defer svc.mu.RUnlock()
		return svc.scheduler == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMaxItems(t *testing.T) {
	assert.NoError(t, MaxItems(2).AllowCreate(1))
	assert.ErrorIs(t, MaxItems(2).AllowCreate(2), ErrLimitReached)
	assert.NoError(t, Unlimited{}.AllowCreate(1_000_000))
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, Unlimited{}, PolicyFor(0))
	assert.Equal(t, Unlimited{}, PolicyFor(-1))
	assert.Equal(t, MaxItems(3), PolicyFor(3))
}

func createConcurrently(svc *Service, n int, item func(i int) model.CalendarItem) (created int, errs []error) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), item(i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created++
		}()
	}
	wg.Wait()
	return created, errs
}

func TestConcurrentCreateRespectsLimit(t *testing.T) {
	st := &slowStore{Memory: store.NewMemory(), delay: 20 * time.Millisecond}
	svc := newService(t, st, WithPolicy(MaxItems(1)))
	require.NoError(t, svc.Refresh(context.Background()))

	created, errs := createConcurrently(svc, 5, func(i int) model.CalendarItem {
		return lesson("", 5, 8+i)
	})
	assert.Equal(t, 1, created)
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrLimitReached)
	}

	listing, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing.Items, 1)
}

func TestConcurrentCreateRejectsDuplicateID(t *testing.T) {
	st := &slowStore{Memory: store.NewMemory(), delay: 20 * time.Millisecond}
	svc := newService(t, st)
	require.NoError(t, svc.Refresh(context.Background()))

	created, errs := createConcurrently(svc, 5, func(i int) model.CalendarItem {
		return lesson("same", 5, 8+i)
	})
	assert.Equal(t, 1, created)
	for _, err := range errs {
		assert.ErrorIs(t, err, store.ErrInvalidItem)
	}
	assert.Len(t, svc.Items(store.Scope{}), 1)
}
