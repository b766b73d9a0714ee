package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "classagenda/internal/log"
	"classagenda/internal/model"
)

const maxBodyBytes = 10 << 20

// Subscription is one ICS feed imported into the agenda.
type Subscription struct {
	// ID is prefixed to imported item IDs and stored as their Source.
	ID   string
	Name string
	URL  string
	// Kind is given to imported items without a recognized CATEGORIES value.
	Kind string
}

// Importer fetches subscriptions and turns them into calendar items. It
// remembers the last good import of every subscription and serves it when a
// later fetch fails.
type Importer struct {
	client *http.Client
	subs   []Subscription
	now    func() time.Time

	backfill time.Duration
	horizon  time.Duration

	mu       sync.Mutex
	lastGood map[string][]model.CalendarItem
}

// ImporterOption customizes an Importer.
type ImporterOption func(*Importer)

func WithHTTPClient(c *http.Client) ImporterOption {
	return func(i *Importer) { i.client = c }
}

func WithClock(now func() time.Time) ImporterOption {
	return func(i *Importer) { i.now = now }
}

// WithWindow sets how far back and ahead recurring events are expanded.
func WithWindow(backfillDays, horizonDays int) ImporterOption {
	return func(i *Importer) {
		i.backfill = time.Duration(backfillDays) * 24 * time.Hour
		i.horizon = time.Duration(horizonDays) * 24 * time.Hour
	}
}

func NewImporter(subs []Subscription, opts ...ImporterOption) *Importer {
	i := &Importer{
		client:   &http.Client{Timeout: 15 * time.Second},
		subs:     subs,
		now:      time.Now,
		backfill: 30 * 24 * time.Hour,
		horizon:  90 * 24 * time.Hour,
		lastGood: make(map[string][]model.CalendarItem),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import fetches every subscription. Failed subscriptions contribute their
// last good items, if any, and an error.
func (i *Importer) Import(ctx context.Context) ([]model.CalendarItem, []error) {
	now := i.now()
	cfg := ExpandConfig{
		RangeStart: now.Add(-i.backfill),
		RangeEnd:   now.Add(i.horizon),
	}

	items := make([]model.CalendarItem, 0)
	errs := make([]error, 0)

	for _, sub := range i.subs {
		got, err := i.importOne(ctx, sub, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics: %s: %w", sub.ID, err))
			appLog.Error("ics import failed", err, "id", sub.ID, "url", appLog.RedactURL(sub.URL))

			i.mu.Lock()
			got = i.lastGood[sub.ID]
			i.mu.Unlock()
		} else {
			i.mu.Lock()
			i.lastGood[sub.ID] = got
			i.mu.Unlock()
		}
		items = append(items, got...)
	}

	return items, errs
}

func (i *Importer) importOne(ctx context.Context, sub Subscription, cfg ExpandConfig) ([]model.CalendarItem, error) {
	body, err := i.fetch(ctx, sub)
	if err != nil {
		return nil, err
	}
	events, err := ParseICS(sub, body)
	if err != nil {
		return nil, err
	}
	res, err := ToItems(events, cfg)
	if err != nil {
		return nil, err
	}
	appLog.Info("ics import success", "id", sub.ID, "event_count", len(events), "item_count", len(res.Items))
	return res.Items, nil
}

func (i *Importer) fetch(ctx context.Context, sub Subscription) ([]byte, error) {
	if sub.URL == "" {
		return nil, errors.New("subscription URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	// Login pages and error pages come back as 200 HTML.
	trimmed := bytes.ToUpper(bytes.TrimSpace(body))
	if bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) || bytes.HasPrefix(trimmed, []byte("<HTML")) {
		return nil, errors.New("received HTML instead of iCalendar data")
	}
	if !bytes.HasPrefix(trimmed, []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("invalid iCalendar payload: missing BEGIN:VCALENDAR")
	}
	return body, nil
}
