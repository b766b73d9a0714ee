package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "classagenda/internal/log"
	"classagenda/internal/model"
)

const (
	defaultCollection = "calendar"
	defaultTimeout    = 15 * time.Second
)

// RemoteConfig describes the remote document store.
type RemoteConfig struct {
	// BaseURL is the document API root, e.g. "https://db.example.com/v1".
	BaseURL string
	// Collection holds the calendar items. Defaults to "calendar".
	Collection string
	// Token, if set, is sent as a bearer token.
	Token string
	// CacheDir is where the offline copy is kept.
	CacheDir string

	Timeout time.Duration
	Client  *http.Client
}

// Remote is an ItemStore backed by a document database spoken to over
// HTTP/JSON:
//
//	GET    {base}/{collection}       -> [item, ...]
//	PUT    {base}/{collection}/{id}  <- item
//	DELETE {base}/{collection}/{id}
//
// Listings are cached on disk with their ETag/Last-Modified so that reads
// keep working offline and unchanged collections cost a 304.
type Remote struct {
	client        *http.Client
	collectionURL string
	token         string
	cache         diskCache
}

// NewRemote builds a Remote from cfg.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("store: remote base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("store: remote base URL: %w", err)
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.CacheDir == "" {
		// Relative fallback so development runs without root permissions.
		cfg.CacheDir = "./var/item-cache"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	collectionURL := strings.TrimRight(cfg.BaseURL, "/") + "/" + url.PathEscape(cfg.Collection)
	return &Remote{
		client:        client,
		collectionURL: collectionURL,
		token:         cfg.Token,
		cache:         newDiskCache(cfg.CacheDir, collectionURL),
	}, nil
}

// Cached returns the offline copy without touching the network.
func (r *Remote) Cached() ([]model.CalendarItem, error) {
	return r.cache.loadItems()
}

// List fetches the collection, honoring ETag and Last-Modified. On network
// errors or non-OK statuses it falls back to the cached copy when there is
// one.
func (r *Remote) List(ctx context.Context) (Listing, error) {
	meta, _ := r.cache.loadMeta()
	cached, cacheErr := r.cache.loadItems()
	haveCache := cacheErr == nil

	req, err := r.newRequest(ctx, http.MethodGet, r.collectionURL, nil)
	if err != nil {
		return Listing{}, err
	}
	if haveCache {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("remote list start", "url", appLog.RedactURL(r.collectionURL))

	resp, err := r.client.Do(req)
	if err != nil {
		if haveCache {
			appLog.Error("remote list network error, using cached items", err, "url", appLog.RedactURL(r.collectionURL))
			return Listing{Items: cached, FromCache: true}, nil
		}
		return Listing{}, fmt.Errorf("store: list: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Listing{}, fmt.Errorf("store: list: read body: %w", err)
		}
		items, err := decodeItems(body)
		if err != nil {
			if haveCache {
				appLog.Error("remote list decode failed, using cached items", err, "url", appLog.RedactURL(r.collectionURL))
				return Listing{Items: cached, FromCache: true}, nil
			}
			return Listing{}, fmt.Errorf("store: list: decode: %w", err)
		}

		newMeta := cacheMeta{
			URL:          r.collectionURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := r.cache.save(newMeta, items); err != nil {
			// Still serve the fresh listing.
			appLog.Error("remote cache save failed", err, "url", appLog.RedactURL(r.collectionURL))
		}

		appLog.Info("remote list success", "url", appLog.RedactURL(r.collectionURL), "item_count", len(items))
		return Listing{Items: items}, nil

	case http.StatusNotModified:
		if !haveCache {
			return Listing{}, errors.New("store: list: 304 Not Modified but no cached items available")
		}
		appLog.Debug("remote list not modified; using cache", "url", appLog.RedactURL(r.collectionURL))
		// A 304 is a confirmed-fresh copy, not an offline fallback.
		return Listing{Items: cached}, nil

	default:
		statusErr := errors.New(resp.Status)
		if haveCache {
			appLog.Error("remote list non-OK, using cached items", statusErr,
				"url", appLog.RedactURL(r.collectionURL), "status", resp.StatusCode)
			return Listing{Items: cached, FromCache: true}, nil
		}
		return Listing{}, fmt.Errorf("store: list: %w", statusErr)
	}
}

// Upsert creates or replaces the item with item.ID.
func (r *Remote) Upsert(ctx context.Context, item model.CalendarItem) error {
	if err := Validate(item); err != nil {
		return err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}

	req, err := r.newRequest(ctx, http.MethodPut, r.itemURL(item.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := r.do(req, "upsert", item.ID); err != nil {
		return err
	}

	if err := r.cache.update(func(items []model.CalendarItem) []model.CalendarItem {
		return upsertItem(items, item)
	}); err != nil {
		appLog.Error("remote cache update failed", err, "op", "upsert", "id", item.ID)
	}
	return nil
}

// Delete removes the item with the given id.
func (r *Remote) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	req, err := r.newRequest(ctx, http.MethodDelete, r.itemURL(id), nil)
	if err != nil {
		return err
	}
	if err := r.do(req, "delete", id); err != nil {
		return err
	}

	if err := r.cache.update(func(items []model.CalendarItem) []model.CalendarItem {
		out, _ := deleteItem(items, id)
		return out
	}); err != nil {
		appLog.Error("remote cache update failed", err, "op", "delete", "id", id)
	}
	return nil
}

func (r *Remote) do(req *http.Request, op, id string) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("store: %s %s: %w", op, id, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidItem, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("store: %s %s: %s", op, id, resp.Status)
	}
	appLog.Info("remote "+op+" success", "id", id, "status", resp.StatusCode)
	return nil
}

func (r *Remote) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

func (r *Remote) itemURL(id string) string {
	return r.collectionURL + "/" + url.PathEscape(id)
}
