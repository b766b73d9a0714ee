package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"classagenda/internal/model"
)

// cacheMeta holds HTTP validators for the cached listing.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// diskCache keeps the last listing of one collection URL on disk:
//
//	<dir>/<hex(sha256(url)[:8])>/items.json
//	<dir>/<hex(sha256(url)[:8])>/meta.json
type diskCache struct {
	path string
}

func newDiskCache(baseDir, url string) diskCache {
	sum := sha256.Sum256([]byte(url))
	return diskCache{path: filepath.Join(baseDir, hex.EncodeToString(sum[:8]))}
}

func (c diskCache) itemsFile() string { return filepath.Join(c.path, "items.json") }
func (c diskCache) metaFile() string  { return filepath.Join(c.path, "meta.json") }

func (c diskCache) loadMeta() (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(c.metaFile())
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func (c diskCache) loadItems() ([]model.CalendarItem, error) {
	data, err := os.ReadFile(c.itemsFile())
	if err != nil {
		return nil, err
	}
	return decodeItems(data)
}

// save writes items before meta so meta never points at a missing listing.
func (c diskCache) save(meta cacheMeta, items []model.CalendarItem) error {
	if err := os.MkdirAll(c.path, 0o700); err != nil {
		return err
	}

	body, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(c.itemsFile(), body); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(c.metaFile(), data)
}

// update rewrites the cached items after a local write. The validators are
// dropped so the next GET fetches the full listing.
func (c diskCache) update(fn func([]model.CalendarItem) []model.CalendarItem) error {
	items, err := c.loadItems()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	meta, _ := c.loadMeta()
	meta.ETag = ""
	meta.LastModified = ""
	return c.save(meta, fn(items))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".classagenda-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func decodeItems(data []byte) ([]model.CalendarItem, error) {
	var items []model.CalendarItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
