package cache

import (
	"context"
	"encoding/json"
	"time"

	"newsfeed/internal/domain/entity"
)

type storedEntry struct {
	Items    []entity.NewsItem `json:"items"`
	StoredAt time.Time         `json:"stored_at"`
}

// GetEntry reads a source's cached item list, round-tripping through JSON so
// NewsItem (including its UTC PublishedAt) survives losslessly.
func (m *Manager) GetEntry(ctx context.Context, key string) (*entity.CacheEntry, bool) {
	raw, ok := m.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false
	}
	return &entity.CacheEntry{Key: key, Items: stored.Items, StoredAt: stored.StoredAt}, true
}

// SetEntry stores a source's item list with the given ttl.
func (m *Manager) SetEntry(ctx context.Context, entry entity.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(storedEntry{Items: entry.Items, StoredAt: entry.StoredAt})
	if err != nil {
		return err
	}
	m.Set(ctx, entry.Key, raw, ttl)
	return nil
}
