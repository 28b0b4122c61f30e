package store

import (
	"sync"

	"github.com/modelgate/modelgate/internal/domain"
)

// ModelConfigCache is the read-mostly in-memory view of enabled ModelConfig
// rows the resolver matches against (§3, §5: "cached with explicit
// invalidation on admin mutations").
type ModelConfigCache struct {
	store *Store

	mu   sync.RWMutex
	rows []domain.ModelConfig
}

// NewModelConfigCache constructs a cache bound to store. Callers must call
// Refresh at least once before use.
func NewModelConfigCache(s *Store) *ModelConfigCache {
	return &ModelConfigCache{store: s}
}

// Refresh reloads the cache from the store. Call on startup and after any
// admin mutation to ModelConfig rows.
func (c *ModelConfigCache) Refresh() error {
	rows, err := c.store.ListEnabledModelConfigs()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()
	return nil
}

// EnabledModelConfigs implements resolver.ConfigSource.
func (c *ModelConfigCache) EnabledModelConfigs() []domain.ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ModelConfig(nil), c.rows...)
}
