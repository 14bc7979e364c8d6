package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// GetJSON decodes the cached value at key into out.
// It returns catalog.ErrCacheMiss when absent; a corrupt entry is deleted and reported as a miss.
func GetJSON(ctx context.Context, c catalog.Cache, key string, out any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		_ = c.Delete(ctx, key)
		return catalog.ErrCacheMiss
	}
	return nil
}

// SetJSON encodes value and stores it at key for ttl.
func SetJSON(ctx context.Context, c catalog.Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
