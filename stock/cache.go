package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goflare.io/inventory/models"
)

const defaultCacheTTL = 5 * time.Minute

// recordCache is a read-through cache of inventory records keyed by variant.
// A nil client disables it.
type recordCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newRecordCache(client *redis.Client, ttl time.Duration) *recordCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &recordCache{client: client, ttl: ttl}
}

func recordCacheKey(variantID string) string {
	return fmt.Sprintf("inventory:variant:%s", variantID)
}

func (c *recordCache) get(ctx context.Context, variantID string) (*models.InventoryRecord, bool, error) {
	if c.client == nil {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, recordCacheKey(variantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var record models.InventoryRecord
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (c *recordCache) set(ctx context.Context, record *models.InventoryRecord) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, recordCacheKey(record.VariantID), data, c.ttl).Err()
}

func (c *recordCache) invalidate(ctx context.Context, variantID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, recordCacheKey(variantID)).Err()
}
