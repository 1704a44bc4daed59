package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores drafts as JSON strings with a per-funnel index set.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. ttl <= 0 keeps drafts forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{client: client, ttl: ttl}
}

func draftKey(stageID string) string { return fmt.Sprintf("funnel:draft:%s", stageID) }
func indexKey(funnelID string) string { return fmt.Sprintf("funnel:drafts:%s", funnelID) }

// Available pings the server.
func (c *RedisCache) Available(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.client.Ping(ctx).Err() == nil
}

// Put writes the draft and adds it to its funnel's index in one transaction.
func (c *RedisCache) Put(ctx context.Context, d Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling draft: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, draftKey(d.StageID), data, c.ttl)
		pipe.SAdd(ctx, indexKey(d.FunnelID), d.StageID)
		if c.ttl > 0 {
			pipe.Expire(ctx, indexKey(d.FunnelID), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing draft %s: %w", d.StageID, err)
	}
	return nil
}

// Get loads one draft.
func (c *RedisCache) Get(ctx context.Context, stageID string) (*Draft, error) {
	data, err := c.client.Get(ctx, draftKey(stageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading draft %s: %w", stageID, err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding draft %s: %w", stageID, err)
	}
	return &d, nil
}

// Delete removes the draft and its index entry.
func (c *RedisCache) Delete(ctx context.Context, stageID string) error {
	d, err := c.Get(ctx, stageID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, draftKey(stageID))
		pipe.SRem(ctx, indexKey(d.FunnelID), stageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", stageID, err)
	}
	return nil
}

// ListByFunnel returns every draft indexed under the funnel. Index entries
// whose draft has expired are pruned.
func (c *RedisCache) ListByFunnel(ctx context.Context, funnelID string) ([]Draft, error) {
	ids, err := c.client.SMembers(ctx, indexKey(funnelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing drafts for funnel %s: %w", funnelID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = draftKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading drafts for funnel %s: %w", funnelID, err)
	}

	var drafts []Draft
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var d Draft
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			continue
		}
		drafts = append(drafts, d)
	}
	if len(stale) > 0 {
		c.client.SRem(ctx, indexKey(funnelID), stale...)
	}
	return drafts, nil
}
