package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/szczecha/saleor/internal/domain"
)

const ruleKeyPrefix = "promotion:rules:channel:"

// RuleCache stores the active rule set per channel in Redis. Cache failures
// are logged and treated as misses so pricing never fails on a cache outage.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRuleCache creates a rule cache with the given entry TTL.
func NewRuleCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RuleCache {
	return &RuleCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func ruleKey(channelID string) string {
	return ruleKeyPrefix + channelID
}

// Get returns the cached rule set for a channel, reporting whether it was
// present.
func (c *RuleCache) Get(ctx context.Context, channelID string) ([]domain.PromotionRule, bool) {
	data, err := c.client.Get(ctx, ruleKey(channelID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "rule cache get failed",
				slog.String("channel_id", channelID),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	var rules []domain.PromotionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		c.logger.WarnContext(ctx, "rule cache entry corrupt, dropping",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
		c.client.Del(ctx, ruleKey(channelID))
		return nil, false
	}
	return rules, true
}

// Set stores the rule set for a channel.
func (c *RuleCache) Set(ctx context.Context, channelID string, rules []domain.PromotionRule) {
	data, err := json.Marshal(rules)
	if err != nil {
		c.logger.WarnContext(ctx, "rule cache marshal failed",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, ruleKey(channelID), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "rule cache set failed",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
	}
}

// Invalidate drops the cached rule sets for the given channels. Called after
// any promotion or rule mutation touching those channels.
func (c *RuleCache) Invalidate(ctx context.Context, channelIDs ...string) {
	if len(channelIDs) == 0 {
		return
	}
	keys := make([]string, len(channelIDs))
	for i, id := range channelIDs {
		keys[i] = ruleKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "rule cache invalidation failed",
			slog.String("error", err.Error()))
		return
	}
	c.logger.DebugContext(ctx, "rule cache invalidated",
		slog.Int("channels", len(channelIDs)))
}

// InvalidateAll drops every cached rule set. Used when a promotion-level
// change (schedule edit, delete, lifecycle transition) can affect channels
// that are not listed on the mutated rule.
func (c *RuleCache) InvalidateAll(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, ruleKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "rule cache scan failed",
			slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "rule cache flush failed",
			slog.String("error", fmt.Sprintf("%d keys: %v", len(keys), err)))
	}
}
