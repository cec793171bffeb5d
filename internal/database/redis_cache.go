package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.MemoryBankCache = (*redisMemoryBankCache)(nil)

const memoryBankKeyPrefix = "continuity:memory_bank:"

type redisMemoryBankCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisMemoryBankCache кэширует собранный банк памяти в Redis на ttl.
func NewRedisMemoryBankCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.MemoryBankCache {
	return &redisMemoryBankCache{client: client, ttl: ttl, logger: logger.Named("RedisMemoryBankCache")}
}

func memoryBankKey(storyID uuid.UUID) string {
	return memoryBankKeyPrefix + storyID.String()
}

func (c *redisMemoryBankCache) Get(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, bool, error) {
	raw, err := c.client.Get(ctx, memoryBankKey(storyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: memory bank cache get: %v", models.ErrTransientIO, err)
	}
	var bank models.MemoryBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		// испорченная запись - просто промах
		c.logger.Warn("Corrupt cached memory bank, dropping", zap.Stringer("storyID", storyID), zap.Error(err))
		_ = c.client.Del(ctx, memoryBankKey(storyID)).Err()
		return nil, false, nil
	}
	return &bank, true, nil
}

func (c *redisMemoryBankCache) Set(ctx context.Context, bank *models.MemoryBank) error {
	raw, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("marshal memory bank: %w", err)
	}
	if err := c.client.Set(ctx, memoryBankKey(bank.StoryID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: memory bank cache set: %v", models.ErrTransientIO, err)
	}
	return nil
}

func (c *redisMemoryBankCache) Invalidate(ctx context.Context, storyID uuid.UUID) error {
	if err := c.client.Del(ctx, memoryBankKey(storyID)).Err(); err != nil {
		return fmt.Errorf("%w: memory bank cache invalidate: %v", models.ErrTransientIO, err)
	}
	return nil
}
