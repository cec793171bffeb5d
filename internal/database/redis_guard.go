package database

import (
	"context"
	"fmt"
	"time"

	"novel-continuity/pkg/taskmanager"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ taskmanager.TargetRefresher = (*RedisTargetGuard)(nil)

const targetGuardPrefix = "continuity:target:"

// Снимаем флаг только если он все еще принадлежит нашему токену
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Продлеваем флаг только если он все еще принадлежит нашему токену
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisTargetGuard - распределенный флаг "задача по цели уже выполняется".
// The TTL bounds how long a crashed process can hold a target; the task manager
// refreshes flags of live tasks well before it runs out.
type RedisTargetGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisTargetGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisTargetGuard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisTargetGuard{client: client, ttl: ttl, logger: logger.Named("RedisTargetGuard")}
}

func (g *RedisTargetGuard) Acquire(ctx context.Context, target, token string) (bool, error) {
	key := targetGuardPrefix + target
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire target %q: %w", target, err)
	}
	if ok {
		return true, nil
	}
	// повторный захват тем же токеном (Retry той же задачи)
	holder, err := g.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read target %q: %w", target, err)
	}
	if holder == token {
		if err := g.client.PExpire(ctx, key, g.ttl).Err(); err != nil {
			g.logger.Warn("Failed to extend target guard TTL", zap.String("target", target), zap.Error(err))
		}
		return true, nil
	}
	g.logger.Debug("Target is busy", zap.String("target", target), zap.String("holder", holder))
	return false, nil
}

func (g *RedisTargetGuard) Release(ctx context.Context, target, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{targetGuardPrefix + target}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release target %q: %w", target, err)
	}
	return nil
}

// TTL returns the lifetime of a flag that is not refreshed.
func (g *RedisTargetGuard) TTL() time.Duration { return g.ttl }

// Refresh extends the flag while token still holds it. false means the flag was lost.
func (g *RedisTargetGuard) Refresh(ctx context.Context, target, token string) (bool, error) {
	n, err := refreshScript.Run(ctx, g.client, []string{targetGuardPrefix + target}, token, g.ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("refresh target %q: %w", target, err)
	}
	return n == 1, nil
}
