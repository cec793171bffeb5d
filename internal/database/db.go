package database

import (
	"context"
	"fmt"
	"time"

	"novel-continuity/internal/config"
	"novel-continuity/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NewPool создает пул соединений с PostgreSQL и проверяет подключение.
// Недоступная при старте база повторно опрашивается с экспоненциальной задержкой.
func NewPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	log := logger.Named("Database")
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MaxConnIdleTime = cfg.DBIdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	log.Info("Connecting to PostgreSQL", zap.String("dsn", cfg.MaskedDSN()), zap.Int("maxConns", cfg.DBMaxConns))

	var pool *pgxpool.Pool
	retryCfg := worker.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	err = worker.Retry(ctx, retryCfg, log, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return wrapDBError("create pool", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return wrapDBError("ping", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL")
	return pool, nil
}
