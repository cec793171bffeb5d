package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// Config содержит настройки для миграций
type Config struct {
	// FS с SQL файлами миграций, Dir - каталог внутри него
	FS  fs.FS
	Dir string
	// Таблица версий; по умолчанию schema_migrations
	Table       string
	LockTimeout time.Duration
}

// Migrator выполняет миграции схемы поверх пула pgx
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
}

// NewMigrator создает новый экземпляр Migrator
func NewMigrator(config Config, pool *pgxpool.Pool) *Migrator {
	if config.Table == "" {
		config.Table = "schema_migrations"
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	return &Migrator{config: config, pool: pool}
}

// Up применяет все доступные миграции. Отсутствие изменений не является ошибкой.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down откатывает все миграции
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mg *migrate.Migrate) error { return mg.Down() })
}

// Steps применяет n миграций вперед (n > 0) или назад (n < 0)
func (m *Migrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, fmt.Sprintf("steps(%d)", n), func(mg *migrate.Migrate) error { return mg.Steps(n) })
}

// Version возвращает текущую версию схемы и флаг dirty
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(mg)

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) run(ctx context.Context, op string, apply func(*migrate.Migrate) error) error {
	logger := log.Ctx(ctx).With().Str("op", op).Str("table", m.config.Table).Logger()
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer closeMigrator(mg)

	started := time.Now()
	if err := apply(mg); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("database schema is up to date")
			return nil
		}
		if version, dirty, verr := mg.Version(); verr == nil {
			logger.Error().Uint("version", version).Bool("dirty", dirty).Err(err).Msg("migration failed")
		}
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	version, _, _ := mg.Version()
	logger.Info().Uint("version", version).Dur("took", time.Since(started)).Msg("database migrations applied")
	return nil
}

// open создает экземпляр migrate.Migrate
func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	if m.config.FS == nil {
		return nil, errors.New("migrations FS is not set")
	}
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}

	// database/sql поверх того же пула pgx
	db := stdlib.OpenDBFromPool(m.pool)

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: m.config.Table})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.FS, m.config.Dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	return mg, nil
}

func closeMigrator(mg *migrate.Migrate) {
	srcErr, dbErr := mg.Close()
	if srcErr != nil || dbErr != nil {
		log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("failed to close migrator")
	}
}
