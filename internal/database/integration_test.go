//go:build integration

package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"novel-continuity/internal/database"
	"novel-continuity/internal/memory"
	"novel-continuity/internal/models"
	"novel-continuity/pkg/migration"
	"novel-continuity/pkg/taskmanager"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// RepositorySuite поднимает PostgreSQL и Redis в контейнерах и гоняет репозитории против них.
type RepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pool        *pgxpool.Pool
	redisClient *redis.Client
	logger      *zap.Logger
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("continuity_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	s.Require().NoError(err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.pool, err = pgxpool.New(s.ctx, dsn)
	s.Require().NoError(err)

	migrator := migration.NewMigrator(migration.Config{FS: database.MigrationsFS, Dir: database.MigrationsDir}, s.pool)
	s.Require().NoError(migrator.Up(s.ctx), "Failed to apply migrations")
	version, dirty, err := migrator.Version(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint(1), version)
	s.False(dirty)

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(time.Minute),
		),
	)
	s.Require().NoError(err, "Failed to start redis container")
	host, err := s.rdContainer.Host(s.ctx)
	s.Require().NoError(err)
	port, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	s.Require().NoError(err)
	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	s.Require().NoError(s.redisClient.Ping(s.ctx).Err())
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
}

func (s *RepositorySuite) SetupTest() {
	s.Require().NoError(s.redisClient.FlushDB(s.ctx).Err())
	_, err := s.pool.Exec(s.ctx, `TRUNCATE characters, chronicle_events, foreshadowing, chapters,
		chapter_summaries, world_facts, pacing_progress, generation_tasks`)
	s.Require().NoError(err)
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not accessible: %v", err)
	}
	_ = cli.Close()

	suite.Run(t, new(RepositorySuite))
}

func intPtr(v int) *int { return &v }

func (s *RepositorySuite) TestCharacters_CorruptJSONDegradesPerField() {
	repo := database.NewPgCharacterRepository(s.pool, s.logger)
	storyID := uuid.New()

	alice := &models.CharacterProfile{
		StoryID: storyID, Name: "Alice", Role: models.RoleProtagonist,
		Traits: []string{"brave"}, KeyEvents: []string{"left home", "met Bob"},
		Relationships: map[string]string{"Bob": "friend"},
		FirstAppearance: intPtr(1), LastAppearance: intPtr(9), AppearanceCount: 5,
	}
	bob := &models.CharacterProfile{StoryID: storyID, Name: "Bob", Role: models.RoleMinor}
	s.Require().NoError(repo.Upsert(s.ctx, alice))
	s.Require().NoError(repo.Upsert(s.ctx, bob))

	// повтор по (story, name) обновляет запись
	alice.LastAppearance = intPtr(10)
	alice.AppearanceCount = 6
	s.Require().NoError(repo.Upsert(s.ctx, alice))

	_, err := s.pool.Exec(s.ctx, `UPDATE characters SET traits = '42'::jsonb WHERE name = 'Bob'`)
	s.Require().NoError(err)

	records, err := repo.ListByStory(s.ctx, storyID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("Alice", records[0].Name)
	s.Equal([]string{"left home", "met Bob"}, records[0].KeyEvents)
	s.Equal(10, *records[0].LastAppearance)

	assembler := memory.NewAssembler(memory.Repositories{Characters: repo}, s.logger)
	bank, err := assembler.Assemble(s.ctx, storyID)
	s.Require().NoError(err)
	s.Equal([]string{"brave"}, bank.Characters["Alice"].Traits)
	s.Equal(map[string]string{"Bob": "friend"}, bank.Characters["Alice"].Relationships)
	s.Empty(bank.Characters["Bob"].Traits)
	s.NotNil(bank.Characters["Bob"].Traits)
}

func (s *RepositorySuite) TestChronicleAndSummaries() {
	storyID := uuid.New()
	chronicle := database.NewPgChronicleRepository(s.pool, s.logger)
	summaries := database.NewPgSummaryRepository(s.pool, s.logger)

	s.Require().NoError(chronicle.Append(s.ctx, &models.ChronicleEvent{
		StoryID: storyID, ChapterNumber: 2, Events: []string{"duel"}, EventType: models.EventTypeConflict, Importance: models.ImportanceHigh,
	}))
	s.Require().NoError(chronicle.Append(s.ctx, &models.ChronicleEvent{
		StoryID: storyID, ChapterNumber: 1, Events: []string{"arrival", "storm"}, EventType: models.EventTypePlot, Importance: models.ImportanceLow,
	}))
	events, err := chronicle.ListByStory(s.ctx, storyID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(1, events[0].ChapterNumber)
	s.Equal([]string{"arrival", "storm"}, events[0].Events)

	for ch := 1; ch <= 25; ch++ {
		s.Require().NoError(summaries.Upsert(s.ctx, &models.ChapterSummary{StoryID: storyID, ChapterNumber: ch, Summary: fmt.Sprintf("summary %d", ch)}))
	}
	s.Require().NoError(summaries.Upsert(s.ctx, &models.ChapterSummary{StoryID: storyID, ChapterNumber: 25, Summary: "rewritten", IsFallback: true}))

	recent, err := summaries.ListRecent(s.ctx, storyID, 20)
	s.Require().NoError(err)
	s.Require().Len(recent, 20)
	s.Equal(6, recent[0].ChapterNumber)
	s.Equal(25, recent[19].ChapterNumber)
	s.Equal("rewritten", recent[19].Summary)
	s.True(recent[19].IsFallback)

	s.Require().NoError(summaries.Delete(s.ctx, storyID, 25))
	s.Require().NoError(summaries.Delete(s.ctx, storyID, 25), "deleting a missing summary is a no-op")
	_, err = summaries.Get(s.ctx, storyID, 25)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RepositorySuite) TestForeshadowing_ResolveOnce() {
	repo := database.NewPgForeshadowingRepository(s.pool, s.logger)
	storyID := uuid.New()
	item := &models.ForeshadowingItem{StoryID: storyID, Content: "a locked box", PlantedChapter: 3, Type: "object", Priority: 2}
	s.Require().NoError(repo.Create(s.ctx, item))

	err := repo.Resolve(s.ctx, storyID, item.ID, 2)
	s.ErrorIs(err, models.ErrConsistencyConflict)

	s.Require().NoError(repo.Resolve(s.ctx, storyID, item.ID, 8))
	err = repo.Resolve(s.ctx, storyID, item.ID, 9)
	s.ErrorIs(err, models.ErrAlreadyResolved)

	err = repo.Resolve(s.ctx, storyID, uuid.New(), 9)
	s.ErrorIs(err, models.ErrNotFound)

	items, err := repo.ListByStory(s.ctx, storyID)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(models.ForeshadowingResolved, items[0].Status)
	s.Equal(8, *items[0].ResolvedChapter)
}

func (s *RepositorySuite) TestChapters_SaveOverwrites() {
	repo := database.NewPgChapterRepository(s.pool, s.logger)
	storyID := uuid.New()

	_, err := repo.Get(s.ctx, storyID, 1)
	s.ErrorIs(err, models.ErrNotFound)

	s.Require().NoError(repo.Save(s.ctx, &models.Chapter{StoryID: storyID, ChapterNumber: 1, Content: "first draft"}))
	s.Require().NoError(repo.Save(s.ctx, &models.Chapter{StoryID: storyID, ChapterNumber: 1, Content: "second draft", Brief: "b"}))
	ch, err := repo.Get(s.ctx, storyID, 1)
	s.Require().NoError(err)
	s.Equal("second draft", ch.Content)
	s.Equal("b", ch.Brief)

	s.ErrorIs(repo.Save(s.ctx, &models.Chapter{StoryID: storyID, ChapterNumber: 0}), models.ErrValidation)
}

func (s *RepositorySuite) TestWorldFacts_AddManySkipsDuplicates() {
	repo := database.NewPgWorldFactRepository(s.pool, s.logger)
	storyID := uuid.New()
	facts := []models.WorldFact{
		{StoryID: storyID, Category: "magic", Fact: "Magic costs memories"},
		{StoryID: storyID, Category: "geo", Fact: "The capital floats"},
		{StoryID: storyID, Category: "magic", Fact: "Magic costs memories"},
		{StoryID: storyID, Fact: "   "},
	}
	n, err := repo.AddMany(s.ctx, facts)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = repo.AddMany(s.ctx, facts[:2])
	s.Require().NoError(err)
	s.Equal(0, n)

	all, err := repo.ListByStory(s.ctx, storyID)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *RepositorySuite) TestPacing_UpdateIsSingleWriter() {
	repo := database.NewPgPacingRepository(s.pool, s.logger)
	storyID := uuid.New()

	_, err := repo.Get(s.ctx, storyID)
	s.ErrorIs(err, models.ErrNotFound)
	_, err = repo.Update(s.ctx, storyID, nil, func(p *models.PacingProgress) error { return nil })
	s.ErrorIs(err, models.ErrNotFound)

	init := func() *models.PacingProgress { return models.NewPacingProgress(storyID, true, 1) }

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(s.ctx, storyID, init, func(p *models.PacingProgress) error {
				p.LastUpdatedChapter++
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	p, err := repo.Get(s.ctx, storyID)
	s.Require().NoError(err)
	s.Equal(10, p.LastUpdatedChapter)
	s.Equal(models.StageMotivation, p.CurrentStage)

	boom := errors.New("boom")
	_, err = repo.Update(s.ctx, storyID, init, func(p *models.PacingProgress) error {
		p.LastUpdatedChapter = 999
		return boom
	})
	s.ErrorIs(err, boom)

	updated, err := repo.Update(s.ctx, storyID, init, func(p *models.PacingProgress) error {
		p.CurrentStage = models.StageBonus
		p.StageAnalysis[models.StageMotivation] = "goal met"
		p.Motivation = &models.MotivationAnalysis{Motivation: "revenge", Strength: models.MotivationGood}
		p.MotivationLoop = 1
		return nil
	})
	s.Require().NoError(err)
	s.Equal(10, updated.LastUpdatedChapter)

	p, err = repo.Get(s.ctx, storyID)
	s.Require().NoError(err)
	s.Equal(models.StageBonus, p.CurrentStage)
	s.Equal("goal met", p.StageAnalysis[models.StageMotivation])
	s.Require().NotNil(p.Motivation)
	s.Equal("revenge", p.Motivation.Motivation)
}

func (s *RepositorySuite) TestTaskStore() {
	store := database.NewPgTaskStore(s.pool, s.logger)
	now := time.Now().UTC().Truncate(time.Millisecond)
	task := taskmanager.Task{
		ID: uuid.New(), Kind: "volume_outline", Target: "story:1", Status: taskmanager.StatusPending,
		Params: map[string]int{"volume": 1}, CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(store.Save(s.ctx, task))

	task.Status = taskmanager.StatusCompleted
	task.Progress = 100
	task.Result = map[string]string{"outline": "done"}
	task.CompletedAt = &now
	task.UpdatedAt = now.Add(time.Second)
	s.Require().NoError(store.Save(s.ctx, task))

	// запоздавший снимок не перетирает более новый
	stale := task
	stale.Status = taskmanager.StatusRunning
	stale.UpdatedAt = now
	s.Require().NoError(store.Save(s.ctx, stale))

	got, err := store.Get(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(taskmanager.StatusCompleted, got.Status)
	s.Equal(100, got.Progress)
	s.JSONEq(`{"outline":"done"}`, string(got.Result.(json.RawMessage)))

	s.Require().NoError(store.Delete(s.ctx, []uuid.UUID{task.ID}))
	_, err = store.Get(s.ctx, task.ID)
	s.ErrorIs(err, taskmanager.ErrTaskNotFound)
}

func (s *RepositorySuite) TestRedisTargetGuard() {
	guard := database.NewRedisTargetGuard(s.redisClient, time.Minute, s.logger)

	ok, err := guard.Acquire(s.ctx, "story:1", "token-a")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = guard.Acquire(s.ctx, "story:1", "token-b")
	s.Require().NoError(err)
	s.False(ok, "second holder must be rejected")

	ok, err = guard.Acquire(s.ctx, "story:1", "token-a")
	s.Require().NoError(err)
	s.True(ok, "same token may re-acquire")

	s.Require().NoError(guard.Release(s.ctx, "story:1", "token-b"))
	ok, err = guard.Acquire(s.ctx, "story:1", "token-b")
	s.Require().NoError(err)
	s.False(ok, "release by a non-holder is a no-op")

	s.Require().NoError(guard.Release(s.ctx, "story:1", "token-a"))
	ok, err = guard.Acquire(s.ctx, "story:1", "token-b")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RepositorySuite) TestRedisTargetGuard_Refresh() {
	guard := database.NewRedisTargetGuard(s.redisClient, 300*time.Millisecond, s.logger)

	ok, err := guard.Acquire(s.ctx, "story:refresh", "token-a")
	s.Require().NoError(err)
	s.Require().True(ok)

	// продление держит флаг дольше исходного TTL
	for i := 0; i < 4; i++ {
		time.Sleep(150 * time.Millisecond)
		held, err := guard.Refresh(s.ctx, "story:refresh", "token-a")
		s.Require().NoError(err)
		s.True(held)
	}
	ok, err = guard.Acquire(s.ctx, "story:refresh", "token-b")
	s.Require().NoError(err)
	s.False(ok)

	held, err := guard.Refresh(s.ctx, "story:refresh", "token-b")
	s.Require().NoError(err)
	s.False(held, "a non-holder cannot refresh")

	s.Require().NoError(guard.Release(s.ctx, "story:refresh", "token-a"))
	held, err = guard.Refresh(s.ctx, "story:refresh", "token-a")
	s.Require().NoError(err)
	s.False(held, "a released flag is not resurrected")
}

func (s *RepositorySuite) TestRedisMemoryBankCache() {
	cache := database.NewRedisMemoryBankCache(s.redisClient, time.Minute, s.logger)
	storyID := uuid.New()

	_, ok, err := cache.Get(s.ctx, storyID)
	s.Require().NoError(err)
	s.False(ok)

	bank := &models.MemoryBank{
		StoryID:    storyID,
		Characters: map[string]*models.CharacterProfile{"Alice": {Name: "Alice", Role: models.RoleMajor}},
		WorldFacts: []models.WorldFact{{StoryID: storyID, Fact: "The capital floats"}},
	}
	s.Require().NoError(cache.Set(s.ctx, bank))

	got, ok, err := cache.Get(s.ctx, storyID)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("Alice", got.Characters["Alice"].Name)
	s.Len(got.WorldFacts, 1)

	s.Require().NoError(cache.Invalidate(s.ctx, storyID))
	_, ok, err = cache.Get(s.ctx, storyID)
	s.Require().NoError(err)
	s.False(ok)
}
