package service_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"novel-continuity/internal/memory"
	"novel-continuity/internal/messaging"
	"novel-continuity/internal/mocks"
	"novel-continuity/internal/models"
	"novel-continuity/internal/pacing"
	"novel-continuity/internal/prompts"
	"novel-continuity/internal/service"
	"novel-continuity/internal/summary"
	"novel-continuity/internal/worker"
	"novel-continuity/pkg/taskmanager"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const motivationAnswer = "MOTIVATION: Lin must cure her sister before the winter solstice\n" +
	"STRENGTH: GOOD\nRATIONALE: urgent and personal\nOPTIMIZATION: add a rival healer"

type fixture struct {
	ctx       context.Context
	storyID   uuid.UUID
	prompts   prompts.Prompts
	chapters  *mocks.MockChapterRepository
	summaries *mocks.MockSummaryRepository
	facts     *mocks.MockWorldFactRepository
	fore      *mocks.MockForeshadowingRepository
	pacing    *mocks.InMemoryPacingRepository
	provider  *mocks.FakeProvider
	tasks     *taskmanager.Manager
	svc       *service.ContinuityService

	// release разблокирует провайдера на промте плана тома
	release chan struct{}
	blocked atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		storyID:   uuid.New(),
		prompts:   prompts.Default(),
		chapters:  new(mocks.MockChapterRepository),
		summaries: new(mocks.MockSummaryRepository),
		facts:     new(mocks.MockWorldFactRepository),
		pacing:    mocks.NewInMemoryPacingRepository(),
		release:   make(chan struct{}),
	}
	f.provider = &mocks.FakeProvider{CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
		switch system {
		case f.prompts.SummarySystem:
			return "Lin reached the sect gate and was turned away.", nil
		case f.prompts.MotivationSystem:
			return motivationAnswer, nil
		case f.prompts.OutlineSystem:
			if f.blocked.Load() {
				select {
				case <-f.release:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return "Chapter 1: Lin arrives. Chapter 2: Lin is tested.", nil
		case f.prompts.FactMiningSystem:
			return "- The sect sits on Mount Qing.\n- Spirit stones are currency.\n1. " + firstLine(user), nil
		}
		return "ENHANCED: " + user, nil
	}}

	chars := new(mocks.MockCharacterRepository)
	chars.On("ListByStory", mock.Anything, mock.Anything).Return([]models.CharacterRecord{}, nil).Maybe()
	chron := new(mocks.MockChronicleRepository)
	chron.On("ListByStory", mock.Anything, mock.Anything).Return([]models.ChronicleEvent{}, nil).Maybe()
	f.fore = new(mocks.MockForeshadowingRepository)
	f.fore.On("ListByStory", mock.Anything, mock.Anything).Return([]models.ForeshadowingItem{}, nil).Maybe()
	f.summaries.On("ListRecent", mock.Anything, mock.Anything, mock.Anything).Return([]models.ChapterSummary{}, nil).Maybe()
	f.facts.On("ListByStory", mock.Anything, mock.Anything).Return([]models.WorldFact{}, nil).Maybe()

	logger := zap.NewNop()
	assembler := memory.NewAssembler(memory.Repositories{
		Characters:    chars,
		Chronicle:     chron,
		Foreshadowing: f.fore,
		Summaries:     f.summaries,
		WorldFacts:    f.facts,
	}, logger)
	extractor := pacing.NewMotivationExtractor(f.provider, f.prompts, logger)
	sm := pacing.NewStateMachine(f.pacing, f.provider, mocks.AlwaysComplete(), extractor, f.prompts, pacing.DefaultConfig(), logger)
	compressor := summary.NewCompressor(f.provider, f.summaries, f.pacing, f.prompts, summary.DefaultConfig(), logger)

	f.tasks = taskmanager.New(taskmanager.Config{Workers: 4})
	t.Cleanup(func() {
		if f.blocked.Load() {
			select {
			case <-f.release:
			default:
				close(f.release)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.tasks.Shutdown(ctx)
	})

	f.svc = service.NewContinuityService(service.Deps{
		Assembler:     assembler,
		Compressor:    compressor,
		Pacing:        sm,
		Tasks:         f.tasks,
		Chapters:      f.chapters,
		WorldFacts:    f.facts,
		Foreshadowing: f.fore,
		Provider:      f.provider,
		Prompts:       f.prompts,
		Batch:         worker.NewBatchRunner(2, nil, logger),
		Retry:         worker.RetryConfig{MaxAttempts: 1},
	}, logger)
	return f
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (f *fixture) waitStatus(t *testing.T, id uuid.UUID, want taskmanager.TaskStatus) taskmanager.Task {
	t.Helper()
	var task taskmanager.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = f.svc.GetTask(f.ctx, id)
		return err == nil && task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestPublishChapter(t *testing.T) {
	t.Run("new chapter is summarized", func(t *testing.T) {
		f := newFixture(t)
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 1, Content: "Lin walks to the sect gate."}
		f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(nil, models.ErrNotFound).Once()
		f.chapters.On("Save", mock.Anything, mock.AnythingOfType("*models.Chapter")).Return(nil).Once()
		f.summaries.On("Upsert", mock.Anything, mock.AnythingOfType("*models.ChapterSummary")).Return(nil).Once()

		res, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		assert.Equal(t, "new", res.Outcome)
		require.NotNil(t, res.Summary)
		assert.False(t, res.Summary.IsFallback)
		assert.Equal(t, "Lin reached the sect gate and was turned away.", res.Summary.Summary)
		assert.Nil(t, res.Advance)
		f.chapters.AssertExpectations(t)
		f.summaries.AssertExpectations(t)
	})

	t.Run("same content keeps summary", func(t *testing.T) {
		f := newFixture(t)
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 2, Content: "Lin walks to the sect gate."}
		prev := ch
		f.chapters.On("Get", mock.Anything, f.storyID, 2).Return(&prev, nil).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		res, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		assert.Equal(t, "unchanged", res.Outcome)
		assert.Nil(t, res.Summary)
		assert.Nil(t, res.Rewrite)
		f.summaries.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("minor edit re-summarizes without invalidation", func(t *testing.T) {
		f := newFixture(t)
		prev := &models.Chapter{StoryID: f.storyID, ChapterNumber: 2, Content: "The cat sat on the mat."}
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 2, Content: "The cat sat on the hat."}
		f.chapters.On("Get", mock.Anything, f.storyID, 2).Return(prev, nil).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		f.summaries.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

		res, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		assert.Equal(t, "edited", res.Outcome)
		require.NotNil(t, res.Rewrite)
		assert.False(t, res.Rewrite.Rewritten)
		assert.NotNil(t, res.Summary)
		f.summaries.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rewrite invalidates summary and rolls pacing back", func(t *testing.T) {
		f := newFixture(t)
		p := models.NewPacingProgress(f.storyID, true, 1)
		p.CurrentStage = models.StageBonus
		p.StageStartChapter = 3
		p.LastUpdatedChapter = 3
		f.pacing.Put(p)

		prev := &models.Chapter{StoryID: f.storyID, ChapterNumber: 3, Content: strings.Repeat("a", 100)}
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 3, Content: strings.Repeat("b", 20)}
		f.chapters.On("Get", mock.Anything, f.storyID, 3).Return(prev, nil).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		f.summaries.On("Delete", mock.Anything, f.storyID, 3).Return(nil).Once()
		f.summaries.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

		res, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		assert.Equal(t, "rewritten", res.Outcome)
		require.NotNil(t, res.Rewrite)
		assert.True(t, res.Rewrite.Rewritten)
		assert.True(t, res.Rewrite.SummaryInvalidated)
		assert.True(t, res.Rewrite.PacingRolledBack)

		got, err := f.pacing.Get(f.ctx, f.storyID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.StageStartChapter)
		assert.Equal(t, 2, got.LastUpdatedChapter)
		assert.Equal(t, models.StageBonus, got.CurrentStage)
		f.summaries.AssertExpectations(t)
	})

	t.Run("brief advances pacing", func(t *testing.T) {
		f := newFixture(t)
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 1, Content: "Lin swears to save her sister.", Brief: "Lin learns her sister is dying."}
		f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(nil, models.ErrNotFound).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		f.summaries.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

		res, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		require.NotNil(t, res.Advance)
		assert.True(t, res.Advance.Advanced)
		assert.Equal(t, models.StageMotivation, res.Advance.From)
		assert.Equal(t, models.StageBonus, res.Advance.To)
		assert.Equal(t, 2, res.Advance.Progress.StageStartChapter)
	})

	t.Run("republished chapter advances once", func(t *testing.T) {
		f := newFixture(t)
		ch := models.Chapter{StoryID: f.storyID, ChapterNumber: 1, Content: "Lin swears to save her sister.", Brief: "Lin learns her sister is dying."}
		f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(nil, models.ErrNotFound).Once()
		f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(&ch, nil).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(nil).Twice()
		f.summaries.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

		first, err := f.svc.PublishChapter(f.ctx, ch)
		require.NoError(t, err)
		require.NotNil(t, first.Advance)
		require.True(t, first.Advance.Advanced)
		writes := f.pacing.Writes

		second, err := f.svc.PublishChapter(f.ctx, ch)

		require.NoError(t, err)
		assert.Equal(t, "unchanged", second.Outcome)
		assert.Nil(t, second.Advance)
		assert.Equal(t, writes, f.pacing.Writes)

		// прямой вызов по той же главе тоже не двигает стадию
		res, err := f.svc.AdvanceIfComplete(f.ctx, f.storyID, 1, ch.Brief)
		require.NoError(t, err)
		assert.False(t, res.Advanced)

		got, err := f.pacing.Get(f.ctx, f.storyID)
		require.NoError(t, err)
		assert.Equal(t, models.StageBonus, got.CurrentStage)
		assert.Equal(t, 2, got.StageStartChapter)
		f.summaries.AssertNumberOfCalls(t, "Upsert", 1)
	})

	t.Run("invalid chapter", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.PublishChapter(f.ctx, models.Chapter{StoryID: f.storyID, ChapterNumber: 0, Content: "x"})
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = f.svc.PublishChapter(f.ctx, models.Chapter{StoryID: f.storyID, ChapterNumber: 1})
		assert.ErrorIs(t, err, models.ErrValidation)
		f.chapters.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("storage failure is reported", func(t *testing.T) {
		f := newFixture(t)
		f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(nil, models.ErrNotFound).Once()
		f.chapters.On("Save", mock.Anything, mock.Anything).Return(models.ErrTransientIO).Once()

		_, err := f.svc.PublishChapter(f.ctx, models.Chapter{StoryID: f.storyID, ChapterNumber: 1, Content: "x"})
		assert.ErrorIs(t, err, models.ErrTransientIO)
	})
}

func TestMemoryContext(t *testing.T) {
	f := newFixture(t)

	mc, err := f.svc.MemoryContext(f.ctx, f.storyID, 5, 10)
	require.NoError(t, err)
	assert.NotNil(t, mc.Bank)
	assert.Empty(t, mc.TopCharacters)
	assert.Empty(t, mc.Inactive)

	_, err = f.svc.MemoryContext(f.ctx, f.storyID, 0, 10)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.svc.AssembleMemoryBank(f.ctx, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGenerateVolumeOutline(t *testing.T) {
	f := newFixture(t)
	req := service.VolumeOutlineRequest{
		StoryID:      f.storyID,
		Volume:       1,
		StartChapter: 1,
		Briefs:       []string{"Lin arrives at the sect.", "Lin faces the entrance trial."},
	}

	id, err := f.svc.GenerateVolumeOutline(f.ctx, req)
	require.NoError(t, err)

	task := f.waitStatus(t, id, taskmanager.StatusCompleted)
	assert.Equal(t, 100, task.Progress)
	outline, ok := task.Result.(*service.VolumeOutline)
	require.True(t, ok, "unexpected result %T", task.Result)
	require.Len(t, outline.Chapters, 2)
	assert.Equal(t, 2, outline.Chapters[1].ChapterNumber)
	assert.True(t, strings.HasPrefix(outline.Chapters[0].EnhancedBrief, "ENHANCED: "))
	assert.Equal(t, "Chapter 1: Lin arrives. Chapter 2: Lin is tested.", outline.Outline)
}

func TestGenerateVolumeOutline_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateVolumeOutline(f.ctx, service.VolumeOutlineRequest{StoryID: f.storyID, Volume: 1, StartChapter: 1})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.svc.ListTasks(service.TaskKindVolumeOutline))
}

// Второй запуск для той же цели отклоняется, пока первый не завершился.
func TestGenerateVolumeOutline_TargetBusy(t *testing.T) {
	f := newFixture(t)
	f.blocked.Store(true)
	req := service.VolumeOutlineRequest{StoryID: f.storyID, Volume: 1, StartChapter: 1, Briefs: []string{"Lin arrives."}}

	first, err := f.svc.GenerateVolumeOutline(f.ctx, req)
	require.NoError(t, err)
	f.waitStatus(t, first, taskmanager.StatusRunning)

	_, err = f.svc.GenerateVolumeOutline(f.ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConsistencyConflict)

	other := req
	other.Volume = 2
	_, err = f.svc.GenerateVolumeOutline(f.ctx, other)
	assert.NoError(t, err, "a different volume is a different target")

	close(f.release)
	f.waitStatus(t, first, taskmanager.StatusCompleted)

	require.Eventually(t, func() bool {
		_, err := f.svc.GenerateVolumeOutline(f.ctx, req)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	f.blocked.Store(true)
	req := service.VolumeOutlineRequest{StoryID: f.storyID, Volume: 3, StartChapter: 10, Briefs: []string{"Lin returns home."}}

	id, err := f.svc.GenerateVolumeOutline(f.ctx, req)
	require.NoError(t, err)
	f.waitStatus(t, id, taskmanager.StatusRunning)

	task, err := f.svc.CancelTask(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.StatusCancelled, task.Status)

	close(f.release)
	time.Sleep(50 * time.Millisecond)
	task, err = f.svc.GetTask(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.StatusCancelled, task.Status)
	assert.Nil(t, task.Result)

	_, err = f.svc.CancelTask(f.ctx, id)
	assert.ErrorIs(t, err, models.ErrConsistencyConflict)
}

func TestTaskErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetTask(f.ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.RetryTask(f.ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	id, err := f.svc.GenerateVolumeOutline(f.ctx, service.VolumeOutlineRequest{StoryID: f.storyID, Volume: 1, StartChapter: 1, Briefs: []string{"x"}})
	require.NoError(t, err)
	f.waitStatus(t, id, taskmanager.StatusCompleted)

	_, err = f.svc.RetryTask(f.ctx, id)
	assert.ErrorIs(t, err, models.ErrConsistencyConflict, "only failed tasks can be retried")

	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, f.svc.CleanupTasks(f.ctx, 0))
	_, err = f.svc.GetTask(f.ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMineWorldFacts(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 3; n++ {
		f.chapters.On("Get", mock.Anything, f.storyID, n).
			Return(&models.Chapter{StoryID: f.storyID, ChapterNumber: n, Content: "Chapter " + string(rune('0'+n)) + " fact.\nmore text"}, nil)
	}
	f.chapters.On("Get", mock.Anything, f.storyID, 4).Return(nil, models.ErrNotFound)

	var stored []models.WorldFact
	f.facts.On("AddMany", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = append(stored, args.Get(1).([]models.WorldFact)...)
		}).
		Return(1, nil)

	id, err := f.svc.MineWorldFacts(f.ctx, service.MineWorldFactsRequest{StoryID: f.storyID, Chapters: []int{1, 2, 3, 4}})
	require.NoError(t, err)
	task := f.waitStatus(t, id, taskmanager.StatusCompleted)

	report, ok := task.Result.(worker.BatchReport)
	require.True(t, ok, "unexpected result %T", task.Result)
	assert.Equal(t, 4, report.Inputs)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 9, report.Produced)
	assert.Equal(t, 5, report.Unique)
	assert.Equal(t, 2, report.Stored)

	require.Len(t, stored, 5)
	for _, fact := range stored {
		assert.Equal(t, f.storyID, fact.StoryID)
		assert.Equal(t, "mined", fact.Category)
	}
}

func TestMineWorldFacts_CancelledTaskWritesNothing(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 2; n++ {
		f.chapters.On("Get", mock.Anything, f.storyID, n).
			Return(&models.Chapter{StoryID: f.storyID, ChapterNumber: n, Content: "Chapter text."}, nil)
	}
	base := f.provider.CompleteFunc
	f.provider.CompleteFunc = func(ctx context.Context, system, user string) (string, error) {
		if system == f.prompts.FactMiningSystem {
			// задачу отменяют, пока идут вызовы провайдера
			if id, ok := taskmanager.TaskID(ctx); ok {
				_, _ = f.svc.CancelTask(ctx, id)
			}
		}
		return base(ctx, system, user)
	}

	id, err := f.svc.MineWorldFacts(f.ctx, service.MineWorldFactsRequest{StoryID: f.storyID, Chapters: []int{1, 2}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.tasks.Shutdown(ctx))

	task, err := f.svc.GetTask(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.StatusCancelled, task.Status)
	assert.Nil(t, task.Result)
	f.facts.AssertNotCalled(t, "AddMany", mock.Anything, mock.Anything)
}

func TestMineWorldFacts_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MineWorldFacts(f.ctx, service.MineWorldFactsRequest{StoryID: f.storyID})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.svc.MineWorldFacts(f.ctx, service.MineWorldFactsRequest{StoryID: f.storyID, Chapters: []int{0}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParseFacts(t *testing.T) {
	answer := "- The sect sits on Mount Qing.\n" +
		"2) Spirit stones are currency.\n" +
		"* \n" +
		"NONE\n" +
		"• Outer disciples may not enter the library.\n" +
		strings.Repeat("x", 400)

	assert.Equal(t, []string{
		"The sect sits on Mount Qing.",
		"Spirit stones are currency.",
		"Outer disciples may not enter the library.",
	}, service.ParseFacts(answer))
	assert.Empty(t, service.ParseFacts(""))

	assert.Equal(t, []string{
		"1984 was the founding year of the sect.",
		"3 elders rule the sect.",
		"7 is an unlucky number.",
		"12.5% of disciples reach the inner court.",
	}, service.ParseFacts("1984 was the founding year of the sect.\n- 3 elders rule the sect.\n12. 7 is an unlucky number.\n"+
		"12.5% of disciples reach the inner court."))
}

func TestHandleChapterPublished(t *testing.T) {
	f := newFixture(t)
	f.chapters.On("Get", mock.Anything, f.storyID, 1).Return(nil, errors.New("connection reset")).Once()

	err := f.svc.HandleChapterPublished(f.ctx, messaging.ChapterPublishedEvent{StoryID: f.storyID, ChapterNumber: 1, Content: "x"})
	assert.Error(t, err)
	f.chapters.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

type archive map[uuid.UUID]taskmanager.Task

func (a archive) Get(_ context.Context, id uuid.UUID) (*taskmanager.Task, error) {
	t, ok := a[id]
	if !ok {
		return nil, taskmanager.ErrTaskNotFound
	}
	return &t, nil
}

func TestGetTask_FallsBackToArchive(t *testing.T) {
	f := newFixture(t)
	archived := taskmanager.Task{ID: uuid.New(), Kind: service.TaskKindWorldFacts, Status: taskmanager.StatusCompleted, Progress: 100}
	f.svc.TaskArchive = archive{archived.ID: archived}

	got, err := f.svc.GetTask(f.ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, archived, got)

	_, err = f.svc.GetTask(f.ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolveForeshadowing(t *testing.T) {
	f := newFixture(t)
	itemID := uuid.New()
	resolvedID := uuid.New()
	f.fore.On("Resolve", mock.Anything, f.storyID, itemID, 7).Return(nil).Once()
	f.fore.On("Resolve", mock.Anything, f.storyID, resolvedID, 7).Return(models.ErrAlreadyResolved).Once()

	require.NoError(t, f.svc.ResolveForeshadowing(f.ctx, f.storyID, itemID, 7))

	err := f.svc.ResolveForeshadowing(f.ctx, f.storyID, resolvedID, 7)
	assert.ErrorIs(t, err, models.ErrConsistencyConflict)

	assert.ErrorIs(t, f.svc.ResolveForeshadowing(f.ctx, f.storyID, itemID, 0), models.ErrValidation)
	assert.ErrorIs(t, f.svc.ResolveForeshadowing(f.ctx, uuid.Nil, itemID, 3), models.ErrValidation)
	f.fore.AssertExpectations(t)
}
