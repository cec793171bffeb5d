package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"novel-continuity/internal/memory"
	"novel-continuity/internal/mocks"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type assemblerDeps struct {
	chars   *mocks.MockCharacterRepository
	chron   *mocks.MockChronicleRepository
	fore    *mocks.MockForeshadowingRepository
	sums    *mocks.MockSummaryRepository
	facts   *mocks.MockWorldFactRepository
	storyID uuid.UUID
}

func newAssemblerDeps() *assemblerDeps {
	return &assemblerDeps{
		chars:   new(mocks.MockCharacterRepository),
		chron:   new(mocks.MockChronicleRepository),
		fore:    new(mocks.MockForeshadowingRepository),
		sums:    new(mocks.MockSummaryRepository),
		facts:   new(mocks.MockWorldFactRepository),
		storyID: uuid.New(),
	}
}

func (d *assemblerDeps) repos() memory.Repositories {
	return memory.Repositories{
		Characters:    d.chars,
		Chronicle:     d.chron,
		Foreshadowing: d.fore,
		Summaries:     d.sums,
		WorldFacts:    d.facts,
	}
}

func (d *assemblerDeps) assertExpectations(t *testing.T) {
	d.chars.AssertExpectations(t)
	d.chron.AssertExpectations(t)
	d.fore.AssertExpectations(t)
	d.sums.AssertExpectations(t)
	d.facts.AssertExpectations(t)
}

func TestAssembler_Assemble(t *testing.T) {
	ctx := context.Background()

	t.Run("full bank with corrupt character JSON", func(t *testing.T) {
		d := newAssemblerDeps()
		d.chars.On("ListByStory", ctx, d.storyID).Return([]models.CharacterRecord{
			{
				CharacterProfile:  models.CharacterProfile{Name: "Lin", Role: models.RoleProtagonist, Status: models.StatusActive},
				TraitsJSON:        []byte(`["brave","stubborn"]`),
				RelationshipsJSON: []byte(`{"Mo":"rival"}`),
			},
			{
				CharacterProfile:  models.CharacterProfile{Name: "Mo", Role: models.RoleMajor, Status: models.StatusActive},
				TraitsJSON:        []byte(`{not json`),
				RelationshipsJSON: []byte(`[1,2]`),
			},
			{
				CharacterProfile: models.CharacterProfile{Name: "Su", Role: models.RoleMinor, Status: models.StatusActive},
				TraitsJSON:       []byte(`"quiet, loyal ,"`),
			},
		}, nil).Once()
		d.chron.On("ListByStory", ctx, d.storyID).Return([]models.ChronicleEvent{{ChapterNumber: 3, Events: []string{"duel"}}}, nil).Once()
		d.fore.On("ListByStory", ctx, d.storyID).Return([]models.ForeshadowingItem{
			{Content: "the jade seal", PlantedChapter: 1, Status: models.ForeshadowingOpen},
			{Content: "old debt", PlantedChapter: 2, Status: models.ForeshadowingResolved},
		}, nil).Once()
		d.sums.On("ListRecent", ctx, d.storyID, memory.DefaultRecentSummaries).Return([]models.ChapterSummary{{ChapterNumber: 3, Summary: "Lin duels Mo."}}, nil).Once()
		d.facts.On("ListByStory", ctx, d.storyID).Return([]models.WorldFact{{Fact: "Qi flows in nine meridians."}}, nil).Once()

		a := memory.NewAssembler(d.repos(), zap.NewNop(), memory.WithTokenCounter(func(s string) int { return len(s) }))
		bank, err := a.Assemble(ctx, d.storyID)

		require.NoError(t, err)
		require.Len(t, bank.Characters, 3)
		assert.Equal(t, []string{"brave", "stubborn"}, bank.Characters["Lin"].Traits)
		assert.Equal(t, map[string]string{"Mo": "rival"}, bank.Characters["Lin"].Relationships)
		assert.Equal(t, []string{}, bank.Characters["Mo"].Traits)
		assert.Equal(t, map[string]string{}, bank.Characters["Mo"].Relationships)
		assert.Equal(t, []string{"quiet", "loyal"}, bank.Characters["Su"].Traits)
		assert.Len(t, bank.Chronicle, 1)
		assert.Len(t, bank.OpenForeshadowing(), 1)
		assert.Len(t, bank.RecentSummaries, 1)
		assert.Len(t, bank.WorldFacts, 1)
		assert.Greater(t, bank.EstimatedTokens, 0)
		d.assertExpectations(t)
	})

	t.Run("story without data yields empty collections", func(t *testing.T) {
		d := newAssemblerDeps()
		d.chars.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.chron.On("ListByStory", ctx, d.storyID).Return(nil, models.ErrNotFound).Once()
		d.fore.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.sums.On("ListRecent", ctx, d.storyID, 5).Return(nil, nil).Once()
		d.facts.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()

		a := memory.NewAssembler(d.repos(), zap.NewNop(), memory.WithRecentSummaries(5))
		bank, err := a.Assemble(ctx, d.storyID)

		require.NoError(t, err)
		assert.NotNil(t, bank.Characters)
		assert.Empty(t, bank.Characters)
		assert.NotNil(t, bank.Chronicle)
		assert.NotNil(t, bank.Foreshadowing)
		assert.NotNil(t, bank.RecentSummaries)
		assert.NotNil(t, bank.WorldFacts)
		d.assertExpectations(t)
	})

	t.Run("one failing source is tolerated", func(t *testing.T) {
		d := newAssemblerDeps()
		d.chars.On("ListByStory", ctx, d.storyID).Return(nil, errors.New("connection reset")).Once()
		d.chron.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.fore.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.sums.On("ListRecent", ctx, d.storyID, memory.DefaultRecentSummaries).Return([]models.ChapterSummary{{ChapterNumber: 1}}, nil).Once()
		d.facts.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()

		bank, err := memory.NewAssembler(d.repos(), zap.NewNop()).Assemble(ctx, d.storyID)

		require.NoError(t, err)
		assert.Empty(t, bank.Characters)
		assert.Len(t, bank.RecentSummaries, 1)
	})

	t.Run("all sources failing is a transient error", func(t *testing.T) {
		d := newAssemblerDeps()
		boom := errors.New("db down")
		d.chars.On("ListByStory", ctx, d.storyID).Return(nil, boom).Once()
		d.chron.On("ListByStory", ctx, d.storyID).Return(nil, boom).Once()
		d.fore.On("ListByStory", ctx, d.storyID).Return(nil, boom).Once()
		d.sums.On("ListRecent", ctx, d.storyID, memory.DefaultRecentSummaries).Return(nil, boom).Once()
		d.facts.On("ListByStory", ctx, d.storyID).Return(nil, boom).Once()

		bank, err := memory.NewAssembler(d.repos(), zap.NewNop()).Assemble(ctx, d.storyID)

		assert.Nil(t, bank)
		assert.ErrorIs(t, err, models.ErrTransientIO)
	})
}

func TestAssembler_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit skips repositories", func(t *testing.T) {
		d := newAssemblerDeps()
		cache := new(mocks.MockMemoryBankCache)
		cached := &models.MemoryBank{StoryID: d.storyID}
		cache.On("Get", ctx, d.storyID).Return(cached, true, nil).Once()

		bank, err := memory.NewAssembler(d.repos(), zap.NewNop(), memory.WithCache(cache)).Assemble(ctx, d.storyID)

		require.NoError(t, err)
		assert.Same(t, cached, bank)
		cache.AssertExpectations(t)
		d.assertExpectations(t)
	})

	t.Run("cache miss assembles and stores", func(t *testing.T) {
		d := newAssemblerDeps()
		cache := new(mocks.MockMemoryBankCache)
		cache.On("Get", ctx, d.storyID).Return(nil, false, errors.New("redis timeout")).Once()
		cache.On("Set", ctx, mock.MatchedBy(func(b *models.MemoryBank) bool { return b.StoryID == d.storyID })).Return(nil).Once()
		cache.On("Invalidate", ctx, d.storyID).Return(nil).Once()
		d.chars.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.chron.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.fore.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()
		d.sums.On("ListRecent", ctx, d.storyID, memory.DefaultRecentSummaries).Return(nil, nil).Once()
		d.facts.On("ListByStory", ctx, d.storyID).Return(nil, nil).Once()

		a := memory.NewAssembler(d.repos(), zap.NewNop(), memory.WithCache(cache))
		_, err := a.Assemble(ctx, d.storyID)
		require.NoError(t, err)
		a.Invalidate(ctx, d.storyID)

		cache.AssertExpectations(t)
		d.assertExpectations(t)
	})
}

func TestAssembler_ConcurrentCallsShareAssembly(t *testing.T) {
	ctx := context.Background()
	d := newAssemblerDeps()

	var calls int32
	release := make(chan struct{})
	d.chars.On("ListByStory", mock.Anything, d.storyID).Run(func(mock.Arguments) {
		atomic.AddInt32(&calls, 1)
		<-release
	}).Return(nil, nil)
	d.chron.On("ListByStory", mock.Anything, d.storyID).Return(nil, nil)
	d.fore.On("ListByStory", mock.Anything, d.storyID).Return(nil, nil)
	d.sums.On("ListRecent", mock.Anything, d.storyID, memory.DefaultRecentSummaries).Return(nil, nil)
	d.facts.On("ListByStory", mock.Anything, d.storyID).Return(nil, nil)

	a := memory.NewAssembler(d.repos(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Assemble(ctx, d.storyID)
			assert.NoError(t, err)
		}()
	}
	// give the callers time to join the in-flight assembly
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(5))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestFormatContext(t *testing.T) {
	bank := &models.MemoryBank{
		Characters: map[string]*models.CharacterProfile{
			"Zed": {Name: "Zed", Role: models.RoleMinor, Status: models.StatusActive, LastAppearance: intPtr(1)},
			"Ana": {Name: "Ana", Role: models.RoleProtagonist, Status: models.StatusActive, LastAppearance: intPtr(9), Traits: []string{"calm"}},
		},
		Foreshadowing:   []models.ForeshadowingItem{{Content: "a sealed letter", PlantedChapter: 2, Status: models.ForeshadowingOpen, Priority: 3}},
		RecentSummaries: []models.ChapterSummary{{ChapterNumber: 9, Summary: "Ana leaves the capital."}},
		WorldFacts:      []models.WorldFact{{Fact: "The river runs north."}},
	}

	out := memory.FormatContext(bank, memory.NewRanker(memory.DefaultRankerConfig()), 10, 1)

	assert.Contains(t, out, "- Ana (protagonist, active); traits: calm; last seen ch.9")
	assert.NotContains(t, out, "Zed")
	assert.Contains(t, out, "(ch.2, priority 3) a sealed letter")
	assert.Contains(t, out, "- ch.9: Ana leaves the capital.")
	assert.Contains(t, out, "The river runs north.")
	assert.Empty(t, memory.FormatContext(nil, nil, 0, 0))
}
