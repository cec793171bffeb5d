package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRecentSummaries is the number of latest chapter summaries put in a bank.
const DefaultRecentSummaries = 20

// Repositories groups the read sources of the assembler.
type Repositories struct {
	Characters    interfaces.CharacterRepository
	Chronicle     interfaces.ChronicleRepository
	Foreshadowing interfaces.ForeshadowingRepository
	Summaries     interfaces.SummaryRepository
	WorldFacts    interfaces.WorldFactRepository
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithCache enables the memory bank cache.
func WithCache(cache interfaces.MemoryBankCache) Option {
	return func(a *Assembler) { a.cache = cache }
}

// WithRecentSummaries sets the summary window.
func WithRecentSummaries(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.recentSummaries = n
		}
	}
}

// WithTokenCounter sets the function used to estimate the bank's prompt size.
func WithTokenCounter(count func(string) int) Option {
	return func(a *Assembler) { a.countTokens = count }
}

// Assembler builds the memory bank for a story from persisted facts.
// Concurrent calls for the same story share one assembly.
type Assembler struct {
	repos           Repositories
	cache           interfaces.MemoryBankCache
	recentSummaries int
	countTokens     func(string) int
	group           singleflight.Group
	logger          *zap.Logger
}

func NewAssembler(repos Repositories, logger *zap.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		repos:           repos,
		recentSummaries: DefaultRecentSummaries,
		logger:          logger.Named("MemoryBankAssembler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble returns the memory bank for storyID.
// Missing categories become empty collections. A failing category is logged and left
// empty; only when every source fails is ErrTransientIO returned.
func (a *Assembler) Assemble(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, error) {
	if a.cache != nil {
		bank, ok, err := a.cache.Get(ctx, storyID)
		if err != nil {
			a.logger.Warn("Memory bank cache read failed", zap.String("storyID", storyID.String()), zap.Error(err))
		} else if ok {
			return bank, nil
		}
	}

	v, err, shared := a.group.Do(storyID.String(), func() (interface{}, error) {
		return a.assemble(ctx, storyID)
	})
	if err != nil {
		return nil, err
	}
	bank := v.(*models.MemoryBank)
	if shared {
		a.logger.Debug("Memory bank assembly shared between callers", zap.String("storyID", storyID.String()))
	}

	if a.cache != nil && !shared {
		if err := a.cache.Set(ctx, bank); err != nil {
			a.logger.Warn("Memory bank cache write failed", zap.String("storyID", storyID.String()), zap.Error(err))
		}
	}
	return bank, nil
}

// Invalidate drops the cached bank of a story.
func (a *Assembler) Invalidate(ctx context.Context, storyID uuid.UUID) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, storyID); err != nil {
		a.logger.Warn("Memory bank cache invalidation failed", zap.String("storyID", storyID.String()), zap.Error(err))
	}
}

func (a *Assembler) assemble(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, error) {
	log := a.logger.With(zap.String("storyID", storyID.String()))
	bank := &models.MemoryBank{
		StoryID:         storyID,
		Characters:      make(map[string]*models.CharacterProfile),
		Chronicle:       []models.ChronicleEvent{},
		Foreshadowing:   []models.ForeshadowingItem{},
		RecentSummaries: []models.ChapterSummary{},
		WorldFacts:      []models.WorldFact{},
	}

	var failed, sources int
	soft := func(category string, err error) {
		sources++
		if err == nil || errors.Is(err, models.ErrNotFound) {
			return
		}
		failed++
		log.Error("Memory bank source failed, continuing with empty category", zap.String("category", category), zap.Error(err))
	}

	if a.repos.Characters != nil {
		records, err := a.repos.Characters.ListByStory(ctx, storyID)
		soft("characters", err)
		for i := range records {
			profile := a.decodeCharacter(log, &records[i])
			if _, dup := bank.Characters[profile.Name]; dup {
				log.Warn("Duplicate character name, keeping the first record", zap.String("name", profile.Name))
				continue
			}
			bank.Characters[profile.Name] = profile
		}
	}
	if a.repos.Chronicle != nil {
		events, err := a.repos.Chronicle.ListByStory(ctx, storyID)
		soft("chronicle", err)
		if events != nil {
			bank.Chronicle = events
		}
	}
	if a.repos.Foreshadowing != nil {
		items, err := a.repos.Foreshadowing.ListByStory(ctx, storyID)
		soft("foreshadowing", err)
		if items != nil {
			bank.Foreshadowing = items
		}
	}
	if a.repos.Summaries != nil {
		summaries, err := a.repos.Summaries.ListRecent(ctx, storyID, a.recentSummaries)
		soft("summaries", err)
		if summaries != nil {
			bank.RecentSummaries = summaries
		}
	}
	if a.repos.WorldFacts != nil {
		facts, err := a.repos.WorldFacts.ListByStory(ctx, storyID)
		soft("world_facts", err)
		if facts != nil {
			bank.WorldFacts = facts
		}
	}

	if sources > 0 && failed == sources {
		return nil, fmt.Errorf("%w: all memory bank sources failed for story %s", models.ErrTransientIO, storyID)
	}

	if a.countTokens != nil {
		bank.EstimatedTokens = a.countTokens(FormatContext(bank, NewRanker(DefaultRankerConfig()), lastChapter(bank), 0))
	}
	log.Debug("Memory bank assembled",
		zap.Int("characters", len(bank.Characters)),
		zap.Int("chronicle", len(bank.Chronicle)),
		zap.Int("foreshadowing", len(bank.Foreshadowing)),
		zap.Int("summaries", len(bank.RecentSummaries)),
		zap.Int("worldFacts", len(bank.WorldFacts)),
	)
	return bank, nil
}

// decodeCharacter turns a stored record into a profile. A corrupt traits or
// relationships value becomes an empty collection.
func (a *Assembler) decodeCharacter(log *zap.Logger, rec *models.CharacterRecord) *models.CharacterProfile {
	profile := rec.CharacterProfile
	if profile.KeyEvents == nil {
		profile.KeyEvents = []string{}
	}

	traits, err := decodeTraits(rec.TraitsJSON)
	if err != nil {
		log.Warn("Corrupt character traits, using empty list", zap.String("character", profile.Name), zap.Error(err))
	}
	profile.Traits = traits

	relationships, err := decodeRelationships(rec.RelationshipsJSON)
	if err != nil {
		log.Warn("Corrupt character relationships, using empty map", zap.String("character", profile.Name), zap.Error(err))
	}
	profile.Relationships = relationships
	return &profile
}

// decodeTraits accepts a JSON array of strings or a JSON string of comma separated traits.
func decodeTraits(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		out := []string{}
		for _, t := range strings.Split(joined, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return []string{}, fmt.Errorf("traits: unsupported value %.40q", raw)
}

func decodeRelationships(raw []byte) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]string{}, nil
	}
	var rel map[string]string
	if err := json.Unmarshal(raw, &rel); err != nil {
		return map[string]string{}, fmt.Errorf("relationships: %w", err)
	}
	if rel == nil {
		rel = map[string]string{}
	}
	return rel, nil
}

func lastChapter(bank *models.MemoryBank) int {
	last := 0
	for _, s := range bank.RecentSummaries {
		if s.ChapterNumber > last {
			last = s.ChapterNumber
		}
	}
	for _, e := range bank.Chronicle {
		if e.ChapterNumber > last {
			last = e.ChapterNumber
		}
	}
	return last
}
