// Package summary сжимает текст главы в короткую фактическую сводку и
// поддерживает сводки в актуальном состоянии при переписывании глав.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
	"novel-continuity/internal/prompts"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the compressor heuristics.
type Config struct {
	SimilarityThreshold float64 // below this a new chapter version counts as a rewrite
	SampleSize          int     // characters compared position by position
	TrimRatio           float64 // a sentence cut must lie past this share of the limit
	MaxLength           int     // summary length limit in characters
	FallbackExcerpt     int     // characters of chapter text used by the fallback digest
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		SampleSize:          1000,
		TrimRatio:           0.7,
		MaxLength:           1200,
		FallbackExcerpt:     200,
	}
}

var (
	summaryTemperature = 0.3
	summaryMaxTokens   = 400
)

// Compressor is the chapter summary compressor.
type Compressor struct {
	provider  interfaces.Provider
	summaries interfaces.SummaryRepository
	pacing    interfaces.PacingRepository
	prompts   prompts.Prompts
	cfg       Config
	logger    *zap.Logger
}

// NewCompressor creates a compressor. pacing may be nil, then rewrites do not roll back pacing progress.
func NewCompressor(
	provider interfaces.Provider,
	summaries interfaces.SummaryRepository,
	pacing interfaces.PacingRepository,
	p prompts.Prompts,
	cfg Config,
	logger *zap.Logger,
) *Compressor {
	return &Compressor{
		provider:  provider,
		summaries: summaries,
		pacing:    pacing,
		prompts:   p,
		cfg:       cfg,
		logger:    logger.Named("SummaryCompressor"),
	}
}

// Summarize drafts a summary of the chapter through the provider.
// On provider failure it returns the local fallback digest and fallback=true; it never returns an empty string.
func (c *Compressor) Summarize(ctx context.Context, chapterNumber int, chapterText string) (summary string, fallback bool) {
	log := c.logger.With(zap.Int("chapter", chapterNumber))
	if strings.TrimSpace(chapterText) == "" {
		summariesTotal.WithLabelValues("fallback").Inc()
		return Fallback(chapterNumber, chapterText, c.cfg.FallbackExcerpt), true
	}

	userPrompt := fmt.Sprintf("Chapter %d\n\n%s", chapterNumber, chapterText)
	text, err := c.provider.Complete(ctx, c.prompts.SummarySystem, userPrompt, interfaces.GenerationParams{
		Temperature: &summaryTemperature,
		MaxTokens:   &summaryMaxTokens,
	})
	if err == nil {
		text = cleanSummary(text)
	}
	if err != nil || text == "" {
		if err == nil {
			err = models.NewProviderError("summary", models.ProviderErrorEmpty, 0, nil)
		}
		log.Warn("Summary generation failed, using fallback digest", zap.Error(err))
		summariesTotal.WithLabelValues("fallback").Inc()
		return Fallback(chapterNumber, chapterText, c.cfg.FallbackExcerpt), true
	}

	summariesTotal.WithLabelValues("provider").Inc()
	return c.Trim(text, c.cfg.MaxLength), false
}

// Trim applies Trim with the configured boundary ratio.
func (c *Compressor) Trim(summary string, maxLen int) string {
	return Trim(summary, maxLen, c.cfg.TrimRatio)
}

// SummarizeAndStore summarizes a chapter and upserts the result. Only a storage failure is returned.
func (c *Compressor) SummarizeAndStore(ctx context.Context, storyID uuid.UUID, chapterNumber int, chapterText string) (*models.ChapterSummary, error) {
	text, fallback := c.Summarize(ctx, chapterNumber, chapterText)
	s := &models.ChapterSummary{
		StoryID:       storyID,
		ChapterNumber: chapterNumber,
		Summary:       text,
		IsFallback:    fallback,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := c.summaries.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store summary for chapter %d: %w", chapterNumber, err)
	}
	return s, nil
}

// Invalidate deletes the stored summary of a chapter so it is regenerated on next publish.
func (c *Compressor) Invalidate(ctx context.Context, storyID uuid.UUID, chapterNumber int) error {
	if err := c.summaries.Delete(ctx, storyID, chapterNumber); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to invalidate summary for chapter %d: %w", chapterNumber, err)
	}
	c.logger.Info("Chapter summary invalidated", zap.String("storyID", storyID.String()), zap.Int("chapter", chapterNumber))
	return nil
}

// cleanSummary strips markdown decorations the model adds despite the instruction.
func cleanSummary(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*->")
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, " ")
}
