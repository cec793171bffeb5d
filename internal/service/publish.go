package service

import (
	"context"
	"errors"
	"fmt"

	"novel-continuity/internal/messaging"
	"novel-continuity/internal/models"
	"novel-continuity/internal/pacing"
	"novel-continuity/internal/summary"

	"go.uber.org/zap"
)

// PublishResult - что сделала публикация главы с производными данными.
type PublishResult struct {
	Outcome string                 `json:"outcome"`
	Summary *models.ChapterSummary `json:"summary,omitempty"`
	Rewrite *summary.RewriteResult `json:"rewrite,omitempty"`
	Advance *pacing.AdvanceResult  `json:"advance,omitempty"`
}

const (
	outcomeNew       = "new"
	outcomeEdited    = "edited"
	outcomeRewritten = "rewritten"
	outcomeUnchanged = "unchanged"
)

// PublishChapter stores a chapter version and keeps the derived data consistent with it:
// rewrite cascade against the previous version, fresh summary, pacing advancement on the brief.
func (s *ContinuityService) PublishChapter(ctx context.Context, ch models.Chapter) (*PublishResult, error) {
	if ch.ChapterNumber < 1 {
		return nil, models.Validationf("chapter number must be >= 1, got %d", ch.ChapterNumber)
	}
	if ch.Content == "" {
		return nil, models.Validationf("chapter content is required")
	}
	log := s.logger.With(zap.Stringer("storyID", ch.StoryID), zap.Int("chapter", ch.ChapterNumber))

	prev, err := s.Chapters.Get(ctx, ch.StoryID, ch.ChapterNumber)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load previous chapter version: %w", err)
	}
	if err := s.Chapters.Save(ctx, &ch); err != nil {
		return nil, fmt.Errorf("save chapter: %w", err)
	}

	res := &PublishResult{Outcome: outcomeNew}
	changed := true
	if prev != nil {
		switch {
		case prev.Content == ch.Content:
			res.Outcome = outcomeUnchanged
			changed = false
		default:
			res.Outcome = outcomeEdited
			res.Rewrite, err = s.Compressor.ApplyRewrite(ctx, ch.StoryID, ch.ChapterNumber, prev.Content, ch.Content)
			if err != nil {
				return res, fmt.Errorf("rewrite cascade: %w", err)
			}
			if res.Rewrite.Rewritten {
				res.Outcome = outcomeRewritten
			}
		}
	}

	if changed {
		res.Summary, err = s.Compressor.SummarizeAndStore(ctx, ch.StoryID, ch.ChapterNumber, ch.Content)
		if err != nil {
			return res, fmt.Errorf("store summary: %w", err)
		}
	}

	// неизменная глава уже прошла оценку стадии
	if ch.Brief != "" && res.Outcome != outcomeUnchanged {
		res.Advance, err = s.Pacing.AdvanceIfComplete(ctx, ch.StoryID, ch.ChapterNumber, ch.Brief)
		if err != nil {
			return res, fmt.Errorf("advance pacing: %w", err)
		}
	}

	s.Assembler.Invalidate(ctx, ch.StoryID)
	chaptersPublishedTotal.WithLabelValues(res.Outcome).Inc()
	log.Info("Chapter published", zap.String("outcome", res.Outcome), zap.Bool("advanced", res.Advance != nil && res.Advance.Advanced))
	return res, nil
}

// HandleChapterPublished lets the service consume chapter.published events.
func (s *ContinuityService) HandleChapterPublished(ctx context.Context, event messaging.ChapterPublishedEvent) error {
	_, err := s.PublishChapter(ctx, event.Chapter())
	return err
}

var _ messaging.ChapterHandler = (*ContinuityService)(nil)
