package summary

import (
	"context"
	"errors"
	"fmt"

	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const diffSampleRuns = 5

var errNothingToRollBack = errors.New("nothing to roll back")

// RewriteResult describes what a new chapter version did to derived data.
type RewriteResult struct {
	Similarity         float64   `json:"similarity"`
	Rewritten          bool      `json:"rewritten"`
	SummaryInvalidated bool      `json:"summaryInvalidated"`
	PacingRolledBack   bool      `json:"pacingRolledBack"`
	Diff               DiffStats `json:"diff"`
}

// DetectRewrite reports the similarity of two versions and whether it is below the threshold.
func (c *Compressor) DetectRewrite(oldText, newText string) (float64, bool) {
	sim := Similarity(oldText, newText, c.cfg.SampleSize)
	return sim, sim < c.cfg.SimilarityThreshold
}

// ApplyRewrite runs the invalidation cascade for a chapter whose text changed.
// For a rewrite the chapter summary is deleted and pacing cursors at or after the chapter
// are moved back to the chapter before it. Minor edits change nothing.
func (c *Compressor) ApplyRewrite(ctx context.Context, storyID uuid.UUID, chapterNumber int, oldText, newText string) (*RewriteResult, error) {
	sim, rewritten := c.DetectRewrite(oldText, newText)
	res := &RewriteResult{Similarity: sim, Rewritten: rewritten}
	log := c.logger.With(zap.String("storyID", storyID.String()), zap.Int("chapter", chapterNumber), zap.Float64("similarity", sim))
	if !rewritten {
		log.Debug("Chapter edit below rewrite threshold")
		return res, nil
	}
	rewritesTotal.Inc()
	res.Diff = DiffReport(oldText, newText, diffSampleRuns)

	if err := c.Invalidate(ctx, storyID, chapterNumber); err != nil {
		return res, err
	}
	res.SummaryInvalidated = true

	if c.pacing != nil {
		_, err := c.pacing.Update(ctx, storyID, nil, func(p *models.PacingProgress) error {
			if !p.RollbackTo(chapterNumber) {
				return errNothingToRollBack
			}
			return nil
		})
		switch {
		case err == nil:
			res.PacingRolledBack = true
		case errors.Is(err, errNothingToRollBack), errors.Is(err, models.ErrNotFound):
		default:
			return res, fmt.Errorf("failed to roll back pacing progress: %w", err)
		}
	}

	log.Info("Chapter rewrite cascade applied",
		zap.Bool("pacingRolledBack", res.PacingRolledBack),
		zap.Float64("changedWords", res.Diff.ChangedRatio()),
	)
	return res, nil
}
