package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
	"novel-continuity/internal/worker"
	"novel-continuity/pkg/taskmanager"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxFactLength = 300

// маркер списка: "1.", "2)", "-", "*", "•"
var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)](?:\s+|$)|[-*•]\s*)`)

// MineWorldFactsRequest - главы, из которых извлекаются факты мира.
type MineWorldFactsRequest struct {
	StoryID  uuid.UUID `json:"storyId" validate:"required"`
	Chapters []int     `json:"chapters" validate:"min=1,max=1000,dive,gte=1"`
}

// MineWorldFacts submits a task that extracts world-setting facts from many chapters in
// parallel batches and stores the new ones.
func (s *ContinuityService) MineWorldFacts(ctx context.Context, req MineWorldFactsRequest) (uuid.UUID, error) {
	if err := validate.Struct(req); err != nil {
		return uuid.Nil, models.Validationf("%v", err)
	}
	id, err := s.Tasks.Go(ctx, TaskKindWorldFacts, req.StoryID.String()+":facts", req, s.runMineWorldFacts)
	if err != nil {
		return uuid.Nil, mapTaskError(err)
	}
	return id, nil
}

func (s *ContinuityService) runMineWorldFacts(ctx context.Context, params interface{}) (interface{}, error) {
	req, ok := params.(MineWorldFactsRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}
	log := s.logger.With(zap.Stringer("storyID", req.StoryID))
	temperature := 0.0
	genParams := interfaces.GenerationParams{Temperature: &temperature}

	produce := func(ctx context.Context, chapterNumber int) ([]string, error) {
		ch, err := s.Chapters.Get(ctx, req.StoryID, chapterNumber)
		if err != nil {
			return nil, fmt.Errorf("chapter %d: %w", chapterNumber, err)
		}
		var answer string
		err = worker.Retry(ctx, s.Retry, log, func(ctx context.Context) error {
			var err error
			answer, err = s.Provider.Complete(ctx, s.Prompts.FactMiningSystem, ch.Content, genParams)
			return err
		})
		if err != nil {
			return nil, err
		}
		return ParseFacts(answer), nil
	}
	sink := func(ctx context.Context, facts []string) (int, error) {
		rows := make([]models.WorldFact, 0, len(facts))
		for _, f := range facts {
			rows = append(rows, models.WorldFact{StoryID: req.StoryID, Category: "mined", Fact: f})
		}
		return s.WorldFacts.AddMany(ctx, rows)
	}
	progress := func(done, total int) error {
		return taskmanager.ReportProgress(ctx, done*99/total, fmt.Sprintf("%d of %d chapters", done, total))
	}

	report, err := worker.RunBatches(ctx, s.Batch, req.Chapters, produce, sink, progress)
	if err != nil {
		return nil, err
	}
	s.Assembler.Invalidate(ctx, req.StoryID)
	log.Info("World facts mined",
		zap.Int("chapters", report.Inputs),
		zap.Int("failed", report.Failed),
		zap.Int("stored", report.Stored),
	)
	return report, nil
}

// ParseFacts splits a fact listing into clean single-line facts. One leading list marker is
// removed; numbers that belong to the fact itself are kept. Empty or overlong lines are dropped.
func ParseFacts(answer string) []string {
	var facts []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" || len([]rune(line)) > maxFactLength {
			continue
		}
		if strings.EqualFold(line, "none") {
			continue
		}
		facts = append(facts, line)
	}
	return facts
}
