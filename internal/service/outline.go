package service

import (
	"context"
	"fmt"
	"strings"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/memory"
	"novel-continuity/internal/models"
	"novel-continuity/internal/worker"
	"novel-continuity/pkg/taskmanager"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Виды фоновых задач
const (
	TaskKindVolumeOutline = "volume_outline"
	TaskKindWorldFacts    = "world_facts"
)

// outlineContextCharacters - сколько персонажей попадает в контекст плана тома
const outlineContextCharacters = 12

var validate = validator.New()

// VolumeOutlineRequest - параметры задачи плана тома.
type VolumeOutlineRequest struct {
	StoryID      uuid.UUID `json:"storyId" validate:"required"`
	Volume       int       `json:"volume" validate:"gte=1"`
	StartChapter int       `json:"startChapter" validate:"gte=1"`
	Briefs       []string  `json:"briefs" validate:"min=1,max=200,dive,required"`
}

type OutlineChapter struct {
	ChapterNumber int    `json:"chapterNumber"`
	Brief         string `json:"brief"`
	EnhancedBrief string `json:"enhancedBrief"`
}

// VolumeOutline - результат задачи плана тома.
type VolumeOutline struct {
	StoryID  uuid.UUID        `json:"storyId"`
	Volume   int              `json:"volume"`
	Chapters []OutlineChapter `json:"chapters"`
	Outline  string           `json:"outline"`
}

func volumeTarget(storyID uuid.UUID, volume int) string {
	return fmt.Sprintf("%s:volume:%d", storyID, volume)
}

// GenerateVolumeOutline submits an orchestrated task drafting the outline of one volume.
// Only one outline task per (story, volume) may be in flight.
func (s *ContinuityService) GenerateVolumeOutline(ctx context.Context, req VolumeOutlineRequest) (uuid.UUID, error) {
	if err := validate.Struct(req); err != nil {
		return uuid.Nil, models.Validationf("%v", err)
	}
	id, err := s.Tasks.Go(ctx, TaskKindVolumeOutline, volumeTarget(req.StoryID, req.Volume), req, s.runVolumeOutline)
	if err != nil {
		return uuid.Nil, mapTaskError(err)
	}
	s.logger.Info("Volume outline task submitted", zap.Stringer("taskID", id), zap.Stringer("storyID", req.StoryID), zap.Int("volume", req.Volume))
	return id, nil
}

func (s *ContinuityService) runVolumeOutline(ctx context.Context, params interface{}) (interface{}, error) {
	req, ok := params.(VolumeOutlineRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}
	log := s.logger.With(zap.Stringer("storyID", req.StoryID), zap.Int("volume", req.Volume))

	bank, err := s.Assembler.Assemble(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("assemble memory bank: %w", err)
	}
	if err := taskmanager.ReportProgress(ctx, 5, "memory bank assembled"); err != nil {
		return nil, err
	}

	// прогресс: 5% банк памяти, до 80% брифы, остаток на черновик плана
	total := len(req.Briefs)
	out := &VolumeOutline{StoryID: req.StoryID, Volume: req.Volume, Chapters: make([]OutlineChapter, 0, total)}
	for i, brief := range req.Briefs {
		chapter := req.StartChapter + i
		enhanced, err := s.Pacing.EnhanceBrief(ctx, req.StoryID, chapter, brief)
		if err != nil {
			return nil, fmt.Errorf("enhance brief for chapter %d: %w", chapter, err)
		}
		out.Chapters = append(out.Chapters, OutlineChapter{ChapterNumber: chapter, Brief: brief, EnhancedBrief: enhanced})
		pct := 5 + (i+1)*75/total
		if err := taskmanager.ReportProgress(ctx, pct, fmt.Sprintf("chapter %d of %d", i+1, total)); err != nil {
			return nil, err
		}
	}

	var user strings.Builder
	user.WriteString(memory.FormatContext(bank, s.Ranker, req.StartChapter, outlineContextCharacters))
	fmt.Fprintf(&user, "\nVOLUME %d\n", req.Volume)
	for _, c := range out.Chapters {
		fmt.Fprintf(&user, "Chapter %d brief:\n%s\n\n", c.ChapterNumber, c.EnhancedBrief)
	}

	temperature, maxTokens := 0.8, 4000
	genParams := interfaces.GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens}
	var outline strings.Builder
	err = worker.Retry(ctx, s.Retry, log, func(ctx context.Context) error {
		outline.Reset()
		return s.Provider.Stream(ctx, s.Prompts.OutlineSystem, user.String(), genParams, func(chunk string) error {
			if taskmanager.Cancelled(ctx) {
				return taskmanager.ErrTaskCancelled
			}
			outline.WriteString(chunk)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("draft outline: %w", err)
	}
	out.Outline = strings.TrimSpace(outline.String())
	if err := taskmanager.ReportProgress(ctx, 99, "outline drafted"); err != nil {
		return nil, err
	}
	log.Info("Volume outline drafted", zap.Int("chapters", total), zap.Int("outlineLength", len(out.Outline)))
	return out, nil
}
