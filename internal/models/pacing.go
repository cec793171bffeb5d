package models

import (
	"time"

	"github.com/google/uuid"
)

// PacingStage is one step of the five-stage narrative cycle.
type PacingStage string

const (
	StageMotivation    PacingStage = "MOTIVATION"
	StageBonus         PacingStage = "BONUS"
	StageConfrontation PacingStage = "CONFRONTATION"
	StageResponse      PacingStage = "RESPONSE"
	StageEarning       PacingStage = "EARNING"
)

// StageCycle is the fixed traversal order.
var StageCycle = []PacingStage{
	StageMotivation,
	StageBonus,
	StageConfrontation,
	StageResponse,
	StageEarning,
}

// Valid reports whether s is one of the five cycle stages.
func (s PacingStage) Valid() bool {
	for _, st := range StageCycle {
		if st == s {
			return true
		}
	}
	return false
}

// Next returns the following stage and whether the cycle wrapped (EARNING -> MOTIVATION).
func (s PacingStage) Next() (PacingStage, bool, error) {
	for i, st := range StageCycle {
		if st == s {
			if i == len(StageCycle)-1 {
				return StageCycle[0], true, nil
			}
			return StageCycle[i+1], false, nil
		}
	}
	return "", false, ErrUnknownStage
}

// MotivationStrength is the extractor's verdict on a motivation.
type MotivationStrength string

const (
	MotivationGood     MotivationStrength = "GOOD"
	MotivationModerate MotivationStrength = "MODERATE"
	MotivationWeak     MotivationStrength = "WEAK"
)

// MotivationAnalysis - result of extracting the long-horizon motivation from a brief.
type MotivationAnalysis struct {
	Motivation   string             `json:"motivation"`
	Strength     MotivationStrength `json:"strength"`
	Rationale    string             `json:"rationale"`
	Optimization string             `json:"optimization"`
}

// PacingProgress - per-story cursor through the cycle. Mutated only by the pacing state machine.
type PacingProgress struct {
	StoryID            uuid.UUID              `db:"story_id" json:"storyId"`
	Enabled            bool                   `db:"enabled" json:"enabled"`
	CurrentStage       PacingStage            `db:"current_stage" json:"currentStage"`
	LoopNumber         int                    `db:"loop_number" json:"loopNumber"`
	StageStartChapter  int                    `db:"stage_start_chapter" json:"stageStartChapter"`
	ActivationChapter  int                    `db:"activation_chapter" json:"activationChapter"`
	LastUpdatedChapter int                    `db:"last_updated_chapter" json:"lastUpdatedChapter"`
	StageAnalysis      map[PacingStage]string `db:"-" json:"stageAnalysis"`
	Motivation         *MotivationAnalysis    `db:"-" json:"motivation,omitempty"`
	MotivationLoop     int                    `db:"motivation_loop" json:"motivationLoop"`
	UpdatedAt          time.Time              `db:"updated_at" json:"updatedAt"`
}

// NewPacingProgress returns the lazily created default: MOTIVATION, loop 1.
func NewPacingProgress(storyID uuid.UUID, enabled bool, activationChapter int) *PacingProgress {
	if activationChapter < 1 {
		activationChapter = 1
	}
	return &PacingProgress{
		StoryID:           storyID,
		Enabled:           enabled,
		CurrentStage:      StageMotivation,
		LoopNumber:        1,
		StageStartChapter: activationChapter,
		ActivationChapter: activationChapter,
		StageAnalysis:     make(map[PacingStage]string),
		UpdatedAt:         time.Now().UTC(),
	}
}

// Validate checks the progress invariants.
func (p *PacingProgress) Validate() error {
	if !p.CurrentStage.Valid() {
		return Conflictf("invalid pacing stage %q", p.CurrentStage)
	}
	if p.LoopNumber < 1 {
		return Conflictf("loop number must be >= 1, got %d", p.LoopNumber)
	}
	return nil
}

// RollbackTo moves chapter cursors at or after chapter back to chapter-1.
// Returns true when anything changed.
func (p *PacingProgress) RollbackTo(chapter int) bool {
	changed := false
	target := chapter - 1
	if target < 0 {
		target = 0
	}
	if p.StageStartChapter >= chapter {
		p.StageStartChapter = target
		changed = true
	}
	if p.LastUpdatedChapter >= chapter {
		p.LastUpdatedChapter = target
		changed = true
	}
	return changed
}
