// Package prompts holds the instruction text sent to the generation provider.
// The wording is configuration: defaults live here and can be overridden from a YAML file
// or from PROMPT_* environment variables.
package prompts

import (
	"fmt"
	"strings"

	"novel-continuity/internal/models"

	"github.com/ilyakaznacheev/cleanenv"
)

// Prompts - набор системных промтов и текстов по стадиям.
type Prompts struct {
	SummarySystem    string `yaml:"summary_system" env:"PROMPT_SUMMARY_SYSTEM"`
	EnhanceSystem    string `yaml:"enhance_system" env:"PROMPT_ENHANCE_SYSTEM"`
	OracleSystem     string `yaml:"oracle_system" env:"PROMPT_ORACLE_SYSTEM"`
	MotivationSystem string `yaml:"motivation_system" env:"PROMPT_MOTIVATION_SYSTEM"`
	OutlineSystem    string `yaml:"outline_system" env:"PROMPT_OUTLINE_SYSTEM"`
	FactMiningSystem string `yaml:"fact_mining_system" env:"PROMPT_FACT_MINING_SYSTEM"`

	// keyed by stage name (MOTIVATION, BONUS, ...)
	StageGuidance map[string]string `yaml:"stage_guidance"`
	StageCriteria map[string]string `yaml:"stage_criteria"`
}

// Default returns the built-in prompt set.
func Default() Prompts {
	return Prompts{
		SummarySystem: "You summarize a chapter of a serialized novel for a continuity database. " +
			"Write a factual summary of 80 to 150 words: who did what, what changed, what was revealed. " +
			"Do not speculate about future plot. Do not use markdown, lists or headings. Output plain prose only.",
		EnhanceSystem: "You are a story editor. Rewrite the chapter brief so the chapter fulfils the current pacing stage. " +
			"Keep every concrete element of the original brief. Output only the rewritten brief, no commentary.\n\n" +
			"Current stage: {{STAGE}} (loop {{LOOP}}).\nStage guidance: {{GUIDANCE}}\nLong-term motivation: {{MOTIVATION}}",
		OracleSystem: "You judge whether a chapter brief satisfies a narrative goal.\n" +
			"Stage: {{STAGE}}\nCriterion: {{CRITERION}}\n" +
			"Answer on the first line with exactly YES or NO. On the second line give a one-sentence analysis.",
		MotivationSystem: "Extract the protagonist's long-horizon motivation from the brief. Do not invent anything that is not in the brief. " +
			"Answer with four lines:\nMOTIVATION: <text or NONE>\nSTRENGTH: GOOD|MODERATE|WEAK\nRATIONALE: <text>\nOPTIMIZATION: <text>",
		OutlineSystem: "You draft a chapter-by-chapter outline for a volume of a serialized novel. " +
			"Respect every fact in the memory bank. Output one paragraph per chapter, prefixed with 'Chapter N:'.",
		FactMiningSystem: "List the world-setting facts stated in the chapter, one per line, each under 20 words. " +
			"Only facts about places, institutions, rules of magic or technology, history. No characters' feelings.",
		StageGuidance: map[string]string{
			string(models.StageMotivation):    "Give the protagonist a strong, time-pressured reason to act.",
			string(models.StageBonus):         "Partially reveal the protagonist's hidden advantage: a skill, resource or piece of knowledge.",
			string(models.StageConfrontation): "Spend the advantage to resolve the chapter's central conflict. This is the payoff beat.",
			string(models.StageResponse):      "Show layered reactions to the resolution: immediate witnesses, then wider rumor, then authority or faction-level notice.",
			string(models.StageEarning):       "The protagonist banks a concrete gain and a new seed conflict is planted for the next cycle.",
		},
		StageCriteria: map[string]string{
			string(models.StageMotivation):    "a clear, urgent reason for action has been established",
			string(models.StageBonus):         "the hidden advantage has been shown to the reader (not necessarily to other characters)",
			string(models.StageConfrontation): "the central conflict of the cycle has been resolved using that advantage",
			string(models.StageResponse):      "at least two tiers of reaction (immediate and wider) are present",
			string(models.StageEarning):       "a concrete gain is banked AND a new seed conflict or motivation is introduced",
		},
	}
}

// Load returns the defaults overridden by the YAML file at path (if any) and then by env.
func Load(path string) (Prompts, error) {
	p := Default()
	var err error
	if strings.TrimSpace(path) != "" {
		err = cleanenv.ReadConfig(path, &p)
	} else {
		err = cleanenv.ReadEnv(&p)
	}
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to load prompts: %w", err)
	}
	if err := p.validate(); err != nil {
		return Prompts{}, err
	}
	return p, nil
}

func (p Prompts) validate() error {
	for _, st := range models.StageCycle {
		if strings.TrimSpace(p.StageGuidance[string(st)]) == "" {
			return fmt.Errorf("prompts: missing stage guidance for %s", st)
		}
		if strings.TrimSpace(p.StageCriteria[string(st)]) == "" {
			return fmt.Errorf("prompts: missing stage criterion for %s", st)
		}
	}
	return nil
}

// Guidance returns the guidance text for a stage.
func (p Prompts) Guidance(stage models.PacingStage) string {
	return p.StageGuidance[string(stage)]
}

// Criterion returns the completion criterion for a stage.
func (p Prompts) Criterion(stage models.PacingStage) string {
	return p.StageCriteria[string(stage)]
}

// Render replaces {{KEY}} placeholders.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
