package pacing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
	"novel-continuity/internal/prompts"

	"go.uber.org/zap"
)

// ErrNoMotivation means the brief does not state a motivation the extractor could use.
var ErrNoMotivation = errors.New("brief contains no extractable motivation")

var (
	motivationTemperature = 0.0
	motivationMaxTokens   = 300
)

// MotivationExtractor pulls the long-horizon motivation out of a plot brief. It never writes one.
type MotivationExtractor struct {
	provider interfaces.Provider
	prompts  prompts.Prompts
	logger   *zap.Logger
}

func NewMotivationExtractor(provider interfaces.Provider, p prompts.Prompts, logger *zap.Logger) *MotivationExtractor {
	return &MotivationExtractor{provider: provider, prompts: p, logger: logger.Named("MotivationExtractor")}
}

// Extract asks the provider (temperature 0) to analyse the brief.
// Returns ErrNoMotivation when the answer says NONE and a wrapped ErrValidation for an unparseable answer.
func (e *MotivationExtractor) Extract(ctx context.Context, brief string) (*models.MotivationAnalysis, error) {
	if strings.TrimSpace(brief) == "" {
		return nil, models.Validationf("brief is empty")
	}
	answer, err := e.provider.Complete(ctx, e.prompts.MotivationSystem, brief, interfaces.GenerationParams{
		Temperature: &motivationTemperature,
		MaxTokens:   &motivationMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	analysis, err := ParseMotivation(answer)
	if err != nil {
		e.logger.Warn("Motivation answer rejected", zap.Error(err))
		return nil, err
	}
	return analysis, nil
}

// ParseMotivation reads the labelled lines MOTIVATION/STRENGTH/RATIONALE/OPTIMIZATION.
// Unknown strength values degrade to WEAK.
func ParseMotivation(answer string) (*models.MotivationAnalysis, error) {
	fields := make(map[string]string, 4)
	var last string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*-"))
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		label := strings.ToUpper(strings.TrimSpace(strings.Trim(key, "* ")))
		if found {
			switch label {
			case "MOTIVATION", "STRENGTH", "RATIONALE", "OPTIMIZATION":
				fields[label] = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*"))
				last = label
				continue
			}
		}
		// continuation of a multi-line value
		if last != "" {
			fields[last] = strings.TrimSpace(fields[last] + " " + line)
		}
	}

	motivation, ok := fields["MOTIVATION"]
	if !ok {
		return nil, models.Validationf("motivation answer has no MOTIVATION line")
	}
	if motivation == "" || strings.EqualFold(motivation, "NONE") {
		return nil, ErrNoMotivation
	}

	strength := models.MotivationStrength(strings.ToUpper(strings.Trim(fields["STRENGTH"], " .")))
	switch strength {
	case models.MotivationGood, models.MotivationModerate, models.MotivationWeak:
	default:
		strength = models.MotivationWeak
	}
	return &models.MotivationAnalysis{
		Motivation:   motivation,
		Strength:     strength,
		Rationale:    fields["RATIONALE"],
		Optimization: fields["OPTIMIZATION"],
	}, nil
}

// describeMotivation renders the analysis for prompts.
func describeMotivation(m *models.MotivationAnalysis) string {
	if m == nil {
		return "none recorded yet"
	}
	return fmt.Sprintf("%s (strength %s)", m.Motivation, m.Strength)
}
