package pacing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
	"novel-continuity/internal/prompts"

	"go.uber.org/zap"
)

// ErrAmbiguousVerdict is returned when the oracle answer does not start with YES or NO.
var ErrAmbiguousVerdict = errors.New("completion oracle answer is neither YES nor NO")

var (
	oracleTemperature = 0.0
	oracleMaxTokens   = 120
)

// ProviderOracle judges stage completion by asking the generation provider a yes/no question.
type ProviderOracle struct {
	provider interfaces.Provider
	prompts  prompts.Prompts
	logger   *zap.Logger
}

var _ interfaces.CompletionOracle = (*ProviderOracle)(nil)

func NewProviderOracle(provider interfaces.Provider, p prompts.Prompts, logger *zap.Logger) *ProviderOracle {
	return &ProviderOracle{provider: provider, prompts: p, logger: logger.Named("CompletionOracle")}
}

func (o *ProviderOracle) Judge(ctx context.Context, stage models.PacingStage, brief string) (interfaces.StageVerdict, error) {
	if !stage.Valid() {
		return interfaces.StageVerdict{}, models.ErrUnknownStage
	}
	system := prompts.Render(o.prompts.OracleSystem, map[string]string{
		"STAGE":     string(stage),
		"CRITERION": o.prompts.Criterion(stage),
	})
	answer, err := o.provider.Complete(ctx, system, brief, interfaces.GenerationParams{
		Temperature: &oracleTemperature,
		MaxTokens:   &oracleMaxTokens,
	})
	if err != nil {
		return interfaces.StageVerdict{}, err
	}
	verdict, err := ParseVerdict(answer)
	if err != nil {
		o.logger.Warn("Unparseable oracle answer", zap.String("stage", string(stage)), zap.String("answer", truncate(answer, 200)))
		return interfaces.StageVerdict{}, err
	}
	return verdict, nil
}

// ParseVerdict reads a YES/NO answer. The first non-empty line decides; the rest is the analysis.
// Anything else is ErrAmbiguousVerdict.
func ParseVerdict(answer string) (interfaces.StageVerdict, error) {
	lines := strings.Split(strings.TrimSpace(answer), "\n")
	head := strings.TrimLeft(strings.TrimSpace(lines[0]), "*\"'` ")
	upper := strings.ToUpper(head)

	var v interfaces.StageVerdict
	var word string
	switch {
	case hasWord(upper, "YES"):
		v.Complete, word = true, "YES"
	case hasWord(upper, "NO"):
		word = "NO"
	default:
		return interfaces.StageVerdict{}, fmt.Errorf("%w: %q", ErrAmbiguousVerdict, truncate(lines[0], 40))
	}

	analysis := strings.TrimSpace(strings.Join(lines[1:], " "))
	if analysis == "" {
		// "YES - the hero ..." on one line
		analysis = strings.TrimSpace(strings.TrimLeft(head[len(word):], "*\"'`.,:;- "))
	}
	v.Analysis = analysis
	return v, nil
}

// hasWord reports whether s starts with word followed by a non-letter or the end.
func hasWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	rest := s[len(word):]
	return rest == "" || !unicode.IsLetter([]rune(rest)[0])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
