package memory

import (
	"sort"

	"novel-continuity/internal/models"
)

// RankerConfig holds the chapter windows used for recency scoring.
type RankerConfig struct {
	RecentWindow int // seen within this many chapters: full recency boost
	NearWindow   int // seen within this many chapters: smaller boost
	StaleAfter   int // unseen for more than this many chapters: penalty
}

// DefaultRankerConfig returns the 5/20/50 chapter windows.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{RecentWindow: 5, NearWindow: 20, StaleAfter: 50}
}

const (
	scoreProtagonist = 100.0
	scoreMajor       = 60.0
	scoreMinor       = 30.0

	boostRecent     = 30.0
	boostNear       = 15.0
	penaltyStale    = 40.0
	boostActive     = 10.0
	penaltyInactive = 20.0
)

// RankedCharacter pairs a profile with its relevance score.
type RankedCharacter struct {
	Profile *models.CharacterProfile
	Score   float64
}

// Ranker scores characters by narrative weight and recency.
type Ranker struct {
	cfg RankerConfig
}

func NewRanker(cfg RankerConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Score computes the relevance of one character at currentChapter. Never negative.
func (r *Ranker) Score(c *models.CharacterProfile, currentChapter int) float64 {
	var score float64
	switch c.Role {
	case models.RoleProtagonist:
		score = scoreProtagonist
	case models.RoleMajor:
		score = scoreMajor
	default:
		score = scoreMinor
	}

	if c.LastAppearance != nil {
		distance := currentChapter - *c.LastAppearance
		if distance < 0 {
			distance = 0
		}
		switch {
		case distance <= r.cfg.RecentWindow:
			score += boostRecent
		case distance <= r.cfg.NearWindow:
			score += boostNear
		case distance > r.cfg.StaleAfter:
			score -= penaltyStale
		}
	}

	switch c.Status {
	case models.StatusActive:
		score += boostActive
	case models.StatusInactive:
		score -= penaltyInactive
	}

	if score < 0 {
		return 0
	}
	return score
}

// Rank returns characters ordered by descending score. Equal scores keep input order.
func (r *Ranker) Rank(characters []*models.CharacterProfile, currentChapter int) []RankedCharacter {
	ranked := make([]RankedCharacter, 0, len(characters))
	for _, c := range characters {
		if c == nil {
			continue
		}
		ranked = append(ranked, RankedCharacter{Profile: c, Score: r.Score(c, currentChapter)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// FindInactive returns names of characters absent for more than thresholdChapters.
// Deceased and missing characters are excluded, as are characters that never appeared.
func (r *Ranker) FindInactive(characters []*models.CharacterProfile, currentChapter, thresholdChapters int) []string {
	var names []string
	for _, c := range characters {
		if c == nil || c.LastAppearance == nil {
			continue
		}
		if c.Status == models.StatusDeceased || c.Status == models.StatusMissing {
			continue
		}
		if currentChapter-*c.LastAppearance > thresholdChapters {
			names = append(names, c.Name)
		}
	}
	return names
}
