package models

import "github.com/google/uuid"

// MemoryBank - read-only projection of the persisted story facts.
// It is rebuilt on demand and never written back.
type MemoryBank struct {
	StoryID         uuid.UUID                    `json:"storyId"`
	Characters      map[string]*CharacterProfile `json:"characters"`
	Chronicle       []ChronicleEvent             `json:"chronicle"`
	Foreshadowing   []ForeshadowingItem          `json:"foreshadowing"`
	RecentSummaries []ChapterSummary             `json:"recentSummaries"`
	WorldFacts      []WorldFact                  `json:"worldFacts"`
	EstimatedTokens int                          `json:"estimatedTokens"`
}

// OpenForeshadowing returns items that are still waiting for a payoff.
func (b *MemoryBank) OpenForeshadowing() []ForeshadowingItem {
	out := make([]ForeshadowingItem, 0, len(b.Foreshadowing))
	for _, f := range b.Foreshadowing {
		if f.Status == ForeshadowingOpen {
			out = append(out, f)
		}
	}
	return out
}
