package memory

import (
	"fmt"
	"sort"
	"strings"

	"novel-continuity/internal/models"
)

// FormatContext renders a memory bank as plain text for a generation prompt.
// Characters are ordered by relevance at currentChapter; maxCharacters <= 0 means all.
func FormatContext(bank *models.MemoryBank, ranker *Ranker, currentChapter, maxCharacters int) string {
	if bank == nil {
		return ""
	}
	var sb strings.Builder

	if len(bank.Characters) > 0 {
		names := make([]string, 0, len(bank.Characters))
		for name := range bank.Characters {
			names = append(names, name)
		}
		// map order is random, rank from a deterministic base order
		sort.Strings(names)
		profiles := make([]*models.CharacterProfile, 0, len(names))
		for _, name := range names {
			profiles = append(profiles, bank.Characters[name])
		}
		ranked := ranker.Rank(profiles, currentChapter)
		if maxCharacters > 0 && len(ranked) > maxCharacters {
			ranked = ranked[:maxCharacters]
		}

		sb.WriteString("CHARACTERS\n")
		for _, rc := range ranked {
			c := rc.Profile
			fmt.Fprintf(&sb, "- %s (%s, %s)", c.Name, c.Role, c.Status)
			if len(c.Traits) > 0 {
				fmt.Fprintf(&sb, "; traits: %s", strings.Join(c.Traits, ", "))
			}
			if len(c.Relationships) > 0 {
				rels := make([]string, 0, len(c.Relationships))
				for other, label := range c.Relationships {
					rels = append(rels, other+": "+label)
				}
				sort.Strings(rels)
				fmt.Fprintf(&sb, "; relationships: %s", strings.Join(rels, ", "))
			}
			if c.LastAppearance != nil {
				fmt.Fprintf(&sb, "; last seen ch.%d", *c.LastAppearance)
			}
			sb.WriteString("\n")
		}
	}

	if open := bank.OpenForeshadowing(); len(open) > 0 {
		sb.WriteString("OPEN FORESHADOWING\n")
		for _, f := range open {
			fmt.Fprintf(&sb, "- (ch.%d, priority %d) %s\n", f.PlantedChapter, f.Priority, f.Content)
		}
	}

	if len(bank.RecentSummaries) > 0 {
		sb.WriteString("RECENT CHAPTERS\n")
		for _, s := range bank.RecentSummaries {
			fmt.Fprintf(&sb, "- ch.%d: %s\n", s.ChapterNumber, s.Summary)
		}
	}

	if len(bank.WorldFacts) > 0 {
		sb.WriteString("WORLD\n")
		for _, f := range bank.WorldFacts {
			fmt.Fprintf(&sb, "- %s\n", f.Fact)
		}
	}
	return sb.String()
}
