package summary

import (
	"strings"

	"github.com/aryann/difflib"
)

// maxDiffWords bounds the LCS table of the word diff.
const maxDiffWords = 1500

// DiffStats summarizes a word-level diff between two versions of a chapter.
type DiffStats struct {
	Unchanged int      `json:"unchanged"`
	Inserted  int      `json:"inserted"`
	Deleted   int      `json:"deleted"`
	Truncated bool     `json:"truncated"`
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

// ChangedRatio is the share of words that were inserted or deleted.
func (d DiffStats) ChangedRatio() float64 {
	total := d.Unchanged + d.Inserted + d.Deleted
	if total == 0 {
		return 0
	}
	return float64(d.Inserted+d.Deleted) / float64(total)
}

// DiffReport compares the leading words of two texts.
// Added and Removed keep at most sampleRuns contiguous runs each.
func DiffReport(oldText, newText string, sampleRuns int) DiffStats {
	at := strings.Fields(oldText)
	bt := strings.Fields(newText)
	var stats DiffStats
	if len(at) > maxDiffWords {
		at, stats.Truncated = at[:maxDiffWords], true
	}
	if len(bt) > maxDiffWords {
		bt, stats.Truncated = bt[:maxDiffWords], true
	}

	var run []string
	var runDelta difflib.DeltaType = -1
	flush := func() {
		if len(run) == 0 {
			return
		}
		text := strings.Join(run, " ")
		switch runDelta {
		case difflib.RightOnly:
			if len(stats.Added) < sampleRuns {
				stats.Added = append(stats.Added, text)
			}
		case difflib.LeftOnly:
			if len(stats.Removed) < sampleRuns {
				stats.Removed = append(stats.Removed, text)
			}
		}
		run = run[:0]
	}

	for _, r := range difflib.Diff(at, bt) {
		if r.Delta != runDelta {
			flush()
			runDelta = r.Delta
		}
		switch r.Delta {
		case difflib.Common:
			stats.Unchanged++
		case difflib.LeftOnly:
			stats.Deleted++
			run = append(run, r.Payload)
		case difflib.RightOnly:
			stats.Inserted++
			run = append(run, r.Payload)
		}
	}
	flush()
	return stats
}
