package summary

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// sentence terminators, ASCII and CJK full-width
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// Trim shortens s to at most maxLen runes. It cuts after the last sentence terminator
// inside the limit when that terminator lies past ratio*maxLen, otherwise it hard-truncates
// and appends an ellipsis. A string that already fits is returned unchanged.
func Trim(s string, maxLen int, ratio float64) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	minCut := int(float64(maxLen) * ratio)
	for i := maxLen - 1; i+1 > minCut && i >= 0; i-- {
		if isSentenceEnd(runes[i]) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	if maxLen <= len(ellipsis) {
		return string(runes[:maxLen])
	}
	return strings.TrimRightFunc(string(runes[:maxLen-len(ellipsis)]), isSpace) + ellipsis
}

func isSpace(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' }

// Similarity scores how alike two chapter texts are, in [0, 1].
// It averages 1 - normalized length difference with the ratio of equal characters at the same
// position over the first sample characters.
func Similarity(oldText, newText string, sample int) float64 {
	a, b := []rune(oldText), []rune(newText)
	la, lb := len(a), len(b)
	if la == 0 && lb == 0 {
		return 1
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	lengthScore := 1 - float64(diff)/float64(longest)

	window := longest
	if sample > 0 && window > sample {
		window = sample
	}
	shortest := la
	if lb < shortest {
		shortest = lb
	}
	if shortest > window {
		shortest = window
	}
	matches := 0
	for i := 0; i < shortest; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	positionScore := float64(matches) / float64(window)

	return (lengthScore + positionScore) / 2
}

// Fallback builds the local digest used when the provider cannot summarize:
// the chapter number followed by the first excerpt characters of the text.
func Fallback(chapterNumber int, chapterText string, excerpt int) string {
	text := strings.Join(strings.Fields(chapterText), " ")
	runes := []rune(text)
	if excerpt > 0 && len(runes) > excerpt {
		text = strings.TrimSpace(string(runes[:excerpt])) + ellipsis
	}
	if text == "" {
		return fmt.Sprintf("Chapter %d.", chapterNumber)
	}
	return fmt.Sprintf("Chapter %d: %s", chapterNumber, text)
}
