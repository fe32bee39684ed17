package util

import (
	"regexp"
	"strings"
)

var (
	reSpaces      = regexp.MustCompile(`\s+`)
	corporateMark = strings.NewReplacer("(주)", "㈜", "（주）", "㈜", "주식회사", "㈜")
)

// NormalizeName folds a vendor or site name for equality checks:
// trimmed, inner whitespace collapsed, lowercased, corporate markers unified.
func NormalizeName(input string) string {
	s := corporateMark.Replace(input)
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

func NormalizeEmail(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// Levenshtein returns the edit distance between a and b counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity maps the edit distance of two already-normalized strings into [0,1].
func Similarity(a, b string) (float64, int) {
	dist := Levenshtein(a, b)
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1, 0
	}
	return float64(maxLen-dist) / float64(maxLen), dist
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
