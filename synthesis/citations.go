package synthesis

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	citationGroup  = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)
	spaceBeforeEnd = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	repeatedSpace  = regexp.MustCompile(`[ \t]{2,}`)
)

// ParseCitations extracts the citation indices used in text. Indices
// outside 1..n are removed from the text; a group left empty is removed
// entirely. It returns the cleaned text and the valid indices in order of
// first use, without duplicates.
func ParseCitations(text string, n int) (string, []int) {
	seen := make(map[int]bool)
	var used []int

	cleaned := citationGroup.ReplaceAllStringFunc(text, func(group string) string {
		inner := group[1 : len(group)-1]
		var valid []string
		for _, part := range strings.Split(inner, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || idx < 1 || idx > n {
				continue
			}
			valid = append(valid, strconv.Itoa(idx))
			if !seen[idx] {
				seen[idx] = true
				used = append(used, idx)
			}
		}
		if len(valid) == 0 {
			return ""
		}
		return "[" + strings.Join(valid, ", ") + "]"
	})

	if cleaned != text {
		cleaned = spaceBeforeEnd.ReplaceAllString(cleaned, "$1")
		cleaned = repeatedSpace.ReplaceAllString(cleaned, " ")
	}
	return strings.TrimSpace(cleaned), used
}
