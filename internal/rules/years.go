package rules

import (
	"regexp"
	"strconv"
)

// Plausible release-year bounds.
const (
	minContentYear = 1950
	maxContentYear = 2030
)

// yearPatterns are tried in order against the whole string; the first
// in-range match wins. Dotted scene-release years outrank bracketed ones,
// which tend to tag remux or edition metadata rather than the release.
var yearPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\((\d{4})\)`),
	regexp.MustCompile(`\.(\d{4})\.`),
	regexp.MustCompile(`\[(\d{4})\]`),
	regexp.MustCompile(` (\d{4}) `),
	regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`),
}

// ExtractYear scans a filename or title for a plausible 4-digit release
// year. Delimited forms are preferred over bare digit runs.
func ExtractYear(s string) (int, bool) {
	for _, pattern := range yearPatterns {
		for _, match := range pattern.FindAllStringSubmatch(s, -1) {
			year, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			if year >= minContentYear && year <= maxContentYear {
				return year, true
			}
		}
	}
	return 0, false
}
