package source

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var domainPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)

// stripChars are removed from both ends of every match.
const stripChars = `'"()[]{}<>.,:;!`

// NormalizeText collapses all whitespace runs into single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ExtractDomains returns the lowercase domain-like tokens in text, in order
// of first appearance and without duplicates.
func ExtractDomains(text string) []string {
	matches := domainPattern.FindAllString(NormalizeText(text), -1)

	cleaned := lo.FilterMap(matches, func(m string, _ int) (string, bool) {
		d := strings.ToLower(strings.Trim(m, stripChars))
		return d, d != ""
	})
	return lo.Uniq(cleaned)
}
