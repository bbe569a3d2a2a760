package source

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// dateMarker precedes the timestamp in a post header, e.g.
// "Reply #3 on: January 05, 2024, 10:11:12 AM".
const dateMarker = "on:"

// YearRange is an inclusive range of calendar years.
type YearRange struct {
	Start int
	End   int
}

// Contains reports whether t falls in the range.
func (r YearRange) Contains(t time.Time) bool {
	y := t.Year()
	return r.Start <= y && y <= r.End
}

// ParseError reports a post header whose timestamp could not be read.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable post date %q", e.Text)
}

// Date spans as forums print them. Group 1 is the date, group 2 the
// optional time of day.
var (
	monthDatePattern = regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})(?:,?\s+(\d{1,2}:\d{2}(?::\d{2})?(?:\s*[ap]m)?))?`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})(?:[ ,T]+(\d{1,2}:\d{2}(?::\d{2})?))?`)
	relativeDay      = regexp.MustCompile(`(?i)^(today|yesterday)\b(?:\s+at\b)?`)
)

// ParsePostDate reads the timestamp that follows the first "on:" marker in
// raw. Only the text up to "»" or the end of the line is considered, so an
// edit note after the header cannot leak into the date. "Today" and
// "Yesterday" are resolved against the current UTC day. Zone-less
// timestamps are read as UTC.
func ParsePostDate(raw string) (time.Time, error) {
	return parsePostDate(raw, time.Now().UTC())
}

func parsePostDate(raw string, now time.Time) (time.Time, error) {
	_, trailing, found := strings.Cut(raw, dateMarker)
	if !found {
		return time.Time{}, &ParseError{Text: raw}
	}
	trailing, _, _ = strings.Cut(trailing, "»")
	trailing, _, _ = strings.Cut(trailing, "\n")
	trailing = strings.TrimSpace(trailing)

	if m := relativeDay.FindStringSubmatch(trailing); m != nil {
		day := now
		if strings.EqualFold(m[1], "yesterday") {
			day = now.AddDate(0, 0, -1)
		}
		trailing = day.Format("January 02, 2006") + " " + strings.TrimSpace(trailing[len(m[0]):])
	}

	for _, p := range []*regexp.Regexp{monthDatePattern, isoDatePattern} {
		m := p.FindStringSubmatch(trailing)
		if m == nil {
			continue
		}
		if t, err := parseSpan(m[1], m[2]); err == nil {
			return t, nil
		}
	}

	if t, ok := parseLeading(trailing); ok {
		return t, nil
	}
	return time.Time{}, &ParseError{Text: raw}
}

func parseSpan(date, clock string) (time.Time, error) {
	if clock != "" {
		if t, err := dateparse.ParseIn(date+" "+clock, time.UTC); err == nil {
			return t, nil
		}
	}
	return dateparse.ParseIn(date, time.UTC)
}

// parseLeading grows a prefix of text word by word and keeps the longest
// prefix that parses before the first one that stops parsing. Prefixes
// without a four digit year are skipped so a bare month or day cannot win.
func parseLeading(text string) (time.Time, bool) {
	var (
		best time.Time
		ok   bool
	)
	words := strings.Fields(text)
	for n := 1; n <= len(words); n++ {
		candidate := strings.TrimRightFunc(strings.Join(words[:n], " "), notAlnum)
		if !hasYear(candidate) {
			continue
		}
		t, err := dateparse.ParseIn(candidate, time.UTC)
		if err != nil {
			if ok {
				break
			}
			continue
		}
		best, ok = t, true
	}
	return best, ok
}

func hasYear(s string) bool {
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
			if digits == 4 {
				return true
			}
			continue
		}
		digits = 0
	}
	return false
}

func notAlnum(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
