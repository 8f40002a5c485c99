package outcome

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	monthDayYearRe = regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthYearRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthAlt + `)\.?,?\s+(\d{4})\b`)
	numericDateRe  = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
)

type dateMatch struct {
	at   int
	date time.Time
}

// ExtractDate finds the earliest calendar date in s.
//
// Accepted shapes: "January 6, 2026", "Jan 6 2026", "6 January 2026",
// "2026-01-06" and day-first numeric dates like "06/01/2026".
func ExtractDate(s string) (time.Time, bool) {
	var best *dateMatch
	consider := func(at int, y, m, d int) {
		t, ok := makeDate(y, m, d)
		if !ok {
			return
		}
		if best == nil || at < best.at {
			best = &dateMatch{at: at, date: t}
		}
	}

	for _, m := range isoDateRe.FindAllStringSubmatchIndex(s, -1) {
		consider(m[0], atoi(s[m[2]:m[3]]), atoi(s[m[4]:m[5]]), atoi(s[m[6]:m[7]]))
	}
	for _, m := range monthDayYearRe.FindAllStringSubmatchIndex(s, -1) {
		mon := months[strings.ToLower(s[m[2]:m[3]])]
		consider(m[0], atoi(s[m[6]:m[7]]), int(mon), atoi(s[m[4]:m[5]]))
	}
	for _, m := range dayMonthYearRe.FindAllStringSubmatchIndex(s, -1) {
		mon := months[strings.ToLower(s[m[4]:m[5]])]
		consider(m[0], atoi(s[m[6]:m[7]]), int(mon), atoi(s[m[2]:m[3]]))
	}
	for _, m := range numericDateRe.FindAllStringSubmatchIndex(s, -1) {
		consider(m[0], atoi(s[m[6]:m[7]]), atoi(s[m[4]:m[5]]), atoi(s[m[2]:m[3]]))
	}

	if best == nil {
		return time.Time{}, false
	}
	return best.date, true
}

// SameDay compares calendar dates only.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func makeDate(y, m, d int) (time.Time, bool) {
	if y < 1900 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
