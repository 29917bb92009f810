package util

import (
	"regexp"
	"strings"
	"time"
)

func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

var datePattern = regexp.MustCompile(
	`(?i)((?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s*\d{4}|\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}-\d{1,2}-\d{1,2})`,
)

var ordinalSuffix = regexp.MustCompile(`(\d)(?:st|nd|rd|th)`)

var dateLayouts = []string{
	"January 2 2006",
	"Jan 2 2006",
	"2006-01-02",
	"01/02/2006",
	"01/02/06",
	"1/2/2006",
	"1/2/06",
}

// ParseLooseDate pulls the first recognizable date out of free text
// ("Closes: March 3rd, 2026 at 5pm ET") and returns it as YYYY-MM-DD.
// Unparseable input comes back empty, never an error; sources disagree
// about date formats constantly and a missing date must not kill a record.
func ParseLooseDate(s string) string {
	s = CleanText(s)
	if s == "" {
		return ""
	}
	m := datePattern.FindString(s)
	if m == "" {
		return ""
	}

	m = strings.NewReplacer(",", "", ".", "").Replace(m)
	m = ordinalSuffix.ReplaceAllString(m, "$1")
	m = CleanText(m)

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, m)
		if err != nil {
			continue
		}
		// two-digit years far in the future are last-century typos
		if t.Year() > time.Now().Year()+50 {
			t = t.AddDate(-100, 0, 0)
		}
		return t.Format("2006-01-02")
	}
	return ""
}
