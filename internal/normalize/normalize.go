// Package normalize maps each source's loose record shape onto the
// canonical Opportunity and collapses cross-source duplicates by content
// fingerprint.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/scrape/util"
)

// Field aliases, checked in order. Sources never agree on names: SAM.gov
// says "Title", DSIP says "Topic Title", award feeds say "Project Title".
var (
	titleKeys  = []string{"Title", "Topic Title", "Opportunity Title", "Project Title", "title"}
	agencyKeys = []string{"Agency", "Component", "Organization", "agency"}
	urlKeys    = []string{"URL", "Link", "url", "link"}
	postedKeys = []string{"Posted Date", "Open Date", "Release Date", "posted_date"}
	closeKeys  = []string{"Close Date", "Response Deadline", "Due Date", "close_date"}
	descKeys   = []string{"Description", "Objective", "Summary", "description"}
)

func pick(raw domain.RawRecord, keys []string) string {
	for _, k := range keys {
		if v := util.CleanText(raw[k]); v != "" && !isNA(v) {
			return v
		}
	}
	return ""
}

func isNA(v string) bool {
	lv := strings.ToLower(v)
	return lv == "n/a" || lv == "tbd" || strings.HasPrefix(lv, "n/a (")
}

// Record builds the canonical record. Missing fields map to empty
// strings; normalization never rejects a record.
func Record(raw domain.RawRecord, sourceName string) domain.Opportunity {
	title := pick(raw, titleKeys)
	agency := pick(raw, agencyKeys)
	u := util.CanonicalizeURL(pick(raw, urlKeys))

	return domain.Opportunity{
		Fingerprint: Fingerprint(title, agency, u),
		Title:       title,
		Agency:      agency,
		URL:         u,
		PostedDate:  normalizeDate(pick(raw, postedKeys)),
		CloseDate:   normalizeDate(pick(raw, closeKeys)),
		SourceName:  sourceName,
		Description: pick(raw, descKeys),
	}
}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	if d := util.ParseLooseDate(s); d != "" {
		return d
	}
	return s
}

// Fingerprint is the dedup key: case-insensitive, whitespace-normalized
// hash of title+agency+url, or title+agency when the url is absent.
func Fingerprint(title, agency, url string) string {
	parts := []string{squash(title), squash(agency)}
	if url != "" {
		parts = append(parts, strings.ToLower(strings.TrimSpace(url)))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Dedup keeps the first Opportunity seen per fingerprint and drops the
// rest. First-seen-wins (not field merging) is the shipped behavior;
// arrival order decides ties, and the pass itself is order-preserving
// and idempotent.
func Dedup(opps []domain.Opportunity) []domain.Opportunity {
	seen := make(map[string]bool, len(opps))
	out := make([]domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		if seen[o.Fingerprint] {
			continue
		}
		seen[o.Fingerprint] = true
		out = append(out, o)
	}
	return out
}
