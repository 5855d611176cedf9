// Package quality implements the quality scorer and auto-expand loop
// (C10): a solid-hit predicate over extracted candidates, and a window
// widening feedback edge when too few solid hits are found.
package quality

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/eventscout/internal/model"
)

// Window is the date range a candidate's date is checked against.
type Window struct {
	From time.Time
	To   time.Time
}

// Verdict is the outcome of the solid-hit predicate.
type Verdict struct {
	OK      bool
	Quality float64
}

const solidHitThreshold = 0.5

// IsSolidHit computes a quality score for a candidate from date validity,
// venue/city presence, speaker count, speaker-page presence, and
// host/country correlation (§4.10).
func IsSolidHit(c model.EventCandidate, window Window) Verdict {
	var score float64

	if parsed, ok := parseDate(c.Date); ok {
		if !parsed.Before(window.From) && !parsed.After(window.To) {
			score += 0.4
		}
	}

	if c.City != "" || c.Venue != "" {
		score += 0.2
	}

	if len(c.Speakers) >= 2 {
		score += 0.2
	}

	if c.Analysis.PagesCrawled > 1 {
		score += 0.1
	}

	if hostCountryCorrelates(c.URL, c.Country) {
		score += 0.1
	}

	return Verdict{OK: score >= solidHitThreshold, Quality: score}
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var countryTLDs = map[string][]string{
	"US": {".com", ".us"},
	"GB": {".co.uk", ".uk"},
	"DE": {".de"},
	"FR": {".fr"},
	"CA": {".ca"},
	"AU": {".com.au", ".au"},
}

func hostCountryCorrelates(rawURL, country string) bool {
	if country == "" {
		return false
	}
	tlds, ok := countryTLDs[strings.ToUpper(country)]
	if !ok {
		return false
	}
	for _, tld := range tlds {
		if strings.Contains(rawURL, tld) {
			return true
		}
	}
	return false
}

// ExpandWindow computes the widened window per the auto-expand tiers
// (§4.10 step 2): 0 results → 90 days, 1 result → 60 days, ≥2 but below
// minimum → 45 days. The returned window ends that many days after from;
// it is not compared with the current window's end.
func ExpandWindow(from time.Time, solidCount int) Window {
	var days int
	switch {
	case solidCount == 0:
		days = 90
	case solidCount == 1:
		days = 60
	default:
		days = 45
	}
	return Window{From: from, To: from.AddDate(0, 0, days)}
}

// Run applies the solid-hit predicate to every candidate, returning only
// the solid hits with their Analysis left untouched (confidence is set
// upstream by the extractor and never decreases here).
func Run(candidates []model.EventCandidate, window Window) []model.EventCandidate {
	var solid []model.EventCandidate
	for _, c := range candidates {
		if v := IsSolidHit(c, window); v.OK {
			solid = append(solid, c)
		}
	}
	return solid
}

// MergeByURL merges new solid candidates into the original set, deduping
// by URL (first occurrence wins) and tagging new entries with the given
// dateRangeSource (§4.10 step 4).
func MergeByURL(original, expanded []model.EventCandidate, newSource model.DateRangeSource) []model.EventCandidate {
	seen := make(map[string]bool, len(original))
	merged := make([]model.EventCandidate, 0, len(original)+len(expanded))
	for _, c := range original {
		seen[c.URL] = true
		merged = append(merged, c)
	}
	for _, c := range expanded {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		c.DateRangeSource = newSource
		merged = append(merged, c)
	}
	return merged
}

var (
	nonEventPathPattern    = regexp.MustCompile(`(?i)/docs|documentation|/people|/person|/profile|/privacy|/terms|/impressum|/agb`)
	nonEventExtPattern     = regexp.MustCompile(`(?i)\.(pdf|doc|docx)$`)
	eventsIndexPattern     = regexp.MustCompile(`(?i)/events/?$`)
	termsOfServiceKeywords = []string{"terms of service", "terms and conditions", "privacy policy"}
)

// staticExclusionList is a fixed set of documentation and government
// upload hosts/paths known to never be real event pages.
var staticExclusionList = []string{
	"docs.google.com", "drive.google.com", "sec.gov/Archives", "gov.uk/government/publications",
}

// IsNonEventURL reports whether a URL should be dropped by the non-event
// filter applied after the voyage gate (§4.10).
func IsNonEventURL(rawURL string) bool {
	if eventsIndexPattern.MatchString(rawURL) {
		return true
	}
	if nonEventPathPattern.MatchString(rawURL) {
		return true
	}
	if nonEventExtPattern.MatchString(rawURL) {
		return true
	}
	for _, excluded := range staticExclusionList {
		if strings.Contains(rawURL, excluded) {
			return true
		}
	}
	return false
}

// FilterNonEventURLs drops candidates whose URL fails IsNonEventURL.
func FilterNonEventURLs(candidates []model.CandidateURL) []model.CandidateURL {
	out := make([]model.CandidateURL, 0, len(candidates))
	for _, c := range candidates {
		if !IsNonEventURL(c.URL) {
			out = append(out, c)
		}
	}
	return out
}

// HasTermsOfServiceTitle reports whether a candidate's title contains a
// terms-of-service keyword, causing the orchestrator's extraction step to
// drop it (§4.10).
func HasTermsOfServiceTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range termsOfServiceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
