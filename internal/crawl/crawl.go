// Package crawl implements the deep-crawl extractor (C9): fetching a
// prioritised URL's main page, discovering and fetching a handful of
// speaker-bearing sub-pages, then extracting event metadata and speakers
// into an EventCandidate.
package crawl

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/providers"
)

const (
	maxSubPages      = 3
	minSubPageChars  = 100
	defaultMaxSpeakers = 20
	subPageTimeout   = 10 * time.Second
)

// anchorPriority classifies a same-origin path by keyword set (§4.9).
type anchorPriority int

const (
	priorityNone anchorPriority = iota
	priorityLow
	priorityMedium
	priorityHigh
)

var highPriorityPattern = regexp.MustCompile(`(?i)referenten|speakers?|presenters?|faculty`)
var mediumPriorityPattern = regexp.MustCompile(`(?i)agenda|program|schedule`)
var lowPriorityPattern = regexp.MustCompile(`(?i)team|organiser|organizer|about`)

// commonSpeakerPaths is synthesised regardless of what the main page links
// to, since many sites keep a speaker page out of primary navigation.
var commonSpeakerPaths = []string{
	"/referenten/", "/speakers/", "/presenters/", "/faculty/", "/agenda/", "/program/",
}

// anchorPattern extracts markdown link targets: [text](url).
var anchorPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// Extractor performs the main+sub-page fetch and metadata/speaker
// extraction for one candidate URL.
type Extractor struct {
	scraper     providers.Scraper
	llm         providers.LLM
	maxSpeakers int
}

// NewExtractor constructs an Extractor. llm may be nil, in which case
// metadata is extracted with rules only.
func NewExtractor(scraper providers.Scraper, llm providers.LLM, maxSpeakers int) *Extractor {
	if maxSpeakers <= 0 {
		maxSpeakers = defaultMaxSpeakers
	}
	return &Extractor{scraper: scraper, llm: llm, maxSpeakers: maxSpeakers}
}

// Extract runs the full pipeline for a single URL, returning nil if the
// main fetch fails (failures are logged, never fatal to the caller).
func (e *Extractor) Extract(ctx context.Context, candidateURL, originalQuery, country string) *model.EventCandidate {
	main, err := e.scraper.Scrape(ctx, candidateURL)
	if err != nil {
		zap.L().Warn("crawl: main fetch failed, dropping URL", zap.String("url", candidateURL), zap.Error(err))
		return nil
	}

	subPaths := discoverSubPages(main.Markdown, candidateURL)
	var subPages []string
	for _, path := range subPaths {
		subCtx, cancel := context.WithTimeout(ctx, subPageTimeout)
		page, serr := e.scraper.Scrape(subCtx, path)
		cancel()
		if serr != nil {
			continue
		}
		if len(page.Markdown) >= minSubPageChars {
			subPages = append(subPages, page.Markdown)
		}
	}

	combined := main.Markdown
	if len(subPages) > 0 {
		combined = main.Markdown + "\n\n--- SPEAKER PAGES ---\n\n" + strings.Join(subPages, "\n\n---\n\n")
	}

	meta := e.extractMetadata(ctx, combined, main)
	speakers := extractSpeakers(combined, e.maxSpeakers)

	candidate := &model.EventCandidate{
		URL:         candidateURL,
		Title:       meta.title,
		Description: meta.description,
		Date:        meta.date,
		Location:    meta.location,
		Venue:       meta.venue,
		City:        meta.city,
		Speakers:    speakers,
		Source:      model.SourceFirecrawl,
		OriginalQuery: originalQuery,
		Country:     country,
		Analysis: model.Analysis{
			Organiser:       meta.organiser,
			Website:         meta.website,
			RegistrationURL: meta.registrationURL,
			PagesCrawled:    1 + len(subPages),
			TotalContentLen: len(combined),
		},
	}
	candidate.Confidence = confidence(candidate)

	return candidate
}

// discoverSubPages parses the main markdown for same-origin anchors,
// classifies them by priority, adds the synthesised common paths, dedups,
// sorts by priority, and takes the top 3 (§4.9 step 2).
func discoverSubPages(markdown, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	type candidate struct {
		url      string
		priority anchorPriority
	}
	seen := make(map[string]bool)
	var candidates []candidate

	addCandidate := func(raw string, priority anchorPriority) {
		resolved, rerr := resolveSameOrigin(base, raw)
		if rerr != nil || resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		candidates = append(candidates, candidate{url: resolved, priority: priority})
	}

	for _, m := range anchorPattern.FindAllStringSubmatch(markdown, -1) {
		target := m[1]
		priority := classifyPath(target)
		if priority != priorityNone {
			addCandidate(target, priority)
		}
	}
	for _, p := range commonSpeakerPaths {
		addCandidate(p, priorityHigh)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	if len(candidates) > maxSubPages {
		candidates = candidates[:maxSubPages]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}

func classifyPath(path string) anchorPriority {
	switch {
	case highPriorityPattern.MatchString(path):
		return priorityHigh
	case mediumPriorityPattern.MatchString(path):
		return priorityMedium
	case lowPriorityPattern.MatchString(path):
		return priorityLow
	default:
		return priorityNone
	}
}

func resolveSameOrigin(base *url.URL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(u)
	if resolved.Host != "" && resolved.Host != base.Host {
		return "", nil
	}
	resolved.Host = base.Host
	resolved.Scheme = base.Scheme
	return resolved.String(), nil
}

type metadata struct {
	title           string
	description     string
	date            string
	location        string
	city            string
	venue           string
	organiser       string
	website         string
	registrationURL string
}

// extractMetadata fills metadata fields via the LLM when available, else
// via rules (§4.9 step 5).
func (e *Extractor) extractMetadata(ctx context.Context, combined string, main *providers.ScrapedPage) metadata {
	meta := metadata{
		title:       main.Title,
		description: main.Description,
		website:     main.URL,
	}

	if e.llm == nil {
		return deriveCityVenue(rulesMetadata(combined, meta))
	}

	instruction := "Extract event title, description, date (ISO 8601), location, city, venue, organiser, website, and registration URL from the page content. Respond with each field on its own line as key: value."
	raw, err := e.llm.Generate(ctx, instruction, combined)
	if err != nil {
		zap.L().Warn("crawl: metadata LLM call failed, falling back to rules", zap.Error(err))
		return deriveCityVenue(rulesMetadata(combined, meta))
	}
	return deriveCityVenue(parseKeyValueMetadata(raw, meta))
}

var dateLinePattern = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2})\b`)
var registrationLinkPattern = regexp.MustCompile(`(?i)\[(register|sign up|get tickets|buy tickets)[^\]]*\]\(([^)\s]+)\)`)
var venueLinePattern = regexp.MustCompile(`(?i)(?:venue|location)s?:\s*([^\n]+)`)

// rulesMetadata fills what it can find via simple pattern matches when no
// LLM is configured.
func rulesMetadata(combined string, meta metadata) metadata {
	if m := dateLinePattern.FindString(combined); m != "" {
		meta.date = m
	}
	if m := registrationLinkPattern.FindStringSubmatch(combined); len(m) == 3 {
		meta.registrationURL = m[2]
	}
	if meta.location == "" {
		if m := venueLinePattern.FindStringSubmatch(combined); len(m) == 2 {
			meta.location = strings.TrimSpace(m[1])
		}
	}
	return meta
}

// deriveCityVenue fills city/venue from a free-text location when the
// extractor (LLM or rules) didn't already populate them directly — common
// venue text is "Venue Name, City" or just "City".
func deriveCityVenue(meta metadata) metadata {
	if meta.city != "" || meta.venue != "" || meta.location == "" {
		return meta
	}
	parts := strings.Split(meta.location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		meta.city = parts[0]
	default:
		meta.venue = parts[0]
		meta.city = parts[len(parts)-1]
	}
	return meta
}

func parseKeyValueMetadata(raw string, meta metadata) metadata {
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if value == "" {
			continue
		}
		switch key {
		case "title":
			meta.title = value
		case "description":
			meta.description = value
		case "date":
			meta.date = value
		case "location":
			meta.location = value
		case "city":
			meta.city = value
		case "venue":
			meta.venue = value
		case "organiser", "organizer":
			meta.organiser = value
		case "website":
			meta.website = value
		case "registrationurl", "registration url":
			meta.registrationURL = value
		}
	}
	return meta
}

// Speaker extraction patterns, tried in order (§4.9 step 6).
var speakerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([A-Z][a-zA-Z.'-]+(?:\s+[A-Z][a-zA-Z.'-]+)+),\s*([^,\n]+),\s*([^,\n]+)`),
	regexp.MustCompile(`([A-Z][a-zA-Z.'-]+(?:\s+[A-Z][a-zA-Z.'-]+)+)\s*[–-]\s*([^a-z\n]*?at)\s+([A-Za-z0-9 &.'-]+)`),
	regexp.MustCompile(`([A-Z][a-zA-Z.'-]+(?:\s+[A-Z][a-zA-Z.'-]+)+)\s*\(([^,)]+),\s*([^)]+)\)`),
	regexp.MustCompile(`([A-Z][a-zA-Z.'-]+(?:\s+[A-Z][a-zA-Z.'-]+)+)\s*\|\s*([^|\n]+)\|\s*([^|\n]+)`),
	regexp.MustCompile(`(?i:Referent|Sprecher|Moderator):\s*([A-Z][a-zA-Z.'-]+(?:[ \t]+[A-Z][a-zA-Z.'-]+)+)`),
	regexp.MustCompile(`(?i:Keynote Speaker):\s*([A-Z][a-zA-Z.'-]+(?:[ \t]+[A-Z][a-zA-Z.'-]+)+)`),
}

var navigationBlacklist = map[string]bool{
	"home": true, "about us": true, "contact us": true, "sign in": true, "log in": true,
	"privacy policy": true, "terms of service": true, "sitemap": true,
}

var industryBlacklist = map[string]bool{
	"software": true, "technology": true, "solutions": true, "services": true,
}

func extractSpeakers(combined string, maxSpeakers int) []model.Speaker {
	var speakers []model.Speaker
	for _, pattern := range speakerPatterns {
		for _, m := range pattern.FindAllStringSubmatch(combined, -1) {
			name := strings.TrimSpace(m[1])
			if !validSpeakerName(name) {
				continue
			}
			title := "Professional"
			company := "Various"
			if len(m) >= 3 && strings.TrimSpace(m[2]) != "" {
				title = strings.TrimSpace(m[2])
			}
			if len(m) >= 4 && strings.TrimSpace(m[3]) != "" {
				company = strings.TrimSpace(m[3])
			}
			speakers = append(speakers, model.Speaker{Name: name, Title: title, Company: company})
		}
	}
	return model.DedupSpeakers(speakers, maxSpeakers)
}

var capitalizedWordPattern = regexp.MustCompile(`\b[A-Z][a-z]+\b`)

func validSpeakerName(name string) bool {
	if len(name) == 0 || len(name) > 50 {
		return false
	}
	lower := strings.ToLower(name)
	if navigationBlacklist[lower] || industryBlacklist[lower] {
		return false
	}
	return len(capitalizedWordPattern.FindAllString(name, -1)) >= 2
}

// confidence accumulates per §4.9 step 7: base 0.3, +0.2 title, +0.2
// description, +0.1 date, +0.1 location, +0.1 any speakers, clamped to 1.0.
func confidence(c *model.EventCandidate) float64 {
	score := 0.3
	if c.Title != "" {
		score += 0.2
	}
	if c.Description != "" {
		score += 0.2
	}
	if c.Date != "" {
		score += 0.1
	}
	if c.Location != "" {
		score += 0.1
	}
	if len(c.Speakers) > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
