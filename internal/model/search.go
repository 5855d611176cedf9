// Package model holds the data types that flow through the search
// orchestrator: the inbound request, the intermediate candidate forms,
// and the outbound ranked result.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SearchParams is the request to the orchestrator. Immutable per invocation.
type SearchParams struct {
	UserText  string `json:"userText"`
	Country   string `json:"country,omitempty"` // ISO-3166-1 alpha-2, upper-case
	DateFrom  string `json:"dateFrom"`           // YYYY-MM-DD, inclusive
	DateTo    string `json:"dateTo"`             // YYYY-MM-DD, inclusive
	Location  string `json:"location,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	UseCache  bool   `json:"useCache"`
}

// Validate checks the request invariants named in §3 of the spec.
func (p SearchParams) Validate() error {
	text := strings.TrimSpace(p.UserText)
	if text == "" {
		return fmt.Errorf("searchparams: userText must not be empty")
	}
	if len(text) > 500 {
		return fmt.Errorf("searchparams: userText exceeds 500 characters")
	}
	if p.Country != "" {
		if len(p.Country) != 2 || p.Country != strings.ToUpper(p.Country) {
			return fmt.Errorf("searchparams: country must be an upper-case ISO-3166-1 alpha-2 code")
		}
	}
	from, err := time.Parse("2006-01-02", p.DateFrom)
	if err != nil {
		return fmt.Errorf("searchparams: dateFrom must be YYYY-MM-DD: %w", err)
	}
	to, err := time.Parse("2006-01-02", p.DateTo)
	if err != nil {
		return fmt.Errorf("searchparams: dateTo must be YYYY-MM-DD: %w", err)
	}
	if from.After(to) {
		return fmt.Errorf("searchparams: dateFrom must not be after dateTo")
	}
	return nil
}

// UserProfile carries the terms that bias query building and scoring.
// Absent profiles trigger a generic path; read once, never mutated.
type UserProfile struct {
	IndustryTerms []string `json:"industryTerms,omitempty"`
	ICPTerms      []string `json:"icpTerms,omitempty"`
	Competitors   []string `json:"competitors,omitempty"`
}

// NegativeFilterTerm is a denylist term carrying its own weight.
type NegativeFilterTerm struct {
	Term   string `yaml:"term"`
	Weight int    `yaml:"weight"`
}

// WeightedTemplate is a per-industry precision control: static data, never
// mutated after load.
type WeightedTemplate struct {
	Industry                string               `yaml:"industry"`
	IndustrySpecificQuery   int                  `yaml:"industry_specific_query"`
	CrossIndustryPrevention int                  `yaml:"cross_industry_prevention"`
	GeographicCoverage      int                  `yaml:"geographic_coverage"`
	QualityRequirements     int                  `yaml:"quality_requirements"`
	EventTypeSpecificity    int                  `yaml:"event_type_specificity"`
	NegativeFilters         []NegativeFilterTerm `yaml:"negative_filters"`
	Cities                  []string             `yaml:"cities"`
	Regions                 []string             `yaml:"regions"`
	ConfidenceThreshold     float64              `yaml:"confidence_threshold"`
	ParseQualityThreshold   float64              `yaml:"parse_quality_threshold"`
}

// CandidateURL is a discovered URL plus its derived host.
type CandidateURL struct {
	URL  string
	Host string
}

// aggregatorHosts is the fixed set of hosts whose content is primarily
// third-party event listings.
var aggregatorHosts = map[string]bool{
	"eventbrite.com": true,
	"10times.com":    true,
	"linkedin.com":   true,
	"cvent.com":      true,
	"meetup.com":     true,
	"bizzabo.com":    true,
}

// IsAggregator reports whether the candidate's host is a known aggregator.
func (c CandidateURL) IsAggregator() bool {
	host := strings.TrimPrefix(strings.ToLower(c.Host), "www.")
	return aggregatorHosts[host]
}

// PrioritisedURL is a scored candidate produced by the LLM prioritiser.
type PrioritisedURL struct {
	URL    string  `json:"url"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Speaker is a single named participant attached to an event.
type Speaker struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

// Sponsor is a single named sponsor attached to an event.
type Sponsor struct {
	Name        string `json:"name"`
	Level       string `json:"level,omitempty"`
	Description string `json:"description,omitempty"`
}

// Source identifies which search provider ultimately supplied a candidate.
type Source string

const (
	SourceFirecrawl Source = "firecrawl"
	SourceCSE       Source = "cse"
	SourceDatabase  Source = "database"
)

// DateRangeSource records whether a candidate was found in the original
// window or in an auto-expanded one.
type DateRangeSource string

const (
	DateRangeOriginal DateRangeSource = "original"
	DateRangeTwoWeeks DateRangeSource = "2-weeks"
	DateRangeOneMonth DateRangeSource = "1-month"
)

// Analysis is the sub-block of extraction metadata attached to a candidate.
type Analysis struct {
	Organiser        string `json:"organiser,omitempty"`
	Website          string `json:"website,omitempty"`
	RegistrationURL  string `json:"registrationUrl,omitempty"`
	PagesCrawled     int    `json:"pagesCrawled"`
	TotalContentLen  int    `json:"totalContentLength"`
}

// EventCandidate is the central record produced by the pipeline.
type EventCandidate struct {
	URL string `json:"url"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"` // ISO date or empty
	Location    string `json:"location,omitempty"`
	Venue       string `json:"venue,omitempty"`
	City        string `json:"city,omitempty"`

	Speakers []Speaker `json:"speakers,omitempty"`
	Sponsors []Sponsor `json:"sponsors,omitempty"`

	Confidence float64 `json:"confidence"`

	Source          Source          `json:"source"`
	DateRangeSource DateRangeSource `json:"dateRangeSource"`

	OriginalQuery   string         `json:"originalQuery"`
	Country         string         `json:"country,omitempty"`
	ProcessingTime  time.Duration  `json:"processingTimeMs"`
	StageTimings    map[string]time.Duration `json:"stageTimings,omitempty"`
	Analysis        Analysis       `json:"analysis"`
}

// DedupSpeakers removes speakers that share a case-insensitive full name,
// keeping the first occurrence, and enforces maxSpeakers.
func DedupSpeakers(speakers []Speaker, maxSpeakers int) []Speaker {
	seen := make(map[string]bool, len(speakers))
	out := make([]Speaker, 0, len(speakers))
	for _, s := range speakers {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if maxSpeakers > 0 && len(out) >= maxSpeakers {
			break
		}
	}
	return out
}

// LogEntry is a single observability event recorded by a pipeline stage.
type LogEntry struct {
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ResultMetadata carries aggregate counts and per-stage timings for a
// single invocation.
type ResultMetadata struct {
	RequestID           string                   `json:"requestId"`
	OriginalQuery       string                   `json:"originalQuery"`
	TotalCandidates     int                      `json:"totalCandidates"`
	PrioritisedCount    int                      `json:"prioritisedCandidates"`
	ExtractedCount      int                      `json:"extractedCandidates"`
	SolidCount          int                      `json:"solidCandidates"`
	LowConfidence       bool                     `json:"lowConfidence"`
	ProvidersUsed       []Source                 `json:"providersUsed"`
	StageTimings        map[string]time.Duration `json:"stageTimings"`
	TotalDuration       time.Duration            `json:"totalDuration"`
	AutoExpanded        bool                     `json:"autoExpanded"`
	ExpandedWindowDays  int                      `json:"expandedWindowDays,omitempty"`
}

// SearchResult is the orchestrator's output. Produced once per invocation,
// then immutable.
type SearchResult struct {
	Events   []EventCandidate `json:"events"`
	Metadata ResultMetadata   `json:"metadata"`
	Logs     []LogEntry       `json:"logs"`
}
