package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/providers"
)

type fakeScraper struct {
	pages map[string]*providers.ScrapedPage
	errs  map[string]error
	calls []string
}

func (f *fakeScraper) Scrape(ctx context.Context, u string) (*providers.ScrapedPage, error) {
	f.calls = append(f.calls, u)
	if err, ok := f.errs[u]; ok {
		return nil, err
	}
	if p, ok := f.pages[u]; ok {
		return p, nil
	}
	return &providers.ScrapedPage{URL: u, Markdown: ""}, nil
}

func TestExtract_MainFetchFailureReturnsNil(t *testing.T) {
	t.Parallel()
	scraper := &fakeScraper{errs: map[string]error{"https://acme.com/event": assert.AnError}}
	e := NewExtractor(scraper, nil, 10)
	candidate := e.Extract(context.Background(), "https://acme.com/event", "legal conference", "US")
	assert.Nil(t, candidate)
}

func TestExtract_BuildsCandidateFromMainPage(t *testing.T) {
	t.Parallel()
	main := &providers.ScrapedPage{
		URL:         "https://acme.com/event",
		Title:       "Acme Legal Summit",
		Description: "A summit for legal professionals",
		Markdown:    "# Acme Legal Summit\nJoin us 2026-03-15 in Berlin.\n[Register](https://acme.com/register)",
	}
	scraper := &fakeScraper{pages: map[string]*providers.ScrapedPage{"https://acme.com/event": main}}
	e := NewExtractor(scraper, nil, 10)
	candidate := e.Extract(context.Background(), "https://acme.com/event", "legal conference", "US")
	require.NotNil(t, candidate)
	assert.Equal(t, "Acme Legal Summit", candidate.Title)
	assert.Equal(t, "2026-03-15", candidate.Date)
	assert.Equal(t, "https://acme.com/register", candidate.Analysis.RegistrationURL)
}

func TestExtract_DiscoversAndFetchesSubPages(t *testing.T) {
	t.Parallel()
	main := &providers.ScrapedPage{
		URL:      "https://acme.com/event",
		Markdown: "[Speakers](https://acme.com/speakers) [Agenda](https://acme.com/agenda)",
	}
	speakersPage := &providers.ScrapedPage{
		URL:      "https://acme.com/speakers",
		Markdown: pad(100) + "\nJane Doe, Chief Counsel, Acme Corp.\n",
	}
	scraper := &fakeScraper{pages: map[string]*providers.ScrapedPage{
		"https://acme.com/event":    main,
		"https://acme.com/speakers": speakersPage,
	}}
	e := NewExtractor(scraper, nil, 10)
	candidate := e.Extract(context.Background(), "https://acme.com/event", "legal conference", "US")
	require.NotNil(t, candidate)
	assert.Equal(t, 2, candidate.Analysis.PagesCrawled)
	require.NotEmpty(t, candidate.Speakers)
	assert.Equal(t, "Jane Doe", candidate.Speakers[0].Name)
	assert.Equal(t, "Chief Counsel", candidate.Speakers[0].Title)
	assert.Equal(t, "Acme Corp.", candidate.Speakers[0].Company)
}

func pad(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = 'x'
	}
	return string(out)
}

func TestExtract_SkipsSubPagesBelowMinChars(t *testing.T) {
	t.Parallel()
	main := &providers.ScrapedPage{
		URL:      "https://acme.com/event",
		Markdown: "[Speakers](https://acme.com/speakers)",
	}
	speakersPage := &providers.ScrapedPage{URL: "https://acme.com/speakers", Markdown: "tiny"}
	scraper := &fakeScraper{pages: map[string]*providers.ScrapedPage{
		"https://acme.com/event":    main,
		"https://acme.com/speakers": speakersPage,
	}}
	e := NewExtractor(scraper, nil, 10)
	candidate := e.Extract(context.Background(), "https://acme.com/event", "legal conference", "US")
	require.NotNil(t, candidate)
	assert.Equal(t, 1, candidate.Analysis.PagesCrawled)
}

func TestExtract_DerivesCityAndVenueFromLocation(t *testing.T) {
	t.Parallel()
	main := &providers.ScrapedPage{
		URL:      "https://acme.com/event",
		Title:    "Acme Legal Summit",
		Markdown: "# Acme Legal Summit\nJoin us 2026-03-15.\nVenue: Messe Congress Center, Berlin",
	}
	scraper := &fakeScraper{pages: map[string]*providers.ScrapedPage{"https://acme.com/event": main}}
	e := NewExtractor(scraper, nil, 10)
	candidate := e.Extract(context.Background(), "https://acme.com/event", "legal conference", "US")
	require.NotNil(t, candidate)
	assert.Equal(t, "Messe Congress Center", candidate.Venue)
	assert.Equal(t, "Berlin", candidate.City)
}

func TestDeriveCityVenue_SingleSegmentIsCity(t *testing.T) {
	t.Parallel()
	meta := deriveCityVenue(metadata{location: "Berlin"})
	assert.Equal(t, "Berlin", meta.city)
	assert.Empty(t, meta.venue)
}

func TestDeriveCityVenue_LeavesExplicitValuesAlone(t *testing.T) {
	t.Parallel()
	meta := deriveCityVenue(metadata{location: "Messe, Berlin", city: "Munich"})
	assert.Equal(t, "Munich", meta.city)
	assert.Empty(t, meta.venue)
}

func TestParseKeyValueMetadata_CityAndVenue(t *testing.T) {
	t.Parallel()
	raw := "title: Acme Summit\ncity: Berlin\nvenue: Messe Congress Center"
	meta := parseKeyValueMetadata(raw, metadata{})
	assert.Equal(t, "Berlin", meta.city)
	assert.Equal(t, "Messe Congress Center", meta.venue)
}

func TestDiscoverSubPages_ClassifiesAndCapsAtThree(t *testing.T) {
	t.Parallel()
	markdown := "[Speakers](https://acme.com/speakers) [Agenda](https://acme.com/agenda) [Team](https://acme.com/team) [About](https://acme.com/about)"
	paths := discoverSubPages(markdown, "https://acme.com/event")
	assert.LessOrEqual(t, len(paths), maxSubPages)
	assert.Contains(t, paths[0], "speakers")
}

func TestDiscoverSubPages_DropsCrossOriginLinks(t *testing.T) {
	t.Parallel()
	markdown := "[Speakers](https://other.com/speakers)"
	paths := discoverSubPages(markdown, "https://acme.com/event")
	for _, p := range paths {
		assert.NotContains(t, p, "other.com")
	}
}

func TestValidSpeakerName(t *testing.T) {
	t.Parallel()
	assert.True(t, validSpeakerName("Jane Doe"))
	assert.False(t, validSpeakerName("home"))
	assert.False(t, validSpeakerName("software"))
	assert.False(t, validSpeakerName("jane")) // only one capitalized word
}

func TestConfidence_AccumulatesAndClamps(t *testing.T) {
	t.Parallel()
	c := &model.EventCandidate{}
	assert.InDelta(t, 0.3, confidence(c), 0.0001)

	full := &model.EventCandidate{
		Title:       "t",
		Description: "d",
		Date:        "2026-01-01",
		Location:    "l",
		Speakers:    []model.Speaker{{Name: "Jane Doe"}},
	}
	assert.InDelta(t, 1.0, confidence(full), 0.0001)
}

func TestExtractSpeakers_GermanLabels(t *testing.T) {
	t.Parallel()
	combined := "Referent: Hans Mueller\nWeitere Informationen folgen."
	speakers := extractSpeakers(combined, 10)
	require.NotEmpty(t, speakers)
	assert.Equal(t, "Hans Mueller", speakers[0].Name)
	assert.Equal(t, "Professional", speakers[0].Title)
}
