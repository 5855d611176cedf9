package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchParams_Validate(t *testing.T) {
	t.Parallel()

	valid := SearchParams{UserText: "legal compliance", Country: "DE", DateFrom: "2025-03-01", DateTo: "2025-03-07"}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		params SearchParams
	}{
		{"empty userText", SearchParams{UserText: "  ", DateFrom: "2025-01-01", DateTo: "2025-01-02"}},
		{"lowercase country", SearchParams{UserText: "x", Country: "de", DateFrom: "2025-01-01", DateTo: "2025-01-02"}},
		{"bad date", SearchParams{UserText: "x", DateFrom: "03/01/2025", DateTo: "2025-01-02"}},
		{"from after to", SearchParams{UserText: "x", DateFrom: "2025-02-01", DateTo: "2025-01-01"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Error(t, c.params.Validate())
		})
	}
}

func TestCandidateURL_IsAggregator(t *testing.T) {
	t.Parallel()
	assert.True(t, CandidateURL{Host: "www.eventbrite.com"}.IsAggregator())
	assert.True(t, CandidateURL{Host: "10times.com"}.IsAggregator())
	assert.False(t, CandidateURL{Host: "acme-summit.com"}.IsAggregator())
}

func TestDedupSpeakers(t *testing.T) {
	t.Parallel()
	in := []Speaker{
		{Name: "Jane Doe", Title: "CEO"},
		{Name: "jane doe", Title: "duplicate"},
		{Name: "John Smith"},
		{Name: ""},
	}
	out := DedupSpeakers(in, 0)
	assert.Len(t, out, 2)
	assert.Equal(t, "Jane Doe", out[0].Name)
}

func TestDedupSpeakers_MaxCap(t *testing.T) {
	t.Parallel()
	in := []Speaker{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	out := DedupSpeakers(in, 2)
	assert.Len(t, out, 2)
}
