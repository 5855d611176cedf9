package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
templates:
  - industry: Legal
    industry_specific_query: 5
    cross_industry_prevention: 3
    geographic_coverage: 2
    quality_requirements: 4
    event_type_specificity: 3
    confidence_threshold: 0.6
    parse_quality_threshold: 0.5
    cities:
      - Berlin
      - London
    negative_filters:
      - term: recruiting
        weight: 2
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoad_ParsesTemplates(t *testing.T) {
	t.Parallel()
	lib, err := Load(writeSample(t))
	require.NoError(t, err)
	tmpl, ok := lib.Lookup("legal")
	require.True(t, ok)
	assert.Equal(t, "Legal", tmpl.Industry)
	assert.Equal(t, 0.6, tmpl.ConfidenceThreshold)
	assert.Contains(t, tmpl.Cities, "Berlin")
}

func TestLookup_CaseInsensitive(t *testing.T) {
	t.Parallel()
	lib, err := Load(writeSample(t))
	require.NoError(t, err)
	_, ok := lib.Lookup("LEGAL")
	assert.True(t, ok)
}

func TestLookup_Miss(t *testing.T) {
	t.Parallel()
	lib, err := Load(writeSample(t))
	require.NoError(t, err)
	_, ok := lib.Lookup("fintech")
	assert.False(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load("/nonexistent/templates.yaml")
	assert.Error(t, err)
}
