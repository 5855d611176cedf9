// Package templates loads per-industry WeightedTemplate definitions used
// by the orchestrator's query builder to tune precision controls by
// industry (§4.11 step 3).
package templates

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/eventscout/internal/model"
)

// Library is an in-memory, case-insensitive lookup of WeightedTemplate by
// industry name.
type Library struct {
	byIndustry map[string]model.WeightedTemplate
}

// Load reads a YAML file containing a list of WeightedTemplate entries.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "templates: read %s", path)
	}

	var raw struct {
		Templates []model.WeightedTemplate `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "templates: parse %s", path)
	}

	lib := &Library{byIndustry: make(map[string]model.WeightedTemplate, len(raw.Templates))}
	for _, t := range raw.Templates {
		lib.byIndustry[normalizeIndustry(t.Industry)] = t
	}
	return lib, nil
}

// Lookup returns the template matching industry, if one exists.
func (l *Library) Lookup(industry string) (model.WeightedTemplate, bool) {
	if l == nil {
		return model.WeightedTemplate{}, false
	}
	t, ok := l.byIndustry[normalizeIndustry(industry)]
	return t, ok
}

func normalizeIndustry(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
