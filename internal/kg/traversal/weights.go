package traversal

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/policyqa/backend/internal/domain"
)

// RelationWeights holds, per intent, the allow-listed relations and their
// relevance in (0,1]. A relation missing from an intent's map is filtered
// out for that intent. Read-only once built.
type RelationWeights map[domain.IntentLabel]map[string]float64

func DefaultRelationWeights() RelationWeights {
	return RelationWeights{
		domain.IntentOrganizationalRole: {
			"reports_to":       1.0,
			"oversees":         1.0,
			"administers":      0.95,
			"responsible_for":  0.9,
			"manages":          0.9,
			"delegates_to":     0.85,
			"supervises":       0.85,
			"part_of":          0.6,
			"coordinates_with": 0.5,
		},
		domain.IntentDefinition: {
			"abbreviation_of": 1.0,
			"defined_as":      1.0,
			"is_a":            0.9,
			"includes":        0.7,
			"part_of":         0.7,
			"governed_by":     0.6,
			"related_to":      0.4,
		},
		domain.IntentProcedural: {
			"requires":     1.0,
			"precedes":     0.9,
			"follows":      0.9,
			"submitted_to": 0.9,
			"approves":     0.85,
			"governed_by":  0.7,
			"part_of":      0.5,
			"related_to":   0.3,
		},
		domain.IntentFactualLookup: {
			"governed_by": 0.8,
			"references":  0.7,
			"includes":    0.7,
			"part_of":     0.7,
			"administers": 0.7,
			"reports_to":  0.6,
			"related_to":  0.5,
		},
	}
}

type weightsFile struct {
	Intents map[string]map[string]float64 `yaml:"intents"`
}

// LoadRelationWeights reads intent relation weights from YAML. Intents not
// present in the file keep their defaults.
func LoadRelationWeights(path string) (RelationWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation weights: %w", err)
	}

	var file weightsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse relation weights: %w", err)
	}

	weights := DefaultRelationWeights()
	for name, relations := range file.Intents {
		label, ok := domain.ParseIntentLabel(name)
		if !ok {
			return nil, fmt.Errorf("unknown intent %q in relation weights", name)
		}
		m := make(map[string]float64, len(relations))
		for rel, w := range relations {
			if w <= 0 || w > 1 {
				return nil, fmt.Errorf("weight for %s/%s must be in (0,1]", name, rel)
			}
			m[strings.ToLower(rel)] = w
		}
		weights[label] = m
	}

	return weights, nil
}

// For returns the weight table for an intent, falling back to the factual
// lookup table for unknown labels.
func (w RelationWeights) For(label domain.IntentLabel) map[string]float64 {
	if m, ok := w[label]; ok {
		return m
	}
	return w[domain.IntentFactualLookup]
}

// AllowList is the sorted relation names for an intent.
func (w RelationWeights) AllowList(label domain.IntentLabel) []string {
	m := w.For(label)
	out := make([]string, 0, len(m))
	for rel := range m {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}
