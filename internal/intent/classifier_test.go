package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/policyqa/backend/internal/domain"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(0.5)

	tests := []struct {
		question  string
		label     domain.IntentLabel
		uncertain bool
	}{
		{"What is Security Cooperation?", domain.IntentDefinition, false},
		{"Who does DSCA report to?", domain.IntentOrganizationalRole, false},
		{"How do I submit a Letter of Request?", domain.IntentProcedural, false},
		{"How many days does the review take?", domain.IntentFactualLookup, false},
		{"Tell me about it", domain.IntentFactualLookup, true},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got := c.Classify(tt.question)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.uncertain, got.Uncertain)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, maxConfidence)
		})
	}
}

func TestClassifyTieStillReturnsLabel(t *testing.T) {
	c := NewClassifier(0.5)

	got := c.Classify("What is the process?")

	assert.Equal(t, domain.IntentDefinition, got.Label)
	assert.True(t, got.Uncertain)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
}

func TestClassifyStrongCuesCapConfidence(t *testing.T) {
	c := NewClassifier(0.5)

	got := c.Classify("Who oversees and administers the program and who do they report to?")

	assert.Equal(t, domain.IntentOrganizationalRole, got.Label)
	assert.Equal(t, maxConfidence, got.Confidence)
}

func TestLeadingCueOnlyAtStart(t *testing.T) {
	c := NewClassifier(0.5)

	got := c.Classify("Tell me who")

	assert.Equal(t, domain.IntentFactualLookup, got.Label)
	assert.True(t, got.Uncertain)
}
