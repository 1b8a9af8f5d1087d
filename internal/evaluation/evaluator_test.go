package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/query"
)

type scriptedEngine struct {
	responses map[string]*query.QueryResponse
}

func (s scriptedEngine) Answer(_ context.Context, req query.QueryRequest) (*query.QueryResponse, error) {
	return s.responses[req.Question], nil
}

type vocabEmbedder map[string][]float32

func (v vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return v[text], nil
}

func TestRunAggregatesResults(t *testing.T) {
	engine := scriptedEngine{responses: map[string]*query.QueryResponse{
		"What is SC?": {
			Answer:     "SC is security cooperation.",
			Citations:  []string{"C1.1"},
			Intent:     domain.Intent{Label: domain.IntentDefinition},
			Status:     query.StatusAnswered,
			Confidence: 0.84,
		},
		"Who approves LOAs?": {
			Status:     query.StatusFailed,
			Intent:     domain.Intent{Label: domain.IntentFactualLookup},
			ReviewID:   "rev-1",
			Confidence: 0.4,
		},
	}}
	embedder := vocabEmbedder{
		"SC is security cooperation.":     {1, 0},
		"Security Cooperation is a term.": {1, 0},
	}

	report, err := NewEvaluator(engine, embedder).Run(context.Background(), &Dataset{Items: []DatasetItem{
		{
			Question:          "What is SC?",
			ExpectedAnswer:    "Security Cooperation is a term.",
			ExpectedIntent:    "definition",
			ExpectedCitations: []string{"C1.1", "C1.2"},
		},
		{
			Question:       "Who approves LOAs?",
			ExpectedIntent: "organizational_role",
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalQuestions)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.RoutedToReview)
	assert.InDelta(t, 0.5, report.IntentAccuracy, 1e-9)
	assert.InDelta(t, (0.5+1.0)/2, report.AvgCitationRecall, 1e-9)
	assert.InDelta(t, 0.5, report.AvgCosineSimilarity, 1e-9)
	assert.InDelta(t, 0.62, report.AvgConfidence, 1e-9)
	assert.Contains(t, FormatReport(report), "Intent Accuracy: 50.0%")
}

func TestCitationRecall(t *testing.T) {
	assert.Equal(t, 1.0, citationRecall(nil, nil))
	assert.Equal(t, 0.0, citationRecall([]string{"C1.1"}, nil))
	assert.Equal(t, 1.0, citationRecall([]string{"c1.1"}, []string{"C1.1", "C2.4"}))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestLoadDatasetValidatesIntent(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`items:
  - question: What is SC?
    expected_intent: definition
    expected_citations: [C1.1]
`), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`items:
  - question: What is SC?
    expected_intent: trivia
`), 0o644))

	dataset, err := LoadDataset(good)
	require.NoError(t, err)
	require.Len(t, dataset.Items, 1)
	assert.Equal(t, []string{"C1.1"}, dataset.Items[0].ExpectedCitations)

	_, err = LoadDataset(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
