package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(Weights{Intent: 0.4, Entity: 0.3, Retrieval: 0.3, Saturation: 5})
	require.NoError(t, err)
	return s
}

func TestScoreIsMonotonicInEachInput(t *testing.T) {
	s := defaultScorer(t)
	levels := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}
	counts := []int{0, 1, 2, 3, 5, 8}

	for _, base := range levels {
		for _, other := range levels {
			for _, n := range counts {
				prev := s.Score(0, other, n).Value
				for _, v := range levels[1:] {
					cur := s.Score(v, other, n).Value
					assert.GreaterOrEqual(t, cur, prev)
					prev = cur
				}

				prev = s.Score(base, 0, n).Value
				for _, v := range levels[1:] {
					cur := s.Score(base, v, n).Value
					assert.GreaterOrEqual(t, cur, prev)
					prev = cur
				}
			}

			prev := s.Score(base, other, 0).Value
			for _, n := range counts[1:] {
				cur := s.Score(base, other, n).Value
				assert.GreaterOrEqual(t, cur, prev)
				prev = cur
			}
		}
	}
}

func TestScoreForDefinitionWithExactEntity(t *testing.T) {
	s := defaultScorer(t)

	score := s.Score(0.9, 1.0, 3)

	assert.InDelta(t, 0.84, score.Value, 1e-9)
	assert.InDelta(t, 0.6, score.RetrievalSignal, 1e-9)
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := defaultScorer(t)

	assert.Equal(t, 1.0, s.Score(3, 2, 100).Value)
	assert.Equal(t, 0.0, s.Score(-1, -1, -4).Value)
}

func TestNewScorerRejectsBadWeights(t *testing.T) {
	_, err := NewScorer(Weights{Intent: -0.1, Entity: 1})
	assert.Error(t, err)

	_, err = NewScorer(Weights{})
	assert.Error(t, err)
}
