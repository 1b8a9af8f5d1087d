package scoring

import (
	"fmt"
	"math"

	"github.com/policyqa/backend/internal/domain"
)

type Weights struct {
	Intent    float64
	Entity    float64
	Retrieval float64
	// Saturation is the item count at which the retrieval signal reaches 1.
	Saturation int
}

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) (*Scorer, error) {
	if w.Intent < 0 || w.Entity < 0 || w.Retrieval < 0 {
		return nil, fmt.Errorf("%w: confidence weights must be non-negative", domain.ErrInvalidInput)
	}
	if w.Intent+w.Entity+w.Retrieval == 0 {
		return nil, fmt.Errorf("%w: at least one confidence weight must be positive", domain.ErrInvalidInput)
	}
	if w.Saturation <= 0 {
		w.Saturation = 5
	}
	return &Scorer{w: w}, nil
}

// Score is a normalized weighted sum, so it is non-decreasing in every input.
func (s *Scorer) Score(intentConfidence, meanEntityScore float64, retrievalCount int) domain.ConfidenceScore {
	intent := clamp(intentConfidence)
	entity := clamp(meanEntityScore)
	retrieval := clamp(float64(retrievalCount) / float64(s.w.Saturation))

	total := s.w.Intent + s.w.Entity + s.w.Retrieval
	value := (s.w.Intent*intent + s.w.Entity*entity + s.w.Retrieval*retrieval) / total

	return domain.ConfidenceScore{
		Value:           clamp(value),
		IntentComponent: intent,
		EntityComponent: entity,
		RetrievalSignal: retrieval,
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
