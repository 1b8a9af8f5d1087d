package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/utils"
)

type Correction struct {
	Question        string
	OriginalIntent  domain.IntentLabel
	CorrectedIntent domain.IntentLabel
	CorrectedAnswer string
	ReviewID        string
	Reviewer        string
}

type Example struct {
	Question  string    `json:"question"`
	ReviewID  string    `json:"review_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Pattern struct {
	From     domain.IntentLabel `json:"from"`
	To       domain.IntentLabel `json:"to"`
	Count    int                `json:"count"`
	Examples []Example          `json:"examples"`
}

func (p Pattern) Key() string {
	return fmt.Sprintf("%s->%s", p.From, p.To)
}

type Stats struct {
	SampleCount       int                        `json:"sample_count"`
	LabelDistribution map[domain.IntentLabel]int `json:"label_distribution"`
	PatternCount      int                        `json:"pattern_count"`
	TopPatterns       []Pattern                  `json:"top_patterns"`
}

// projection is derived from the log and only ever folds new samples in.
type projection struct {
	next     uint64
	samples  int
	labels   map[domain.IntentLabel]int
	patterns map[string]*Pattern
}

type Tracker struct {
	log         Log
	maxExamples int
	topN        int

	mu   sync.Mutex
	view projection
}

func NewTracker(log Log, maxExamples, topN int) *Tracker {
	if maxExamples <= 0 {
		maxExamples = 10
	}
	if topN <= 0 {
		topN = 10
	}
	return &Tracker{
		log:         log,
		maxExamples: maxExamples,
		topN:        topN,
		view: projection{
			next:     1,
			labels:   make(map[domain.IntentLabel]int),
			patterns: make(map[string]*Pattern),
		},
	}
}

// Record appends a training sample. Both intents must be present.
func (t *Tracker) Record(ctx context.Context, c Correction) error {
	if c.OriginalIntent == "" || c.CorrectedIntent == "" {
		return fmt.Errorf("%w: original and corrected intent are required", domain.ErrInvalidInput)
	}
	if _, ok := domain.ParseIntentLabel(string(c.CorrectedIntent)); !ok {
		return fmt.Errorf("%w: unknown intent %q", domain.ErrInvalidInput, c.CorrectedIntent)
	}

	seq, err := t.log.Append(ctx, Sample{
		QuestionHash:    utils.QuestionHash(c.Question),
		Question:        strings.TrimSpace(c.Question),
		OriginalIntent:  string(c.OriginalIntent),
		CorrectedIntent: string(c.CorrectedIntent),
		CorrectedAnswer: c.CorrectedAnswer,
		ReviewID:        c.ReviewID,
		Reviewer:        c.Reviewer,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record training sample: %w", err)
	}

	logger.Info("Training sample recorded",
		zap.Uint64("seq", seq),
		zap.String("from", string(c.OriginalIntent)),
		zap.String("to", string(c.CorrectedIntent)),
		zap.String("review_id", c.ReviewID),
	)
	return nil
}

// Stats folds any samples appended since the last call into the projection
// and returns a copy of it.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.log.Scan(ctx, t.view.next, func(s Sample) error {
		t.fold(s)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read learning log: %w", err)
	}

	return t.snapshot(), nil
}

func (t *Tracker) fold(s Sample) {
	t.view.next = s.Seq + 1
	t.view.samples++

	from := domain.IntentLabel(s.OriginalIntent)
	to := domain.IntentLabel(s.CorrectedIntent)
	t.view.labels[to]++

	// Confirmations (from == to) are counted as patterns too.
	key := fmt.Sprintf("%s->%s", from, to)
	p, ok := t.view.patterns[key]
	if !ok {
		p = &Pattern{From: from, To: to}
		t.view.patterns[key] = p
	}
	p.Count++
	p.Examples = append(p.Examples, Example{
		Question:  s.Question,
		ReviewID:  s.ReviewID,
		CreatedAt: s.CreatedAt,
	})
	if len(p.Examples) > t.maxExamples {
		p.Examples = append([]Example(nil), p.Examples[len(p.Examples)-t.maxExamples:]...)
	}
}

func (t *Tracker) snapshot() Stats {
	stats := Stats{
		SampleCount:       t.view.samples,
		LabelDistribution: make(map[domain.IntentLabel]int, len(t.view.labels)),
		PatternCount:      len(t.view.patterns),
	}
	for label, n := range t.view.labels {
		stats.LabelDistribution[label] = n
	}

	patterns := make([]Pattern, 0, len(t.view.patterns))
	for _, p := range t.view.patterns {
		cp := *p
		cp.Examples = append([]Example(nil), p.Examples...)
		patterns = append(patterns, cp)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Key() < patterns[j].Key()
	})
	if len(patterns) > t.topN {
		patterns = patterns[:t.topN]
	}
	stats.TopPatterns = patterns
	return stats
}

func (t *Tracker) Close() error {
	return t.log.Close()
}
