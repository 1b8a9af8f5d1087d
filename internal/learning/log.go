package learning

import (
	"context"
	"sync"
	"time"
)

// Sample is one expert correction. Samples are only ever appended.
type Sample struct {
	Seq             uint64    `json:"seq"`
	QuestionHash    string    `json:"question_hash"`
	Question        string    `json:"question"`
	OriginalIntent  string    `json:"original_intent"`
	CorrectedIntent string    `json:"corrected_intent"`
	CorrectedAnswer string    `json:"corrected_answer,omitempty"`
	ReviewID        string    `json:"review_id"`
	Reviewer        string    `json:"reviewer"`
	CreatedAt       time.Time `json:"created_at"`
}

type Log interface {
	// Append assigns the next sequence number and stores the sample.
	Append(ctx context.Context, sample Sample) (uint64, error)
	// Scan visits samples with Seq >= from in sequence order.
	Scan(ctx context.Context, from uint64, fn func(Sample) error) error
	Close() error
}

type MemoryLog struct {
	mu      sync.RWMutex
	samples []Sample
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, sample Sample) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sample.Seq = uint64(len(l.samples)) + 1
	l.samples = append(l.samples, sample)
	return sample.Seq, nil
}

func (l *MemoryLog) Scan(ctx context.Context, from uint64, fn func(Sample) error) error {
	l.mu.RLock()
	snapshot := l.samples
	l.mu.RUnlock()

	for _, s := range snapshot {
		if s.Seq < from {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemoryLog) Close() error {
	return nil
}
