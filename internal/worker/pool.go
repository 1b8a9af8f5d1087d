package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/retry"
)

// Pool runs background writes off the response path. Each task is retried
// with backoff; a task that still fails is logged and counted, never
// returned to the submitter.
type Pool struct {
	pool    *ants.Pool
	retry   retry.Config
	timeout time.Duration
	wg      sync.WaitGroup
}

type Config struct {
	Workers     int
	Attempts    int
	TaskTimeout time.Duration
}

func NewPool(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Pool{
		pool: pool,
		retry: retry.Config{
			MaxAttempts:    cfg.Attempts,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
			Logger:         logger.GetLogger(),
		},
		timeout: cfg.TaskTimeout,
	}, nil
}

// Submit queues task under the operation name op. It never blocks on the
// task itself; when the pool rejects the task it runs on its own goroutine.
func (p *Pool) Submit(op string, task func(ctx context.Context) error) {
	p.wg.Add(1)
	run := func() {
		defer p.wg.Done()
		p.run(op, task)
	}
	if err := p.pool.Submit(run); err != nil {
		logger.Warn("Worker pool rejected task, running detached",
			zap.String("operation", op),
			zap.Error(err),
		)
		go run()
	}
}

func (p *Pool) run(op string, task func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := retry.Do(ctx, p.retry, task); err != nil {
		metrics.PersistenceFailures.WithLabelValues(op).Inc()
		logger.Error("Background write abandoned",
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release waits for queued tasks and stops the workers.
func (p *Pool) Release() {
	p.wg.Wait()
	p.pool.Release()
}
