package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRetriesUntilSuccess(t *testing.T) {
	p, err := NewPool(Config{Workers: 2, Attempts: 3, TaskTimeout: time.Second})
	require.NoError(t, err)
	defer p.Release()

	var calls atomic.Int32
	p.Submit("test", func(ctx context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("store busy")
		}
		return nil
	})
	p.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmitGivesUpAfterAttempts(t *testing.T) {
	p, err := NewPool(Config{Workers: 1, Attempts: 2, TaskTimeout: time.Second})
	require.NoError(t, err)
	defer p.Release()

	var calls atomic.Int32
	p.Submit("test", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("store down")
	})
	p.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmitDoesNotBlockCaller(t *testing.T) {
	p, err := NewPool(Config{Workers: 1, Attempts: 1, TaskTimeout: time.Second})
	require.NoError(t, err)
	defer p.Release()

	release := make(chan struct{})
	start := time.Now()
	p.Submit("slow", func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	p.Wait()
}
