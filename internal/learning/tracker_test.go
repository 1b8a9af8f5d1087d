package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
)

func misroute(i int) Correction {
	return Correction{
		Question:        fmt.Sprintf("Who approves request %d?", i),
		OriginalIntent:  domain.IntentDefinition,
		CorrectedIntent: domain.IntentOrganizationalRole,
		ReviewID:        fmt.Sprintf("rev-%d", i),
		Reviewer:        "analyst",
	}
}

func TestPatternExamplesCappedOldestEvicted(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryLog(), 10, 10)

	for i := 0; i < 11; i++ {
		require.NoError(t, tracker.Record(ctx, misroute(i)))
	}

	stats, err := tracker.Stats(ctx)
	require.NoError(t, err)

	require.Len(t, stats.TopPatterns, 1)
	p := stats.TopPatterns[0]
	assert.Equal(t, 11, p.Count)
	require.Len(t, p.Examples, 10)
	assert.Equal(t, "rev-1", p.Examples[0].ReviewID)
	assert.Equal(t, "rev-10", p.Examples[9].ReviewID)
	assert.Equal(t, 11, stats.SampleCount)
}

func TestStatsFoldsOnlyNewSamples(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryLog(), 10, 10)

	require.NoError(t, tracker.Record(ctx, misroute(0)))
	first, err := tracker.Stats(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Record(ctx, Correction{
		Question:        "What is a LOA?",
		OriginalIntent:  domain.IntentFactualLookup,
		CorrectedIntent: domain.IntentDefinition,
	}))
	require.NoError(t, tracker.Record(ctx, Correction{
		Question:        "What is a LOR?",
		OriginalIntent:  domain.IntentDefinition,
		CorrectedIntent: domain.IntentDefinition,
	}))

	second, err := tracker.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.SampleCount)
	assert.Equal(t, 3, second.SampleCount)
	assert.Equal(t, 3, second.PatternCount)
	assert.Equal(t, 2, second.LabelDistribution[domain.IntentDefinition])
	assert.Equal(t, 1, second.LabelDistribution[domain.IntentOrganizationalRole])

	again, err := tracker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, again)
}

func TestRecordRequiresBothIntents(t *testing.T) {
	tracker := NewTracker(NewMemoryLog(), 10, 10)

	err := tracker.Record(context.Background(), Correction{Question: "q", CorrectedIntent: domain.IntentProcedural})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = tracker.Record(context.Background(), Correction{Question: "q", OriginalIntent: domain.IntentProcedural, CorrectedIntent: "gossip"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBadgerLogAppendsAndScansInOrder(t *testing.T) {
	ctx := context.Background()
	log, err := OpenBadgerLog("")
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 12; i++ {
		seq, err := log.Append(ctx, Sample{ReviewID: fmt.Sprintf("rev-%d", i)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	var ids []string
	require.NoError(t, log.Scan(ctx, 10, func(s Sample) error {
		ids = append(ids, s.ReviewID)
		return nil
	}))
	assert.Equal(t, []string{"rev-9", "rev-10", "rev-11"}, ids)
}

func TestTrackerOverBadgerLog(t *testing.T) {
	ctx := context.Background()
	log, err := OpenBadgerLog("")
	require.NoError(t, err)
	tracker := NewTracker(log, 10, 10)
	defer tracker.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Record(ctx, misroute(i)))
	}

	stats, err := tracker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SampleCount)
	assert.Equal(t, 3, stats.TopPatterns[0].Count)
}

func TestStatsCountsSameIntentPairs(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryLog(), 10, 10)

	for i := 0; i < 2; i++ {
		require.NoError(t, tracker.Record(ctx, Correction{
			Question:        fmt.Sprintf("What is a LOR %d?", i),
			OriginalIntent:  domain.IntentDefinition,
			CorrectedIntent: domain.IntentDefinition,
			ReviewID:        fmt.Sprintf("rev-%d", i),
		}))
	}

	stats, err := tracker.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.TopPatterns, 1)
	assert.Equal(t, "definition->definition", stats.TopPatterns[0].Key())
	assert.Equal(t, 2, stats.TopPatterns[0].Count)
	assert.Len(t, stats.TopPatterns[0].Examples, 2)
}

func TestTrackerOverBadgerLogConcurrentRecordAndStats(t *testing.T) {
	ctx := context.Background()
	log, err := OpenBadgerLog("")
	require.NoError(t, err)
	tracker := NewTracker(log, 10, 10)
	defer tracker.Close()

	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter*2)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := tracker.Record(ctx, misroute(w*perWriter+i)); err != nil {
					errs <- err
				}
				if _, err := tracker.Stats(ctx); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := tracker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, stats.SampleCount)
	assert.Equal(t, writers*perWriter, stats.LabelDistribution[domain.IntentOrganizationalRole])
	require.Len(t, stats.TopPatterns, 1)
	assert.Equal(t, writers*perWriter, stats.TopPatterns[0].Count)
	assert.Len(t, stats.TopPatterns[0].Examples, 10)
}
