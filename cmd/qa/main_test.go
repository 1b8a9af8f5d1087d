package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/learning"
)

func TestAskRequiresQuestion(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}

	err := app.Run([]string{"qa", "ask"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question is required")
}

func TestInvalidLogLevel(t *testing.T) {
	app := newApp()

	err := app.Run([]string{"qa", "--log-level", "loud", "stats"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestReviewsRejectsUnknownStatus(t *testing.T) {
	app := newApp()

	err := app.Run([]string{"qa", "reviews", "--db", t.TempDir() + "/qa.db", "--status", "done"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestStatsReadsLearningLog(t *testing.T) {
	dir := t.TempDir()

	samples, err := learning.OpenBadgerLog(dir)
	require.NoError(t, err)
	tracker := learning.NewTracker(samples, 10, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Record(context.Background(), learning.Correction{
			Question:        fmt.Sprintf("Who approves case %d?", i),
			OriginalIntent:  domain.IntentFactualLookup,
			CorrectedIntent: domain.IntentOrganizationalRole,
			ReviewID:        fmt.Sprintf("rev-%d", i),
			Reviewer:        "alice",
		}))
	}
	require.NoError(t, tracker.Close())

	out := &bytes.Buffer{}
	app := newApp()
	app.Writer = out

	require.NoError(t, app.Run([]string{"qa", "stats", "--db", dir}))
	assert.Contains(t, out.String(), "Samples: 3")
	assert.Contains(t, out.String(), "factual_lookup -> organizational_role: 3")
}

func TestEvalRequiresDataset(t *testing.T) {
	app := newApp()

	err := app.Run([]string{"qa", "eval"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset")
}
