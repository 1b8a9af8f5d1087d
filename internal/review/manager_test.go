package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/learning"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/internal/worker"
	"github.com/policyqa/backend/pkg/utils"
)

type memoryStore struct {
	mu        sync.Mutex
	items     map[string]models.ReviewItem
	feedback  []models.Feedback
	overrides map[string]models.AnswerOverride
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items:     make(map[string]models.ReviewItem),
		overrides: make(map[string]models.AnswerOverride),
	}
}

func (s *memoryStore) CreateReviewItem(_ context.Context, item *models.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.items[item.ID] = *item
	}
	return nil
}

func (s *memoryStore) GetReviewItem(_ context.Context, id string) (*models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &item, nil
}

func (s *memoryStore) ListReviewItems(_ context.Context, filter models.ReviewFilter) ([]models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewItem
	for _, item := range s.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && item.Priority != filter.Priority {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *memoryStore) UpdateReviewItem(_ context.Context, id string, patch models.ReviewPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrReviewNotFound
	}
	if item.Status != patch.From {
		return domain.ErrInvalidTransition
	}
	item.Status = patch.To
	item.Reviewer = patch.Reviewer
	item.UpdatedAt = patch.UpdatedAt
	s.items[id] = item
	return nil
}

func (s *memoryStore) InsertFeedback(_ context.Context, f *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, *f)
	return nil
}

func (s *memoryStore) PutOverride(_ context.Context, o *models.AnswerOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.QuestionHash] = *o
	return nil
}

func (s *memoryStore) GetOverride(_ context.Context, hash string) (*models.AnswerOverride, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[hash]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

type cacheSpy struct {
	mu   sync.Mutex
	data map[string]*models.AnswerOverride
	sets int
}

func (c *cacheSpy) SetOverride(_ context.Context, o *models.AnswerOverride, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]*models.AnswerOverride)
	}
	c.data[o.QuestionHash] = o
	c.sets++
	return nil
}

func (c *cacheSpy) GetOverride(_ context.Context, hash string) (*models.AnswerOverride, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.data[hash]
	return o, ok, nil
}

type fixture struct {
	store   *memoryStore
	cache   *cacheSpy
	tracker *learning.Tracker
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool, err := worker.NewPool(worker.Config{Workers: 2, Attempts: 2, TaskTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	store := newMemoryStore()
	cache := &cacheSpy{}
	tracker := learning.NewTracker(learning.NewMemoryLog(), 10, 10)
	manager := NewManager(store, NewOverrides(store, cache, time.Hour), tracker, pool, Config{
		Threshold:    0.7,
		LowThreshold: 0.5,
	})
	return &fixture{store: store, cache: cache, tracker: tracker, manager: manager}
}

func submission(score float64) Submission {
	return Submission{
		QueryID:  "q-1",
		Question: domain.Question{Text: "Who approves an LOA?", UserID: "u1", CaseID: "case-9"},
		Answer:   domain.Answer{Text: "DSCA approves.", Status: domain.AnswerGenerated, Attempts: 1},
		Score:    domain.ConfidenceScore{Value: score},
		Intent:   domain.Intent{Label: domain.IntentDefinition, Confidence: 0.4},
		Paths: []domain.GraphPath{{Triples: []domain.Triple{{
			Subject:  domain.EntityRef{ID: "DSCA"},
			Relation: "approves",
			Object:   domain.EntityRef{ID: "LOA"},
		}}}},
	}
}

func (f *fixture) routeAndPersist(t *testing.T, sub Submission) *models.ReviewItem {
	t.Helper()
	id := f.manager.Route(sub)
	require.NotEmpty(t, id)
	f.manager.Wait()
	item, err := f.store.GetReviewItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestRoutePriorityBands(t *testing.T) {
	f := newFixture(t)

	high := f.routeAndPersist(t, submission(0.4))
	assert.Equal(t, models.PriorityHigh, high.Priority)
	assert.Equal(t, models.ReviewPending, high.Status)

	medium := f.routeAndPersist(t, submission(0.6))
	assert.Equal(t, models.PriorityMedium, medium.Priority)

	assert.Empty(t, f.manager.Route(submission(0.9)))
	f.manager.Wait()
	assert.Len(t, f.store.items, 2)
}

func TestRoutePreservesTrace(t *testing.T) {
	f := newFixture(t)

	item := f.routeAndPersist(t, submission(0.4))

	assert.Equal(t, utils.QuestionHash("Who approves an LOA?"), item.QuestionHash)
	assert.Equal(t, "case-9", item.CaseID)
	assert.Equal(t, []string{"DSCA-approves->LOA"}, item.Metadata.Trace.GraphPaths)
	assert.Equal(t, "q-1", item.Metadata.QueryID)
}

func TestRouteForcesReviewForFailuresAndFlags(t *testing.T) {
	f := newFixture(t)

	failed := submission(0.95)
	failed.Answer = domain.Answer{Status: domain.AnswerFailed, FailureReason: "timeout", Attempts: 3}
	item := f.routeAndPersist(t, failed)
	assert.Equal(t, models.PriorityHigh, item.Priority)
	assert.Equal(t, domain.AnswerFailed, item.Metadata.AnswerStatus)

	flagged := submission(0.95)
	flagged.Resolution.Flags = []domain.SubstringFlag{{Token: "DEPSECDEF", Alias: "SECDEF", EntityID: "SECDEF"}}
	item = f.routeAndPersist(t, flagged)
	assert.Equal(t, models.PriorityMedium, item.Priority)

	override := submission(0.2)
	override.Answer = domain.Answer{Text: "x", Status: domain.AnswerOverride}
	assert.Empty(t, f.manager.Route(override))
}

func TestTargetStatus(t *testing.T) {
	cases := []struct {
		decision  models.Decision
		corrected string
		want      models.ReviewStatus
	}{
		{models.DecisionApprove, "", models.ReviewApproved},
		{models.DecisionReject, "", models.ReviewRejected},
		{models.DecisionReject, "better answer", models.ReviewNeedsRevision},
		{models.DecisionRevise, "", models.ReviewNeedsRevision},
	}
	for _, tc := range cases {
		got, err := TargetStatus(tc.decision, tc.corrected)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s with %q", tc.decision, tc.corrected)
	}

	_, err := TargetStatus("escalate", "")
	assert.ErrorIs(t, err, domain.ErrUnknownDecision)
}

func TestSubmitFeedbackRegistersOverrideAndSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.routeAndPersist(t, submission(0.4))

	result, err := f.manager.SubmitFeedback(ctx, item.ID, FeedbackInput{
		Reviewer:        "analyst",
		Decision:        models.DecisionRevise,
		CorrectedAnswer: "The Director, DSCA approves LOAs.",
		CorrectedIntent: "organizational_role",
	})
	require.NoError(t, err)
	f.manager.Wait()

	assert.Equal(t, models.ReviewNeedsRevision, result.Status)
	assert.True(t, result.OverrideRegistered)
	assert.True(t, result.SampleRecorded)

	override, ok, err := f.manager.overrides.GetOverride(ctx, utils.QuestionHash("who approves an loa"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "The Director, DSCA approves LOAs.", override.Answer)
	assert.Equal(t, 1, f.cache.sets)

	stats, err := f.tracker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SampleCount)
	require.Len(t, stats.TopPatterns, 1)
	assert.Equal(t, domain.IntentDefinition, stats.TopPatterns[0].From)
	assert.Equal(t, domain.IntentOrganizationalRole, stats.TopPatterns[0].To)

	require.Len(t, f.store.feedback, 1)
	assert.Equal(t, "organizational_role", f.store.feedback[0].CorrectedIntent)
}

func TestSubmitFeedbackApproveSkipsOverride(t *testing.T) {
	f := newFixture(t)
	item := f.routeAndPersist(t, submission(0.6))

	result, err := f.manager.SubmitFeedback(context.Background(), item.ID, FeedbackInput{
		Reviewer:        "analyst",
		Decision:        models.DecisionApprove,
		CorrectedAnswer: "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ReviewApproved, result.Status)
	assert.False(t, result.OverrideRegistered)
	assert.Empty(t, f.store.overrides)
}

func TestSubmitFeedbackRejectsTerminalItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.routeAndPersist(t, submission(0.4))

	_, err := f.manager.SubmitFeedback(ctx, item.ID, FeedbackInput{Reviewer: "a", Decision: models.DecisionReject})
	require.NoError(t, err)

	_, err = f.manager.SubmitFeedback(ctx, item.ID, FeedbackInput{Reviewer: "a", Decision: models.DecisionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubmitFeedbackValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.SubmitFeedback(ctx, "missing", FeedbackInput{Reviewer: "a", Decision: models.DecisionApprove})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)

	_, err = f.manager.SubmitFeedback(ctx, "x", FeedbackInput{Decision: models.DecisionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.manager.SubmitFeedback(ctx, "x", FeedbackInput{Reviewer: "a", Decision: "maybe"})
	assert.ErrorIs(t, err, domain.ErrUnknownDecision)

	_, err = f.manager.SubmitFeedback(ctx, "x", FeedbackInput{Reviewer: "a", Decision: models.DecisionRevise, CorrectedIntent: "gossip"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClaimMovesPendingToInReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.routeAndPersist(t, submission(0.4))

	claimed, err := f.manager.Claim(ctx, item.ID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewInReview, claimed.Status)
	assert.Equal(t, "analyst", claimed.Reviewer)

	_, err = f.manager.Claim(ctx, item.ID, "other")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	result, err := f.manager.SubmitFeedback(ctx, item.ID, FeedbackInput{Reviewer: "analyst", Decision: models.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, result.Status)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.List(context.Background(), models.ReviewFilter{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
