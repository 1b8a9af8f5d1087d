package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/llm"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/utils"
)

type scriptedBackend struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	requests []llm.GenerateRequest
}

func (b *scriptedBackend) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	b.requests = append(b.requests, req)
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.replies) {
		return b.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

type overrideMap map[string]*models.AnswerOverride

func (m overrideMap) GetOverride(_ context.Context, hash string) (*models.AnswerOverride, bool, error) {
	o, ok := m[hash]
	return o, ok, nil
}

func testConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         2 * time.Millisecond,
		BaseAttemptTimeout: time.Second,
		PerKTokenTimeout:   time.Second,
		TotalDeadline:      5 * time.Second,
		MaxOutputTokens:    256,
		ContextWindow:      4096,
	}
}

var question = domain.Question{Text: "What is Security Cooperation?", UserID: "u1"}

func bundle() domain.ContextBundle {
	return domain.ContextBundle{
		Items: []domain.ContextItem{{
			Source:    domain.SourceVector,
			ID:        "c1",
			Text:      "Security Cooperation comprises all activities...",
			SectionID: "C1.1",
			Tokens:    6,
		}},
		TotalTokens: 6,
		Budget:      100,
	}
}

func TestGenerateReturnsOverrideWithoutBackend(t *testing.T) {
	backend := &scriptedBackend{}
	override := "Security Cooperation  is\tdefined in C1.1 § verbatim."
	g := New(backend, overrideMap{
		utils.QuestionHash("what is security   cooperation"): {Answer: override, ReviewID: "rev-1"},
	}, testConfig())

	answer := g.Generate(context.Background(), question, bundle(), domain.Intent{Label: domain.IntentDefinition})

	assert.Equal(t, override, answer.Text)
	assert.True(t, answer.OverrideSourced())
	assert.Equal(t, "rev-1", answer.OverrideID)
	assert.Zero(t, backend.calls)
}

func TestGenerateParsesAnswerAndCitations(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		`{"answer": "Security Cooperation is defined in [C1.1] and expanded in [Section C1.3].", "citations": ["C1.1", "C2.4"]}`,
	}}
	g := New(backend, nil, testConfig())

	answer := g.Generate(context.Background(), question, bundle(), domain.Intent{Label: domain.IntentDefinition})

	require.Equal(t, domain.AnswerGenerated, answer.Status)
	assert.Equal(t, 1, answer.Attempts)
	assert.Equal(t, []string{"C1.1", "C2.4", "C1.3"}, answer.Citations)
	require.Len(t, backend.requests, 1)
	assert.True(t, backend.requests[0].JSON)
	assert.Contains(t, backend.requests[0].Prompt, "(section C1.1)")
	assert.Contains(t, backend.requests[0].Prompt, "What is Security Cooperation?")
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{
		errs:    []error{errors.New("503"), nil},
		replies: []string{"", `{"answer": "ok"}`},
	}
	g := New(backend, nil, testConfig())

	answer := g.Generate(context.Background(), question, bundle(), domain.Intent{})

	assert.Equal(t, domain.AnswerGenerated, answer.Status)
	assert.Equal(t, "ok", answer.Text)
	assert.Equal(t, 2, answer.Attempts)
}

func TestGenerateRepairsMalformedJSON(t *testing.T) {
	backend := &scriptedBackend{replies: []string{"```json\n{\"answer\": \"DSCA administers the program\", \"citations\": [\"C2.1\"\n```"}}
	g := New(backend, nil, testConfig())

	answer := g.Generate(context.Background(), question, bundle(), domain.Intent{})

	require.Equal(t, domain.AnswerGenerated, answer.Status)
	assert.Equal(t, "DSCA administers the program", answer.Text)
	assert.Equal(t, []string{"C2.1"}, answer.Citations)
}

func TestGenerateReturnsFailureAfterExhaustion(t *testing.T) {
	backend := &scriptedBackend{replies: []string{"", "", ""}}
	g := New(backend, nil, testConfig())

	answer := g.Generate(context.Background(), question, bundle(), domain.Intent{})

	assert.True(t, answer.Failed())
	assert.Equal(t, 3, answer.Attempts)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, "malformed_output", answer.FailureReason)
	assert.Empty(t, answer.Text)
}

func TestAttemptTimeoutScalesWithContext(t *testing.T) {
	g := New(&scriptedBackend{}, nil, Config{
		BaseAttemptTimeout: 10 * time.Second,
		PerKTokenTimeout:   4 * time.Second,
	})

	assert.Equal(t, 10*time.Second, g.AttemptTimeout(0))
	assert.Equal(t, 18*time.Second, g.AttemptTimeout(2000))
	assert.Less(t, g.AttemptTimeout(500), g.AttemptTimeout(1500))
}

func TestParseOutputRejectsEmptyAnswer(t *testing.T) {
	_, _, err := parseOutput(`{"citations": ["C1"]}`)
	assert.ErrorIs(t, err, domain.ErrMalformedOutput)

	_, _, err = parseOutput("   ")
	assert.ErrorIs(t, err, domain.ErrMalformedOutput)
}
