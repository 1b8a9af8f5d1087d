package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
)

// wordCounter costs one token per whitespace-separated word.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func hit(id string, words int, score float64) domain.VectorHit {
	return domain.VectorHit{
		ChunkID:   id,
		Text:      strings.TrimSpace(strings.Repeat("word ", words)),
		Score:     score,
		SectionID: "C" + id,
	}
}

func TestAssembleStaysWithinBudget(t *testing.T) {
	a := New(wordCounter{}, Config{Budget: 20})

	for budget := 1; budget <= 40; budget++ {
		var hits []domain.VectorHit
		for i := 0; i < 8; i++ {
			hits = append(hits, hit(fmt.Sprintf("c%d", i), 1+(i*7)%9, 1-float64(i)/10))
		}

		bundle := a.Assemble(hits, nil, budget)

		total := 0
		for _, item := range bundle.Items {
			total += item.Tokens
		}
		assert.Equal(t, total, bundle.TotalTokens)
		assert.LessOrEqual(t, bundle.TotalTokens, budget)
		assert.Equal(t, len(hits), len(bundle.Items)+bundle.Excluded)
	}
}

func TestAssembleNeverTruncatesItems(t *testing.T) {
	a := New(wordCounter{}, Config{})
	hits := []domain.VectorHit{hit("a", 4, 0.9), hit("b", 6, 0.8), hit("c", 2, 0.7)}

	bundle := a.Assemble(hits, nil, 8)

	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "a", bundle.Items[0].ID)
	assert.Equal(t, hits[0].Text, bundle.Items[0].Text)
	assert.Equal(t, 2, bundle.Excluded)
}

func TestAssembleSkipsOversizedItemAndContinues(t *testing.T) {
	a := New(wordCounter{}, Config{})
	hits := []domain.VectorHit{hit("huge", 50, 0.99), hit("a", 3, 0.9), hit("b", 3, 0.8)}

	bundle := a.Assemble(hits, nil, 10)

	require.Len(t, bundle.Items, 2)
	assert.Equal(t, "a", bundle.Items[0].ID)
	assert.Equal(t, "b", bundle.Items[1].ID)
	assert.Equal(t, 1, bundle.Excluded)
}

func TestAssembleTieBreaksBySourceThenID(t *testing.T) {
	a := New(wordCounter{}, Config{VectorWeight: 1, GraphWeight: 1})
	path := domain.GraphPath{
		Triples: []domain.Triple{{
			Subject:  domain.EntityRef{ID: "DSCA"},
			Relation: "reports_to",
			Object:   domain.EntityRef{ID: "USDP"},
		}},
		Score: 0.5,
	}
	hits := []domain.VectorHit{hit("z", 1, 0.5), hit("m", 1, 0.5)}

	bundle := a.Assemble(hits, []domain.GraphPath{path}, 100)

	require.Len(t, bundle.Items, 3)
	assert.Equal(t, "m", bundle.Items[0].ID)
	assert.Equal(t, "z", bundle.Items[1].ID)
	assert.Equal(t, domain.SourceGraph, bundle.Items[2].Source)
	assert.Equal(t, "DSCA --reports_to--> USDP", bundle.Items[2].Text)
}

func TestAssembleAppliesSourceWeights(t *testing.T) {
	a := New(wordCounter{}, Config{VectorWeight: 0.5, GraphWeight: 1})
	path := domain.GraphPath{
		Triples: []domain.Triple{{
			Subject:  domain.EntityRef{ID: "SC"},
			Relation: "governed_by",
			Object:   domain.EntityRef{ID: "SAMM", Category: domain.CategoryDocument},
		}},
		Score: 0.6,
	}

	bundle := a.Assemble([]domain.VectorHit{hit("a", 2, 0.9)}, []domain.GraphPath{path}, 100)

	require.Len(t, bundle.Items, 2)
	assert.Equal(t, domain.SourceGraph, bundle.Items[0].Source)
	assert.Equal(t, "SAMM", bundle.Items[0].SectionID)
	assert.InDelta(t, 0.45, bundle.Items[1].Score, 1e-9)
}

func TestAssembleCleansMarkup(t *testing.T) {
	a := New(wordCounter{}, Config{})
	hits := []domain.VectorHit{{
		ChunkID: "h",
		Text:    "<html><body><nav>menu</nav><p>Security   Cooperation</p><script>x()</script></body></html>",
		Score:   0.8,
	}}

	bundle := a.Assemble(hits, nil, 100)

	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "Security Cooperation", bundle.Items[0].Text)
	assert.Equal(t, 2, bundle.Items[0].Tokens)
}

func TestCleanTextLeavesComparisonsAlone(t *testing.T) {
	assert.Equal(t, "a < b and c > d", CleanText("a  <  b and c > d"))
}

func TestRuneEstimator(t *testing.T) {
	var e RuneEstimator
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abc"))
	assert.Equal(t, 2, e.Count("abcde"))
}

func TestRenderIncludesSections(t *testing.T) {
	bundle := domain.ContextBundle{Items: []domain.ContextItem{
		{Source: domain.SourceVector, ID: "a", Text: "alpha", SectionID: "C1.1"},
		{Source: domain.SourceGraph, ID: "p", Text: "A --x--> B"},
	}}

	out := Render(bundle)

	assert.Contains(t, out, "[1] (section C1.1) alpha")
	assert.Contains(t, out, "[2] (graph) A --x--> B")
}
