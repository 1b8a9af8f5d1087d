package entity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyqa/backend/internal/domain"
)

func testEntities() []domain.CanonicalEntity {
	return []domain.CanonicalEntity{
		{ID: "SECDEF", Name: "Secretary of Defense", Aliases: []string{"SecDef"}, Category: domain.CategoryRole},
		{ID: "DEPSECDEF", Name: "Deputy Secretary of Defense", Category: domain.CategoryRole},
		{ID: "SC", Name: "Security Cooperation", Category: domain.CategoryConcept},
		{ID: "DSCA", Name: "Defense Security Cooperation Agency", Category: domain.CategoryOrganization},
		{ID: "PM_ROLE", Name: "Program Manager", Aliases: []string{"PM"}, Category: domain.CategoryRole},
		{ID: "PM_BUREAU", Name: "Bureau of Political-Military Affairs", Aliases: []string{"PM"}, Category: domain.CategoryOrganization},
	}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(NewAliasTable(testEntities()), Config{MinScore: 0.5, FuzzyMinScore: 0.92})
}

func mentionIDs(res domain.Resolution) []string {
	var ids []string
	for _, m := range res.Mentions {
		ids = append(ids, m.Best().EntityID)
	}
	return ids
}

func TestResolveExactAcronymNeverMatchesContainingAcronym(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("What does SECDEF delegate?")
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "SECDEF", res.Mentions[0].Best().EntityID)
	for _, c := range res.Mentions[0].Candidates {
		assert.NotEqual(t, "DEPSECDEF", c.EntityID)
	}

	res = r.Resolve("What does DEPSECDEF approve?")
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "DEPSECDEF", res.Mentions[0].Best().EntityID)
	for _, c := range res.Mentions[0].Candidates {
		assert.NotEqual(t, "SECDEF", c.EntityID)
	}
	assert.Empty(t, res.Flags)
}

func TestResolveFlagsSubstringOnlyAcronym(t *testing.T) {
	table := NewAliasTable([]domain.CanonicalEntity{
		{ID: "SECDEF", Name: "Secretary of Defense", Category: domain.CategoryRole},
	})
	r := NewResolver(table, Config{MinScore: 0.5})

	res := r.Resolve("Who is DEPSECDEF?")

	assert.Empty(t, res.Mentions)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, "DEPSECDEF", res.Flags[0].Token)
	assert.Equal(t, "SECDEF", res.Flags[0].EntityID)
}

func TestResolveMultiWordName(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("What is Security Cooperation?")

	require.Len(t, res.Mentions, 1)
	best := res.Mentions[0].Best()
	assert.Equal(t, "SC", best.EntityID)
	assert.Equal(t, domain.MatchExact, best.Match)
	assert.Equal(t, 1.0, best.Score)
	assert.Equal(t, "Security Cooperation", res.Mentions[0].Text)
}

func TestResolvePrefersLongestMatch(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("Does the Defense Security Cooperation Agency manage this?")

	assert.Equal(t, []string{"DSCA"}, mentionIDs(res))
}

func TestResolveTieBreaksOnAdjacentCategoryCue(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("Which office is PM responsible to?")
	require.Len(t, res.Mentions, 1)
	require.Len(t, res.Mentions[0].Candidates, 2)
	assert.Equal(t, "PM_BUREAU", res.Mentions[0].Best().EntityID)

	res = r.Resolve("What does the director PM sign?")
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "PM_ROLE", res.Mentions[0].Best().EntityID)

	res = r.Resolve("PM")
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "PM_BUREAU", res.Mentions[0].Best().EntityID, "falls back to entity id order")
}

func TestResolveCaseFoldedAcronymScoresLower(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("what does dsca do")

	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "DSCA", res.Mentions[0].Best().EntityID)
	assert.Equal(t, foldedAcronymScore, res.Mentions[0].Best().Score)
}

func TestResolveShortAcronymRequiresExactCase(t *testing.T) {
	r := NewResolver(NewAliasTable([]domain.CanonicalEntity{
		{ID: "US", Name: "United States", Category: domain.CategoryOrganization},
		{ID: "IT", Name: "Information Technology", Category: domain.CategoryConcept},
	}), Config{MinScore: 0.5, FuzzyMinScore: 0.92})

	res := r.Resolve("can you tell us what it covers")
	assert.Empty(t, res.Mentions)

	res = r.Resolve("Does the US fund IT programs?")
	assert.ElementsMatch(t, []string{"US", "IT"}, mentionIDs(res))
	for _, m := range res.Mentions {
		assert.Equal(t, 1.0, m.Best().Score)
	}
}

func TestResolveFuzzyFallback(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("Explain Security Cooperaton")

	require.Len(t, res.Mentions, 1)
	best := res.Mentions[0].Best()
	assert.Equal(t, "SC", best.EntityID)
	assert.Equal(t, domain.MatchFuzzy, best.Match)
	assert.Less(t, best.Score, 1.0)
}

func TestResolveDropsBelowMinScore(t *testing.T) {
	r := NewResolver(NewAliasTable(testEntities()), Config{MinScore: 0.9})

	res := r.Resolve("what does dsca do")

	assert.Empty(t, res.Mentions)
}

func TestResolveNoEntities(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve("How long does it usually take?")

	assert.Empty(t, res.Mentions)
	assert.Empty(t, res.SeedIDs())
}

type fakeSource struct {
	entities []domain.CanonicalEntity
	err      error
}

func (f fakeSource) ListEntities(context.Context) ([]domain.CanonicalEntity, error) {
	return f.entities, f.err
}

func TestBuildAliasTableMergesFileAndGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	content := `entities:
  - id: DSCA
    name: Defense Security Cooperation Agency
    category: organization
    aliases: ["the Agency"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table := BuildAliasTable(context.Background(), path, fakeSource{entities: []domain.CanonicalEntity{
		{ID: "DSCA", Aliases: []string{"Defense Security Cooperation Agency (DSCA)"}},
		{ID: "SC", Name: "Security Cooperation", Category: domain.CategoryConcept},
	}})

	assert.Equal(t, 2, table.Len())
	e, ok := table.Entity("DSCA")
	require.True(t, ok)
	assert.Equal(t, domain.CategoryOrganization, e.Category)
	assert.Equal(t, "alias_file", e.Extra["source"])

	r := NewResolver(table, Config{MinScore: 0.5})
	assert.Equal(t, []string{"DSCA"}, mentionIDs(r.Resolve("Who leads the Agency?")))
}

func TestBuildAliasTableSurvivesFailingSources(t *testing.T) {
	table := BuildAliasTable(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"),
		fakeSource{err: errors.New("graph down")})

	assert.Zero(t, table.Len())
	assert.Empty(t, NewResolver(table, Config{}).Resolve("What is SC?").Mentions)
}
