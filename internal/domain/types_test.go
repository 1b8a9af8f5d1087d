package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionSeedsAndMean(t *testing.T) {
	r := Resolution{Mentions: []EntityMention{
		{Text: "SC", Candidates: []EntityCandidate{{EntityID: "SC", Score: 1}}},
		{Text: "DSCA", Candidates: []EntityCandidate{{EntityID: "DSCA", Score: 0.8}}},
		{Text: "Security Cooperation", Candidates: []EntityCandidate{{EntityID: "SC", Score: 0.9}}},
	}}

	assert.Equal(t, []string{"SC", "DSCA"}, r.SeedIDs())
	assert.InDelta(t, 0.9, r.MeanScore(), 1e-9)
	assert.Zero(t, Resolution{}.MeanScore())
}

func TestGraphPathRendering(t *testing.T) {
	p := GraphPath{Triples: []Triple{
		{Subject: EntityRef{ID: "DSCA", Name: "Defense Security Cooperation Agency"}, Relation: "reports_to", Object: EntityRef{ID: "USD(P)"}},
		{Subject: EntityRef{ID: "USD(P)"}, Relation: "reports_to", Object: EntityRef{ID: "SECDEF", Name: "SECDEF"}},
	}}

	assert.Equal(t, 2, p.Length())
	assert.Equal(t, "DSCA-reports_to->USD(P)-reports_to->SECDEF", p.Key())
	assert.Equal(t, "Defense Security Cooperation Agency (DSCA) --reports_to--> USD(P) --reports_to--> SECDEF", p.String())
	assert.Len(t, p.Entities(), 3)
}

func TestParseIntentLabel(t *testing.T) {
	label, ok := ParseIntentLabel("Organizational-Role")
	assert.True(t, ok)
	assert.Equal(t, IntentOrganizationalRole, label)

	_, ok = ParseIntentLabel("chit-chat")
	assert.False(t, ok)
}
