package domain

import (
	"fmt"
	"strings"
	"time"
)

// Question is immutable for the lifetime of one request.
type Question struct {
	Text   string
	UserID string
	CaseID string
}

type IntentLabel string

const (
	IntentDefinition         IntentLabel = "definition"
	IntentProcedural         IntentLabel = "procedural"
	IntentOrganizationalRole IntentLabel = "organizational_role"
	IntentFactualLookup      IntentLabel = "factual_lookup"
)

// IntentLabels is the fixed label set, in tie-break order.
var IntentLabels = []IntentLabel{
	IntentDefinition,
	IntentProcedural,
	IntentOrganizationalRole,
	IntentFactualLookup,
}

func ParseIntentLabel(s string) (IntentLabel, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, label := range IntentLabels {
		if string(label) == normalized {
			return label, true
		}
	}
	return "", false
}

type Intent struct {
	Label      IntentLabel `json:"label"`
	Confidence float64     `json:"confidence"`
	Uncertain  bool        `json:"uncertain"`
}

type EntityCategory string

const (
	CategoryOrganization EntityCategory = "organization"
	CategoryRole         EntityCategory = "role"
	CategoryProgram      EntityCategory = "program"
	CategoryConcept      EntityCategory = "concept"
	CategoryDocument     EntityCategory = "document"
	CategoryProcess      EntityCategory = "process"
)

// CanonicalEntity is owned by the graph store; the core only reads it.
type CanonicalEntity struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Aliases  []string       `json:"aliases" yaml:"aliases"`
	Category EntityCategory `json:"category" yaml:"category"`
	// Extra carries provenance only; nothing branches on it.
	Extra map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

type EntityCandidate struct {
	EntityID string         `json:"entity_id"`
	Name     string         `json:"name"`
	Category EntityCategory `json:"category"`
	Score    float64        `json:"score"`
	Match    MatchKind      `json:"match"`
}

type EntityMention struct {
	Text       string            `json:"text"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Candidates []EntityCandidate `json:"candidates"`
}

// Best returns the top-ranked candidate.
func (m EntityMention) Best() EntityCandidate {
	if len(m.Candidates) == 0 {
		return EntityCandidate{}
	}
	return m.Candidates[0]
}

// SubstringFlag records a token that only contained a known acronym. It is
// never resolved to that acronym's entity.
type SubstringFlag struct {
	Token    string `json:"token"`
	Alias    string `json:"alias"`
	EntityID string `json:"entity_id"`
}

type Resolution struct {
	Mentions []EntityMention `json:"mentions"`
	Flags    []SubstringFlag `json:"flags,omitempty"`
}

// SeedIDs returns the best candidate of each mention, deduplicated, in mention order.
func (r Resolution) SeedIDs() []string {
	seen := make(map[string]bool, len(r.Mentions))
	ids := make([]string, 0, len(r.Mentions))
	for _, m := range r.Mentions {
		id := m.Best().EntityID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// MeanScore is the mean best-candidate score, zero without mentions.
func (r Resolution) MeanScore() float64 {
	if len(r.Mentions) == 0 {
		return 0
	}
	var total float64
	for _, m := range r.Mentions {
		total += m.Best().Score
	}
	return total / float64(len(r.Mentions))
}

type VectorHit struct {
	ChunkID   string  `json:"chunk_id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	SectionID string  `json:"section_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	DocURL    string  `json:"doc_url,omitempty"`
}

type EntityRef struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category EntityCategory `json:"category,omitempty"`
}

// Edge is one relationship returned by the graph store, oriented away from From.
type Edge struct {
	From       EntityRef `json:"from"`
	To         EntityRef `json:"to"`
	Relation   string    `json:"relation"`
	Confidence float64   `json:"confidence"`
	// Outgoing is false when the stored relationship points at From.
	Outgoing  bool   `json:"outgoing"`
	SectionID string `json:"section_id,omitempty"`
}

// Triple follows the walk direction. Inverse is set when the stored
// relationship points from Object to Subject.
type Triple struct {
	Subject  EntityRef `json:"subject"`
	Relation string    `json:"relation"`
	Object   EntityRef `json:"object"`
	Inverse  bool      `json:"inverse,omitempty"`
}

type GraphPath struct {
	Triples []Triple `json:"triples"`
	Score   float64  `json:"score"`
}

func (p GraphPath) Length() int {
	return len(p.Triples)
}

// Entities lists every entity on the path from the seed outward.
func (p GraphPath) Entities() []EntityRef {
	if len(p.Triples) == 0 {
		return nil
	}
	out := make([]EntityRef, 0, len(p.Triples)+1)
	out = append(out, p.Triples[0].Subject)
	for _, t := range p.Triples {
		out = append(out, t.Object)
	}
	return out
}

// Key identifies a path by its entity and relation sequence.
func (p GraphPath) Key() string {
	var b strings.Builder
	for i, t := range p.Triples {
		if i == 0 {
			b.WriteString(t.Subject.ID)
		}
		if t.Inverse {
			fmt.Fprintf(&b, "<-%s-%s", t.Relation, t.Object.ID)
			continue
		}
		fmt.Fprintf(&b, "-%s->%s", t.Relation, t.Object.ID)
	}
	return b.String()
}

func (p GraphPath) String() string {
	var b strings.Builder
	for i, t := range p.Triples {
		if i == 0 {
			b.WriteString(displayName(t.Subject))
		}
		if t.Inverse {
			fmt.Fprintf(&b, " <--%s-- %s", t.Relation, displayName(t.Object))
			continue
		}
		fmt.Fprintf(&b, " --%s--> %s", t.Relation, displayName(t.Object))
	}
	return b.String()
}

func displayName(e EntityRef) string {
	if e.Name == "" || e.Name == e.ID {
		return e.ID
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.ID)
}

type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// Rank orders sources for deterministic tie-breaks.
func (s Source) Rank() int {
	switch s {
	case SourceVector:
		return 0
	case SourceGraph:
		return 1
	default:
		return 2
	}
}

type ContextItem struct {
	Source    Source  `json:"source"`
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Tokens    int     `json:"tokens"`
	SectionID string  `json:"section_id,omitempty"`
}

type ContextBundle struct {
	Items       []ContextItem `json:"items"`
	TotalTokens int           `json:"total_tokens"`
	Budget      int           `json:"budget"`
	Excluded    int           `json:"excluded"`
}

func (b ContextBundle) SectionIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, item := range b.Items {
		if item.SectionID == "" || seen[item.SectionID] {
			continue
		}
		seen[item.SectionID] = true
		ids = append(ids, item.SectionID)
	}
	return ids
}

type AnswerStatus string

const (
	AnswerGenerated AnswerStatus = "generated"
	AnswerOverride  AnswerStatus = "override"
	AnswerFailed    AnswerStatus = "failed"
)

type Answer struct {
	Text          string        `json:"text"`
	Citations     []string      `json:"citations"`
	Latency       time.Duration `json:"latency"`
	Status        AnswerStatus  `json:"status"`
	Attempts      int           `json:"attempts"`
	FailureReason string        `json:"failure_reason,omitempty"`
	OverrideID    string        `json:"override_id,omitempty"`
}

func (a Answer) OverrideSourced() bool {
	return a.Status == AnswerOverride
}

func (a Answer) Failed() bool {
	return a.Status == AnswerFailed
}

type ConfidenceScore struct {
	Value           float64 `json:"value"`
	IntentComponent float64 `json:"intent_component"`
	EntityComponent float64 `json:"entity_component"`
	RetrievalSignal float64 `json:"retrieval_signal"`
}
