package entity

import (
	"sort"
	"strings"

	"github.com/xrash/smetrics"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/utils"
)

const (
	// Acronym aliases matched only case-insensitively ("secdef") score lower
	// than an exact-case hit but still outrank any fuzzy match.
	foldedAcronymScore = 0.8
	// Shorter acronyms ("US", "IT") collide with ordinary words once case is
	// folded, so they only match in exact case.
	minFoldedAcronymLen = 3
	fuzzyDiscount      = 0.8
	cueWindow          = 3
	minFuzzyTokenLen   = 4
)

var categoryCues = map[domain.EntityCategory][]string{
	domain.CategoryOrganization: {"agency", "office", "department", "directorate", "command", "bureau", "organization", "activity"},
	domain.CategoryRole:         {"secretary", "director", "officer", "deputy", "chief", "undersecretary", "head", "administrator"},
	domain.CategoryProgram:      {"program", "programme", "initiative", "fund", "funding", "account"},
	domain.CategoryConcept:      {"concept", "term", "definition", "define", "mean", "meaning"},
	domain.CategoryDocument:     {"manual", "chapter", "section", "directive", "instruction", "policy", "table", "figure"},
	domain.CategoryProcess:      {"process", "procedure", "steps", "approval", "request", "submit", "submission"},
}

type Config struct {
	MinScore      float64
	FuzzyMinScore float64
}

type Resolver struct {
	table         *AliasTable
	minScore      float64
	fuzzyMinScore float64
	cues          map[string]domain.EntityCategory
}

func NewResolver(table *AliasTable, cfg Config) *Resolver {
	if table == nil {
		table = NewAliasTable(nil)
	}
	if cfg.FuzzyMinScore <= 0 {
		cfg.FuzzyMinScore = 0.92
	}

	cues := make(map[string]domain.EntityCategory)
	for category, words := range categoryCues {
		for _, w := range words {
			cues[w] = category
		}
	}

	return &Resolver{
		table:         table,
		minScore:      cfg.MinScore,
		fuzzyMinScore: cfg.FuzzyMinScore,
		cues:          cues,
	}
}

// Resolve maps the question's mentions to canonical entities. Exact
// full-token alias matches are taken first and consume their tokens; fuzzy
// scoring only sees what is left. Tokens that merely contain a known acronym
// are reported as flags and never resolved.
func (r *Resolver) Resolve(question string) domain.Resolution {
	tokens := utils.Tokenize(question)
	lower := utils.LowerAll(tokens)
	consumed := make([]bool, len(tokens))

	var mentions []domain.EntityMention
	mentions = append(mentions, r.exactPhase(tokens, lower, consumed)...)
	flags := r.substringPhase(tokens, consumed)
	mentions = append(mentions, r.fuzzyPhase(tokens, lower, consumed)...)

	kept := mentions[:0]
	for _, m := range mentions {
		if m.Best().Score < r.minScore {
			logger.Debug("Entity mention dropped below min score",
				zap.String("mention", m.Text),
				zap.Float64("score", m.Best().Score),
			)
			continue
		}
		kept = append(kept, m)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	return domain.Resolution{Mentions: kept, Flags: flags}
}

func (r *Resolver) exactPhase(tokens, lower []string, consumed []bool) []domain.EntityMention {
	var mentions []domain.EntityMention

	for i := 0; i < len(tokens); {
		matched := 0
		maxLen := r.table.maxTokens
		if rest := len(tokens) - i; rest < maxLen {
			maxLen = rest
		}

		for n := maxLen; n >= 1; n-- {
			entries := r.table.lookup(strings.Join(lower[i:i+n], " "))
			if len(entries) == 0 {
				continue
			}

			surface := strings.Join(tokens[i:i+n], " ")
			scores := make(map[string]float64)
			for _, e := range entries {
				score := 1.0
				if e.acronym && e.surface != surface {
					if len(e.surface) < minFoldedAcronymLen {
						continue
					}
					score = foldedAcronymScore
				}
				if score > scores[e.entityID] {
					scores[e.entityID] = score
				}
			}
			if len(scores) == 0 {
				continue
			}

			mentions = append(mentions, r.mention(tokens, lower, i, i+n, scores, domain.MatchExact))
			matched = n
			break
		}

		if matched == 0 {
			i++
			continue
		}
		for k := i; k < i+matched; k++ {
			consumed[k] = true
		}
		i += matched
	}

	return mentions
}

func (r *Resolver) substringPhase(tokens []string, consumed []bool) []domain.SubstringFlag {
	var flags []domain.SubstringFlag

	for i, tok := range tokens {
		if consumed[i] || !utils.IsAcronym(tok) {
			continue
		}
		for _, a := range r.table.acronyms {
			if tok != a.surface && strings.Contains(tok, a.surface) {
				flags = append(flags, domain.SubstringFlag{
					Token:    tok,
					Alias:    a.surface,
					EntityID: a.entityID,
				})
			}
		}
	}

	if len(flags) > 0 {
		logger.Info("Substring-only acronym hits flagged for review", zap.Int("flags", len(flags)))
	}
	return flags
}

func (r *Resolver) fuzzyPhase(tokens, lower []string, consumed []bool) []domain.EntityMention {
	var mentions []domain.EntityMention

	eligible := func(i int) bool {
		return !consumed[i] && utils.IsWord(tokens[i]) && !utils.IsAcronym(tokens[i])
	}

	// Bigrams first so a two-word alias is not split into two weaker hits.
	for n := 2; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			ok := true
			for k := i; k < i+n; k++ {
				if !eligible(k) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			phrase := strings.Join(lower[i:i+n], " ")
			if len(phrase) < minFuzzyTokenLen {
				continue
			}

			scores := make(map[string]float64)
			for _, a := range r.table.fuzzy {
				if a.tokens != n {
					continue
				}
				sim := smetrics.JaroWinkler(phrase, a.lower, 0.7, 4)
				if sim < r.fuzzyMinScore {
					continue
				}
				if score := sim * fuzzyDiscount; score > scores[a.entityID] {
					scores[a.entityID] = score
				}
			}
			if len(scores) == 0 {
				continue
			}

			mentions = append(mentions, r.mention(tokens, lower, i, i+n, scores, domain.MatchFuzzy))
			for k := i; k < i+n; k++ {
				consumed[k] = true
			}
		}
	}

	return mentions
}

func (r *Resolver) mention(tokens, lower []string, start, end int, scores map[string]float64, kind domain.MatchKind) domain.EntityMention {
	nearby := r.nearbyCategories(lower, start, end)

	candidates := make([]domain.EntityCandidate, 0, len(scores))
	for id, score := range scores {
		e, _ := r.table.Entity(id)
		candidates = append(candidates, domain.EntityCandidate{
			EntityID: id,
			Name:     e.Name,
			Category: e.Category,
			Score:    score,
			Match:    kind,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ca, cb := nearby[a.Category], nearby[b.Category]; ca != cb {
			return ca
		}
		return a.EntityID < b.EntityID
	})

	return domain.EntityMention{
		Text:       strings.Join(tokens[start:end], " "),
		Start:      start,
		End:        end,
		Candidates: candidates,
	}
}

func (r *Resolver) nearbyCategories(lower []string, start, end int) map[domain.EntityCategory]bool {
	found := make(map[domain.EntityCategory]bool)
	from := start - cueWindow
	if from < 0 {
		from = 0
	}
	to := end + cueWindow
	if to > len(lower) {
		to = len(lower)
	}
	for i := from; i < to; i++ {
		if i >= start && i < end {
			continue
		}
		if category, ok := r.cues[lower[i]]; ok {
			found[category] = true
		}
	}
	return found
}
