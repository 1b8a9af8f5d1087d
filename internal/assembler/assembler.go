package assembler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/logger"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	markup     = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
)

type Config struct {
	Budget       int
	VectorWeight float64
	GraphWeight  float64
}

type Assembler struct {
	tokens TokenEstimator
	cfg    Config
}

func New(tokens TokenEstimator, cfg Config) *Assembler {
	if tokens == nil {
		tokens = RuneEstimator{}
	}
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = 1
	}
	if cfg.GraphWeight <= 0 {
		cfg.GraphWeight = 1
	}
	return &Assembler{tokens: tokens, cfg: cfg}
}

// Assemble ranks hits and paths on one relevance scale and fills the budget
// greedily. Items are included whole or not at all: an item larger than the
// whole budget is skipped, and selection stops at the first item that no
// longer fits.
func (a *Assembler) Assemble(hits []domain.VectorHit, paths []domain.GraphPath, budget int) domain.ContextBundle {
	if budget <= 0 {
		budget = a.cfg.Budget
	}

	candidates := make([]domain.ContextItem, 0, len(hits)+len(paths))
	for _, h := range hits {
		text := CleanText(h.Text)
		if text == "" {
			continue
		}
		candidates = append(candidates, domain.ContextItem{
			Source:    domain.SourceVector,
			ID:        h.ChunkID,
			Text:      text,
			Score:     a.cfg.VectorWeight * h.Score,
			SectionID: h.SectionID,
		})
	}
	for _, p := range paths {
		if p.Length() == 0 {
			continue
		}
		candidates = append(candidates, domain.ContextItem{
			Source:    domain.SourceGraph,
			ID:        p.Key(),
			Text:      p.String(),
			Score:     a.cfg.GraphWeight * p.Score,
			SectionID: pathSection(p),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		x, y := candidates[i], candidates[j]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.Source != y.Source {
			return x.Source.Rank() < y.Source.Rank()
		}
		return x.ID < y.ID
	})

	bundle := domain.ContextBundle{Budget: budget}
	for i, item := range candidates {
		item.Tokens = a.tokens.Count(item.Text)
		if item.Tokens > budget {
			logger.Debug("Context item larger than budget, skipped",
				zap.String("id", item.ID),
				zap.Int("tokens", item.Tokens),
			)
			bundle.Excluded++
			continue
		}
		if bundle.TotalTokens+item.Tokens > budget {
			bundle.Excluded += len(candidates) - i
			break
		}
		bundle.Items = append(bundle.Items, item)
		bundle.TotalTokens += item.Tokens
	}

	return bundle
}

// Render formats the bundle for the prompt. Section ids are emitted so the
// backend can cite them.
func Render(bundle domain.ContextBundle) string {
	var b strings.Builder
	for i, item := range bundle.Items {
		switch item.Source {
		case domain.SourceGraph:
			fmt.Fprintf(&b, "[%d] (graph) %s\n", i+1, item.Text)
		default:
			if item.SectionID != "" {
				fmt.Fprintf(&b, "[%d] (section %s) %s\n", i+1, item.SectionID, item.Text)
			} else {
				fmt.Fprintf(&b, "[%d] %s\n", i+1, item.Text)
			}
		}
	}
	return b.String()
}

// CleanText reduces markup to text and collapses whitespace.
func CleanText(text string) string {
	if markup.MatchString(text) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err == nil {
			doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
				s.Remove()
			})
			text = doc.Text()
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func pathSection(p domain.GraphPath) string {
	for _, t := range p.Triples {
		if t.Object.Category == domain.CategoryDocument {
			return t.Object.ID
		}
	}
	return ""
}
