package traversal

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/logger"
)

// HardMaxHops bounds traversal regardless of configuration.
const HardMaxHops = 4

type GraphStore interface {
	Expand(ctx context.Context, ids []string, relationTypes []string, perNodeLimit int) ([]domain.Edge, error)
}

type Config struct {
	MaxHops      int
	PerHopLimit  int
	PerNodeLimit int
	MaxPaths     int
	LengthDecay  float64
}

type Traverser struct {
	store     GraphStore
	weights   RelationWeights
	cfg       Config
	onFailure func(source string)
}

type partial struct {
	path    domain.GraphPath
	visited map[string]bool
	tail    string
	sum     float64
}

func NewTraverser(store GraphStore, weights RelationWeights, cfg Config) *Traverser {
	if weights == nil {
		weights = DefaultRelationWeights()
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 2
	}
	if cfg.PerHopLimit <= 0 {
		cfg.PerHopLimit = 10
	}
	if cfg.PerNodeLimit <= 0 {
		cfg.PerNodeLimit = 25
	}
	if cfg.MaxPaths <= 0 {
		cfg.MaxPaths = 20
	}
	if cfg.LengthDecay <= 0 || cfg.LengthDecay > 1 {
		cfg.LengthDecay = 0.7
	}
	return &Traverser{store: store, weights: weights, cfg: cfg}
}

func (t *Traverser) OnFailure(fn func(source string)) {
	t.onFailure = fn
}

// Traverse expands breadth-first from every seed for at most maxHops hops
// (the configured bound when maxHops <= 0). Paths never revisit an entity,
// each hop keeps only the best PerHopLimit new paths, and at most MaxPaths
// are returned, best first. A store failure ends traversal with the paths
// found so far.
func (t *Traverser) Traverse(ctx context.Context, seeds []string, intent domain.IntentLabel, maxHops int) []domain.GraphPath {
	if maxHops <= 0 {
		maxHops = t.cfg.MaxHops
	}
	if maxHops > HardMaxHops {
		maxHops = HardMaxHops
	}

	weights := t.weights.For(intent)
	allow := t.weights.AllowList(intent)

	frontier := make([]partial, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		frontier = append(frontier, partial{visited: map[string]bool{id: true}, tail: id})
	}
	if len(frontier) == 0 {
		return nil
	}

	var results []domain.GraphPath

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		if ctx.Err() != nil {
			break
		}

		edges, err := t.store.Expand(ctx, tails(frontier), allow, t.cfg.PerNodeLimit)
		if err != nil {
			logger.Warn("Graph expansion failed, returning partial paths",
				zap.Int("hop", hop),
				zap.Int("paths", len(results)),
				zap.Error(err),
			)
			if t.onFailure != nil {
				t.onFailure("graph")
			}
			break
		}

		byTail := make(map[string][]domain.Edge)
		for _, e := range edges {
			byTail[e.From.ID] = append(byTail[e.From.ID], e)
		}

		var next []partial
		for _, p := range frontier {
			for _, e := range byTail[p.tail] {
				weight, ok := weights[e.Relation]
				if !ok || e.To.ID == "" || p.visited[e.To.ID] {
					continue
				}
				next = append(next, t.extend(p, e, weight))
			}
		}

		sort.Slice(next, func(i, j int) bool {
			if next[i].path.Score != next[j].path.Score {
				return next[i].path.Score > next[j].path.Score
			}
			return next[i].path.Key() < next[j].path.Key()
		})
		if len(next) > t.cfg.PerHopLimit {
			next = next[:t.cfg.PerHopLimit]
		}

		for _, p := range next {
			results = append(results, p.path)
		}
		frontier = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key() < results[j].Key()
	})
	if len(results) > t.cfg.MaxPaths {
		results = results[:t.cfg.MaxPaths]
	}

	logger.Debug("Graph traversal completed",
		zap.Int("seeds", len(seen)),
		zap.Int("max_hops", maxHops),
		zap.Int("paths", len(results)),
	)
	return results
}

func (t *Traverser) extend(p partial, e domain.Edge, weight float64) partial {
	confidence := math.Max(0, math.Min(1, e.Confidence))

	triples := make([]domain.Triple, len(p.path.Triples), len(p.path.Triples)+1)
	copy(triples, p.path.Triples)
	triples = append(triples, domain.Triple{
		Subject:  e.From,
		Relation: e.Relation,
		Object:   e.To,
		Inverse:  !e.Outgoing,
	})

	visited := make(map[string]bool, len(p.visited)+1)
	for id := range p.visited {
		visited[id] = true
	}
	visited[e.To.ID] = true

	sum := p.sum + weight*confidence
	n := len(triples)
	score := (sum / float64(n)) * math.Pow(t.cfg.LengthDecay, float64(n-1))

	return partial{
		path:    domain.GraphPath{Triples: triples, Score: score},
		visited: visited,
		tail:    e.To.ID,
		sum:     sum,
	}
}

func tails(frontier []partial) []string {
	seen := make(map[string]bool, len(frontier))
	out := make([]string, 0, len(frontier))
	for _, p := range frontier {
		if seen[p.tail] {
			continue
		}
		seen[p.tail] = true
		out = append(out, p.tail)
	}
	sort.Strings(out)
	return out
}
