package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/llm"
	"github.com/policyqa/backend/pkg/logger"
)

type VectorStore interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.VectorHit, error)
	MaxTopK() int
}

// VectorRetriever never fails the request: an unreachable embedder or store
// yields an empty result and a logged warning. Retrying is the store
// client's job.
type VectorRetriever struct {
	embedder    llm.Embedder
	store       VectorStore
	defaultTopK int
	onFailure   func(source string)
}

func NewVectorRetriever(embedder llm.Embedder, store VectorStore, defaultTopK int) *VectorRetriever {
	if defaultTopK <= 0 {
		defaultTopK = 8
	}
	return &VectorRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}
}

// OnFailure registers a callback invoked when a source degrades to empty.
func (r *VectorRetriever) OnFailure(fn func(source string)) {
	r.onFailure = fn
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) []domain.VectorHit {
	if topK <= 0 {
		topK = r.defaultTopK
	}
	if limit := r.store.MaxTopK(); limit > 0 && topK > limit {
		topK = limit
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.degrade("embedding", err)
		return nil
	}

	hits, err := r.store.Search(ctx, embedding, topK)
	if err != nil {
		r.degrade("vector", err)
		return nil
	}

	hits = SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}

	logger.Debug("Vector retrieval completed",
		zap.Int("requested", topK),
		zap.Int("returned", len(hits)),
	)
	return hits
}

func (r *VectorRetriever) degrade(source string, err error) {
	logger.Warn("Retrieval source unavailable, continuing without it",
		zap.String("source", source),
		zap.Error(err),
	)
	if r.onFailure != nil {
		r.onFailure(source)
	}
}

// SortHits orders hits by score descending then chunk id ascending, keeping
// the best-scored copy of any repeated chunk.
func SortHits(hits []domain.VectorHit) []domain.VectorHit {
	out := make([]domain.VectorHit, len(hits))
	copy(out, hits)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	seen := make(map[string]bool, len(out))
	deduped := out[:0]
	for _, h := range out {
		if seen[h.ChunkID] {
			continue
		}
		seen[h.ChunkID] = true
		deduped = append(deduped, h)
	}
	return deduped
}
