package memory

import (
	"context"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
)

// RetrieveOptions tune a context retrieval. Zero values fall back to the
// bank's configured defaults.
type RetrieveOptions struct {
	// ExcludeSessionID drops the named session from candidates so a
	// session never retrieves itself.
	ExcludeSessionID string
	// Limit caps the number of returned contexts.
	Limit int
	// Threshold is the minimum similarity score to include.
	Threshold float64
}

// RetrieveContext returns past sessions whose dataset shape resembles the
// given schema, most similar first and newest first among ties. An empty
// bank yields an empty slice.
func (b *Bank) RetrieveContext(ctx context.Context, schema dataset.Schema, opts RetrieveOptions) ([]RetrievedContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = b.cfg.RetrievalLimit
	}
	if limit <= 0 {
		limit = 5
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = b.cfg.SimilarityThreshold
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	paths, err := b.listSessionPaths()
	if err != nil {
		return nil, err
	}

	matches := make([]RetrievedContext, 0, limit)
	for _, path := range paths {
		if opts.ExcludeSessionID != "" && filepath.Base(path) == opts.ExcludeSessionID+".json" {
			continue
		}

		rec, loadErr := loadRecord(path)
		if loadErr != nil {
			b.quarantine(ctx, path, loadErr)
			continue
		}

		score := Similarity(schema, rec.Session.Schema, b.cfg.TypeWeight)
		if score < threshold {
			continue
		}
		matches = append(matches, RetrievedContext{
			SessionID:  rec.Session.ID,
			Dataset:    rec.Session.Dataset,
			Similarity: score,
			Insights:   rec.Session.Insights,
			CreatedAt:  rec.Session.CreatedAt,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].SessionID > matches[j].SessionID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	if b.retrievalsTotal != nil {
		b.retrievalsTotal.Add(ctx, 1)
	}
	b.logger.Debug(ctx, "context retrieved",
		zap.Int("candidates", len(paths)),
		zap.Int("matches", len(matches)),
		zap.Float64("threshold", threshold))
	return matches, nil
}
