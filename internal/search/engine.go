// Package search ranks stored messages against a natural-language query.
package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
)

// Engine encodes queries and ranks stored messages by vector similarity. It holds no
// per-query state and never writes to the store, so one Engine serves concurrent callers.
type Engine struct {
	store    storage.Store
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(store storage.Store, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search validates q, embeds its text, ranks stored messages and returns those whose
// similarity reaches q.Threshold, most similar first with ties broken by message_id.
// An empty slice means nothing matched; it is never an error.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) ([]*models.SearchResult, error) {
	start := time.Now()
	if err := ProcessQuery(q, e.config); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, q.Query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(apperr.EncodingFailure, err, "could not encode query")
	}
	if len(vec) != e.embedder.Dimensions() {
		return nil, apperr.New(apperr.EncodingFailure,
			"encoder returned %d dimensions, expected %d", len(vec), e.embedder.Dimensions())
	}
	encoded := time.Now()

	cands, err := e.store.RankBySimilarity(ctx, storage.Query{
		Vector: vec,
		Metric: q.Metric,
		Limit:  q.Limit,
		Filter: storage.Filter{Role: q.Role, ConversationID: q.ConversationID},
	})
	if err != nil {
		return nil, classifyStoreErr(ctx, err)
	}

	results := make([]*models.SearchResult, 0, len(cands))
	for _, c := range cands {
		sim := q.Metric.Similarity(c.Distance)
		if sim < q.Threshold {
			continue
		}
		results = append(results, models.NewSearchResult(c.Message, sim))
	}
	sortResults(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	e.logger.Debug("search complete",
		zap.String("metric", string(q.Metric)),
		zap.Int("limit", q.Limit),
		zap.Int("candidates", len(cands)),
		zap.Int("results", len(results)),
		zap.Duration("encode", encoded.Sub(start)),
		zap.Duration("rank", time.Since(encoded)))
	return results, nil
}

// sortResults orders by similarity descending, then message_id ascending.
func sortResults(results []*models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].MessageID < results[j].MessageID
	})
}

// Stats passes through to the store.
func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return nil, classifyStoreErr(ctx, err)
	}
	return st, nil
}

// Ping reports whether the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Model returns the embedder's model identifier.
func (e *Engine) Model() string {
	return e.embedder.Model()
}

// classifyStoreErr keeps classified and context errors, and treats anything else from
// the store as a failed round-trip.
func classifyStoreErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.StoreUnavailable, err, "vector store request failed")
}
