// Package service is the boundary between transports (HTTP, CLI) and the search engine.
// It applies request defaults, retries transient store failures and builds the response
// envelope.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/vector"
)

// Searcher is the engine surface the service drives.
type Searcher interface {
	Search(ctx context.Context, q *models.SearchQuery) ([]*models.SearchResult, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Service resolves requests and calls the engine.
type Service struct {
	engine   Searcher
	config   *config.SearchConfig
	defaults models.SearchDefaults
	logger   *zap.Logger
}

// New builds a Service. The configured default metric must parse.
func New(engine Searcher, cfg *config.SearchConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metric, err := vector.ParseMetric(cfg.DefaultMetric)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidParameter, err, "search.default_metric")
	}
	return &Service{
		engine: engine,
		config: cfg,
		defaults: models.SearchDefaults{
			Limit:     cfg.DefaultLimit,
			Threshold: cfg.ThresholdOrDefault(),
			Metric:    metric,
		},
		logger: logger,
	}, nil
}

// Defaults returns the values applied to absent request fields.
func (s *Service) Defaults() models.SearchDefaults {
	return s.defaults
}

// Search resolves req against the defaults, runs it, and wraps the results in the
// response envelope. A StoreUnavailable failure is retried with exponential backoff up
// to the configured number of attempts; a done context stops retrying.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	q, err := req.Resolve(s.defaults)
	if err != nil {
		return nil, err
	}
	if s.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
		defer cancel()
	}

	var results []*models.SearchResult
	err = s.withRetry(ctx, "search", func() error {
		var err error
		results, err = s.engine.Search(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &models.SearchResponse{
		Query:     q.Query,
		Results:   results,
		Total:     len(results),
		Limit:     q.Limit,
		Threshold: q.Threshold,
		Metric:    string(q.Metric),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Stats returns corpus counts, retried like Search.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	var st *models.Stats
	err := s.withRetry(ctx, "stats", func() error {
		var err error
		st, err = s.engine.Stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	retries := s.config.RetryAttemptsOrDefault()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= retries || !apperr.KindOf(err).Retryable() || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("store unavailable, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

var _ Searcher = (*search.Engine)(nil)
