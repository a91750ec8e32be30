package models

import (
	"math"
	"slices"
	"strings"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/vector"
)

// SearchQuery is a fully resolved search request: every field carries an effective value.
type SearchQuery struct {
	Query          string        `json:"query"`
	Limit          int           `json:"limit"`
	Threshold      float64       `json:"threshold"`
	Role           string        `json:"role,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Metric         vector.Metric `json:"metric"`
}

// Validate checks every field and reports the first violated constraint.
// Out-of-range limits are rejected, never clamped. An empty roles list accepts any role.
func (q *SearchQuery) Validate(maxLimit int, roles []string) error {
	if strings.TrimSpace(q.Query) == "" {
		return apperr.New(apperr.InvalidQuery, "query must not be empty")
	}
	if q.Limit < 1 || q.Limit > maxLimit {
		return apperr.New(apperr.InvalidParameter, "limit must be between 1 and %d, got %d", maxLimit, q.Limit)
	}
	if !q.Metric.Valid() {
		return apperr.New(apperr.InvalidParameter, "unknown metric %q (want one of cosine, l2, inner_product)", q.Metric)
	}
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) {
		return apperr.New(apperr.InvalidParameter, "threshold must be a finite number")
	}
	if lo, hi := q.Metric.ThresholdRange(); q.Threshold < lo || q.Threshold > hi {
		return apperr.New(apperr.InvalidParameter, "threshold for %s must be between %g and %g, got %g", q.Metric, lo, hi, q.Threshold)
	}
	if q.Role != "" && len(roles) > 0 && !slices.Contains(roles, q.Role) {
		return apperr.New(apperr.InvalidParameter, "role must be one of %s, got %q", strings.Join(roles, ", "), q.Role)
	}
	return nil
}

// SearchRequest is the wire form of a search. Nil fields take the configured defaults.
type SearchRequest struct {
	Query          string   `json:"query"`
	Limit          *int     `json:"limit,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
	Role           *string  `json:"role,omitempty"`
	ConversationID *string  `json:"conversation_id,omitempty"`
	Metric         *string  `json:"metric,omitempty"`
}

// SearchDefaults are the values applied to absent request fields.
type SearchDefaults struct {
	Limit     int
	Threshold float64
	Metric    vector.Metric
}

// Resolve builds a SearchQuery from the request, filling absent fields from d.
// It does not validate ranges; an unparseable metric is the only error.
func (r *SearchRequest) Resolve(d SearchDefaults) (*SearchQuery, error) {
	q := &SearchQuery{
		Query:     r.Query,
		Limit:     d.Limit,
		Threshold: d.Threshold,
		Metric:    d.Metric,
	}
	if r.Limit != nil {
		q.Limit = *r.Limit
	}
	if r.Threshold != nil {
		q.Threshold = *r.Threshold
	}
	if r.Role != nil {
		q.Role = strings.TrimSpace(*r.Role)
	}
	if r.ConversationID != nil {
		q.ConversationID = *r.ConversationID
	}
	if r.Metric != nil && strings.TrimSpace(*r.Metric) != "" {
		m, err := vector.ParseMetric(*r.Metric)
		if err != nil {
			return nil, apperr.New(apperr.InvalidParameter, "%s", err.Error())
		}
		q.Metric = m
	}
	return q, nil
}
