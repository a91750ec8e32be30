// Package storage defines the vector store the search engine ranks against, and its
// Postgres/pgvector, SQLite, Qdrant and in-memory implementations.
package storage

import (
	"context"
	"sort"

	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/vector"
)

// Filter is an exact-match pre-filter applied before ranking. Empty fields match everything.
type Filter struct {
	Role           string
	ConversationID string
}

// Query asks for the Limit stored messages closest to Vector under Metric.
type Query struct {
	Vector []float32
	Metric vector.Metric
	Limit  int
	Filter Filter
}

// Candidate is a ranked message with its raw metric score (see vector.Metric.Distance).
type Candidate struct {
	Message  *models.Message
	Distance float64
}

// Store is the read side used by search. Messages without an embedding, or whose
// embedding has a different dimension than the query, never appear in results.
// Candidates are ordered closest first, ties broken by message_id ascending.
type Store interface {
	RankBySimilarity(ctx context.Context, q Query) ([]Candidate, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Writer is the ingestion side. Messages are upserted by message_id.
type Writer interface {
	UpsertMessages(ctx context.Context, msgs []*models.Message) error
	DeleteAll(ctx context.Context) error
}

// ReadWriter is a store that also accepts writes.
type ReadWriter interface {
	Store
	Writer
}

// rankFetchAhead is how many rows past the limit index-ordered backends fetch, so that
// ties on distance at the cut are broken by message_id rather than by scan order.
const rankFetchAhead = 8

// rankCandidates orders out closest first under metric, ties by message_id ascending, and
// keeps at most limit entries.
func rankCandidates(out []Candidate, metric vector.Metric, limit int) []Candidate {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return metric.Closer(out[i].Distance, out[j].Distance)
		}
		return out[i].Message.MessageID < out[j].Message.MessageID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
