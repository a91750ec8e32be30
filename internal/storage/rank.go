package storage

import (
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/models"
)

const maxLoggedMismatches = 5

// ranker scores messages in process for the stores that have no native vector index.
type ranker struct {
	q          Query
	logger     *zap.Logger
	cands      []Candidate
	mismatched int
	sampleIDs  []string
}

func newRanker(q Query, logger *zap.Logger) *ranker {
	return &ranker{q: q, logger: logger}
}

func (f Filter) matches(m *models.Message) bool {
	if f.Role != "" && m.Role != f.Role {
		return false
	}
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	return true
}

// offer scores m if it passes the filter and carries a usable embedding.
func (r *ranker) offer(m *models.Message) {
	if m.Embedding == nil || !r.q.Filter.matches(m) {
		return
	}
	if len(m.Embedding) != len(r.q.Vector) {
		r.mismatched++
		if len(r.sampleIDs) < maxLoggedMismatches {
			r.sampleIDs = append(r.sampleIDs, m.MessageID)
		}
		return
	}
	r.cands = append(r.cands, Candidate{Message: m, Distance: r.q.Metric.Distance(r.q.Vector, m.Embedding)})
}

// result orders candidates closest first, ties by message_id, and keeps the first Limit.
func (r *ranker) result() []Candidate {
	if r.mismatched > 0 {
		r.logger.Warn("excluded stored embeddings with mismatched dimension",
			zap.Int("count", r.mismatched),
			zap.Int("expected", len(r.q.Vector)),
			zap.Strings("sample_message_ids", r.sampleIDs))
	}
	metric := r.q.Metric
	sort.Slice(r.cands, func(i, j int) bool {
		a, b := r.cands[i], r.cands[j]
		if a.Distance != b.Distance {
			return metric.Closer(a.Distance, b.Distance)
		}
		return a.Message.MessageID < b.Message.MessageID
	})
	if r.q.Limit > 0 && len(r.cands) > r.q.Limit {
		r.cands = r.cands[:r.q.Limit]
	}
	return r.cands
}
