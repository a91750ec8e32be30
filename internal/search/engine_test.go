package search

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
)

// fixedEmbedder maps every text to the same vector.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.vec...), nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f *fixedEmbedder) Model() string   { return "fixed" }
func (f *fixedEmbedder) Close() error    { return nil }

// countingStore records how often ranking reached the store and can fail on demand.
type countingStore struct {
	storage.Store
	calls atomic.Int32
	err   error
}

func (c *countingStore) RankBySimilarity(ctx context.Context, q storage.Query) ([]storage.Candidate, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.RankBySimilarity(ctx, q)
}

func unit(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func testConfig() *config.SearchConfig {
	return &config.SearchConfig{
		DefaultLimit:  10,
		MaxLimit:      100,
		DefaultMetric: "cosine",
		Roles:         []string{"user", "assistant", "system", "tool"},
	}
}

func newTestEngine(t *testing.T, msgs ...*models.Message) (*Engine, *countingStore) {
	t.Helper()
	mem := storage.NewMemoryStore(nil)
	require.NoError(t, mem.UpsertMessages(context.Background(), msgs))
	store := &countingStore{Store: mem}
	return NewEngine(store, &fixedEmbedder{vec: []float32{1, 0}}, testConfig()), store
}

func query(text string, limit int, threshold float64) *models.SearchQuery {
	return &models.SearchQuery{Query: text, Limit: limit, Threshold: threshold, Metric: vector.MetricCosine}
}

func resultIDs(results []*models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.MessageID
	}
	return out
}

func scenarioMessages() []*models.Message {
	return []*models.Message{
		{MessageID: "A", ConversationID: "c1", Role: "assistant", Text: "alpha", Embedding: unit(0.9)},
		{MessageID: "B", ConversationID: "c2", Role: "user", Text: "beta", Embedding: unit(0.5)},
		{MessageID: "C", ConversationID: "c1", Role: "user", Text: "no embedding"},
	}
}

func TestEngine_Search_OrdersAndSkipsUnembedded(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)

	results, err := engine.Search(context.Background(), query("anything", 10, 0.3))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, resultIDs(results))
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-5)
	assert.InDelta(t, 0.5, results[1].Similarity, 1e-5)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "c1", results[0].ConversationID)
}

func TestEngine_Search_BlankQueryNeverReachesStore(t *testing.T) {
	engine, store := newTestEngine(t, scenarioMessages()...)

	_, err := engine.Search(context.Background(), query("   ", 10, 0.3))
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidQuery, apperr.KindOf(err))
	assert.Zero(t, store.calls.Load())
}

func TestEngine_Search_RejectsOutOfRangeLimit(t *testing.T) {
	engine, store := newTestEngine(t, scenarioMessages()...)

	for _, limit := range []int{0, -1, 101} {
		_, err := engine.Search(context.Background(), query("q", limit, 0.3))
		require.Error(t, err, "limit %d", limit)
		assert.Equal(t, apperr.InvalidParameter, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "between 1 and 100")
	}
	assert.Zero(t, store.calls.Load())
}

func TestEngine_Search_RejectsUnknownRole(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)
	q := query("q", 10, 0.3)
	q.Role = "narrator"

	_, err := engine.Search(context.Background(), q)
	assert.Equal(t, apperr.InvalidParameter, apperr.KindOf(err))
}

func TestEngine_Search_ThresholdOneKeepsOnlyExactMatches(t *testing.T) {
	msgs := append(scenarioMessages(), &models.Message{
		MessageID: "E", ConversationID: "c3", Role: "user", Text: "exact", Embedding: []float32{1, 0},
	})
	engine, _ := newTestEngine(t, msgs...)

	results, err := engine.Search(context.Background(), query("q", 10, 1.0))
	require.NoError(t, err)
	assert.Equal(t, []string{"E"}, resultIDs(results))
}

func TestEngine_Search_ThresholdAboveEverything(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)

	results, err := engine.Search(context.Background(), query("q", 10, 0.95))
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestEngine_Search_LimitOne(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)

	results, err := engine.Search(context.Background(), query("q", 1, 0.0))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, resultIDs(results))
}

func TestEngine_Search_Idempotent(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)
	ctx := context.Background()

	first, err := engine.Search(ctx, query("q", 10, 0.0))
	require.NoError(t, err)
	second, err := engine.Search(ctx, query("q", 10, 0.0))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_Search_TiesBreakByMessageID(t *testing.T) {
	engine, _ := newTestEngine(t,
		&models.Message{MessageID: "m2", ConversationID: "c", Role: "user", Text: "x", Embedding: unit(0.7)},
		&models.Message{MessageID: "m1", ConversationID: "c", Role: "user", Text: "y", Embedding: unit(0.7)},
		&models.Message{MessageID: "m3", ConversationID: "c", Role: "user", Text: "z", Embedding: unit(0.7)},
	)

	results, err := engine.Search(context.Background(), query("q", 2, 0.3))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, resultIDs(results))
}

// Filtering by role then conversation equals filtering the unfiltered results by both.
func TestEngine_Search_FiltersMatchPostFiltering(t *testing.T) {
	msgs := []*models.Message{
		{MessageID: "1", ConversationID: "c1", Role: "user", Text: "a", Embedding: unit(0.95)},
		{MessageID: "2", ConversationID: "c1", Role: "assistant", Text: "b", Embedding: unit(0.85)},
		{MessageID: "3", ConversationID: "c2", Role: "user", Text: "c", Embedding: unit(0.75)},
		{MessageID: "4", ConversationID: "c1", Role: "user", Text: "d", Embedding: unit(0.65)},
		{MessageID: "5", ConversationID: "c2", Role: "assistant", Text: "e", Embedding: unit(0.55)},
	}
	engine, _ := newTestEngine(t, msgs...)
	ctx := context.Background()

	all, err := engine.Search(ctx, query("q", 100, 0.0))
	require.NoError(t, err)
	var want []string
	for _, r := range all {
		if r.Role == "user" && r.ConversationID == "c1" {
			want = append(want, r.MessageID)
		}
	}

	q := query("q", 100, 0.0)
	q.Role = "user"
	q.ConversationID = "c1"
	filtered, err := engine.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, want, resultIDs(filtered))
	assert.Equal(t, []string{"1", "4"}, want)
}

func TestEngine_Search_EncoderFailure(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore(nil)}
	engine := NewEngine(store, &fixedEmbedder{vec: []float32{1, 0}, err: errors.New("model exploded")}, testConfig())

	_, err := engine.Search(context.Background(), query("q", 10, 0.3))
	require.Error(t, err)
	assert.Equal(t, apperr.EncodingFailure, apperr.KindOf(err))
	assert.Zero(t, store.calls.Load())
}

func TestEngine_Search_StoreFailureIsUnavailable(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore(nil), err: errors.New("connection refused")}
	engine := NewEngine(store, &fixedEmbedder{vec: []float32{1, 0}}, testConfig())

	_, err := engine.Search(context.Background(), query("q", 10, 0.3))
	require.Error(t, err)
	assert.Equal(t, apperr.StoreUnavailable, apperr.KindOf(err))
	assert.NotContains(t, apperr.Message(err), "connection refused")
}

func TestEngine_Search_ClassifiedStoreErrorPassesThrough(t *testing.T) {
	store := &countingStore{
		Store: storage.NewMemoryStore(nil),
		err:   apperr.New(apperr.DimensionMismatch, "column is vector(384), encoder produces 2"),
	}
	engine := NewEngine(store, &fixedEmbedder{vec: []float32{1, 0}}, testConfig())

	_, err := engine.Search(context.Background(), query("q", 10, 0.3))
	assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
}

func TestEngine_Search_CancelledContext(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Search(ctx, query("q", 10, 0.3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Stats(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioMessages()...)

	st, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalMessages)
	assert.Equal(t, int64(2), st.MessagesWithEmbeddings)
	assert.Equal(t, map[string]int64{"assistant": 1, "user": 2}, st.RoleDistribution)
}

func TestProcessQuery_Trims(t *testing.T) {
	q := &models.SearchQuery{Query: "  hello  ", Limit: 5, Threshold: 0.3, Metric: vector.MetricCosine, Role: " user "}
	require.NoError(t, ProcessQuery(q, testConfig()))
	assert.Equal(t, "hello", q.Query)
	assert.Equal(t, "user", q.Role)
}
