package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/service"
	"github.com/hyperjump/recall/internal/storage"
)

// brokenStore fails every round-trip.
type brokenStore struct {
	storage.Store
}

func (brokenStore) RankBySimilarity(ctx context.Context, q storage.Query) ([]storage.Candidate, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func (brokenStore) Stats(ctx context.Context) (*models.Stats, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func (brokenStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

var corpus = []struct{ id, role, conv, text string }{
	{"m1", "user", "Trip planning", "how do I renew my passport"},
	{"m2", "assistant", "Trip planning", "you can renew your passport online"},
	{"m3", "user", "Cooking", "best recipe for sourdough bread"},
	{"m4", "assistant", "Cooking", "feed the starter the night before"},
}

func newTestServer(t *testing.T, store storage.Store, serverCfg *config.ServerConfig) (*Server, *embedding.HashEmbedder) {
	t.Helper()
	emb := embedding.NewHashEmbedder("hash-test", 16)
	searchCfg := &config.SearchConfig{
		DefaultLimit:  10,
		MaxLimit:      100,
		DefaultMetric: "cosine",
		Roles:         []string{"user", "assistant", "system", "tool"},
		RetryBackoff:  time.Millisecond,
	}
	engine := search.NewEngine(store, emb, searchCfg)
	svc, err := service.New(engine, searchCfg, nil)
	require.NoError(t, err)
	if serverCfg == nil {
		serverCfg = &config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}}
	}
	return NewServer(svc, store, emb, serverCfg, nil), emb
}

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	emb := embedding.NewHashEmbedder("hash-test", 16)
	store := storage.NewMemoryStore(nil)
	var msgs []*models.Message
	for _, c := range corpus {
		vec, err := emb.Embed(context.Background(), c.text)
		require.NoError(t, err)
		msgs = append(msgs, &models.Message{MessageID: c.id, Role: c.role, ConversationID: c.conv, Text: c.text, Embedding: vec})
	}
	msgs = append(msgs, &models.Message{MessageID: "m5", Role: "user", ConversationID: "Cooking", Text: "not embedded yet"})
	require.NoError(t, store.UpsertMessages(context.Background(), msgs))
	return store
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, target, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHandleSearch_Post(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/search", map[string]any{
		"query": "how do I renew my passport",
		"limit": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "how do I renew my passport", resp.Query)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 0.3, resp.Threshold)
	assert.Equal(t, "cosine", resp.Metric)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 2)
	assert.Equal(t, len(resp.Results), resp.Total)
	assert.Equal(t, "m1", resp.Results[0].MessageID)
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-4)
	for _, r := range resp.Results {
		assert.NotEqual(t, "m5", r.MessageID)
		assert.GreaterOrEqual(t, r.Similarity, 0.3)
	}
}

func TestHandleSearch_PostRoleFilter(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/search", map[string]any{
		"query":     "renew passport",
		"role":      "assistant",
		"threshold": -1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, "assistant", r.Role)
	}
}

func TestHandleSearch_Get(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/search?q=sourdough+bread&limit=1&metric=l2&threshold=0&conversation_id=Cooking", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "l2", resp.Metric)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Cooking", resp.Results[0].ConversationID)
}

func TestHandleSearch_Rejections(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)
	h := srv.Handler()

	tests := []struct {
		name     string
		method   string
		target   string
		body     any
		wantCode string
		wantMsg  string
	}{
		{"blank query", http.MethodPost, "/api/v1/search", map[string]any{"query": "   "}, "invalid_query", "empty"},
		{"zero limit", http.MethodPost, "/api/v1/search", map[string]any{"query": "x", "limit": 0}, "invalid_parameter", "between 1 and 100"},
		{"limit too large", http.MethodPost, "/api/v1/search", map[string]any{"query": "x", "limit": 101}, "invalid_parameter", "between 1 and 100"},
		{"threshold out of range", http.MethodPost, "/api/v1/search", map[string]any{"query": "x", "threshold": 1.5}, "invalid_parameter", "threshold"},
		{"unknown metric", http.MethodPost, "/api/v1/search", map[string]any{"query": "x", "metric": "hamming"}, "invalid_parameter", "metric"},
		{"unknown role", http.MethodPost, "/api/v1/search", map[string]any{"query": "x", "role": "narrator"}, "invalid_parameter", "role"},
		{"non-integer limit", http.MethodGet, "/api/v1/search?q=x&limit=ten", nil, "invalid_parameter", "integer"},
		{"non-numeric threshold", http.MethodGet, "/api/v1/search?q=x&threshold=high", nil, "invalid_parameter", "number"},
		{"missing query param", http.MethodGet, "/api/v1/search", nil, "invalid_query", "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			out := decodeError(t, w)
			assert.Equal(t, tt.wantCode, out.Code)
			assert.Contains(t, out.Error, tt.wantMsg)
		})
	}
}

func TestHandleSearch_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearch_StoreUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, brokenStore{}, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/search", map[string]any{"query": "anything"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	out := decodeError(t, w)
	assert.Equal(t, "store_unavailable", out.Code)
	assert.NotContains(t, out.Error, "10.0.0.5")
}

func TestHandleStats_Empty(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryStore(nil), nil)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_messages":0,"messages_with_embeddings":0,"role_distribution":{}}`, w.Body.String())
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st models.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, int64(5), st.TotalMessages)
	assert.Equal(t, int64(4), st.MessagesWithEmbeddings)
	assert.Equal(t, map[string]int64{"user": 3, "assistant": 2}, st.RoleDistribution)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, seededStore(t), nil)

	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "hash-test", out["model"])
	assert.Equal(t, float64(16), out["dimensions"])
}

func TestHandleHealth_EmbeddingCache(t *testing.T) {
	emb := embedding.NewCachedEmbedder(embedding.NewHashEmbedder("hash-test", 16), 8)
	searchCfg := &config.SearchConfig{DefaultLimit: 10, MaxLimit: 100, DefaultMetric: "cosine"}
	svc, err := service.New(search.NewEngine(seededStore(t), emb, searchCfg), searchCfg, nil)
	require.NoError(t, err)
	h := NewServer(svc, storage.NewMemoryStore(nil), emb, &config.ServerConfig{Port: 8080}, nil).Handler()

	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodPost, "/api/v1/search", map[string]any{"query": "sourdough starter"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Cache embedding.CacheStats `json:"embedding_cache"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, embedding.CacheStats{Entries: 1, Hits: 1, Misses: 1}, out.Cache)
}

func TestHandleHealth_StoreDown(t *testing.T) {
	srv, _ := newTestServer(t, brokenStore{}, nil)

	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRoot(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryStore(nil), nil)

	w := do(t, srv.Handler(), http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/search")
}

func TestRateLimit(t *testing.T) {
	cfg := &config.ServerConfig{Port: 8080, RateLimit: config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}}
	srv, _ := newTestServer(t, storage.NewMemoryStore(nil), cfg)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/stats", nil).Code)
	w := do(t, h, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeError(t, w).Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := &config.ServerConfig{Port: 8080, CORSOrigins: []string{"https://app.example.com"}}
	srv, _ := newTestServer(t, storage.NewMemoryStore(nil), cfg)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemoryStore(nil), nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.InvalidQuery, "x"), http.StatusBadRequest},
		{apperr.New(apperr.InvalidParameter, "x"), http.StatusBadRequest},
		{apperr.New(apperr.EncodingFailure, "x"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.StoreUnavailable, "x"), http.StatusServiceUnavailable},
		{apperr.New(apperr.DimensionMismatch, "x"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
