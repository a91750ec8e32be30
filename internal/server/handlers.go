package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// diskUser is implemented by stores backed by local files.
type diskUser interface {
	DiskUsageBytes() (int64, error)
}

// cacheReporter is implemented by embedders with an in-process cache.
type cacheReporter interface {
	CacheStats() embedding.CacheStats
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "recall",
		"endpoints": []string{
			"GET /health",
			"POST /api/v1/search",
			"GET /api/v1/search?q=...",
			"GET /api/v1/stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":     "ok",
		"model":      s.embedder.Model(),
		"dimensions": s.embedder.Dimensions(),
	}
	if du, ok := s.store.(diskUser); ok {
		if n, err := du.DiskUsageBytes(); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	if cr, ok := s.embedder.(cacheReporter); ok {
		resp["embedding_cache"] = cr.CacheStats()
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health: store ping failed", zap.Error(err))
		resp["status"] = "degraded"
		resp["store"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["store"] = "ok"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, apperr.New(apperr.InvalidParameter, "invalid request body"))
		return
	}
	s.search(w, r, &req)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequestFromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.search(w, r, req)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, req *models.SearchRequest) {
	s.logger.Debug("search request", zap.String("query", req.Query))
	resp, err := s.service.Search(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// searchRequestFromQuery reads q (or query), limit, threshold, role, conversation_id and
// metric. Absent parameters stay nil so the service applies its defaults.
func searchRequestFromQuery(v url.Values) (*models.SearchRequest, error) {
	req := &models.SearchRequest{Query: v.Get("q")}
	if req.Query == "" {
		req.Query = v.Get("query")
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, apperr.New(apperr.InvalidParameter, "limit must be an integer, got %q", s)
		}
		req.Limit = &n
	}
	if s := v.Get("threshold"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, apperr.New(apperr.InvalidParameter, "threshold must be a number, got %q", s)
		}
		req.Threshold = &f
	}
	if v.Has("role") {
		role := v.Get("role")
		req.Role = &role
	}
	if v.Has("conversation_id") {
		conv := v.Get("conversation_id")
		req.ConversationID = &conv
	}
	if v.Has("metric") {
		metric := v.Get("metric")
		req.Metric = &metric
	}
	return req, nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.InvalidQuery, apperr.InvalidParameter:
		return http.StatusBadRequest
	case apperr.EncodingFailure:
		return http.StatusUnprocessableEntity
	case apperr.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: apperr.Message(err), Code: string(apperr.KindOf(err))}
	if status == http.StatusGatewayTimeout {
		body = errorBody{Error: "request timed out", Code: "timeout"}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
