package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"renew my passport", "-n", "5"},
			expected: []string{"-n", "5", "renew my passport"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-n", "5", "renew my passport"},
			expected: []string{"-n", "5", "renew my passport"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"renew my passport"},
			expected: []string{"renew my passport"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"sourdough", "starter", "-role", "assistant"},
			expected: []string{"-role", "assistant", "sourdough", "starter"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"passport"}, "passport"},
		{"multiple words", []string{"renew", "passport"}, "renew passport"},
		{"single quoted phrase", []string{"renew passport"}, "renew passport"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func parseSearchFlags(t *testing.T, args ...string) (*flag.FlagSet, *searchFlags) {
	t.Helper()
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var sf searchFlags
	sf.register(fs)
	require.NoError(t, fs.Parse(searchArgsReorder(args)))
	return fs, &sf
}

func TestSearchFlagsOnlySendsSetFields(t *testing.T) {
	fs, sf := parseSearchFlags(t, "visa", "requirements")
	req := sf.request(fs, buildSearchQuery(fs.Args()))

	assert.Equal(t, "visa requirements", req.Query)
	assert.Nil(t, req.Limit)
	assert.Nil(t, req.Threshold)
	assert.Nil(t, req.Role)
	assert.Nil(t, req.ConversationID)
	assert.Nil(t, req.Metric)
}

func TestSearchFlagsShorthandAndLong(t *testing.T) {
	fs, sf := parseSearchFlags(t, "visa", "-n", "5", "-t", "0", "-role", "assistant", "-c", "conv-1", "-metric", "l2")
	req := sf.request(fs, buildSearchQuery(fs.Args()))

	require.NotNil(t, req.Limit)
	assert.Equal(t, 5, *req.Limit)
	require.NotNil(t, req.Threshold, "an explicit zero threshold is still sent")
	assert.Equal(t, 0.0, *req.Threshold)
	require.NotNil(t, req.Role)
	assert.Equal(t, "assistant", *req.Role)
	require.NotNil(t, req.ConversationID)
	assert.Equal(t, "conv-1", *req.ConversationID)
	require.NotNil(t, req.Metric)
	assert.Equal(t, "l2", *req.Metric)
	assert.Equal(t, "visa", req.Query)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\nstore:\n  backend: memory\n"), 0644))

	cfg, resolved, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadConfigPrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9292\n"), 0644))
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.True(t, strings.HasSuffix(resolved, "config.yaml"))
}

func TestLoadConfigMissingDefaultUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
}

func TestLoadConfigMissingExplicitPathFails(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDecodeErrorResponse(t *testing.T) {
	err := decodeErrorResponse(http.StatusBadRequest,
		strings.NewReader(`{"error":"limit must be between 1 and 100, got 0","code":"invalid_parameter"}`))
	assert.True(t, apperr.Is(err, apperr.InvalidParameter))
	assert.Equal(t, "limit must be between 1 and 100, got 0", apperr.Message(err))

	err = decodeErrorResponse(http.StatusGatewayTimeout, strings.NewReader(`{"error":"request timed out","code":"timeout"}`))
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "504")

	err = decodeErrorResponse(http.StatusBadGateway, strings.NewReader("upstream down"))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClientSearch(t *testing.T) {
	var got models.SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":"passport","results":[{"message_id":"m1","text":"renew it","role":"user","conversation_id":"c1","similarity":0.9}],"total":1,"metric":"cosine","query_time_ms":3}`))
	}))
	defer srv.Close()

	limit := 3
	resp, err := newClient(srv.URL+"/").Search(context.Background(), &models.SearchRequest{Query: "passport", Limit: &limit})
	require.NoError(t, err)
	require.NotNil(t, got.Limit)
	assert.Equal(t, 3, *got.Limit)
	assert.Nil(t, got.Threshold)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "m1", resp.Results[0].MessageID)
}

func TestClientStatsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"vector store temporarily unavailable, retry later","code":"store_unavailable"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Stats(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.StoreUnavailable))
	assert.Equal(t, "vector store temporarily unavailable, retry later (store_unavailable)", describeError(err))
}
