package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/models"
)

// client talks to a running recall server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// errorResponse mirrors the server's error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *client) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	var out models.SearchResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Stats(ctx context.Context) (*models.Stats, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	var out models.Stats
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running? start with: recall server): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeErrorResponse(resp.StatusCode, resp.Body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeErrorResponse turns a non-200 body back into a classified error where the code is known.
func decodeErrorResponse(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(raw)))
	}
	switch kind := apperr.Kind(er.Code); kind {
	case apperr.InvalidQuery, apperr.InvalidParameter, apperr.EncodingFailure,
		apperr.StoreUnavailable, apperr.DimensionMismatch, apperr.Internal:
		return apperr.New(kind, "%s", er.Error)
	}
	return fmt.Errorf("server returned %d (%s): %s", status, er.Code, er.Error)
}
