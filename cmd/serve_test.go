package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_WebhookResolve_Accepted(t *testing.T) {
	// With a nil resolver, the goroutine skips resolution gracefully.
	mux := buildMux(context.Background(), nil, nil, nil, nil)

	payload := map[string]any{
		"records": []map[string]string{
			{"plan": "FP0001", "customer": "Acme Industries"},
			{"plan": "FP0002", "customer": "Globex"},
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		Status  string `json:"status"`
		RunID   string `json:"run_id"`
		Records int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 2, resp.Records)

	// Give the goroutine time to execute the nil check path.
	time.Sleep(10 * time.Millisecond)
}

func TestBuildMux_WebhookResolve_EmptyRecords(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/resolve", strings.NewReader(`{"records":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "records are required")
}

func TestBuildMux_WebhookResolve_InvalidBody(t *testing.T) {
	mux := buildMux(context.Background(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/resolve", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}
