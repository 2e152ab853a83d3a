package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/config"
	"github.com/sagepoint-data/identity-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		UnresolvedRateThreshold: 0.05,
		MinFinished:             5,
		AutoDerivedThreshold:    0.10,
	}
}

func TestEvaluate_HealthyRunNoAlerts(t *testing.T) {
	a := NewAlerter(testConfig())

	alerts := a.Evaluate(&RunSummary{
		RunID: "run-1",
		Stats: model.Statistics{Cache: 95, Override: 5},
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_UnresolvedRate(t *testing.T) {
	a := NewAlerter(testConfig())

	alerts := a.Evaluate(&RunSummary{
		RunID: "run-2",
		Stats: model.Statistics{Cache: 90, Unresolved: 10},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnresolvedRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestEvaluate_SmallBatchBelowMinFinished(t *testing.T) {
	a := NewAlerter(testConfig())

	// 1 of 3 unresolved is 33%, but 3 finished < MinFinished.
	alerts := a.Evaluate(&RunSummary{
		RunID: "run-3",
		Stats: model.Statistics{Cache: 2, Unresolved: 1},
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_DegradedAndAutoDerived(t *testing.T) {
	a := NewAlerter(testConfig())

	alerts := a.Evaluate(&RunSummary{
		RunID:            "run-4",
		Stats:            model.Statistics{Cache: 100},
		Degraded:         true,
		DegradedReason:   "external provider authentication failed",
		AutoDerivedRatio: 0.25,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertDegradedRun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "authentication")
	assert.Equal(t, AlertAutoDerived, alerts[1].Type)
	assert.Equal(t, "medium", alerts[1].Severity)
}

func TestSendAlerts_PostsJSON(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDegradedRun, Severity: "high", Message: "degraded"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, AlertDegradedRun, got.Type)
}

func TestSendAlerts_FailuresDoNotAbort(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDegradedRun, Message: "one"},
		{Type: AlertUnresolvedRate, Message: "two"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(testConfig())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertDegradedRun}})
	assert.Zero(t, sent)
}
