package ruleeval

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexecutor/src/externalmodel"
)

func newTestEvaluator(url string) *HTTPEvaluator {
	return &HTTPEvaluator{url: url, http: resty.New()}
}

func testSignal() externalmodel.Signal {
	return externalmodel.Signal{
		Symbol:      "BTCUSDT",
		Direction:   "LONG",
		EntryPrice:  100,
		TargetPrice: 105,
		StopLoss:    95,
		OrderType:   externalmodel.OrderTypeMarket,
	}
}

func TestEvaluateReturnsVerdict(t *testing.T) {
	var received evaluateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"approved":false,"reason":"trend filter rejected the entry"}`)
	}))
	defer srv.Close()

	verdict, err := newTestEvaluator(srv.URL).Evaluate(context.Background(), "only enter with the 4h trend", testSignal())
	require.NoError(t, err)

	assert.False(t, verdict.Approved)
	assert.Equal(t, "trend filter rejected the entry", verdict.Reason)

	assert.Equal(t, "only enter with the 4h trend", received.RuleText)
	assert.Equal(t, "BTCUSDT", received.Signal.Symbol)
	assert.Equal(t, 95.0, received.Signal.StopLoss)
}

func TestEvaluateSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestEvaluator(srv.URL).Evaluate(context.Background(), "any rule", testSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
