package relevance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

func TestEvaluateRelevant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Need help with SaaS billing", req.Title)
		assert.Equal(t, "SaaS", req.TopicContext)

		json.NewEncoder(w).Encode(evaluateResponse{Relevant: true, Reason: "billing pain point"})
	}))
	defer srv.Close()

	ev := New(Config{Endpoint: srv.URL, APIKey: "test-key"})
	got, err := ev.Evaluate(context.Background(), "Need help with SaaS billing", "...", "SaaS")
	require.NoError(t, err)
	assert.True(t, got.Relevant)
	assert.Equal(t, "billing pain point", got.Reason)
}

func TestEvaluateProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ev := New(Config{Endpoint: srv.URL})
	_, err := ev.Evaluate(context.Background(), "t", "b", "SaaS")
	require.Error(t, err)

	var evalErr *lead.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Error(), "503")
}

func TestEvaluateMissingEndpoint(t *testing.T) {
	t.Parallel()

	ev := New(Config{})
	_, err := ev.Evaluate(context.Background(), "t", "b", "SaaS")

	var evalErr *lead.EvaluationError
	require.ErrorAs(t, err, &evalErr)
}

func TestEvaluateMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	ev := New(Config{Endpoint: srv.URL})
	_, err := ev.Evaluate(context.Background(), "t", "b", "SaaS")

	var evalErr *lead.EvaluationError
	require.ErrorAs(t, err, &evalErr)
}
