// Package relevance wraps the external classification capability.
package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

// Config controls the classifier HTTP client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Evaluator calls an external classification service. It holds no state
// between calls and never retries; the ingestion loop owns retry policy.
type Evaluator struct {
	cfg  Config
	http *http.Client
}

var _ lead.Evaluator = (*Evaluator)(nil)

// New creates a reusable classifier client.
func New(cfg Config) *Evaluator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	Model        string `json:"model,omitempty"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	TopicContext string `json:"topic_context"`
}

type evaluateResponse struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// Evaluate classifies the submission. Provider errors and timeouts surface
// as *lead.EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, title, body, topicContext string) (lead.Evaluation, error) {
	if e.cfg.Endpoint == "" {
		return lead.Evaluation{}, &lead.EvaluationError{Err: fmt.Errorf("evaluator endpoint not configured")}
	}

	payload, err := json.Marshal(evaluateRequest{
		Model:        e.cfg.Model,
		Title:        title,
		Body:         body,
		TopicContext: topicContext,
	})
	if err != nil {
		return lead.Evaluation{}, fmt.Errorf("marshal evaluate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return lead.Evaluation{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return lead.Evaluation{}, &lead.EvaluationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return lead.Evaluation{}, &lead.EvaluationError{
			Err: fmt.Errorf("classifier error %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return lead.Evaluation{}, &lead.EvaluationError{Err: fmt.Errorf("decode classifier response: %w", err)}
	}
	return lead.Evaluation{Relevant: out.Relevant, Reason: out.Reason}, nil
}
