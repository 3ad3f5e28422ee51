// Package comment implements draft generation and publishing for leads.
package comment

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

// GeneratorConfig controls the text-generation HTTP client.
type GeneratorConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// HTTPGenerator calls an external text-generation service to draft replies.
type HTTPGenerator struct {
	cfg  GeneratorConfig
	http *http.Client
}

var _ lead.Generator = (*HTTPGenerator)(nil)

// NewHTTPGenerator creates a reusable generator client.
func NewHTTPGenerator(cfg GeneratorConfig) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

type generateRequest struct {
	Model string `json:"model,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type generateResponse struct {
	Comment string `json:"comment"`
}

// Generate drafts a reply for the submission. Deterministic given a
// deterministic backing service.
func (g *HTTPGenerator) Generate(ctx context.Context, title, body string) (string, error) {
	if g.cfg.Endpoint == "" {
		return "", fmt.Errorf("generator endpoint not configured")
	}

	payload, err := json.Marshal(generateRequest{Model: g.cfg.Model, Title: title, Body: body})
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate comment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("generator error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	return out.Comment, nil
}
