// Package explain requests natural-language explanations for fraud verdicts.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

// Placeholder is returned in place of an explanation when the generator
// fails or times out.
const Placeholder = "AI explanation unavailable."

// explainedFeatures are the features forwarded to the generator.
var explainedFeatures = []string{domain.ColumnAmount, "V4", "V10", "V12", "V14"}

// Client calls the explanation service.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

type explainRequest struct {
	FraudScore float64            `json:"fraud_score"`
	Features   map[string]float64 `json:"features"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// NewClient creates an explanation client from cfg.
func NewClient(cfg domain.ExplainConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Explain returns an explanation of score for fv. Every failure is
// reported as ErrExplanationUnavailable.
func (c *Client) Explain(ctx context.Context, score float64, fv domain.FeatureVector) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("%w: no explanation service configured", domain.ErrExplanationUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	features := make(map[string]float64, len(explainedFeatures))
	for _, name := range explainedFeatures {
		v, _ := fv.Get(name)
		features[name] = v
	}

	body, err := json.Marshal(explainRequest{FraudScore: score, Features: features})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", domain.ErrExplanationUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExplanationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExplanationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrExplanationUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out explainResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrExplanationUnavailable, err)
	}
	text := strings.TrimSpace(out.Explanation)
	if text == "" {
		return "", fmt.Errorf("%w: empty explanation", domain.ErrExplanationUnavailable)
	}
	return text, nil
}
