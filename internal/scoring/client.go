// Package scoring calls the live model endpoint.
package scoring

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

// maxResponseBytes bounds how much of a scoring response is read.
const maxResponseBytes = 1 << 10

// Endpoint is an invocable model endpoint.
type Endpoint struct {
	Name      string `json:"name"`
	ModelName string `json:"model_name,omitempty"`
	InvokeURL string `json:"invoke_url"`
}

// Client sends feature vectors to the live endpoint. The endpoint pointer
// is swapped atomically by the retraining orchestrator; a call loads it
// once, so an in-flight call finishes against the model it started with.
type Client struct {
	http    *http.Client
	timeout time.Duration
	live    atomic.Pointer[Endpoint]
}

// NewClient creates a scoring client serving initial.
func NewClient(initial Endpoint, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		http:    &http.Client{},
		timeout: timeout,
	}
	c.live.Store(&initial)
	return c
}

// Live returns the endpoint currently receiving traffic.
func (c *Client) Live() Endpoint {
	return *c.live.Load()
}

// Swap makes next the live endpoint and returns the previous one.
func (c *Client) Swap(next Endpoint) Endpoint {
	return *c.live.Swap(&next)
}

// Score returns the fraud probability for fv from the live endpoint.
// Exactly one request is sent; there are no retries.
func (c *Client) Score(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	return c.invoke(ctx, *c.live.Load(), fv)
}

// Probe scores a zero vector against a candidate endpoint to confirm it
// answers with a valid probability before it takes traffic.
func (c *Client) Probe(ctx context.Context, ep Endpoint) error {
	_, err := c.invoke(ctx, ep, domain.FeatureVector{})
	return err
}

func (c *Client) invoke(ctx context.Context, ep Endpoint, fv domain.FeatureVector) (float64, error) {
	if ep.InvokeURL == "" {
		return 0, fmt.Errorf("%w: endpoint %q has no invoke URL", domain.ErrScoringUnavailable, ep.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.InvokeURL, strings.NewReader(fv.CSV()))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrScoringUnavailable, err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrScoringUnavailable, ep.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", domain.ErrScoringUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %s returned status %d", domain.ErrScoringUnavailable, ep.Name, resp.StatusCode)
	}

	return ParseScore(body)
}

// ParseScore parses a response body holding a single probability in [0,1].
func ParseScore(body []byte) (float64, error) {
	text := strings.TrimSpace(string(body))
	score, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed score %q", domain.ErrScoringUnavailable, text)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: score %q is not a number", domain.ErrScoringUnavailable, text)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: score %v out of range", domain.ErrScoringUnavailable, score)
	}
	if score == 0 {
		// Normalizes negative zero.
		score = 0
	}
	return score, nil
}
