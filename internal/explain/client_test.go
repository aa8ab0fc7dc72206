package explain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

func TestExplain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var req explainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.FraudScore != 0.82 {
			t.Errorf("expected score 0.82, got %v", req.FraudScore)
		}
		if len(req.Features) != 5 || req.Features["V14"] != -7.5 || req.Features["Amount"] != 99 {
			t.Errorf("unexpected features: %v", req.Features)
		}
		_ = json.NewEncoder(w).Encode(explainResponse{Explanation: " Low V14 suggests fraud. "})
	}))
	defer srv.Close()

	fv := domain.FeatureVector{Amount: 99}
	fv.V[13] = -7.5

	c := NewClient(domain.ExplainConfig{URL: srv.URL, APIKey: "secret", Timeout: time.Second})
	text, err := c.Explain(context.Background(), 0.82, fv)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if text != "Low V14 suggests fraud." {
		t.Errorf("unexpected explanation %q", text)
	}
}

func TestExplainFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
		{"empty explanation", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"explanation":""}`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(domain.ExplainConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
			_, err := c.Explain(context.Background(), 0.9, domain.FeatureVector{})
			if !errors.Is(err, domain.ErrExplanationUnavailable) {
				t.Errorf("expected ErrExplanationUnavailable, got %v", err)
			}
		})
	}

	t.Run("not configured", func(t *testing.T) {
		c := NewClient(domain.ExplainConfig{})
		if _, err := c.Explain(context.Background(), 0.9, domain.FeatureVector{}); !errors.Is(err, domain.ErrExplanationUnavailable) {
			t.Errorf("expected ErrExplanationUnavailable, got %v", err)
		}
	})
}
