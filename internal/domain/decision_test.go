package domain

import (
	"strings"
	"testing"
	"time"
)

func TestIsSentinel(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{SentinelID, true},
		{SentinelPrefix + "0b4c6a52-3f5e-4a53-9d0e-5d8f0b1f9d11", true},
		{"0b4c6a52-3f5e-4a53-9d0e-5d8f0b1f9d11", false},
		{"rule-based-ish", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := IsSentinel(tt.id); got != tt.want {
				t.Errorf("IsSentinel(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewRuleDecision(t *testing.T) {
	a := NewRuleDecision("limit exceeded", FeatureVector{Amount: 30000})
	b := NewRuleDecision("limit exceeded", FeatureVector{Amount: 30000})

	if a.ID == b.ID {
		t.Error("stored ids must be unique")
	}
	if !strings.HasPrefix(a.ID, SentinelPrefix) || a.PublicID() != SentinelID {
		t.Errorf("unexpected ids %q / %q", a.ID, a.PublicID())
	}
	if !a.IsFraud || a.Score != 1.0 || a.Source != SourceRule {
		t.Errorf("unexpected rule decision %+v", a)
	}
	if a.Feedback.Status != FeedbackUnverified || a.Feedback.Label != nil {
		t.Errorf("new decisions start unverified, got %+v", a.Feedback)
	}
	if a.CreatedAt.Location() != time.UTC || a.CreatedAt.Nanosecond()%1000 != 0 {
		t.Errorf("timestamp must be UTC at microsecond precision, got %v", a.CreatedAt)
	}
}

func TestNewModelDecision(t *testing.T) {
	d := NewModelDecision(0.82, true, "suspicious", FeatureVector{Amount: 10})

	if IsSentinel(d.ID) || d.PublicID() != d.ID {
		t.Errorf("model decision has sentinel id %q", d.ID)
	}
	if d.Source != SourceModel || d.Score != 0.82 || !d.IsFraud {
		t.Errorf("unexpected model decision %+v", d)
	}
}
