package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies which stage produced a decision.
type Source string

const (
	SourceRule  Source = "rule-based"
	SourceModel Source = "model"
)

// SentinelID is the public identity of every rule-based decision.
// Rule-based decisions are stored under SentinelPrefix + uuid so each
// record still has a unique key, but none of them accept feedback.
const (
	SentinelID     = "rule-based"
	SentinelPrefix = SentinelID + ":"
)

// IsSentinel reports whether id refers to a rule-based decision.
func IsSentinel(id string) bool {
	return id == SentinelID || strings.HasPrefix(id, SentinelPrefix)
}

// FeedbackStatus is the verification state of a decision.
type FeedbackStatus string

const (
	FeedbackUnverified FeedbackStatus = "unverified"
	FeedbackVerified   FeedbackStatus = "verified"
)

// Decision is the persisted outcome of one pipeline run.
type Decision struct {
	ID          string        `json:"prediction_id"`
	Source      Source        `json:"source"`
	IsFraud     bool          `json:"is_fraud"`
	Score       float64       `json:"fraud_score"`
	Explanation string        `json:"explanation"`
	Features    FeatureVector `json:"features"`
	CreatedAt   time.Time     `json:"timestamp"`
	Feedback    Feedback      `json:"feedback"`
}

// Feedback is the human correction attached to a decision.
type Feedback struct {
	Label      *int           `json:"correct_label,omitempty"`
	Status     FeedbackStatus `json:"feedback_status"`
	Timestamp  *time.Time     `json:"feedback_timestamp,omitempty"`
	ExportedAt *time.Time     `json:"exported_at,omitempty"`
	ExportID   string         `json:"export_id,omitempty"`
}

// PublicID returns the identity exposed to API callers.
func (d *Decision) PublicID() string {
	if d.Source == SourceRule {
		return SentinelID
	}
	return d.ID
}

// Timestamps are kept in UTC at microsecond precision so a decision read
// back from SQLite or PostgreSQL compares equal to the one written.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewRuleDecision builds a rule-based fraud decision.
func NewRuleDecision(reason string, fv FeatureVector) *Decision {
	return &Decision{
		ID:          SentinelPrefix + uuid.New().String(),
		Source:      SourceRule,
		IsFraud:     true,
		Score:       1.0,
		Explanation: reason,
		Features:    fv,
		CreatedAt:   now(),
		Feedback:    Feedback{Status: FeedbackUnverified},
	}
}

// NewModelDecision builds a model-sourced decision with a fresh identity.
func NewModelDecision(score float64, isFraud bool, explanation string, fv FeatureVector) *Decision {
	return &Decision{
		ID:          uuid.New().String(),
		Source:      SourceModel,
		IsFraud:     isFraud,
		Score:       score,
		Explanation: explanation,
		Features:    fv,
		CreatedAt:   now(),
		Feedback:    Feedback{Status: FeedbackUnverified},
	}
}

// VerifiedRecord is one row eligible for an export batch. Version is the
// feedback revision seen by the scan; MarkExported skips a record whose
// feedback changed since.
type VerifiedRecord struct {
	ID         string
	Label      int
	Features   FeatureVector
	VerifiedAt time.Time
	Version    int64
}

// Thresholds is the rule threshold set. Immutable once built.
type Thresholds struct {
	V4Upper     float64   `json:"v4_upper"`
	V14Lower    float64   `json:"v14_lower"`
	AmountUpper float64   `json:"amount_upper"`
	Source      string    `json:"source"`
	ComputedAt  time.Time `json:"computed_at"`
}
