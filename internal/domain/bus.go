package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
}

// Standard topic names.
const (
	TopicTransactionIngested = "aura.transaction.ingested"
	TopicDecision            = "aura.decision"
	TopicAlert               = "aura.alert"
	TopicFeedback            = "aura.feedback"
	TopicRetrainRequested    = "aura.retrain.requested"
	TopicRetrainCompleted    = "aura.retrain.completed"
)

// DecisionEvent is published on TopicDecision and TopicAlert.
type DecisionEvent struct {
	PredictionID  string  `json:"prediction_id"`
	Source        Source  `json:"source"`
	IsFraud       bool    `json:"is_fraud"`
	Score         float64 `json:"fraud_score"`
	Explanation   string  `json:"explanation"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// FeedbackEvent is published on TopicFeedback.
type FeedbackEvent struct {
	PredictionID string `json:"prediction_id"`
	Label        int    `json:"correct_label"`
	Timestamp    int64  `json:"timestamp"`
}
