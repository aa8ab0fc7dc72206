// Package bus provides the event bus: in-process channels for a single
// node, NATS when several replicas share events.
package bus

import (
	"context"
	"fmt"

	"github.com/opensource-finance/aura/internal/domain"
)

// MetadataReplyTo carries the topic a request expects its reply on.
const MetadataReplyTo = "reply_to"

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a message received through Request. It is a no-op for
// messages that were published without a reply topic.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, replyTo, payload)
}
