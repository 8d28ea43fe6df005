package domain

import "context"

// MessageBus decouples channel adapters from the reasoning loop with a
// pair of independent FIFO queues. Publish calls never block; Consume
// calls suspend until an item arrives or ctx is cancelled.
type MessageBus interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, error)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, error)
	InboundSize() int
	OutboundSize() int
}
