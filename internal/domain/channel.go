package domain

import "context"

// Channel is an external chat surface. Start begins listening for
// platform events and runs until ctx is cancelled or Stop is called;
// adapters publish to the bus only after a positive IsAllowed check.
// Send performs platform-specific delivery and must observe ctx for a
// bounded timeout. IsAllowed applies the adapter's allow-list: an
// empty list admits every sender.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, msg OutboundMessage) error
	IsAllowed(senderID string) bool
}
