package bus

import (
	"context"
	"log/slog"
	"sync"

	"gigabot/internal/domain"
	"gigabot/internal/metrics"
)

// defaultOutboundLimit bounds the outbound queue under adapter outage.
// The oldest undelivered message is evicted when the limit is reached,
// so publishers never block. Inbound stays unbounded.
const defaultOutboundLimit = 1024

// InMemoryBus holds the two independent FIFO queues decoupling channel
// adapters from the reasoning loop. It performs no transformation and
// carries no business logic; its only contract is per-queue ordering.
type InMemoryBus struct {
	inbound  *queue[domain.InboundMessage]
	outbound *queue[domain.OutboundMessage]
	logger   *slog.Logger
}

// New creates a bus. outboundLimit <= 0 selects the default bound.
func New(outboundLimit int, logger *slog.Logger) *InMemoryBus {
	if outboundLimit <= 0 {
		outboundLimit = defaultOutboundLimit
	}
	b := &InMemoryBus{
		inbound:  newQueue[domain.InboundMessage](0),
		outbound: newQueue[domain.OutboundMessage](outboundLimit),
		logger:   logger,
	}
	return b
}

func (b *InMemoryBus) PublishInbound(msg domain.InboundMessage) {
	b.inbound.push(msg)
}

func (b *InMemoryBus) ConsumeInbound(ctx context.Context) (domain.InboundMessage, error) {
	return b.inbound.pop(ctx)
}

func (b *InMemoryBus) PublishOutbound(msg domain.OutboundMessage) {
	if dropped, ok := b.outbound.push(msg); ok {
		metrics.MessagesDropped.Inc()
		b.logger.Warn("outbound queue full, dropping oldest message",
			"channel", dropped.Channel,
			"chat_id", dropped.ChatID,
		)
	}
}

func (b *InMemoryBus) ConsumeOutbound(ctx context.Context) (domain.OutboundMessage, error) {
	return b.outbound.pop(ctx)
}

func (b *InMemoryBus) InboundSize() int  { return b.inbound.size() }
func (b *InMemoryBus) OutboundSize() int { return b.outbound.size() }

var _ domain.MessageBus = (*InMemoryBus)(nil)

// queue is a FIFO with non-blocking push and context-aware blocking
// pop. limit == 0 means unbounded; a bounded queue evicts its oldest
// item on overflow and reports the eviction to the caller.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
	ready chan struct{} // signalled (capacity 1) when an item arrives
}

func newQueue[T any](limit int) *queue[T] {
	return &queue[T]{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends an item. It returns the evicted oldest item and true
// when the queue was at its bound.
func (q *queue[T]) push(item T) (dropped T, ok bool) {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		dropped = q.items[0]
		q.items = q.items[1:]
		ok = true
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, ok
}

// pop removes and returns the oldest item, suspending until one is
// available or ctx is cancelled.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			// Keep the signal live for other waiters.
			if remaining > 0 {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *queue[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
