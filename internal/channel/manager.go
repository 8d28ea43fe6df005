package channel

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gigabot/internal/domain"
	"gigabot/internal/metrics"
)

const (
	// outboundWait is the dispatcher's wait slice per consume attempt.
	outboundWait = time.Second
	// defaultSendTimeout bounds one outbound delivery.
	defaultSendTimeout = 15 * time.Second
)

// Manager owns the channel adapters and the outbound dispatcher. The
// dispatcher consumes the outbound queue and routes each message to the
// adapter named by its Channel field; messages for unknown channels are
// dropped with a warning, and delivery errors are logged, never
// propagated back to the loop.
type Manager struct {
	bus         domain.MessageBus
	logger      *slog.Logger
	sendTimeout time.Duration

	mu       sync.RWMutex
	channels map[string]domain.Channel

	cancelAdapters context.CancelFunc
	cancelDispatch context.CancelFunc
	dispatchDone   chan struct{}
	wg             sync.WaitGroup
}

func NewManager(bus domain.MessageBus, logger *slog.Logger) *Manager {
	return &Manager{
		bus:         bus,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		channels:    make(map[string]domain.Channel),
	}
}

// Register adds an adapter. Must be called before Start.
func (m *Manager) Register(ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	m.logger.Info("channel registered", "channel", ch.Name())
}

func (m *Manager) Get(name string) domain.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches every adapter and the outbound dispatcher. Adapter
// failures are logged; they do not stop the rest.
func (m *Manager) Start(ctx context.Context) {
	adapterCtx, cancelAdapters := context.WithCancel(ctx)
	m.cancelAdapters = cancelAdapters

	m.mu.RLock()
	for name, ch := range m.channels {
		m.wg.Add(1)
		go func(name string, ch domain.Channel) {
			defer m.wg.Done()
			m.logger.Info("starting channel", "channel", name)
			if err := ch.Start(adapterCtx, m.bus); err != nil {
				m.logger.Error("channel failed", "channel", name, "err", err)
			}
		}(name, ch)
	}
	m.mu.RUnlock()

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	m.cancelDispatch = cancelDispatch
	m.dispatchDone = make(chan struct{})
	go m.dispatch(dispatchCtx)
}

// Stop shuts down the dispatcher first, so nothing races the closing
// adapters, then stops every adapter.
func (m *Manager) Stop() {
	if m.cancelDispatch != nil {
		m.cancelDispatch()
		<-m.dispatchDone
	}

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			m.logger.Warn("error stopping channel", "channel", name, "err", err)
		}
	}
	m.mu.RUnlock()

	if m.cancelAdapters != nil {
		m.cancelAdapters()
	}
	m.wg.Wait()
	m.logger.Info("all channels stopped")
}

func (m *Manager) dispatch(ctx context.Context) {
	defer close(m.dispatchDone)
	m.logger.Info("outbound dispatcher started")

	for {
		if ctx.Err() != nil {
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, outboundWait)
		msg, err := m.bus.ConsumeOutbound(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // wait slice elapsed with nothing queued
		}
		m.deliver(msg)
	}
}

// deliver routes one outbound message. It runs on the dispatcher
// goroutine, so an in-flight send completes before Stop returns.
func (m *Manager) deliver(msg domain.OutboundMessage) {
	ch := m.Get(msg.Channel)
	if ch == nil {
		m.logger.Warn("no channel for outbound message, dropping",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
		)
		metrics.MessagesDropped.Inc()
		return
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		m.logger.Error("channel send failed",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"err", err,
		)
	}
}
