package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType represents the type of notification.
type EventType string

const (
	// EventTransferSent tells the giver their transfer went through
	EventTransferSent EventType = "transfer.sent"
	// EventTransferReceived tells the receiver they got points
	EventTransferReceived EventType = "transfer.received"
	// EventRedemptionRequested asks an admin to approve a redemption
	EventRedemptionRequested EventType = "redemption.requested"
	// EventRedemptionApproved tells the user their redemption was granted
	EventRedemptionApproved EventType = "redemption.approved"
	// EventRecurringBonusSent is emitted to both sides of a recurring payout
	EventRecurringBonusSent EventType = "recurring.sent"
	// EventAnnouncement is an admin broadcast
	EventAnnouncement EventType = "announcement"
)

// Event is one user-facing notification. RecipientID is the account the
// rendered Message is addressed to.
type Event struct {
	Type        EventType `json:"type"`
	RecipientID string    `json:"recipient_id"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

// Sink receives notifications from the ledger. Emit must not block on
// delivery and never reports delivery failures to the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Handler is a function that delivers events.
type Handler func(ctx context.Context, event Event) error

// Manager fans notifications out to subscribed handlers asynchronously.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	enabled  bool
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// SubscribeAll subscribes a handler to every event type.
func (m *Manager) SubscribeAll(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.all = append(m.all, handler)
}

// Emit publishes an event to all subscribed handlers. Handlers run in their
// own goroutines, detached from ctx cancellation; their errors are logged
// and dropped.
func (m *Manager) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// inflight is bumped under the read lock so Shutdown cannot reach
	// Wait between the handler snapshot and Add.
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(m.handlers[event.Type])+len(m.all))
	handlers = append(handlers, m.handlers[event.Type]...)
	handlers = append(handlers, m.all...)
	m.inflight.Add(len(handlers))
	m.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(ctx, event); err != nil {
				m.logger.Warn("notification delivery failed",
					zap.String("type", string(event.Type)),
					zap.String("recipient", event.RecipientID),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events, drops all handlers and waits for
// in-flight deliveries.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.all = nil
	m.mu.Unlock()

	m.inflight.Wait()
}

// LogHandler writes every notification to the log. Used when no external
// delivery channel is configured.
func LogHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, event Event) error {
		logger.Info("notification",
			zap.String("type", string(event.Type)),
			zap.String("recipient", event.RecipientID),
			zap.String("message", event.Message),
		)
		return nil
	}
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(context.Context, Event) {}
