package identity

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const subscriptionBuffer = 64

// Subscription is a handle on a broadcast stream. Unsubscribe releases it and
// closes C; calling it more than once is a no-op.
type Subscription[T any] struct {
	ch     chan T
	once   sync.Once
	cancel func()
}

// C returns the delivery channel. It is closed after Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe detaches the subscription from its bus.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(s.cancel)
}

type messageSub struct {
	sub    *Subscription[EventMessage]
	filter func(EventMessage) bool
}

// EventBus broadcasts identity events and interaction-status changes.
// Delivery never blocks the publisher: a subscriber whose buffer is full misses
// the event.
type EventBus struct {
	mu       sync.Mutex
	nextID   uint64
	messages map[uint64]messageSub
	statuses map[uint64]*Subscription[InteractionStatus]
	status   InteractionStatus
	logger   *zap.Logger
	now      func() time.Time
}

// NewEventBus creates an event bus starting in the startup status.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		messages: make(map[uint64]messageSub),
		statuses: make(map[uint64]*Subscription[InteractionStatus]),
		status:   InteractionStatusStartup,
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe returns a subscription to events accepted by filter. A nil filter accepts everything.
func (b *EventBus) Subscribe(filter func(EventMessage) bool) *Subscription[EventMessage] {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &Subscription[EventMessage]{ch: make(chan EventMessage, subscriptionBuffer)}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.messages[id]; ok {
			delete(b.messages, id)
			close(sub.ch)
		}
	}
	b.messages[id] = messageSub{sub: sub, filter: filter}
	return sub
}

// SubscribeStatus returns a subscription to interaction-status changes. The
// current status is delivered immediately.
func (b *EventBus) SubscribeStatus() *Subscription[InteractionStatus] {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &Subscription[InteractionStatus]{ch: make(chan InteractionStatus, subscriptionBuffer)}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.statuses[id]; ok {
			delete(b.statuses, id)
			close(sub.ch)
		}
	}
	sub.ch <- b.status
	b.statuses[id] = sub
	return sub
}

// Publish delivers msg to every matching subscriber.
func (b *EventBus) Publish(msg EventMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.messages {
		if s.filter != nil && !s.filter(msg) {
			continue
		}
		select {
		case s.sub.ch <- msg:
		default:
			b.logger.Warn("dropping identity event for slow subscriber",
				zap.String("event", string(msg.Type)))
		}
	}
}

// SetStatus records a new interaction status and notifies subscribers when it changed.
func (b *EventBus) SetStatus(status InteractionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == status {
		return
	}
	b.status = status
	for _, s := range b.statuses {
		select {
		case s.ch <- status:
		default:
			b.logger.Warn("dropping interaction status for slow subscriber",
				zap.String("status", string(status)))
		}
	}
}

// Status returns the current interaction status.
func (b *EventBus) Status() InteractionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SubscriberCount returns the number of live subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages) + len(b.statuses)
}

// AccountChanged matches account added and removed events.
func AccountChanged(msg EventMessage) bool {
	return msg.Type == EventAccountAdded || msg.Type == EventAccountRemoved
}

// Failure matches login, logout and token failure events.
func Failure(msg EventMessage) bool {
	switch msg.Type {
	case EventLoginFailure, EventLogoutFailure, EventAcquireTokenFailure:
		return true
	}
	return false
}
