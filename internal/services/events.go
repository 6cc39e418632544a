package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events emitted by the ledger.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventTransferLinked     EventType = "transfer.linked"
)

// Event is a fire-and-forget notification for external subscribers
// (analytics, onboarding). The ledger never awaits or depends on their
// handling.
type Event struct {
	Type           EventType
	UserID         int64
	TransactionIDs []int64
	TransferID     *uuid.UUID
	At             time.Time
}

// EventBus fans out events to subscribers over buffered channels. Publish
// never blocks: a subscriber that falls behind loses events rather than
// stalling ledger writes.
type EventBus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	closed bool
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{buffer: buffer}
}

// Subscribe registers a new subscriber channel.
func (b *EventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *EventBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
