// internal/infra/bus/bus.go
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/domain/event"
)

// deliveryTimeout bounds the handler work a single delivery may trigger, the
// same way the cron ticks bound theirs.
const deliveryTimeout = time.Minute

// InMemoryBus is an in-process implementation of event.Bus. Publishes enqueue
// onto a buffered channel drained by a single consumer goroutine that invokes
// every registered handler; handler errors are logged, not propagated, so one
// failing consumer never blocks the stream. Handlers must be duplicate-safe:
// delivery is at-least-once from their point of view.
//
// An external broker would slot in behind the same event.Bus interface.
type InMemoryBus struct {
	logger *logrus.Entry

	mu                   sync.RWMutex
	stopSignalHandlers   []func(context.Context, event.StopSignal) error
	leadAssignedHandlers []func(context.Context, event.LeadAssigned) error

	queue chan envelope
	done  chan struct{}
	once  sync.Once
}

type envelope struct {
	stopSignal   *event.StopSignal
	leadAssigned *event.LeadAssigned
}

func NewInMemoryBus(logger *logrus.Entry, buffer int) *InMemoryBus {
	if buffer < 1 {
		buffer = 64
	}
	b := &InMemoryBus{
		logger: logger,
		queue:  make(chan envelope, buffer),
		done:   make(chan struct{}),
	}
	go b.consume()
	return b
}

// SubscribeStopSignal registers a stop-signal consumer.
func (b *InMemoryBus) SubscribeStopSignal(handler func(context.Context, event.StopSignal) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopSignalHandlers = append(b.stopSignalHandlers, handler)
}

// SubscribeLeadAssigned registers a trigger-event consumer.
func (b *InMemoryBus) SubscribeLeadAssigned(handler func(context.Context, event.LeadAssigned) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leadAssignedHandlers = append(b.leadAssignedHandlers, handler)
}

func (b *InMemoryBus) PublishStopSignal(ctx context.Context, sig event.StopSignal) error {
	return b.publish(ctx, envelope{stopSignal: &sig})
}

func (b *InMemoryBus) PublishLeadAssigned(ctx context.Context, evt event.LeadAssigned) error {
	return b.publish(ctx, envelope{leadAssigned: &evt})
}

func (b *InMemoryBus) publish(ctx context.Context, env envelope) error {
	select {
	case <-b.done:
		return fmt.Errorf("event bus is closed")
	default:
	}
	select {
	case b.queue <- env:
		return nil
	case <-b.done:
		return fmt.Errorf("event bus is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBus) consume() {
	for {
		select {
		case env := <-b.queue:
			b.deliver(env)
		case <-b.done:
			// Drain what was accepted before Close.
			for {
				select {
				case env := <-b.queue:
					b.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (b *InMemoryBus) deliver(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	b.mu.RLock()
	stopHandlers := b.stopSignalHandlers
	assignedHandlers := b.leadAssignedHandlers
	b.mu.RUnlock()

	switch {
	case env.stopSignal != nil:
		for _, h := range stopHandlers {
			if err := h(ctx, *env.stopSignal); err != nil {
				b.logger.WithError(err).WithField("signal_type", env.stopSignal.Type).Error("Stop signal handler failed")
			}
		}
	case env.leadAssigned != nil:
		for _, h := range assignedHandlers {
			if err := h(ctx, *env.leadAssigned); err != nil {
				b.logger.WithError(err).WithField("lead_id", env.leadAssigned.LeadID).Error("Lead assigned handler failed")
			}
		}
	}
}

// Close stops accepting publishes; already-queued events are still delivered.
func (b *InMemoryBus) Close() {
	b.once.Do(func() { close(b.done) })
}
