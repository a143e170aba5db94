// Package notify delivers direct messages about task events. Delivery is
// best-effort: nothing here returns an error to the caller.
package notify

import (
	"context"
	"log"

	"github.com/stellarlinkco/taskflow/internal/bus"
	"github.com/stellarlinkco/taskflow/internal/messages"
	"github.com/stellarlinkco/taskflow/internal/task"
)

type Kind string

const (
	KindSubmitted      Kind = "submitted"
	KindApproved       Kind = "approved"
	KindRejected       Kind = "rejected"
	KindReassignedTo   Kind = "reassigned_to"
	KindReassignedFrom Kind = "reassigned_from"
	KindDeadline       Kind = "deadline"
)

type Event struct {
	Kind      Kind
	Recipient string
	Task      task.Task
}

// Notifier accepts events for delivery. Implementations must not block on
// transport and must swallow delivery failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Dispatcher renders events with a catalog and queues them on the bus as
// direct messages to the recipient.
type Dispatcher struct {
	bus     *bus.MessageBus
	channel string
	catalog *messages.Catalog
}

func NewDispatcher(b *bus.MessageBus, channel string, catalog *messages.Catalog) *Dispatcher {
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Dispatcher{bus: b, channel: channel, catalog: catalog}
}

func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if ev.Recipient == "" {
		return
	}
	if ctx.Err() != nil {
		log.Printf("[notify] context done, skipping %s for %s", ev.Kind, ev.Task.ID)
		return
	}
	msg := bus.OutboundMessage{
		Channel: d.channel,
		ChatID:  ev.Recipient,
		Content: d.Render(ev),
	}
	if !d.bus.TryPublishOutbound(msg) {
		log.Printf("[notify] outbound queue full, dropped %s for %s to %s", ev.Kind, ev.Task.ID, ev.Recipient)
	}
}

// Render returns the message text for ev.
func (d *Dispatcher) Render(ev Event) string {
	switch ev.Kind {
	case KindSubmitted:
		return d.catalog.T(messages.NotifySubmitted, ev.Task.ID)
	case KindApproved:
		return d.catalog.T(messages.NotifyApproved, ev.Task.ID)
	case KindRejected:
		return d.catalog.T(messages.NotifyRejected, ev.Task.ID)
	case KindReassignedTo:
		return d.catalog.T(messages.NotifyReassignedTo, ev.Task.ID)
	case KindReassignedFrom:
		return d.catalog.T(messages.NotifyReassignedFrom, ev.Task.ID)
	case KindDeadline:
		return d.catalog.T(messages.NotifyDeadline, ev.Task.ID, ev.Task.Title)
	default:
		return string(ev.Kind) + ": " + ev.Task.ID
	}
}
