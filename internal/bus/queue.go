package bus

import (
	"context"
	"log"
	"sync"
)

type OutboundHandler func(msg OutboundMessage)

// MessageBus connects chat channels to the command layer.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]OutboundHandler
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string][]OutboundHandler),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], h)
}

// TryPublishOutbound queues msg without blocking and reports whether it was queued.
func (b *MessageBus) TryPublishOutbound(msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	default:
		return false
	}
}

// DispatchOutbound delivers queued outbound messages to the subscribers of
// their channel until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handlers := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				log.Printf("[bus] no subscriber for channel %q, dropping message to %s", msg.Channel, msg.ChatID)
				continue
			}
			for _, h := range handlers {
				h(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
