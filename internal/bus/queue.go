package bus

import (
	"context"
	"log/slog"
	"sync"
)

// SendHandler delivers an outbound reply on a specific channel.
type SendHandler func(ctx context.Context, reply *Reply) error

// Bus decouples chat transports from the tracker using Go channels.
// Transports publish inbound events; the tracker publishes replies that are
// dispatched back to the transport they came from.
type Bus struct {
	Inbound  chan Event
	Outbound chan *Reply

	mu      sync.RWMutex
	senders map[string]SendHandler
}

// New creates a bus with buffered queues.
func New() *Bus {
	return &Bus{
		Inbound:  make(chan Event, 64),
		Outbound: make(chan *Reply, 64),
		senders:  make(map[string]SendHandler),
	}
}

// PublishEvent hands an inbound event to the tracker.
func (b *Bus) PublishEvent(evt Event) {
	b.Inbound <- evt
}

// PublishReply queues a reply for delivery.
func (b *Bus) PublishReply(reply *Reply) {
	b.Outbound <- reply
}

// Bind registers the send handler for a channel name.
func (b *Bus) Bind(channel string, handler SendHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders[channel] = handler
}

// DispatchOutbound reads the outbound queue and delivers replies to their
// channel. Blocks until ctx is cancelled.
func (b *Bus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-b.Outbound:
			b.mu.RLock()
			send, ok := b.senders[reply.Origin.Channel]
			b.mu.RUnlock()
			if !ok {
				slog.Warn("no sender bound for channel, dropping reply", "channel", reply.Origin.Channel)
				continue
			}
			if err := send(ctx, reply); err != nil {
				slog.Warn("reply delivery failed", "channel", reply.Origin.Channel, "conversation", reply.Origin.Conversation, "err", err)
				b.notifyFailure(ctx, send, reply)
			}
		}
	}
}

// notifyFailure sends a short best-effort notice so the conversation knows
// the reply was lost. If the notice itself fails there is nothing left to do
// but log.
func (b *Bus) notifyFailure(ctx context.Context, send SendHandler, original *Reply) {
	notice := &Reply{
		Origin:  original.Origin,
		ReplyTo: original.ReplyTo,
		// Kept free of markup metacharacters so it survives any parse mode.
		Chunks:  []string{"Sorry, something went wrong and that reply was not delivered"},
	}
	if err := send(ctx, notice); err != nil {
		slog.Error("failure notice undeliverable", "channel", original.Origin.Channel, "conversation", original.Origin.Conversation, "err", err)
	}
}
