package realtime

import (
	"context"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

// Bus fans messages out across instances.
type Bus interface {
	Publish(ctx context.Context, msg SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m SSEMessage)) error
	Close() error
}

// Publisher sends through the bus when one is configured and falls back to
// the local hub otherwise. With a bus every instance, including this one,
// receives the message through its forwarder.
type Publisher struct {
	hub *SSEHub
	bus Bus
	log *logger.Logger
}

func NewPublisher(hub *SSEHub, bus Bus, log *logger.Logger) *Publisher {
	return &Publisher{hub: hub, bus: bus, log: log.With("component", "SSEPublisher")}
}

func (p *Publisher) Publish(ctx context.Context, msg SSEMessage) {
	if p == nil {
		return
	}
	if p.bus != nil {
		err := p.bus.Publish(ctx, msg)
		if err == nil {
			return
		}
		p.log.Warn("SSE bus publish failed; delivering locally", "error", err)
	}
	if p.hub != nil {
		p.hub.Broadcast(msg)
	}
}

// Forward pipes bus messages into the local hub until ctx is done.
func (p *Publisher) Forward(ctx context.Context) error {
	if p == nil || p.bus == nil || p.hub == nil {
		return nil
	}
	return p.bus.StartForwarder(ctx, p.hub.Broadcast)
}
