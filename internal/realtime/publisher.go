package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrDeliveryFailed is returned when at least one live connection rejected a push.
var ErrDeliveryFailed = errors.New("realtime: delivery failed")

// Broadcaster pushes events to live connections.
type Broadcaster interface {
	Publish(ctx context.Context, recipientID, event string, data interface{}) error
	PublishAll(ctx context.Context, event string, data interface{}) error
}

// LocalPublisher delivers to the connections held by this process.
type LocalPublisher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewLocalPublisher builds a publisher over registry.
func NewLocalPublisher(registry *Registry, logger *zap.Logger) (*LocalPublisher, error) {
	if registry == nil {
		return nil, fmt.Errorf("realtime: registry required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalPublisher{registry: registry, logger: logger}, nil
}

// Publish sends event to the connections of recipientID. Zero connections is
// not an error.
func (p *LocalPublisher) Publish(_ context.Context, recipientID, event string, data interface{}) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return ErrEmptyRecipient
	}
	delivery := p.registry.Broadcast(recipientID, Event{Name: event, Data: data})
	return p.report(event, recipientID, delivery)
}

// PublishAll sends event to every joined connection.
func (p *LocalPublisher) PublishAll(_ context.Context, event string, data interface{}) error {
	delivery := p.registry.BroadcastJoined(Event{Name: event, Data: data})
	return p.report(event, "", delivery)
}

func (p *LocalPublisher) report(event, recipientID string, delivery Delivery) error {
	p.logger.Debug("realtime event published",
		zap.String("event", event),
		zap.String("recipient_id", recipientID),
		zap.Int("attempted", delivery.Attempted),
		zap.Int("failed", delivery.Failed))
	if delivery.Failed > 0 {
		return fmt.Errorf("%w: %d of %d connections", ErrDeliveryFailed, delivery.Failed, delivery.Attempted)
	}
	return nil
}
