package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultRelayChannel is the pub/sub channel shared by every instance.
const DefaultRelayChannel = "talenthub:realtime"

type relayEnvelope struct {
	RecipientID string          `json:"recipient_id,omitempty"`
	All         bool            `json:"all,omitempty"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RelayConfig describes the dependencies of RedisRelay.
type RelayConfig struct {
	Client  *redis.Client
	Channel string
	Local   *LocalPublisher
	Logger  *zap.Logger
}

// RedisRelay publishes events on a Redis channel so that every instance,
// including this one, delivers them to its local connections.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *LocalPublisher
	logger  *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRedisRelay validates dependencies and applies defaults.
func NewRedisRelay(cfg RelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("realtime: redis client required")
	}
	if cfg.Local == nil {
		return nil, fmt.Errorf("realtime: local publisher required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultRelayChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:  cfg.Client,
		channel: channel,
		local:   cfg.Local,
		logger:  logger,
		ready:   make(chan struct{}),
	}, nil
}

// Publish relays event for recipientID.
func (r *RedisRelay) Publish(ctx context.Context, recipientID, event string, data interface{}) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return ErrEmptyRecipient
	}
	return r.relay(ctx, relayEnvelope{RecipientID: recipientID, Event: event}, data)
}

// PublishAll relays event for every joined connection.
func (r *RedisRelay) PublishAll(ctx context.Context, event string, data interface{}) error {
	return r.relay(ctx, relayEnvelope{All: true, Event: event}, data)
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run forwards relayed events to the local registry until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	subscription := r.client.Subscribe(ctx, r.channel)
	defer subscription.Close()
	if _, err := subscription.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel))

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(ctx, message.Payload)
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, envelope relayEnvelope, data interface{}) error {
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("realtime: encode %s: %w", envelope.Event, err)
		}
		envelope.Data = encoded
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("realtime: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("realtime relay publish failed, delivering locally",
			zap.String("event", envelope.Event),
			zap.Error(err))
		r.deliverEnvelope(ctx, envelope)
		return fmt.Errorf("realtime: publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *RedisRelay) deliver(ctx context.Context, payload string) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		r.logger.Warn("realtime relay message dropped", zap.Error(err))
		return
	}
	r.deliverEnvelope(ctx, envelope)
}

func (r *RedisRelay) deliverEnvelope(ctx context.Context, envelope relayEnvelope) {
	var data interface{}
	if len(envelope.Data) > 0 {
		data = envelope.Data
	}
	var err error
	if envelope.All {
		err = r.local.PublishAll(ctx, envelope.Event, data)
	} else {
		err = r.local.Publish(ctx, envelope.RecipientID, envelope.Event, data)
	}
	if err != nil {
		r.logger.Debug("realtime relay local delivery incomplete",
			zap.String("event", envelope.Event),
			zap.Error(err))
	}
}
