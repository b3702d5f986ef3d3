package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// pubsubBody is the same JSON shape as the webhook body, minus
// notifications, which is rebuilt downstream by the subscriber.
type pubsubBody struct {
	ID        string                       `json:"id"`
	Timestamp int64                        `json:"timestamp"`
	Event     eventPayload                 `json:"event"`
	Metadata  model.ProcessedEventMetadata `json:"metadata"`
	Processed int64                        `json:"processed"`
	Errors    []model.ProcessingErrorEntry `json:"errors,omitempty"`
}

// PubSub publishes the processed event as JSON to a channel on a
// Redis-compatible pub/sub. It reconnects lazily: the
// client is only dialed on first use or after a prior publish failed.
type PubSub struct {
	Base
	RedisURL string
	Channel_ string // the pub/sub channel name (Base.Channel is the notifier id)
	log      *logging.Logger

	mu     sync.Mutex
	client *redis.Client
}

// NewPubSub builds a PubSub notifier for the given Redis URL and
// pub/sub channel.
func NewPubSub(id, redisURL, pubsubChannel string, retryAttempts int, retryDelay time.Duration, log *logging.Logger) *PubSub {
	return &PubSub{
		Base:     Base{Channel: id, OnEnabled: true, RetryAttempts: retryAttempts, RetryDelay: retryDelay},
		RedisURL: redisURL,
		Channel_: pubsubChannel,
		log:      log,
	}
}

func (p *PubSub) ensureClient() (*redis.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	opts, err := redis.ParseURL(p.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	p.client = redis.NewClient(opts)
	return p.client, nil
}

func (p *PubSub) invalidateClient() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
}

func (p *PubSub) Notify(ctx context.Context, pe *model.ProcessedEvent) model.NotificationResult {
	ev := pe.Original
	body, err := json.Marshal(pubsubBody{
		ID:        pe.ID,
		Timestamp: time.Now().UnixMilli(),
		Event: eventPayload{
			ID: ev.ID, ChainType: ev.Chain, EventType: ev.Kind, BlockNumber: ev.BlockNumber,
			TransactionHash: ev.TxHash, Timestamp: ev.TimestampMs, Confirmed: ev.Confirmed, Data: ev.Data,
		},
		Metadata:  pe.Metadata,
		Processed: pe.ProcessedAtMs,
		Errors:    pe.Errors,
	})
	if err != nil {
		return model.NotificationResult{Channel: p.Channel, Success: false, TimestampMs: time.Now().UnixMilli(), Error: fmt.Sprintf("marshal pubsub body: %v", err)}
	}

	return p.Deliver(ctx, func(ctx context.Context, attempt int) error {
		client, err := p.ensureClient()
		if err != nil {
			return err
		}

		n, err := client.Publish(ctx, p.Channel_, body).Result()
		if err != nil {
			p.invalidateClient()
			return fmt.Errorf("redis publish: %w", err)
		}
		if n == 0 && p.log != nil {
			p.log.Warnf("pubsub channel %q has zero subscribers", p.Channel_)
		}
		return nil
	})
}
