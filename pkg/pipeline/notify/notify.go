// Package notify implements the delivery sinks processed events fan out
// to: an HTTP webhook, a Redis-compatible pub/sub publisher, and a
// structured log sink. The webhook and pub/sub notifiers wrap
// pkg/chain.Do (through Base.Deliver) for their retry policy, so the
// exhausted-retry error message and exponential timing are identical
// across the two; the structured log sink writes each record once,
// without retry.
package notify

import (
	"context"
	"time"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/model"
)

// Notifier is a delivery sink with an independent retry policy.
type Notifier interface {
	ID() string
	Enabled() bool
	Notify(ctx context.Context, pe *model.ProcessedEvent) model.NotificationResult
}

// Base carries the retry policy shared by every concrete notifier:
// "up to retry_attempts, delay = retry_delay * 2^attempt".
type Base struct {
	Channel       string
	OnEnabled     bool
	RetryAttempts int
	RetryDelay    time.Duration
}

func (b *Base) ID() string    { return b.Channel }
func (b *Base) Enabled() bool { return b.OnEnabled }

// Deliver runs send with Base's retry policy and converts the outcome
// into a NotificationResult, recording retry_count and, on exhaustion,
// the final error, without ever returning an error itself, since a
// notifier's failure must never abort the others.
func (b *Base) Deliver(ctx context.Context, send func(ctx context.Context, attempt int) error) model.NotificationResult {
	attempts := b.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastAttempt int
	err := chain.Do(ctx, attempts, b.RetryDelay, chain.DefaultMaxDelay, func(attempt int) error {
		lastAttempt = attempt
		return send(ctx, attempt)
	})

	result := model.NotificationResult{
		Channel:     b.Channel,
		Success:     err == nil,
		TimestampMs: time.Now().UnixMilli(),
		RetryCount:  lastAttempt,
	}
	if err != nil {
		// On exhaustion the count reflects the whole spent budget rather
		// than the zero-based index of the final attempt.
		result.RetryCount = attempts
		result.Error = err.Error()
	}
	return result
}
