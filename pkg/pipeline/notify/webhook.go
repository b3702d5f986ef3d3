package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/certen-io/chain-listener/pkg/model"
)

// eventPayload is the wire shape of the "event" sub-object in the webhook
// body.
type eventPayload struct {
	ID              string          `json:"id"`
	ChainType       model.ChainKind `json:"chainType"`
	EventType       model.EventKind `json:"eventType"`
	BlockNumber     uint64          `json:"blockNumber"`
	TransactionHash string          `json:"transactionHash"`
	Timestamp       int64           `json:"timestamp"`
	Confirmed       bool            `json:"confirmed"`
	Data            model.EventData `json:"data"`
}

// webhookBody is the full POST body shape.
type webhookBody struct {
	ID            string                       `json:"id"`
	Timestamp     int64                        `json:"timestamp"`
	Event         eventPayload                 `json:"event"`
	Metadata      model.ProcessedEventMetadata `json:"metadata"`
	Notifications []model.NotificationResult   `json:"notifications"`
	Processed     int64                        `json:"processed"`
	Errors        []model.ProcessingErrorEntry `json:"errors,omitempty"`
}

func buildWebhookBody(pe *model.ProcessedEvent) webhookBody {
	ev := pe.Original
	return webhookBody{
		ID:        pe.ID,
		Timestamp: time.Now().UnixMilli(),
		Event: eventPayload{
			ID:              ev.ID,
			ChainType:       ev.Chain,
			EventType:       ev.Kind,
			BlockNumber:     ev.BlockNumber,
			TransactionHash: ev.TxHash,
			Timestamp:       ev.TimestampMs,
			Confirmed:       ev.Confirmed,
			Data:            ev.Data,
		},
		Metadata:      pe.Metadata,
		Notifications: pe.Notifications,
		Processed:     pe.ProcessedAtMs,
		Errors:        pe.Errors,
	}
}

// Webhook POSTs a JSON body to a configured URL. A 2xx
// status is success; anything else is retried, and each failed attempt's
// error reads "Webhook request failed: <code> <status text>. Response:
// <body>".
type Webhook struct {
	Base
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewWebhook builds a Webhook notifier posting to url.
func NewWebhook(id, url string, timeout time.Duration, retryAttempts int, retryDelay time.Duration) *Webhook {
	return &Webhook{
		Base:    Base{Channel: id, OnEnabled: true, RetryAttempts: retryAttempts, RetryDelay: retryDelay},
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Notify(ctx context.Context, pe *model.ProcessedEvent) model.NotificationResult {
	body, err := json.Marshal(buildWebhookBody(pe))
	if err != nil {
		return model.NotificationResult{Channel: w.Channel, Success: false, TimestampMs: time.Now().UnixMilli(), Error: fmt.Sprintf("marshal webhook body: %v", err)}
	}

	return w.Deliver(ctx, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.Client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("Webhook request failed: %d %s. Response: %s", resp.StatusCode, http.StatusText(resp.StatusCode), respBody)
	})
}
