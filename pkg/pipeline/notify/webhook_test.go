package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/certen-io/chain-listener/pkg/model"
)

func processedFixture() *model.ProcessedEvent {
	return &model.ProcessedEvent{
		ID: "processed_ethereum_0xabc",
		Original: model.CanonicalEvent{
			ID:          "ethereum_0xabc",
			Chain:       model.ChainEthereum,
			Kind:        model.EventTransfer,
			BlockNumber: 100,
			TxHash:      "0xabc",
			TimestampMs: 1700000000000,
			Confirmed:   true,
			Data:        model.EventData{From: "0xa", To: "0xb", Amount: "1"},
		},
		ProcessedAtMs: 1700000000500,
		Metadata: model.ProcessedEventMetadata{
			CorrelationID:  "corr-1",
			Classification: model.Classification{Category: "medium_value", Confidence: 0.5},
		},
	}
}

func TestWebhook_SucceedsOn2xx(t *testing.T) {
	var gotBody webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook("webhook", srv.URL, time.Second, 3, time.Millisecond)
	result := w.Notify(context.Background(), processedFixture())

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if gotBody.Event.ID != "ethereum_0xabc" {
		t.Errorf("event.id = %q", gotBody.Event.ID)
	}
	if gotBody.Event.ChainType != model.ChainEthereum {
		t.Errorf("event.chainType = %q", gotBody.Event.ChainType)
	}
	if gotBody.Metadata.CorrelationID != "corr-1" {
		t.Errorf("metadata.correlation_id = %q", gotBody.Metadata.CorrelationID)
	}
}

func TestWebhook_RetriesUpToBudgetAndReportsStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	w := NewWebhook("webhook", srv.URL, time.Second, 3, time.Millisecond)
	result := w.Notify(context.Background(), processedFixture())

	if result.Success {
		t.Fatal("expected failure against a 502 endpoint")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("attempts = %d, want full retry budget of 3", got)
	}
	if result.RetryCount != 3 {
		t.Errorf("retry_count = %d, want the exhausted budget of 3", result.RetryCount)
	}
	if !strings.Contains(result.Error, "Webhook request failed: 502 Bad Gateway") {
		t.Errorf("error %q missing status line", result.Error)
	}
	if !strings.Contains(result.Error, "Response: upstream down") {
		t.Errorf("error %q missing response body", result.Error)
	}
}

func TestWebhook_RecoversWithinBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook("webhook", srv.URL, time.Second, 5, time.Millisecond)
	result := w.Notify(context.Background(), processedFixture())

	if !result.Success {
		t.Fatalf("expected eventual success, got %q", result.Error)
	}
	if result.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", result.RetryCount)
	}
}

func TestDeliver_DelaysAreNonDecreasing(t *testing.T) {
	b := &Base{Channel: "test", OnEnabled: true, RetryAttempts: 4, RetryDelay: 5 * time.Millisecond}

	var stamps []time.Time
	result := b.Deliver(context.Background(), func(ctx context.Context, attempt int) error {
		stamps = append(stamps, time.Now())
		return context.DeadlineExceeded
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(stamps) != 4 {
		t.Fatalf("attempts = %d, want 4", len(stamps))
	}

	var prev time.Duration
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < prev {
			t.Errorf("delay between attempts %d and %d shrank: %v < %v", i, i+1, gap, prev)
		}
		prev = gap
	}
}
