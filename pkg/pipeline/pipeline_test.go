package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/certen-io/chain-listener/pkg/model"
)

type fakeFilter struct {
	id       string
	priority int
	pass     bool
	err      error
	calls    int32
}

func (f *fakeFilter) ID() string    { return f.id }
func (f *fakeFilter) Name() string  { return f.id }
func (f *fakeFilter) Enabled() bool { return true }
func (f *fakeFilter) Priority() int { return f.priority }
func (f *fakeFilter) Apply(event model.CanonicalEvent) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.pass, f.err
}

type fakeNotifier struct {
	id     string
	result model.NotificationResult
	calls  int32
}

func (n *fakeNotifier) ID() string    { return n.id }
func (n *fakeNotifier) Enabled() bool { return true }
func (n *fakeNotifier) Notify(ctx context.Context, pe *model.ProcessedEvent) model.NotificationResult {
	atomic.AddInt32(&n.calls, 1)
	return n.result
}

type fakeEnricher struct {
	id string
	fn func(model.CanonicalEvent) (model.CanonicalEvent, error)
}

func (e *fakeEnricher) ID() string { return e.id }
func (e *fakeEnricher) Enrich(ev model.CanonicalEvent) (model.CanonicalEvent, error) {
	return e.fn(ev)
}

type fakeProcessor struct {
	id string
	fn func(model.CanonicalEvent, string) (*model.ProcessedEvent, error)
}

func (p *fakeProcessor) ID() string { return p.id }
func (p *fakeProcessor) Process(ev model.CanonicalEvent, corr string) (*model.ProcessedEvent, error) {
	return p.fn(ev, corr)
}

func eventFixture() model.CanonicalEvent {
	return model.CanonicalEvent{
		ID:          "ethereum_0xabc",
		Chain:       model.ChainEthereum,
		Kind:        model.EventTransfer,
		BlockNumber: 100,
		TxHash:      "0xabc",
		TimestampMs: time.Now().UnixMilli(),
	}
}

func TestAddFilter_RejectsDuplicateID(t *testing.T) {
	p := New(nil)
	if err := p.AddFilter(&fakeFilter{id: "f", pass: true}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := p.AddFilter(&fakeFilter{id: "f", pass: true}); err == nil {
		t.Error("expected error re-registering filter id")
	}
}

func TestAddNotifier_RejectsDuplicateID(t *testing.T) {
	p := New(nil)
	if err := p.AddNotifier(&fakeNotifier{id: "n"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := p.AddNotifier(&fakeNotifier{id: "n"}); err == nil {
		t.Error("expected error re-registering notifier id")
	}
}

func TestExecute_HighestPriorityRejectionShortCircuits(t *testing.T) {
	p := New(nil)
	high := &fakeFilter{id: "high", priority: 10, pass: false}
	low := &fakeFilter{id: "low", priority: 1, pass: true}
	if err := p.AddFilter(low); err != nil {
		t.Fatal(err)
	}
	if err := p.AddFilter(high); err != nil {
		t.Fatal(err)
	}

	processed, err := p.Execute(context.Background(), eventFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if processed != nil {
		t.Fatal("rejected event should return nil ProcessedEvent")
	}
	if high.calls != 1 {
		t.Errorf("high-priority filter calls = %d, want 1", high.calls)
	}
	if low.calls != 0 {
		t.Errorf("low-priority filter evaluated after rejection: calls = %d, want 0", low.calls)
	}
}

func TestExecute_FilterErrorTreatedAsRejection(t *testing.T) {
	p := New(nil)
	if err := p.AddFilter(&fakeFilter{id: "boom", priority: 5, err: errors.New("filter broke")}); err != nil {
		t.Fatal(err)
	}

	processed, err := p.Execute(context.Background(), eventFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if processed != nil {
		t.Error("erroring filter should drop the event, not pass it")
	}
}

func TestExecute_DefaultProcessedEventWhenNoProcessors(t *testing.T) {
	p := New(nil)
	ev := eventFixture()

	processed, err := p.Execute(context.Background(), ev)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if processed == nil {
		t.Fatal("expected a ProcessedEvent")
	}
	if processed.ID != "processed_"+ev.ID {
		t.Errorf("ID = %q, want %q", processed.ID, "processed_"+ev.ID)
	}
	if processed.Metadata.Classification.Category != "medium_value" {
		t.Errorf("Category = %q, want medium_value", processed.Metadata.Classification.Category)
	}
	if processed.Metadata.Classification.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", processed.Metadata.Classification.Confidence)
	}
	if processed.Metadata.CorrelationID == "" {
		t.Error("correlation id must be stamped")
	}
}

func TestExecute_FirstSucceedingProcessorWins(t *testing.T) {
	p := New(nil)
	if err := p.AddProcessor(&fakeProcessor{id: "broken", fn: func(model.CanonicalEvent, string) (*model.ProcessedEvent, error) {
		return nil, errors.New("down")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := p.AddProcessor(&fakeProcessor{id: "wins", fn: func(ev model.CanonicalEvent, corr string) (*model.ProcessedEvent, error) {
		pe := model.NewProcessedEvent(ev, corr, time.Now())
		pe.Metadata.Classification = model.Classification{Category: "high_value", Confidence: 0.9}
		return pe, nil
	}}); err != nil {
		t.Fatal(err)
	}

	processed, err := p.Execute(context.Background(), eventFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if processed.Metadata.Classification.Category != "high_value" {
		t.Errorf("Category = %q, want high_value from the second processor", processed.Metadata.Classification.Category)
	}
}

func TestExecute_EnricherErrorPassesEventThroughUnchanged(t *testing.T) {
	p := New(nil)
	if err := p.AddEnricher(&fakeEnricher{id: "broken", fn: func(ev model.CanonicalEvent) (model.CanonicalEvent, error) {
		ev.Data.Amount = "tainted"
		return ev, errors.New("enrich failed")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEnricher(&fakeEnricher{id: "tags", fn: func(ev model.CanonicalEvent) (model.CanonicalEvent, error) {
		if ev.Data.Metadata == nil {
			ev.Data.Metadata = map[string]string{}
		}
		ev.Data.Metadata["enriched"] = "yes"
		return ev, nil
	}}); err != nil {
		t.Fatal(err)
	}

	processed, err := p.Execute(context.Background(), eventFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if processed.Original.Data.Amount == "tainted" {
		t.Error("failed enricher's mutation must not survive")
	}
	if processed.Original.Data.Metadata["enriched"] != "yes" {
		t.Error("successful enricher's mutation should survive")
	}
}

func TestExecute_NotifierFailureDoesNotAffectOthers(t *testing.T) {
	p := New(nil)
	failing := &fakeNotifier{id: "sink-down", result: model.NotificationResult{
		Channel: "sink-down", Success: false, Error: "sink-down", RetryCount: 3,
	}}
	succeeding := &fakeNotifier{id: "sink-up", result: model.NotificationResult{
		Channel: "sink-up", Success: true,
	}}
	if err := p.AddNotifier(failing); err != nil {
		t.Fatal(err)
	}
	if err := p.AddNotifier(succeeding); err != nil {
		t.Fatal(err)
	}

	processed, err := p.Execute(context.Background(), eventFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(processed.Notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(processed.Notifications))
	}

	byChannel := make(map[string]model.NotificationResult)
	for _, n := range processed.Notifications {
		byChannel[n.Channel] = n
	}
	if byChannel["sink-down"].Success {
		t.Error("sink-down should be recorded as failed")
	}
	if byChannel["sink-down"].RetryCount != 3 {
		t.Errorf("sink-down retry_count = %d, want 3", byChannel["sink-down"].RetryCount)
	}
	if !byChannel["sink-up"].Success {
		t.Error("sink-up should be recorded as succeeded despite the other sink failing")
	}
	if failing.calls != 1 || succeeding.calls != 1 {
		t.Errorf("each notifier should run exactly once, got %d and %d", failing.calls, succeeding.calls)
	}
}

func TestStats_CountsPassedAndFiltered(t *testing.T) {
	p := New(nil)
	if err := p.AddFilter(&fakeFilter{id: "gate", priority: 5, pass: false}); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Execute(context.Background(), eventFixture()); err != nil {
		t.Fatal(err)
	}

	stats := p.Stats()
	if stats.Executions != 1 || stats.Filtered != 1 || stats.Passed != 0 {
		t.Errorf("stats = %+v, want 1 execution, 1 filtered", stats)
	}
}
