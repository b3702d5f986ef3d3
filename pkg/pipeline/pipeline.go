// Package pipeline implements the ordered filter chain -> enrichment ->
// processor -> fan-out notification sequence every canonical event moves
// through.
//
// Filtering, enrichment, and processing run sequentially on the calling
// goroutine; notification fans every notifier out on its own goroutine
// and waits for all of them. Execute is reentrant: it mutates only the
// ProcessedEvent it constructs, so the manager may call it concurrently
// for events from different adapters.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/pipeline/filter"
	"github.com/certen-io/chain-listener/pkg/pipeline/notify"
)

// Enricher mutates (or replaces) an event before processing. An error is
// logged and the event passed through unchanged.
type Enricher interface {
	ID() string
	Enrich(event model.CanonicalEvent) (model.CanonicalEvent, error)
}

// Processor turns a CanonicalEvent into a ProcessedEvent. The first
// processor to succeed wins.
type Processor interface {
	ID() string
	Process(event model.CanonicalEvent, correlationID string) (*model.ProcessedEvent, error)
}

// Pipeline is the shared filter -> enrich -> process -> notify sequence
// the Chain Manager hands every canonical event to.
type Pipeline struct {
	log *logging.Logger

	mu           sync.RWMutex
	filters      []filter.Filter
	filterIdx    map[string]struct{}
	enrichers    []Enricher
	enricherIdx  map[string]struct{}
	processors   []Processor
	processorIdx map[string]struct{}
	notifiers    []notify.Notifier
	notifierIdx  map[string]struct{}

	stats   Stats
	statsMu sync.Mutex
}

// Stats mirrors the pipeline_stats counters the facade exposes.
type Stats struct {
	Executions int64
	Passed     int64
	Filtered   int64
}

// New builds an empty Pipeline.
func New(log *logging.Logger) *Pipeline {
	return &Pipeline{
		log:          log,
		filterIdx:    make(map[string]struct{}),
		enricherIdx:  make(map[string]struct{}),
		processorIdx: make(map[string]struct{}),
		notifierIdx:  make(map[string]struct{}),
	}
}

// AddFilter registers f, keyed by its id. Replacing an existing id is an
// error.
func (p *Pipeline) AddFilter(f filter.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.filterIdx[f.ID()]; exists {
		return fmt.Errorf("pipeline: filter %q already registered", f.ID())
	}
	p.filterIdx[f.ID()] = struct{}{}
	p.filters = append(p.filters, f)
	filter.ByPriorityDescending(p.filters)
	return nil
}

// AddEnricher registers e, keyed by its id.
func (p *Pipeline) AddEnricher(e Enricher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.enricherIdx[e.ID()]; exists {
		return fmt.Errorf("pipeline: enricher %q already registered", e.ID())
	}
	p.enricherIdx[e.ID()] = struct{}{}
	p.enrichers = append(p.enrichers, e)
	return nil
}

// AddProcessor registers pr, keyed by its id.
func (p *Pipeline) AddProcessor(pr Processor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.processorIdx[pr.ID()]; exists {
		return fmt.Errorf("pipeline: processor %q already registered", pr.ID())
	}
	p.processorIdx[pr.ID()] = struct{}{}
	p.processors = append(p.processors, pr)
	return nil
}

// AddNotifier registers n, keyed by its id.
func (p *Pipeline) AddNotifier(n notify.Notifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.notifierIdx[n.ID()]; exists {
		return fmt.Errorf("pipeline: notifier %q already registered", n.ID())
	}
	p.notifierIdx[n.ID()] = struct{}{}
	p.notifiers = append(p.notifiers, n)
	return nil
}

// Stats returns a snapshot of the pipeline's execution counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func newCorrelationID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Execute runs event through the full pipeline. It returns (nil, nil)
// when a filter rejects the event, never an error for that case; only
// infrastructure failures return an error.
func (p *Pipeline) Execute(ctx context.Context, event model.CanonicalEvent) (*model.ProcessedEvent, error) {
	started := time.Now()
	correlationID := newCorrelationID()

	p.mu.RLock()
	filters := append([]filter.Filter(nil), p.filters...)
	enrichers := append([]Enricher(nil), p.enrichers...)
	processors := append([]Processor(nil), p.processors...)
	notifiers := append([]notify.Notifier(nil), p.notifiers...)
	p.mu.RUnlock()

	var filtersRun []string
	for _, f := range filters {
		if !f.Enabled() {
			continue
		}
		filtersRun = append(filtersRun, f.ID())
		ok, err := f.Apply(event)
		if err != nil {
			if p.log != nil {
				p.log.Errorf("filter %q errored, treating event %s as rejected: %v", f.ID(), event.ID, err)
			}
			ok = false
		}
		if !ok {
			p.recordFiltered()
			return nil, nil
		}
	}

	for _, e := range enrichers {
		enriched, err := e.Enrich(event)
		if err != nil {
			if p.log != nil {
				p.log.Errorf("enricher %q failed, passing event %s through unchanged: %v", e.ID(), event.ID, err)
			}
			continue
		}
		event = enriched
	}

	processed := p.runProcessors(processors, event, correlationID)
	processed.Metadata.FiltersRun = filtersRun
	processed.ProcessedAtMs = time.Now().UnixMilli()
	processed.ProcessingDuration = time.Since(started)

	p.fanOutNotifications(ctx, notifiers, processed)

	p.recordPassed()
	return processed, nil
}

// runProcessors runs processors in order, keeping the first success; if
// all fail or none are registered, it synthesizes a default medium_value
// ProcessedEvent at confidence 0.5.
func (p *Pipeline) runProcessors(processors []Processor, event model.CanonicalEvent, correlationID string) *model.ProcessedEvent {
	for _, pr := range processors {
		result, err := pr.Process(event, correlationID)
		if err != nil {
			if p.log != nil {
				p.log.Errorf("processor %q failed for event %s: %v", pr.ID(), event.ID, err)
			}
			continue
		}
		if result != nil {
			return result
		}
	}

	result := model.NewProcessedEvent(event, correlationID, time.Now())
	result.Metadata.Classification = model.Classification{Category: "medium_value", Confidence: 0.5}
	return result
}

// fanOutNotifications runs every notifier concurrently and awaits all of
// them; one notifier's failure never prevents the others from running or
// recording their own outcome.
func (p *Pipeline) fanOutNotifications(ctx context.Context, notifiers []notify.Notifier, processed *model.ProcessedEvent) {
	if len(notifiers) == 0 {
		return
	}

	results := make([]model.NotificationResult, len(notifiers))
	var wg sync.WaitGroup
	for i, n := range notifiers {
		if !n.Enabled() {
			continue
		}
		wg.Add(1)
		go func(i int, n notify.Notifier) {
			defer wg.Done()
			results[i] = n.Notify(ctx, processed)
		}(i, n)
	}
	wg.Wait()

	for i, n := range notifiers {
		if !n.Enabled() {
			continue
		}
		processed.Notifications = append(processed.Notifications, results[i])
	}
}

func (p *Pipeline) recordPassed() {
	p.statsMu.Lock()
	p.stats.Executions++
	p.stats.Passed++
	p.statsMu.Unlock()
}

func (p *Pipeline) recordFiltered() {
	p.statsMu.Lock()
	p.stats.Executions++
	p.stats.Filtered++
	p.statsMu.Unlock()
}
