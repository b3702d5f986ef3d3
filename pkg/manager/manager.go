// Package manager implements the chain manager: the component that owns
// every registered chain.Adapter, drives each through the connection
// lifecycle, drains its signal channels into the processing pipeline,
// and performs health-driven reconnection. A goroutine per registration
// fans that adapter's events in; start/stop settle all adapters before
// returning. Event counters are prometheus collectors.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/pipeline"
)

// State is the Chain Manager's per-chain lifecycle state:
// unregistered -> registered -> connecting -> connected -> monitoring ->
// stopping -> disconnected.
type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistered   State = "registered"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateMonitoring   State = "monitoring"
	StateStopping     State = "stopping"
	StateDisconnected State = "disconnected"
)

// Config tunes the manager's health sweep and reconnection behavior.
type Config struct {
	HealthCheckInterval time.Duration
	ReconnectDelay      time.Duration
	Log                 *logging.Logger
}

type registration struct {
	adapter     chain.Adapter
	state       State
	cancelDrain context.CancelFunc
}

// Manager owns a set of chain.Adapter registrations and pumps their
// signals into a pipeline.Pipeline.
type Manager struct {
	cfg      Config
	pipeline *pipeline.Pipeline

	mu     sync.RWMutex
	chains map[model.ChainKind]*registration

	stopHealth chan struct{}

	eventsTotal     prometheus.Counter
	eventsProcessed prometheus.Counter
	eventsFailed    prometheus.Counter
	reconnects      *prometheus.CounterVec

	// Plain counters mirroring the prometheus ones above, readable
	// without going through the collector interface, for Listener's
	// get_stats() surface.
	totalCount     int64
	processedCount int64
	failedCount    int64
}

// Counts returns the manager's (total, processed, failed) event counts.
func (m *Manager) Counts() (total, processed, failed int64) {
	return atomic.LoadInt64(&m.totalCount), atomic.LoadInt64(&m.processedCount), atomic.LoadInt64(&m.failedCount)
}

// New builds a Manager that feeds processed events through p.
func New(cfg Config, p *pipeline.Pipeline) *Manager {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		pipeline: p,
		chains:   make(map[model.ChainKind]*registration),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_listener_events_total",
			Help: "Canonical events received from all chain adapters.",
		}),
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_listener_events_processed_total",
			Help: "Events that passed the pipeline and produced a ProcessedEvent.",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_listener_events_failed_total",
			Help: "Events that errored while moving through the pipeline.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_listener_reconnects_total",
			Help: "Reconnect attempts per chain.",
		}, []string{"chain"}),
	}
}

// Collectors returns the manager's metrics for registration against a
// prometheus.Registry.
func (m *Manager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.eventsTotal, m.eventsProcessed, m.eventsFailed, m.reconnects}
}

// Register adds adapter under its own chain kind. Registering a second
// adapter for an already-registered chain kind is rejected.
func (m *Manager) Register(adapter chain.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := adapter.Chain()
	if _, exists := m.chains[ck]; exists {
		return fmt.Errorf("manager: chain %s already registered", ck)
	}
	m.chains[ck] = &registration{adapter: adapter, state: StateRegistered}
	return nil
}

// Unregister removes a chain's registration. The adapter must already be
// disconnected.
func (m *Manager) Unregister(ck model.ChainKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.chains[ck]
	if !ok {
		return fmt.Errorf("manager: chain %s not registered", ck)
	}
	if reg.state != StateDisconnected && reg.state != StateRegistered {
		return fmt.Errorf("manager: chain %s must be disconnected before unregistering", ck)
	}
	delete(m.chains, ck)
	return nil
}

// Start connects and starts monitoring on every registered adapter
// concurrently, waiting for every attempt to settle (success or failure)
// before returning, then starts the health sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.chains))
	for _, r := range m.chains {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(regs))
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			if err := m.connectAndMonitor(ctx, reg); err != nil {
				errCh <- err
			}
		}(reg)
	}
	wg.Wait()
	close(errCh)

	var errsFound []error
	for err := range errCh {
		errsFound = append(errsFound, err)
	}

	m.stopHealth = make(chan struct{})
	go m.healthSweep()

	// One chain failing to come up does not prevent the others from
	// monitoring; each failure was already surfaced through the adapter's
	// error signal. Only a total failure aborts Start.
	if len(regs) > 0 && len(errsFound) == len(regs) {
		return fmt.Errorf("manager: all %d chains failed to start: %v", len(regs), errsFound[0])
	}
	for _, err := range errsFound {
		if m.cfg.Log != nil {
			m.cfg.Log.Errorf("chain failed to start: %v", err)
		}
	}
	return nil
}

func (m *Manager) connectAndMonitor(ctx context.Context, reg *registration) error {
	m.setState(reg.adapter.Chain(), StateConnecting)
	if err := reg.adapter.Connect(ctx); err != nil {
		m.setState(reg.adapter.Chain(), StateDisconnected)
		return err
	}
	m.setState(reg.adapter.Chain(), StateConnected)

	if err := reg.adapter.StartMonitoring(ctx); err != nil {
		m.setState(reg.adapter.Chain(), StateDisconnected)
		return err
	}
	m.setState(reg.adapter.Chain(), StateMonitoring)

	drainCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	reg.cancelDrain = cancel
	m.mu.Unlock()
	go m.drain(drainCtx, reg.adapter)

	return nil
}

func (m *Manager) setState(ck model.ChainKind, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.chains[ck]; ok {
		reg.state = s
	}
}

// drain fans events, status updates, and errors from one adapter into
// the manager's pipeline and logs, until ctx is cancelled or the
// adapter's channels close.
func (m *Manager) drain(ctx context.Context, a chain.Adapter) {
	events := a.Events()
	statuses := a.StatusUpdates()
	errsCh := a.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		case upd, ok := <-statuses:
			if !ok {
				continue
			}
			m.handleStatus(upd)
		case aerr, ok := <-errsCh:
			if !ok {
				continue
			}
			m.handleAdapterError(aerr)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev model.CanonicalEvent) {
	m.eventsTotal.Inc()
	atomic.AddInt64(&m.totalCount, 1)

	processed, err := m.pipeline.Execute(ctx, ev)
	if err != nil {
		m.eventsFailed.Inc()
		atomic.AddInt64(&m.failedCount, 1)
		if m.cfg.Log != nil {
			m.cfg.Log.Errorf("pipeline execute failed for %s event %s: %v", ev.Chain, ev.ID, err)
		}
		return
	}
	if processed == nil {
		return // filtered out
	}
	m.eventsProcessed.Inc()
	atomic.AddInt64(&m.processedCount, 1)
}

func (m *Manager) handleStatus(upd chain.StatusUpdate) {
	if m.cfg.Log != nil {
		m.cfg.Log.Infof("chain %s status -> %s", upd.Chain, upd.Status)
	}
}

func (m *Manager) handleAdapterError(aerr chain.AdapterError) {
	if m.cfg.Log != nil {
		m.cfg.Log.WithErr(aerr.Err).Msgf("adapter error on %s (fatal=%t)", aerr.Chain, aerr.Fatal)
	}
	if aerr.Fatal {
		go m.Reconnect(context.Background(), aerr.Chain)
	}
}

// Reconnect disconnects, waits cfg.ReconnectDelay, then reconnects and
// restarts monitoring for ck.
func (m *Manager) Reconnect(ctx context.Context, ck model.ChainKind) error {
	m.mu.RLock()
	reg, ok := m.chains[ck]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("manager: chain %s not registered", ck)
	}

	m.reconnects.WithLabelValues(string(ck)).Inc()

	m.setState(ck, StateStopping)
	_ = reg.adapter.StopMonitoring(ctx)
	_ = reg.adapter.Disconnect(ctx)
	m.mu.Lock()
	if reg.cancelDrain != nil {
		reg.cancelDrain()
	}
	m.mu.Unlock()
	m.setState(ck, StateDisconnected)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.ReconnectDelay):
	}

	return m.connectAndMonitor(ctx, reg)
}

// healthSweep periodically checks every monitoring chain's heartbeat
// staleness, reconnecting any chain whose last successful tip fetch is
// older than 2*HealthCheckInterval.
func (m *Manager) healthSweep() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopHealth:
			return
		case <-ticker.C:
			m.checkStaleness()
		}
	}
}

func (m *Manager) checkStaleness() {
	m.mu.RLock()
	stale := make([]model.ChainKind, 0)
	for ck, reg := range m.chains {
		if reg.state != StateMonitoring {
			continue
		}
		// A zero heartbeat on a monitoring chain means no tip fetch has
		// ever succeeded; that connection is as dead as a stale one.
		hb := reg.adapter.LastHeartbeat()
		if hb.IsZero() || time.Since(hb) > 2*m.cfg.HealthCheckInterval {
			stale = append(stale, ck)
		}
	}
	m.mu.RUnlock()

	for _, ck := range stale {
		go m.Reconnect(context.Background(), ck)
	}
}

// Stop disconnects every registered adapter and halts the health sweep.
func (m *Manager) Stop(ctx context.Context) error {
	if m.stopHealth != nil {
		close(m.stopHealth)
		m.stopHealth = nil
	}

	m.mu.RLock()
	regs := make([]*registration, 0, len(m.chains))
	for _, r := range m.chains {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			m.setState(reg.adapter.Chain(), StateStopping)
			_ = reg.adapter.StopMonitoring(ctx)
			_ = reg.adapter.Disconnect(ctx)
			m.mu.Lock()
			if reg.cancelDrain != nil {
				reg.cancelDrain()
			}
			m.mu.Unlock()
			m.setState(reg.adapter.Chain(), StateDisconnected)
		}(reg)
	}
	wg.Wait()
	return nil
}

// ChainState reports the current lifecycle state of ck.
func (m *Manager) ChainState(ck model.ChainKind) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.chains[ck]
	if !ok {
		return "", false
	}
	return reg.state, true
}

// RegisteredChains returns every currently registered chain kind.
func (m *Manager) RegisteredChains() []model.ChainKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ChainKind, 0, len(m.chains))
	for ck := range m.chains {
		out = append(out, ck)
	}
	return out
}

// Adapter returns the registered adapter for ck, if any.
func (m *Manager) Adapter(ck model.ChainKind) (chain.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.chains[ck]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}
