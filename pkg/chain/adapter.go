// Package chain defines the adapter contract every concrete per-chain
// adapter implements, plus the retry-with-backoff routine and bounded
// de-duplication set shared by all of them. One interface, one
// constructor per chain family taking a platform-specific config; the
// outward signals are buffered channels, one triple per adapter, with
// explicit connect/disconnect and start/stop monitoring phases.
package chain

import (
	"context"
	"sync"
	"time"

	"github.com/certen-io/chain-listener/pkg/model"
)

// ConnectionStatus is the state an adapter reports upward.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusMonitoring   ConnectionStatus = "monitoring"
	StatusError        ConnectionStatus = "error"
)

// StatusUpdate is one connection_status signal.
type StatusUpdate struct {
	Chain  model.ChainKind
	Status ConnectionStatus
}

// AdapterError is one error signal, carrying enough context for the
// manager to decide whether to reconnect.
type AdapterError struct {
	Chain model.ChainKind
	Err   error
	Fatal bool
}

func (e *AdapterError) Error() string { return e.Err.Error() }
func (e *AdapterError) Unwrap() error { return e.Err }

// FeeEstimate is the result of Adapter.EstimateFee.
type FeeEstimate struct {
	Fee      string // base-10 integer in the chain's base unit
	GasPrice string // empty for chains with no separate gas price concept
}

// Adapter is the contract every concrete per-chain adapter satisfies.
// A single Adapter instance is owned by exactly one chain manager
// registration and is not safe to share across managers.
type Adapter interface {
	// Chain identifies which ChainKind this adapter serves.
	Chain() model.ChainKind

	// Connect establishes transport, fetches the current tip, and starts
	// the 30-second heartbeat. Idempotent: calling Connect while already
	// connected is a no-op that returns nil.
	Connect(ctx context.Context) error

	// Disconnect tears down transport and stops the heartbeat.
	// Idempotent.
	Disconnect(ctx context.Context) error

	// StartMonitoring sets up subscriptions/polling for every currently
	// registered target. May only be called after Connect succeeds.
	StartMonitoring(ctx context.Context) error

	// StopMonitoring tears down subscriptions/polling without
	// disconnecting transport.
	StopMonitoring(ctx context.Context) error

	// AddMonitoringTarget validates target.Address and registers it.
	AddMonitoringTarget(ctx context.Context, target model.MonitoringTarget) error

	// RemoveMonitoringTarget tears down every subscription/poll entry
	// for address.
	RemoveMonitoringTarget(ctx context.Context, address string) error

	// CurrentBlockNumber returns the most recently observed tip (block
	// height, slot, or checkpoint sequence number depending on chain).
	CurrentBlockNumber() uint64

	// ConnectionStatus returns the adapter's current reported status.
	ConnectionStatus() ConnectionStatus

	// ValidateAddress reports whether addr is well-formed for this
	// chain. Never mutates adapter state.
	ValidateAddress(addr string) bool

	// EstimateFee returns a best-effort fee estimate for a transaction
	// shaped like tx (adapter-specific meaning; at minimum an amount).
	EstimateFee(ctx context.Context, tx map[string]string) (FeeEstimate, error)

	// Events returns the channel the manager drains canonical events
	// from. The channel is created at adapter construction and is never
	// closed; Disconnect leaves it open.
	Events() <-chan model.CanonicalEvent

	// StatusUpdates returns the channel of connection_status signals.
	StatusUpdates() <-chan StatusUpdate

	// Errors returns the channel of error signals.
	Errors() <-chan AdapterError

	// LastHeartbeat returns the time of the last successful tip fetch:
	// the initial one during Connect, or a later heartbeat tick. The
	// zero time means no fetch has succeeded yet. The manager's health
	// sweep reads this to decide whether the chain needs a reconnect.
	LastHeartbeat() time.Time
}

// Signals is the shared buffered-channel triple every concrete adapter
// embeds to satisfy Events/StatusUpdates/Errors, plus the heartbeat
// timestamp backing LastHeartbeat.
type Signals struct {
	events chan model.CanonicalEvent
	status chan StatusUpdate
	errs   chan AdapterError

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

// NewSignals allocates the three channels with the given buffer depth.
func NewSignals(buffer int) Signals {
	return Signals{
		events: make(chan model.CanonicalEvent, buffer),
		status: make(chan StatusUpdate, buffer),
		errs:   make(chan AdapterError, buffer),
	}
}

func (s *Signals) Events() <-chan model.CanonicalEvent { return s.events }
func (s *Signals) StatusUpdates() <-chan StatusUpdate  { return s.status }
func (s *Signals) Errors() <-chan AdapterError         { return s.errs }

// MarkHeartbeat records a successful tip fetch. Adapters call it from
// Connect and from every successful heartbeat tick; a failed tick leaves
// the timestamp unchanged so staleness accumulates.
func (s *Signals) MarkHeartbeat() {
	s.hbMu.Lock()
	s.lastHeartbeat = time.Now()
	s.hbMu.Unlock()
}

// LastHeartbeat returns the time of the last successful tip fetch, or
// the zero time if none has succeeded yet.
func (s *Signals) LastHeartbeat() time.Time {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	return s.lastHeartbeat
}

// EmitEvent pushes e onto the events channel without blocking forever:
// event loss is preferred over adapter death, so a full buffer drops
// the event rather than stalling the adapter's observation loop.
func (s *Signals) EmitEvent(e model.CanonicalEvent) bool {
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// EmitStatus pushes a status update, dropping it if the buffer is full.
func (s *Signals) EmitStatus(u StatusUpdate) {
	select {
	case s.status <- u:
	default:
	}
}

// EmitError pushes an error signal, dropping it if the buffer is full.
func (s *Signals) EmitError(e AdapterError) {
	select {
	case s.errs <- e:
	default:
	}
}
