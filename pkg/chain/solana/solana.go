// Package solana implements the chain adapter for Solana. "Block" is a
// slot; commitment is configurable. Three observation sources run
// concurrently: an account-change subscription per target (synthesizing
// unsigned raw-lamports-delta transfers), mint-supply diffing for
// targets that own a mint account, and a program-logs subscription on
// the SPL token program for low-detail events. The RPC/WebSocket client
// is github.com/gagliardetto/solana-go.
package solana

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// Config configures the Solana adapter.
type Config struct {
	RPCURL           string
	WebsocketURL     string
	Commitment       rpc.CommitmentType // processed|confirmed|finalized
	MaxRetryAttempts int
	Log              *logging.Logger
}

type mintCacheEntry struct {
	Supply   uint64
	Decimals uint8
}

type target struct {
	model.MonitoringTarget
	subs map[string]*subscription // keyed by purpose; "account" is the only entry (the logs subscription is adapter-wide)
}

type subscription struct {
	cancel context.CancelFunc
}

// Adapter implements pkg/chain.Adapter for Solana.
type Adapter struct {
	chain.Signals

	cfg Config

	mu        sync.RWMutex
	rpc       *rpc.Client
	ws        *ws.Client
	status    chain.ConnectionStatus
	tip       uint64             // current slot
	targets   map[string]*target // keyed by base58 address, exact-case
	mintCache map[string]mintCacheEntry
	lamports  map[string]uint64

	dedup *chain.DedupSet

	stopHeartbeat chan struct{}
	logsSubCancel context.CancelFunc
}

// New builds a Solana Adapter.
func New(cfg Config) *Adapter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return &Adapter{
		Signals:   chain.NewSignals(256),
		cfg:       cfg,
		status:    chain.StatusDisconnected,
		targets:   make(map[string]*target),
		mintCache: make(map[string]mintCacheEntry),
		lamports:  make(map[string]uint64),
		dedup:     chain.NewDedupSet(0),
	}
}

func (a *Adapter) Chain() model.ChainKind { return model.ChainSolana }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == chain.StatusConnected || a.status == chain.StatusMonitoring {
		a.mu.Unlock()
		return nil
	}
	a.status = chain.StatusConnecting
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSolana, Status: chain.StatusConnecting})

	rpcClient := rpc.New(a.cfg.RPCURL)

	var tip uint64
	err := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
		slot, err := rpcClient.GetSlot(ctx, a.cfg.Commitment)
		if err != nil {
			return err
		}
		tip = slot
		return nil
	})
	if err != nil {
		a.fail(err)
		return &errs.TransportError{Chain: string(model.ChainSolana), Op: "get slot", Err: err}
	}

	var wsClient *ws.Client
	if a.cfg.WebsocketURL != "" {
		if wsClient, err = ws.Connect(ctx, a.cfg.WebsocketURL); err != nil {
			a.cfg.Log.Warnf("solana: websocket connect failed, account/logs subscriptions unavailable: %v", err)
			wsClient = nil
		}
	}

	a.mu.Lock()
	a.rpc = rpcClient
	a.ws = wsClient
	a.tip = tip
	a.status = chain.StatusConnected
	a.stopHeartbeat = make(chan struct{})
	a.mu.Unlock()
	a.MarkHeartbeat()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSolana, Status: chain.StatusConnected})
	go a.heartbeatLoop()
	return nil
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.status = chain.StatusError
	a.mu.Unlock()
	a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: err, Fatal: true})
}

func (a *Adapter) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopHeartbeat:
			return
		case <-ticker.C:
			a.mu.RLock()
			client := a.rpc
			a.mu.RUnlock()
			if client == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			slot, err := client.GetSlot(ctx, a.cfg.Commitment)
			cancel()
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("heartbeat: %w", err)})
				continue
			}
			a.mu.Lock()
			a.tip = slot
			a.mu.Unlock()
			a.MarkHeartbeat()
		}
	}
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	_ = a.StopMonitoring(ctx)

	a.mu.Lock()
	if a.status == chain.StatusDisconnected {
		a.mu.Unlock()
		return nil
	}
	if a.stopHeartbeat != nil {
		close(a.stopHeartbeat)
		a.stopHeartbeat = nil
	}
	if a.ws != nil {
		a.ws.Close()
		a.ws = nil
	}
	a.rpc = nil
	a.status = chain.StatusDisconnected
	a.mu.Unlock()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSolana, Status: chain.StatusDisconnected})
	return nil
}

// StartMonitoring wires the global SPL token program logs subscription
// and, per target, an account-change subscription.
func (a *Adapter) StartMonitoring(ctx context.Context) error {
	a.mu.Lock()
	if a.status != chain.StatusConnected {
		a.mu.Unlock()
		return fmt.Errorf("solana: start_monitoring called before connect")
	}
	wsClient := a.ws
	targets := make([]*target, 0, len(a.targets))
	for _, t := range a.targets {
		targets = append(targets, t)
	}
	a.mu.Unlock()

	if wsClient != nil {
		a.startLogsSubscription(ctx)
	}
	for _, t := range targets {
		a.wireAccountSubscription(ctx, t)
	}

	a.mu.Lock()
	a.status = chain.StatusMonitoring
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSolana, Status: chain.StatusMonitoring})
	return nil
}

func (a *Adapter) StopMonitoring(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.logsSubCancel != nil {
		a.logsSubCancel()
		a.logsSubCancel = nil
	}
	for _, t := range a.targets {
		for purpose, sub := range t.subs {
			sub.cancel()
			delete(t.subs, purpose)
		}
	}
	if a.status == chain.StatusMonitoring {
		a.status = chain.StatusConnected
	}
	return nil
}

// startLogsSubscription subscribes to SPL token program logs and parses
// Transfer/MintTo/InitializeMint lines, emitting low-detail events keyed
// by transaction signature.
func (a *Adapter) startLogsSubscription(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.logsSubCancel = cancel
	wsClient := a.ws
	a.mu.Unlock()

	sub, err := wsClient.LogsSubscribeMentions(solanago.TokenProgramID, a.cfg.Commitment)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("logs subscribe: %w", err)})
		return
	}

	go func() {
		defer sub.Unsubscribe()
		for {
			got, err := sub.Recv(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("logs recv: %w", err)})
				}
				return
			}
			a.handleLogLine(got)
		}
	}()
}

func (a *Adapter) handleLogLine(result *ws.LogResult) {
	if result == nil || result.Value.Err != nil {
		return
	}

	var kind model.EventKind
	for _, line := range result.Value.Logs {
		switch {
		case strings.Contains(line, "InitializeMint"):
			kind = model.EventContractCreation
		case strings.Contains(line, "MintTo"):
			kind = model.EventTokenMint
		case strings.Contains(line, "Transfer"):
			if kind == "" {
				kind = model.EventTransfer
			}
		}
	}
	if kind == "" {
		return
	}

	sig := result.Value.Signature.String()
	id := fmt.Sprintf("%s_%s", model.ChainSolana, sig)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()

	a.EmitEvent(model.CanonicalEvent{
		ID:                id,
		Chain:             model.ChainSolana,
		Kind:              kind,
		BlockNumber:       tip,
		TxHash:            sig,
		TimestampMs:       time.Now().UnixMilli(),
		Confirmed:         a.cfg.Commitment == rpc.CommitmentFinalized,
		ConfirmationCount: 0,
		Data:              model.EventData{},
	})
}

// wireAccountSubscription subscribes to account changes for t.Address.
// If the account is a mint, changes are routed through the mint-supply
// differ; otherwise a raw-lamports-delta transfer is synthesized. The
// delta carries no sign; direction is not recoverable from an
// account-change push alone.
func (a *Adapter) wireAccountSubscription(ctx context.Context, t *target) {
	a.mu.RLock()
	wsClient := a.ws
	a.mu.RUnlock()
	if wsClient == nil {
		return
	}

	pubkey, err := solanago.PublicKeyFromBase58(t.Address)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("invalid pubkey %s: %w", t.Address, err)})
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := wsClient.AccountSubscribe(pubkey, a.cfg.Commitment)
	if err != nil {
		cancel()
		a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("account subscribe %s: %w", t.Address, err)})
		return
	}

	a.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[string]*subscription)
	}
	t.subs["account"] = &subscription{cancel: cancel}
	a.mu.Unlock()

	go func() {
		defer sub.Unsubscribe()
		for {
			got, err := sub.Recv(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					a.EmitError(chain.AdapterError{Chain: model.ChainSolana, Err: fmt.Errorf("account recv %s: %w", t.Address, err)})
				}
				return
			}
			a.handleAccountChange(t.Address, got)
		}
	}()
}

func (a *Adapter) handleAccountChange(address string, result *ws.AccountResult) {
	if result == nil {
		return
	}
	slot := result.Context.Slot
	lamports := result.Value.Lamports

	if mint, decimals, ok := tryParseMintAccount(result.Value.Data.GetBinary()); ok {
		a.emitMintDiff(address, slot, mint, decimals)
		return
	}

	a.mu.Lock()
	prev, had := a.lamports[address]
	a.lamports[address] = lamports
	a.mu.Unlock()

	amount := lamports
	if had && lamports < prev {
		amount = prev - lamports
	} else if had {
		amount = lamports - prev
	}

	id := fmt.Sprintf("transfer_%s_%d", address, slot)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()
	confirmations := uint64(0)
	if tip >= slot {
		confirmations = tip - slot
	}

	a.EmitEvent(model.CanonicalEvent{
		ID:                id,
		Chain:             model.ChainSolana,
		Kind:              model.EventTransfer,
		BlockNumber:       slot,
		TxHash:            "",
		TimestampMs:       time.Now().UnixMilli(),
		Confirmed:         confirmations > 0,
		ConfirmationCount: confirmations,
		Data: model.EventData{
			To:     address,
			Amount: strconv.FormatUint(amount, 10),
		},
	})
}

// emitMintDiff implements the mint-supply diffing detector: an event is
// emitted iff the new supply exceeds the cached supply, with
// amount = format(new - old, decimals).
func (a *Adapter) emitMintDiff(address string, slot uint64, supply uint64, decimals uint8) {
	a.mu.Lock()
	cached, had := a.mintCache[address]
	a.mintCache[address] = mintCacheEntry{Supply: supply, Decimals: decimals}
	a.mu.Unlock()

	if !had || supply <= cached.Supply {
		return
	}

	delta := new(big.Int).SetUint64(supply - cached.Supply)
	id := fmt.Sprintf("token_mint_%s_%d", address, slot)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	decimalsInt := int(decimals)
	a.EmitEvent(model.CanonicalEvent{
		ID:                id,
		Chain:             model.ChainSolana,
		Kind:              model.EventTokenMint,
		BlockNumber:       slot,
		TimestampMs:       time.Now().UnixMilli(),
		Confirmed:         true,
		ConfirmationCount: 0,
		Data: model.EventData{
			TokenAddress:  address,
			Amount:        model.FormatAmount(delta, decimalsInt),
			TokenDecimals: &decimalsInt,
		},
	})
}

// tryParseMintAccount decodes an SPL Token / Token-2022 Mint account
// (the layouts share their leading fields): supply is an 8-byte LE
// uint64 at offset 36, decimals is the byte at offset 44. Returns
// ok=false for anything shorter than a mint account.
func tryParseMintAccount(data []byte) (supply uint64, decimals uint8, ok bool) {
	const mintSupplyOffset = 36
	const mintDecimalsOffset = 44
	const mintAccountLen = 82
	if len(data) < mintAccountLen {
		return 0, 0, false
	}
	supply = binary.LittleEndian.Uint64(data[mintSupplyOffset : mintSupplyOffset+8])
	decimals = data[mintDecimalsOffset]
	return supply, decimals, true
}

// AddMonitoringTarget validates address and registers t under its
// address; the target's per-purpose subscription entries are torn down
// together on RemoveMonitoringTarget.
func (a *Adapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	if !a.ValidateAddress(t.Address) {
		return &errs.ValidationError{Field: "address", Value: t.Address, Msg: "not a valid Solana public key"}
	}
	if len(t.EventKinds) == 0 {
		return &errs.ValidationError{Field: "event_kinds", Value: t.Address, Msg: "must be non-empty"}
	}

	entry := &target{MonitoringTarget: t, subs: make(map[string]*subscription)}

	a.mu.Lock()
	a.targets[t.Address] = entry
	monitoring := a.status == chain.StatusMonitoring
	a.mu.Unlock()

	if monitoring {
		a.wireAccountSubscription(ctx, entry)
	}
	return nil
}

// RemoveMonitoringTarget tears down every subscription entry of the
// target registered under address.
func (a *Adapter) RemoveMonitoringTarget(ctx context.Context, address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.targets[address]
	if !ok {
		return nil
	}
	for purpose, sub := range t.subs {
		sub.cancel()
		delete(t.subs, purpose)
	}
	delete(a.targets, address)
	delete(a.mintCache, address)
	delete(a.lamports, address)
	return nil
}

func (a *Adapter) CurrentBlockNumber() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tip
}

func (a *Adapter) ConnectionStatus() chain.ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// ValidateAddress reports whether addr round-trips through Solana's
// public-key parser.
func (a *Adapter) ValidateAddress(addr string) bool {
	pk, err := solanago.PublicKeyFromBase58(addr)
	if err != nil {
		return false
	}
	return pk.String() == addr
}

func (a *Adapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	a.mu.RLock()
	client := a.rpc
	a.mu.RUnlock()
	if client == nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainSolana), Op: "estimate_fee", Err: fmt.Errorf("not connected")}
	}
	fees, err := client.GetRecentBlockhash(ctx, a.cfg.Commitment)
	if err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainSolana), Op: "get recent blockhash", Err: err}
	}
	return chain.FeeEstimate{Fee: strconv.FormatUint(fees.Value.FeeCalculator.LamportsPerSignature, 10)}, nil
}
