// Package bitcoin implements the Bitcoin UTXO-polling adapter. Bitcoin
// has no log/event subscription model, so the adapter polls an
// Esplora-style REST API for each watched address's
// transaction history (the address's UTXO set is not fetched or
// tracked), computes the net value delta across
// a transaction's inputs/outputs that touch the address, and emits a
// native_transfer event.
//
// Address decoding and validation use github.com/btcsuite/btcutil
// against github.com/btcsuite/btcd/chaincfg network params. New
// transactions are selected by a per-target block-height cursor rather
// than a sliding time window, so a slow poll cycle cannot silently skip
// a confirmed transaction.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// Config configures the Bitcoin adapter.
type Config struct {
	APIBaseURL       string // Esplora-compatible REST API, e.g. https://blockstream.info/api
	PollingInterval  time.Duration
	MaxRetryAttempts int
	Testnet          bool
	Log              *logging.Logger
}

func (c Config) params() *chaincfg.Params {
	if c.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

type target struct {
	model.MonitoringTarget
	// lastHeight is the block-height cursor: only transactions first
	// confirmed above this height (or still unconfirmed) are considered
	// new on the next poll.
	lastHeight int64
	seenTx     map[string]struct{}
}

// Adapter implements pkg/chain.Adapter for Bitcoin UTXO polling.
type Adapter struct {
	chain.Signals

	cfg Config

	mu      sync.RWMutex
	http    *http.Client
	status  chain.ConnectionStatus
	tip     uint64
	targets map[string]*target

	dedup *chain.DedupSet

	stopPoll      chan struct{}
	stopHeartbeat chan struct{}
}

// New builds a Bitcoin Adapter.
func New(cfg Config) *Adapter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	return &Adapter{
		Signals: chain.NewSignals(256),
		cfg:     cfg,
		status:  chain.StatusDisconnected,
		targets: make(map[string]*target),
		dedup:   chain.NewDedupSet(0),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *Adapter) Chain() model.ChainKind { return model.ChainBitcoin }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == chain.StatusConnected || a.status == chain.StatusMonitoring {
		a.mu.Unlock()
		return nil
	}
	a.status = chain.StatusConnecting
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainBitcoin, Status: chain.StatusConnecting})

	var tip uint64
	err := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
		h, err := a.fetchTipHeight(ctx)
		if err != nil {
			return err
		}
		tip = h
		return nil
	})
	if err != nil {
		a.fail(err)
		return &errs.TransportError{Chain: string(model.ChainBitcoin), Op: "tip height", Err: err}
	}

	a.mu.Lock()
	a.tip = tip
	a.status = chain.StatusConnected
	a.stopHeartbeat = make(chan struct{})
	a.mu.Unlock()
	a.MarkHeartbeat()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainBitcoin, Status: chain.StatusConnected})
	go a.heartbeatLoop()
	return nil
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.status = chain.StatusError
	a.mu.Unlock()
	a.EmitError(chain.AdapterError{Chain: model.ChainBitcoin, Err: err, Fatal: true})
}

func (a *Adapter) fetchTipHeight(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var height uint64
	if err := json.NewDecoder(resp.Body).Decode(&height); err != nil {
		return 0, err
	}
	return height, nil
}

func (a *Adapter) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopHeartbeat:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			tip, err := a.fetchTipHeight(ctx)
			cancel()
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: model.ChainBitcoin, Err: fmt.Errorf("heartbeat: %w", err)})
				continue
			}
			a.mu.Lock()
			a.tip = tip
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
	a.status = chain.StatusDisconnected
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainBitcoin, Status: chain.StatusDisconnected})
	return nil
}

func (a *Adapter) StartMonitoring(ctx context.Context) error {
	a.mu.Lock()
	if a.status != chain.StatusConnected {
		a.mu.Unlock()
		return fmt.Errorf("bitcoin: start_monitoring called before connect")
	}
	a.stopPoll = make(chan struct{})
	a.status = chain.StatusMonitoring
	a.mu.Unlock()

	go a.pollLoop(ctx)
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainBitcoin, Status: chain.StatusMonitoring})
	return nil
}

func (a *Adapter) StopMonitoring(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopPoll != nil {
		close(a.stopPoll)
		a.stopPoll = nil
	}
	if a.status == chain.StatusMonitoring {
		a.status = chain.StatusConnected
	}
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopPoll:
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) {
	a.mu.RLock()
	targets := make([]*target, 0, len(a.targets))
	for _, t := range a.targets {
		targets = append(targets, t)
	}
	a.mu.RUnlock()

	for _, t := range targets {
		a.pollTarget(ctx, t)
	}
}

type esploraVin struct {
	Prevout *esploraOut `json:"prevout"`
}

type esploraOut struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type esploraTxStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

type esploraTx struct {
	TxID   string          `json:"txid"`
	Vin    []esploraVin    `json:"vin"`
	Vout   []esploraOut    `json:"vout"`
	Fee    int64           `json:"fee"`
	Status esploraTxStatus `json:"status"`
	Weight int64           `json:"weight"`
}

// pollTarget fetches address's transaction history and emits a
// native_transfer event for every transaction not yet observed whose
// confirmation height is beyond t.lastHeight, or that is still
// unconfirmed.
func (a *Adapter) pollTarget(ctx context.Context, t *target) {
	url := fmt.Sprintf("%s/address/%s/txs", a.cfg.APIBaseURL, t.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainBitcoin, Err: err})
		return
	}
	resp, err := a.http.Do(req)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainBitcoin, Err: fmt.Errorf("txs for %s: %w", t.Address, err)})
		return
	}
	defer resp.Body.Close()

	var txs []esploraTx
	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainBitcoin, Err: fmt.Errorf("decode txs for %s: %w", t.Address, err)})
		return
	}

	// Esplora returns newest first; process oldest first so lastHeight
	// advances monotonically.
	sort.Slice(txs, func(i, j int) bool { return txs[i].Status.BlockHeight < txs[j].Status.BlockHeight })

	maxHeight := t.lastHeight
	for _, tx := range txs {
		if tx.Status.Confirmed && tx.Status.BlockHeight <= t.lastHeight {
			continue
		}
		if _, seen := t.seenTx[tx.TxID]; seen {
			continue
		}
		t.seenTx[tx.TxID] = struct{}{}
		a.emitTransfer(t, tx)
		if tx.Status.Confirmed && tx.Status.BlockHeight > maxHeight {
			maxHeight = tx.Status.BlockHeight
		}
	}

	a.mu.Lock()
	t.lastHeight = maxHeight
	a.mu.Unlock()
}

// emitTransfer computes the net satoshi delta the transaction applies to
// t.Address across its inputs and outputs and emits a native_transfer
// event.
func (a *Adapter) emitTransfer(t *target, tx esploraTx) {
	id := fmt.Sprintf("%s_%s", model.ChainBitcoin, tx.TxID)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	var inAmount, outAmount int64
	for _, vin := range tx.Vin {
		if vin.Prevout != nil && vin.Prevout.ScriptPubKeyAddress == t.Address {
			inAmount += vin.Prevout.Value
		}
	}
	for _, vout := range tx.Vout {
		if vout.ScriptPubKeyAddress == t.Address {
			outAmount += vout.Value
		}
	}

	delta := outAmount - inAmount
	isIncoming := delta >= 0
	amount := delta
	if !isIncoming {
		amount = -delta
	}

	var from, to string
	if isIncoming {
		to = t.Address
	} else {
		from = t.Address
	}

	confirmations := uint64(0)
	if tx.Status.Confirmed {
		confirmations = 6 // the API reports a confirmed flag, not a depth; pin to 6
	}

	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()
	blockNumber := uint64(tx.Status.BlockHeight)
	if !tx.Status.Confirmed {
		blockNumber = tip
	}

	a.EmitEvent(model.CanonicalEvent{
		ID:                id,
		Chain:             model.ChainBitcoin,
		Kind:              model.EventNativeTransfer,
		BlockNumber:       blockNumber,
		TxHash:            tx.TxID,
		TimestampMs:       time.Now().UnixMilli(),
		Confirmed:         tx.Status.Confirmed,
		ConfirmationCount: confirmations,
		Data: model.EventData{
			From:   from,
			To:     to,
			Amount: fmt.Sprintf("%d", amount),
			Fee:    fmt.Sprintf("%d", tx.Fee),
			Metadata: map[string]string{
				"is_incoming":  fmt.Sprintf("%t", isIncoming),
				"input_count":  fmt.Sprintf("%d", len(tx.Vin)),
				"output_count": fmt.Sprintf("%d", len(tx.Vout)),
				"vsize":        fmt.Sprintf("%d", (tx.Weight+3)/4),
			},
		},
	})
}

func (a *Adapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	if !a.ValidateAddress(t.Address) {
		return &errs.ValidationError{Field: "address", Value: t.Address, Msg: "invalid Bitcoin address"}
	}
	if len(t.EventKinds) == 0 {
		return &errs.ValidationError{Field: "event_kinds", Value: t.Address, Msg: "must be non-empty"}
	}

	a.mu.RLock()
	startHeight := int64(a.tip)
	a.mu.RUnlock()

	a.mu.Lock()
	a.targets[t.Address] = &target{
		MonitoringTarget: t,
		lastHeight:       startHeight,
		seenTx:           make(map[string]struct{}),
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) RemoveMonitoringTarget(ctx context.Context, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.targets, addr)
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

// ValidateAddress decodes addr against this adapter's network params,
// accepting P2PKH, P2SH, and bech32 (segwit) forms. DecodeAddress alone
// admits any registered network's prefixes, so the net check is explicit.
func (a *Adapter) ValidateAddress(addr string) bool {
	decoded, err := btcutil.DecodeAddress(addr, a.cfg.params())
	return err == nil && decoded.IsForNet(a.cfg.params())
}

func (a *Adapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/fee-estimates", nil)
	if err != nil {
		return chain.FeeEstimate{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainBitcoin), Op: "fee-estimates", Err: err}
	}
	defer resp.Body.Close()

	var rates map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return chain.FeeEstimate{}, err
	}
	// "6" is the conventional ~1-hour confirmation target key.
	return chain.FeeEstimate{GasPrice: fmt.Sprintf("%.2f", rates["6"])}, nil
}
