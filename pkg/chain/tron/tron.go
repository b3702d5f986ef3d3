// Package tron implements the native-RPC Tron adapter, distinct from the
// EVM-compatible path in pkg/chain/evm. It polls the contract-events API
// at a configured cadence, windowed on the last minute, at most 50
// events per poll; address-type targets use an account-history poll
// instead and classify from event names. TRC-20/TRC-721 share the
// Transfer signature with ERC-20/ERC-721. Address validation uses
// github.com/fbsobreira/gotron-sdk, the same Base58Check scheme
// pkg/chain/evm's validateTronBase58 applies on the EVM-compatible path.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/address"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// Config configures the Tron native adapter.
type Config struct {
	APIBaseURL       string // e.g. https://api.trongrid.io
	PollingInterval  time.Duration
	MaxRetryAttempts int
	Log              *logging.Logger
}

type target struct {
	model.MonitoringTarget
}

// Adapter implements pkg/chain.Adapter for native Tron polling.
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

// New builds a native Tron Adapter.
func New(cfg Config) *Adapter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 3 * time.Second
	}
	return &Adapter{
		Signals: chain.NewSignals(256),
		cfg:     cfg,
		status:  chain.StatusDisconnected,
		targets: make(map[string]*target),
		dedup:   chain.NewDedupSet(0),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Adapter) Chain() model.ChainKind { return model.ChainTron }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == chain.StatusConnected || a.status == chain.StatusMonitoring {
		a.mu.Unlock()
		return nil
	}
	a.status = chain.StatusConnecting
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainTron, Status: chain.StatusConnecting})

	var tip uint64
	err := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
		n, err := a.fetchNowBlock(ctx)
		if err != nil {
			return err
		}
		tip = n
		return nil
	})
	if err != nil {
		a.fail(err)
		return &errs.TransportError{Chain: string(model.ChainTron), Op: "now block", Err: err}
	}

	a.mu.Lock()
	a.tip = tip
	a.status = chain.StatusConnected
	a.stopHeartbeat = make(chan struct{})
	a.mu.Unlock()
	a.MarkHeartbeat()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainTron, Status: chain.StatusConnected})
	go a.heartbeatLoop()
	return nil
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.status = chain.StatusError
	a.mu.Unlock()
	a.EmitError(chain.AdapterError{Chain: model.ChainTron, Err: err, Fatal: true})
}

type nowBlockResponse struct {
	BlockHeader struct {
		RawData struct {
			Number uint64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

func (a *Adapter) fetchNowBlock(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/wallet/getnowblock", nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out nowBlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.BlockHeader.RawData.Number, nil
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
			tip, err := a.fetchNowBlock(ctx)
			cancel()
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: model.ChainTron, Err: fmt.Errorf("heartbeat: %w", err)})
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
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainTron, Status: chain.StatusDisconnected})
	return nil
}

func (a *Adapter) StartMonitoring(ctx context.Context) error {
	a.mu.Lock()
	if a.status != chain.StatusConnected {
		a.mu.Unlock()
		return fmt.Errorf("tron: start_monitoring called before connect")
	}
	a.stopPoll = make(chan struct{})
	a.status = chain.StatusMonitoring
	a.mu.Unlock()

	go a.pollLoop(ctx)
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainTron, Status: chain.StatusMonitoring})
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

	since := time.Now().Add(-time.Minute).UnixMilli()
	for _, t := range targets {
		if t.Kind == model.TargetAddress {
			a.pollAccountHistory(ctx, t, since)
		} else {
			a.pollContractEvents(ctx, t, since)
		}
	}
}

type tronEvent struct {
	TransactionID   string            `json:"transaction_id"`
	ContractAddress string            `json:"contract_address"`
	EventName       string            `json:"event_name"`
	BlockNumber     uint64            `json:"block_number"`
	BlockTimestamp  int64             `json:"block_timestamp"`
	Result          map[string]string `json:"result"`
}

type tronEventsResponse struct {
	Data []tronEvent `json:"data"`
}

// pollContractEvents polls /v1/contracts/{address}/events windowed on
// the last minute, at most 50 events per poll.
func (a *Adapter) pollContractEvents(ctx context.Context, t *target, sinceMs int64) {
	url := fmt.Sprintf("%s/v1/contracts/%s/events?min_timestamp=%d&limit=50", a.cfg.APIBaseURL, t.Address, sinceMs)
	events, err := a.fetchEvents(ctx, url)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainTron, Err: fmt.Errorf("contract events for %s: %w", t.Address, err)})
		return
	}
	for _, ev := range events {
		a.emitEvent(ev)
	}
}

// pollAccountHistory polls /v1/accounts/{address}/transactions and
// classifies events by name.
func (a *Adapter) pollAccountHistory(ctx context.Context, t *target, sinceMs int64) {
	url := fmt.Sprintf("%s/v1/accounts/%s/transactions?min_timestamp=%d&limit=50", a.cfg.APIBaseURL, t.Address, sinceMs)
	events, err := a.fetchEvents(ctx, url)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainTron, Err: fmt.Errorf("account history for %s: %w", t.Address, err)})
		return
	}
	for _, ev := range events {
		a.emitEvent(ev)
	}
}

func (a *Adapter) fetchEvents(ctx context.Context, url string) ([]tronEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out tronEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (a *Adapter) emitEvent(ev tronEvent) {
	kind, ok := classify(ev.EventName)
	if !ok {
		return
	}

	id := fmt.Sprintf("%s_%s", model.ChainTron, ev.TransactionID)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()
	confirmations := uint64(0)
	if tip >= ev.BlockNumber {
		confirmations = tip - ev.BlockNumber
	}

	a.EmitEvent(model.CanonicalEvent{
		ID:                id,
		Chain:             model.ChainTron,
		Kind:              kind,
		BlockNumber:       ev.BlockNumber,
		TxHash:            ev.TransactionID,
		TimestampMs:       ev.BlockTimestamp,
		Confirmed:         confirmations >= 19, // Tron's ~19-block finality heuristic
		ConfirmationCount: confirmations,
		Data: model.EventData{
			From:            ev.Result["from"],
			To:              ev.Result["to"],
			Amount:          ev.Result["value"],
			ContractAddress: ev.ContractAddress,
		},
	})
}

func classify(eventName string) (model.EventKind, bool) {
	switch strings.ToLower(eventName) {
	case "transfer":
		return model.EventTransfer, true
	case "mint":
		return model.EventTokenMint, true
	case "burn":
		return model.EventTokenBurn, true
	default:
		return "", false
	}
}

func (a *Adapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	if !a.ValidateAddress(t.Address) {
		return &errs.ValidationError{Field: "address", Value: t.Address, Msg: "invalid Tron Base58 address"}
	}
	if len(t.EventKinds) == 0 {
		return &errs.ValidationError{Field: "event_kinds", Value: t.Address, Msg: "must be non-empty"}
	}
	a.mu.Lock()
	a.targets[t.Address] = &target{MonitoringTarget: t}
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

// ValidateAddress uses gotron-sdk's address package, the same
// Base58Check scheme as pkg/chain/evm's Tron-as-EVM validator.
func (a *Adapter) ValidateAddress(addr string) bool {
	_, err := address.Base58ToAddress(addr)
	return err == nil
}

type chainParametersResponse struct {
	ChainParameter []struct {
		Key   string `json:"key"`
		Value int64  `json:"value"`
	} `json:"chainParameter"`
}

// EstimateFee fetches the chain parameters and derives a bandwidth-based
// estimate from getTransactionFee (sun per byte). The call doubles as
// the facade's connectivity probe, so an unreachable endpoint must
// surface as a TransportError rather than a canned estimate.
func (a *Adapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+"/wallet/getchainparameters", nil)
	if err != nil {
		return chain.FeeEstimate{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainTron), Op: "chain parameters", Err: err}
	}
	defer resp.Body.Close()

	var out chainParametersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainTron), Op: "decode chain parameters", Err: err}
	}

	var feePerByte int64 = 1000 // network default, sun
	for _, p := range out.ChainParameter {
		if p.Key == "getTransactionFee" && p.Value > 0 {
			feePerByte = p.Value
		}
	}

	const typicalTxBytes = 250
	return chain.FeeEstimate{
		Fee:      strconv.FormatInt(feePerByte*typicalTxBytes, 10),
		GasPrice: strconv.FormatInt(feePerByte, 10),
	}, nil
}
