// Package evm implements the chain adapter for Ethereum, BSC, and the
// TRX-as-EVM variant. Ethereum and BSC share this logic with different
// ChainID/confirmation depth defaults (12 vs 6); the Tron-as-EVM variant
// reuses it with a Base58 address validator layered on top. Transport is
// go-ethereum's ethclient over both a WebSocket endpoint (preferred, for
// push subscriptions) and an HTTP endpoint (fallback and block fetches).
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// ERC20TransferTopic is keccak256("Transfer(address,address,uint256)"),
// shared by ERC-20 and ERC-721.
const ERC20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// knownMintSignatures are additional topic0 values the mint detector
// recognizes beyond "Transfer from the zero address".
var knownMintSignatures = map[string]struct{}{
	// Mint(address,uint256), a common custom-token mint event.
	"0x0f6798a560793a54c3bcfe86a93cde1e73087d944c0ea20544137d4121396885": {},
}

// Config configures one EVM-family adapter instance.
type Config struct {
	Chain                  model.ChainKind // ethereum | bsc | tron (TRX-as-EVM)
	RPCURL                 string
	WebsocketURL           string
	ChainID                int64
	BlockConfirmationCount uint64
	MaxRetryAttempts       int
	Log                    *logging.Logger
}

// target is the adapter's local mirror of a registered MonitoringTarget,
// plus its live subscription handle.
type target struct {
	model.MonitoringTarget
	sub ethereum.Subscription
}

// Adapter implements pkg/chain.Adapter for EVM-family chains.
type Adapter struct {
	chain.Signals

	cfg Config

	mu         sync.RWMutex
	httpClient *ethclient.Client
	wsClient   *ethclient.Client
	status     chain.ConnectionStatus
	tip        uint64
	targets    map[string]*target // keyed by lowercased address
	headsSub   ethereum.Subscription

	dedup *chain.DedupSet

	stopHeartbeat chan struct{}
	stopPoll      chan struct{}
	lastPolled    uint64
}

// New builds an Adapter for the given config. It does not dial anything;
// Connect does.
func New(cfg Config) *Adapter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.BlockConfirmationCount == 0 {
		switch cfg.Chain {
		case model.ChainEthereum:
			cfg.BlockConfirmationCount = 12
		case model.ChainBSC:
			cfg.BlockConfirmationCount = 6
		}
	}
	return &Adapter{
		Signals: chain.NewSignals(256),
		cfg:     cfg,
		status:  chain.StatusDisconnected,
		targets: make(map[string]*target),
		dedup:   chain.NewDedupSet(0),
	}
}

func (a *Adapter) Chain() model.ChainKind { return a.cfg.Chain }

// Connect dials the HTTP client (always) and the WebSocket client (if
// configured), fetches the current tip, and starts the 30s heartbeat.
// Idempotent.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == chain.StatusConnected || a.status == chain.StatusMonitoring {
		a.mu.Unlock()
		return nil
	}
	a.status = chain.StatusConnecting
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: a.cfg.Chain, Status: chain.StatusConnecting})

	var httpClient, wsClient *ethclient.Client
	err := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
		c, err := ethclient.DialContext(ctx, a.cfg.RPCURL)
		if err != nil {
			return err
		}
		httpClient = c
		return nil
	})
	if err != nil {
		a.fail(err, true)
		return &errs.TransportError{Chain: string(a.cfg.Chain), Op: "dial http", Err: err}
	}

	if a.cfg.WebsocketURL != "" {
		if wsErr := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
			c, err := ethclient.DialContext(ctx, a.cfg.WebsocketURL)
			if err != nil {
				return err
			}
			wsClient = c
			return nil
		}); wsErr != nil {
			// Push subscriptions are preferred but not required; fall
			// back to the HTTP provider for polling.
			a.cfg.Log.Warnf("%s: websocket dial failed, falling back to polling: %v", a.cfg.Chain, wsErr)
		}
	}

	tip, err := httpClient.BlockNumber(ctx)
	if err != nil {
		a.fail(err, true)
		return &errs.TransportError{Chain: string(a.cfg.Chain), Op: "block number", Err: err}
	}

	a.mu.Lock()
	a.httpClient = httpClient
	a.wsClient = wsClient
	a.tip = tip
	a.lastPolled = tip
	a.status = chain.StatusConnected
	a.stopHeartbeat = make(chan struct{})
	a.mu.Unlock()
	a.MarkHeartbeat()

	a.EmitStatus(chain.StatusUpdate{Chain: a.cfg.Chain, Status: chain.StatusConnected})
	go a.heartbeatLoop()
	return nil
}

func (a *Adapter) fail(err error, fatal bool) {
	a.mu.Lock()
	a.status = chain.StatusError
	a.mu.Unlock()
	a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: err, Fatal: fatal})
}

// heartbeatLoop re-fetches the tip every 30s; on failure it emits an
// error but never kills the adapter.
func (a *Adapter) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopHeartbeat:
			return
		case <-ticker.C:
			a.mu.RLock()
			client := a.httpClient
			a.mu.RUnlock()
			if client == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			tip, err := client.BlockNumber(ctx)
			cancel()
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: fmt.Errorf("heartbeat: %w", err), Fatal: false})
				continue
			}
			a.mu.Lock()
			a.tip = tip
			a.mu.Unlock()
			a.MarkHeartbeat()
		}
	}
}

// Disconnect tears down subscriptions, the heartbeat, and both clients.
// Idempotent.
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
	if a.httpClient != nil {
		a.httpClient.Close()
		a.httpClient = nil
	}
	if a.wsClient != nil {
		a.wsClient.Close()
		a.wsClient = nil
	}
	a.status = chain.StatusDisconnected
	a.mu.Unlock()

	a.EmitStatus(chain.StatusUpdate{Chain: a.cfg.Chain, Status: chain.StatusDisconnected})
	return nil
}

// StartMonitoring subscribes to new heads (for native transfer scanning
// and tip tracking) and wires a log subscription per registered target.
func (a *Adapter) StartMonitoring(ctx context.Context) error {
	a.mu.Lock()
	if a.status != chain.StatusConnected {
		a.mu.Unlock()
		return fmt.Errorf("evm: %s: start_monitoring called before connect", a.cfg.Chain)
	}
	a.stopPoll = make(chan struct{})
	targets := make([]*target, 0, len(a.targets))
	for _, t := range a.targets {
		targets = append(targets, t)
	}
	wsClient := a.wsClient
	a.mu.Unlock()

	if wsClient != nil {
		heads := make(chan *types.Header, 32)
		sub, err := wsClient.SubscribeNewHead(ctx, heads)
		if err != nil {
			return &errs.TransportError{Chain: string(a.cfg.Chain), Op: "subscribe new heads", Err: err}
		}
		a.mu.Lock()
		a.headsSub = sub
		a.mu.Unlock()
		go a.consumeHeads(heads, sub)
	} else {
		go a.pollLoop()
	}

	for _, t := range targets {
		a.wireTarget(ctx, t)
	}

	a.mu.Lock()
	a.status = chain.StatusMonitoring
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: a.cfg.Chain, Status: chain.StatusMonitoring})
	return nil
}

// StopMonitoring tears down subscriptions and polling without
// disconnecting transport.
func (a *Adapter) StopMonitoring(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.headsSub != nil {
		a.headsSub.Unsubscribe()
		a.headsSub = nil
	}
	if a.stopPoll != nil {
		close(a.stopPoll)
		a.stopPoll = nil
	}
	for _, t := range a.targets {
		if t.sub != nil {
			t.sub.Unsubscribe()
			t.sub = nil
		}
	}
	if a.status == chain.StatusMonitoring {
		a.status = chain.StatusConnected
	}
	return nil
}

func (a *Adapter) consumeHeads(heads chan *types.Header, sub ethereum.Subscription) {
	for {
		select {
		case err := <-sub.Err():
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: fmt.Errorf("new heads subscription: %w", err)})
			}
			return
		case h, ok := <-heads:
			if !ok {
				return
			}
			a.handleHeader(h.Number.Uint64())
		}
	}
}

// pollLoop is the fallback path when no websocket endpoint is configured:
// re-poll the tip on a block-time cadence and scan any new blocks.
func (a *Adapter) pollLoop() {
	ticker := time.NewTicker(12 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopPoll:
			return
		case <-ticker.C:
			a.mu.RLock()
			client, from := a.httpClient, a.lastPolled+1
			a.mu.RUnlock()
			if client == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			tip, err := client.BlockNumber(ctx)
			cancel()
			if err != nil {
				continue
			}
			for bn := from; bn <= tip; bn++ {
				a.handleHeader(bn)
			}
			a.mu.Lock()
			a.lastPolled = tip
			a.tip = tip
			a.mu.Unlock()
		}
	}
}

// handleHeader updates the tracked tip and scans the block's transactions
// for native transfers matching a watched address. A log-level filter
// cannot see native value transfers (they produce no logs), so the
// adapter inspects the block's transactions directly.
func (a *Adapter) handleHeader(blockNumber uint64) {
	a.mu.Lock()
	if blockNumber > a.tip {
		a.tip = blockNumber
	}
	client := a.httpClient
	watched := a.addressTargets()
	a.mu.Unlock()

	if client == nil || len(watched) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: fmt.Errorf("fetch block %d: %w", blockNumber, err)})
		return
	}

	for _, tx := range block.Transactions() {
		if tx.Value().Sign() <= 0 || tx.To() == nil {
			continue
		}
		from := senderAddress(tx)
		to := strings.ToLower(tx.To().Hex())
		if _, ok := watched[to]; !ok {
			if _, ok := watched[strings.ToLower(from)]; !ok {
				continue
			}
		}
		a.emitNativeTransfer(tx, from, to, block.Time(), blockNumber)
	}
}

// senderAddress recovers the sender of tx with types.Sender, using the
// latest signer for the transaction's chain id. It returns "" if recovery
// fails, matching the adapter's failure policy of
// dropping what it cannot decode rather than stalling.
func senderAddress(tx *types.Transaction) string {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return ""
	}
	return strings.ToLower(from.Hex())
}

func (a *Adapter) emitNativeTransfer(tx *types.Transaction, from, to string, blockTime uint64, blockNumber uint64) {
	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()

	confirmations := uint64(0)
	if tip >= blockNumber {
		confirmations = tip - blockNumber
	}

	id := fmt.Sprintf("%s_%s", a.cfg.Chain, tx.Hash().Hex())
	if a.dedup.SeenOrAdd(id) {
		return
	}

	event := model.CanonicalEvent{
		ID:                id,
		Chain:             a.cfg.Chain,
		Kind:              model.EventNativeTransfer,
		BlockNumber:       blockNumber,
		TxHash:            tx.Hash().Hex(),
		TimestampMs:       int64(blockTime) * 1000,
		Confirmed:         confirmations >= a.cfg.BlockConfirmationCount,
		ConfirmationCount: confirmations,
		Data: model.EventData{
			From:   from,
			To:     to,
			Amount: tx.Value().String(),
		},
	}
	a.EmitEvent(event)
}

// addressTargets returns the set of lowercased addresses with an
// `address`-kind target registered, used by handleHeader's native
// transfer scan.
func (a *Adapter) addressTargets() map[string]struct{} {
	out := make(map[string]struct{})
	for addr, t := range a.targets {
		if t.Kind == model.TargetAddress {
			out[addr] = struct{}{}
		}
	}
	return out
}

// AddMonitoringTarget validates the address and registers t, wiring its
// subscription immediately if monitoring is already active.
func (a *Adapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	if !a.ValidateAddress(t.Address) {
		return &errs.ValidationError{Field: "address", Value: t.Address, Msg: "invalid EVM address"}
	}
	if len(t.EventKinds) == 0 {
		return &errs.ValidationError{Field: "event_kinds", Value: t.Address, Msg: "must be non-empty"}
	}

	key := strings.ToLower(t.Address)
	entry := &target{MonitoringTarget: t}

	a.mu.Lock()
	a.targets[key] = entry
	monitoring := a.status == chain.StatusMonitoring
	a.mu.Unlock()

	if monitoring {
		a.wireTarget(ctx, entry)
	}
	return nil
}

// RemoveMonitoringTarget tears down the target's subscription and removes
// it from the local mirror.
func (a *Adapter) RemoveMonitoringTarget(ctx context.Context, address string) error {
	key := strings.ToLower(address)
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.targets[key]; ok {
		if t.sub != nil {
			t.sub.Unsubscribe()
		}
		delete(a.targets, key)
	}
	return nil
}

// wireTarget sets up the log subscription appropriate for t's kind: an
// address target watches the ERC-20/721 Transfer topic plus (via
// handleHeader) native transfers; a contract target scopes the same
// topic to its own address and additionally detects mints.
func (a *Adapter) wireTarget(ctx context.Context, t *target) {
	a.mu.RLock()
	wsClient := a.wsClient
	a.mu.RUnlock()
	if wsClient == nil {
		return // polling path observes every block already; nothing extra to wire
	}

	query := ethereum.FilterQuery{
		Topics: [][]common.Hash{{common.HexToHash(ERC20TransferTopic)}},
	}
	if t.Kind == model.TargetContract || t.Kind == model.TargetToken {
		query.Addresses = []common.Address{common.HexToAddress(t.Address)}
		for sig := range knownMintSignatures {
			query.Topics[0] = append(query.Topics[0], common.HexToHash(sig))
		}
	}

	logs := make(chan types.Log, 64)
	sub, err := wsClient.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: fmt.Errorf("subscribe logs for %s: %w", t.Address, err)})
		return
	}

	a.mu.Lock()
	t.sub = sub
	a.mu.Unlock()

	go a.consumeLogs(logs, sub)
}

func (a *Adapter) consumeLogs(logs chan types.Log, sub ethereum.Subscription) {
	for {
		select {
		case err := <-sub.Err():
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: a.cfg.Chain, Err: fmt.Errorf("log subscription: %w", err)})
			}
			return
		case lg, ok := <-logs:
			if !ok {
				return
			}
			a.handleLog(lg)
		}
	}
}

// handleLog decodes a Transfer log: from = lower 20
// bytes of topic1, to = lower 20 bytes of topic2, amount = big-endian
// integer in data for ERC-20 (ERC-721 places the token id in topic3 with
// empty data instead). A transfer whose indexed from is the zero address
// is a mint; any log whose topic0 matches a known mint signature is also
// a mint.
func (a *Adapter) handleLog(lg types.Log) {
	if len(lg.Topics) == 0 {
		return
	}

	id := fmt.Sprintf("%s_%s_%d", a.cfg.Chain, lg.TxHash.Hex(), lg.Index)
	if a.dedup.SeenOrAdd(id) {
		return
	}

	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()
	confirmations := uint64(0)
	if tip >= lg.BlockNumber {
		confirmations = tip - lg.BlockNumber
	}

	topic0 := lg.Topics[0].Hex()
	_, isKnownMint := knownMintSignatures[topic0]

	if topic0 != ERC20TransferTopic && !isKnownMint {
		return
	}

	var from, to string
	if len(lg.Topics) > 1 {
		from = strings.ToLower(common.HexToAddress(lg.Topics[1].Hex()).Hex())
	}
	if len(lg.Topics) > 2 {
		to = strings.ToLower(common.HexToAddress(lg.Topics[2].Hex()).Hex())
	}

	isNFT := len(lg.Topics) > 3 && len(lg.Data) == 0
	isMint := isKnownMint || from == zeroAddressAsHex()
	isBurn := to == zeroAddressAsHex()

	kind := model.EventTransfer
	switch {
	case isMint && isNFT:
		kind = model.EventNFTMint
	case isMint:
		kind = model.EventTokenMint
	case isBurn:
		kind = model.EventTokenBurn
	case isNFT:
		kind = model.EventNFTTransfer
	}

	data := model.EventData{From: from, To: to, TokenAddress: strings.ToLower(lg.Address.Hex())}
	if isNFT {
		if len(lg.Topics) > 3 {
			data.TokenID = new(big.Int).SetBytes(lg.Topics[3].Bytes()).String()
		}
	} else {
		data.Amount = new(big.Int).SetBytes(lg.Data).String()
	}

	event := model.CanonicalEvent{
		ID:                id,
		Chain:             a.cfg.Chain,
		Kind:              kind,
		BlockNumber:       lg.BlockNumber,
		TxHash:            lg.TxHash.Hex(),
		TimestampMs:       time.Now().UnixMilli(), // log entries carry no timestamp; approximate with observation time
		Confirmed:         confirmations >= a.cfg.BlockConfirmationCount,
		ConfirmationCount: confirmations,
		Data:              data,
	}
	a.EmitEvent(event)
}

func zeroAddressAsHex() string {
	return strings.ToLower(common.Address{}.Hex())
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

// ValidateAddress accepts 0x-prefixed 20-byte hex addresses always, and
// additionally Base58 T... addresses of length 34 for the TRX-as-EVM
// variant.
func (a *Adapter) ValidateAddress(addr string) bool {
	if common.IsHexAddress(addr) {
		return true
	}
	if a.cfg.Chain == model.ChainTron {
		return validateTronBase58(addr)
	}
	return false
}

func (a *Adapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	a.mu.RLock()
	client := a.httpClient
	a.mu.RUnlock()
	if client == nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(a.cfg.Chain), Op: "estimate_fee", Err: fmt.Errorf("not connected")}
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(a.cfg.Chain), Op: "suggest gas price", Err: err}
	}

	const defaultGasLimit = 21000
	fee := new(big.Int).Mul(gasPrice, big.NewInt(defaultGasLimit))
	return chain.FeeEstimate{Fee: fee.String(), GasPrice: gasPrice.String()}, nil
}
