// Package sui implements the chain adapter for Sui. Checkpoint sequence
// number is the analogue of block height. Because no native event
// subscription is relied upon, the adapter polls SuiXQueryEvents once a
// second per target, filtered by the target's {MoveEventType, Package,
// MoveModule} selector, and classifies events by a string-match
// heuristic on the Move type name. The JSON-RPC client is
// github.com/block-vision/sui-go-sdk.
package sui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/block-vision/sui-go-sdk/sui"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/model"
)

// Config configures the Sui adapter.
type Config struct {
	RPCURL           string
	MaxRetryAttempts int
	PollInterval     time.Duration // default 1s
	PageSize         uint64        // default 50
	Log              *logging.Logger
}

// eventSelector is one target's {MoveEventType, Package, MoveModule}
// filter.
type eventSelector struct {
	MoveEventType string
	Package       string
	MoveModule    string
}

type target struct {
	model.MonitoringTarget
	selector eventSelector
	cursor   *models.EventId // query cursor so a slow poll cycle cannot skip a page
}

// Adapter implements pkg/chain.Adapter for Sui.
type Adapter struct {
	chain.Signals

	cfg Config

	mu      sync.RWMutex
	client  sui.ISuiAPI
	status  chain.ConnectionStatus
	tip     uint64             // latest checkpoint sequence number observed
	targets map[string]*target // keyed by address

	processed *chain.DedupSet // composite <tx_digest>:<event_seq>, bounded

	stopPoll      chan struct{}
	stopHeartbeat chan struct{}
}

// New builds a Sui Adapter.
func New(cfg Config) *Adapter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Adapter{
		Signals:   chain.NewSignals(256),
		cfg:       cfg,
		status:    chain.StatusDisconnected,
		targets:   make(map[string]*target),
		processed: chain.NewDedupSet(0),
	}
}

func (a *Adapter) Chain() model.ChainKind { return model.ChainSui }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == chain.StatusConnected || a.status == chain.StatusMonitoring {
		a.mu.Unlock()
		return nil
	}
	a.status = chain.StatusConnecting
	a.mu.Unlock()
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSui, Status: chain.StatusConnecting})

	client := sui.NewSuiClient(a.cfg.RPCURL)

	var tip uint64
	err := chain.Do(ctx, a.cfg.MaxRetryAttempts, time.Second, chain.DefaultMaxDelay, func(attempt int) error {
		cp, err := client.SuiGetLatestCheckpointSequenceNumber(ctx)
		if err != nil {
			return err
		}
		n, err := parseUint(cp)
		if err != nil {
			return err
		}
		tip = n
		return nil
	})
	if err != nil {
		a.fail(err)
		return &errs.TransportError{Chain: string(model.ChainSui), Op: "latest checkpoint", Err: err}
	}

	a.mu.Lock()
	a.client = client
	a.tip = tip
	a.status = chain.StatusConnected
	a.stopHeartbeat = make(chan struct{})
	a.mu.Unlock()
	a.MarkHeartbeat()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSui, Status: chain.StatusConnected})
	go a.heartbeatLoop()
	return nil
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.status = chain.StatusError
	a.mu.Unlock()
	a.EmitError(chain.AdapterError{Chain: model.ChainSui, Err: err, Fatal: true})
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
			client := a.client
			a.mu.RUnlock()
			if client == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			cp, err := client.SuiGetLatestCheckpointSequenceNumber(ctx)
			cancel()
			if err != nil {
				a.EmitError(chain.AdapterError{Chain: model.ChainSui, Err: fmt.Errorf("heartbeat: %w", err)})
				continue
			}
			if n, err := parseUint(cp); err == nil {
				a.mu.Lock()
				a.tip = n
				a.mu.Unlock()
				a.MarkHeartbeat()
			}
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
	a.client = nil
	a.status = chain.StatusDisconnected
	a.mu.Unlock()

	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSui, Status: chain.StatusDisconnected})
	return nil
}

// StartMonitoring starts the 1-second polling loop.
func (a *Adapter) StartMonitoring(ctx context.Context) error {
	a.mu.Lock()
	if a.status != chain.StatusConnected {
		a.mu.Unlock()
		return fmt.Errorf("sui: start_monitoring called before connect")
	}
	a.stopPoll = make(chan struct{})
	a.status = chain.StatusMonitoring
	a.mu.Unlock()

	go a.pollLoop(ctx)
	a.EmitStatus(chain.StatusUpdate{Chain: model.ChainSui, Status: chain.StatusMonitoring})
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
	ticker := time.NewTicker(a.cfg.PollInterval)
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
	client := a.client
	targets := make([]*target, 0, len(a.targets))
	for _, t := range a.targets {
		targets = append(targets, t)
	}
	a.mu.RUnlock()
	if client == nil {
		return
	}

	for _, t := range targets {
		a.pollTarget(ctx, client, t)
	}
}

func (a *Adapter) pollTarget(ctx context.Context, client sui.ISuiAPI, t *target) {
	req := models.SuiXQueryEventsRequest{
		SuiEventFilter:  buildEventFilter(t.selector),
		Limit:           int(a.cfg.PageSize),
		DescendingOrder: false,
	}
	a.mu.RLock()
	if t.cursor != nil {
		req.Cursor = *t.cursor
	}
	a.mu.RUnlock()

	resp, err := client.SuiXQueryEvents(ctx, req)
	if err != nil {
		a.EmitError(chain.AdapterError{Chain: model.ChainSui, Err: fmt.Errorf("query events for %s: %w", t.Address, err)})
		return
	}

	for _, ev := range resp.Data {
		a.handleEvent(ev)
	}

	if resp.HasNextPage && resp.NextCursor != nil {
		a.mu.Lock()
		t.cursor = resp.NextCursor
		a.mu.Unlock()
	}
}

// buildEventFilter constructs the {MoveEventType, Package, MoveModule}
// selector request.
func buildEventFilter(sel eventSelector) map[string]interface{} {
	if sel.MoveEventType != "" {
		return map[string]interface{}{"MoveEventType": sel.MoveEventType}
	}
	if sel.Package != "" && sel.MoveModule != "" {
		return map[string]interface{}{"MoveModule": map[string]string{"package": sel.Package, "module": sel.MoveModule}}
	}
	if sel.Package != "" {
		return map[string]interface{}{"Package": sel.Package}
	}
	return map[string]interface{}{}
}

// handleEvent classifies and emits one Sui event by name matching on the
// Move type: ::coin::MintEvent / Mint... -> token_mint;
// ...BurnEvent / Burn... -> token_burn; ::pay::..., ::coin::...,
// Transfer... -> transfer; ::package::..., Publish... -> contract_creation;
// anything else is dropped. Token type is parsed from the angle-bracket
// type parameters of the Move type.
func (a *Adapter) handleEvent(ev models.SuiEventResponse) {
	moveType := ev.Type
	kind, ok := classify(moveType)
	if !ok {
		return
	}

	id := fmt.Sprintf("%s:%s", ev.Id.TxDigest, ev.Id.EventSeq)
	if a.processed.SeenOrAdd(id) {
		return
	}

	// Event responses carry a millisecond timestamp, not a checkpoint;
	// the tracked tip stands in for the checkpoint sequence number.
	tsMs := parseUintOrZero(ev.Timestamp)
	a.mu.RLock()
	tip := a.tip
	a.mu.RUnlock()

	data := model.EventData{
		From:         ev.Sender,
		TokenAddress: parseTypeParam(moveType),
	}

	canonicalID := fmt.Sprintf("%s_%s_%s", model.ChainSui, ev.Id.TxDigest, ev.Id.EventSeq)
	a.EmitEvent(model.CanonicalEvent{
		ID:                canonicalID,
		Chain:             model.ChainSui,
		Kind:              kind,
		BlockNumber:       tip,
		TxHash:            ev.Id.TxDigest,
		TimestampMs:       int64(tsMs),
		Confirmed:         true,
		ConfirmationCount: 0,
		Data:              data,
	})
}

func classify(moveType string) (model.EventKind, bool) {
	switch {
	case strings.Contains(moveType, "::coin::MintEvent"), strings.Contains(moveType, "Mint"):
		return model.EventTokenMint, true
	case strings.Contains(moveType, "BurnEvent"), strings.Contains(moveType, "Burn"):
		return model.EventTokenBurn, true
	case strings.Contains(moveType, "::pay::"), strings.Contains(moveType, "::coin::"), strings.Contains(moveType, "Transfer"):
		return model.EventTransfer, true
	case strings.Contains(moveType, "::package::"), strings.Contains(moveType, "Publish"):
		return model.EventContractCreation, true
	default:
		return "", false
	}
}

// parseTypeParam extracts the content between the first '<' and the
// matching final '>' of a Move type string, e.g.
// "0x2::coin::MintEvent<0x...::usdc::USDC>" -> "0x...::usdc::USDC".
func parseTypeParam(moveType string) string {
	start := strings.IndexByte(moveType, '<')
	end := strings.LastIndexByte(moveType, '>')
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return moveType[start+1 : end]
}

// AddMonitoringTarget validates address and registers t's event
// selector.
func (a *Adapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	if !a.ValidateAddress(t.Address) {
		return &errs.ValidationError{Field: "address", Value: t.Address, Msg: "not a valid Sui object/address id"}
	}
	if len(t.EventKinds) == 0 {
		return &errs.ValidationError{Field: "event_kinds", Value: t.Address, Msg: "must be non-empty"}
	}

	sel := eventSelector{Package: t.Address}
	if t.Description != "" {
		sel.MoveEventType = t.Description // custom selector override, carried in description for enhanced targets
	}

	a.mu.Lock()
	a.targets[t.Address] = &target{MonitoringTarget: t, selector: sel}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) RemoveMonitoringTarget(ctx context.Context, address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.targets, address)
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

// ValidateAddress accepts any well-formed 0x-prefixed hex id of up to
// 32 bytes (1 to 64 hex digits), so short forms such as 0x2 are accepted.
func (a *Adapter) ValidateAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	hexPart := strings.TrimPrefix(addr, "0x")
	if len(hexPart) == 0 || len(hexPart) > 64 {
		return false
	}
	for _, r := range hexPart {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func (a *Adapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	// Sui gas pricing is reference-gas-price * computation units; this
	// listener is read-only and never submits transactions, so only the
	// reference gas price is surfaced.
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainSui), Op: "estimate_fee", Err: fmt.Errorf("not connected")}
	}
	price, err := client.SuiXGetReferenceGasPrice(ctx)
	if err != nil {
		return chain.FeeEstimate{}, &errs.TransportError{Chain: string(model.ChainSui), Op: "reference gas price", Err: err}
	}
	return chain.FeeEstimate{GasPrice: fmt.Sprintf("%v", price)}, nil
}

func parseUint(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseUintOrZero(s string) uint64 {
	n, err := parseUint(s)
	if err != nil {
		return 0
	}
	return n
}
