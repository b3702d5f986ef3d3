// Package listener implements the facade a host application drives: it
// owns configuration loading, wires every concrete chain adapter into
// the chain manager, builds the filter/notifier pipeline, and exposes
// the start/stop, target-mutation, and stats surface. One constructor
// reads config and builds every collaborator; the method surface is a
// thin delegation layer over the manager and pipeline.
package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/chain/bitcoin"
	"github.com/certen-io/chain-listener/pkg/chain/evm"
	"github.com/certen-io/chain-listener/pkg/chain/solana"
	"github.com/certen-io/chain-listener/pkg/chain/sui"
	"github.com/certen-io/chain-listener/pkg/chain/tron"
	"github.com/certen-io/chain-listener/pkg/config"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/logging"
	"github.com/certen-io/chain-listener/pkg/manager"
	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/pipeline"
	"github.com/certen-io/chain-listener/pkg/pipeline/filter"
	"github.com/certen-io/chain-listener/pkg/pipeline/notify"
	"github.com/certen-io/chain-listener/pkg/resolver"
	"github.com/gagliardetto/solana-go/rpc"
)

// ChainStatus is one entry of GetChainStatuses.
type ChainStatus struct {
	Chain       model.ChainKind
	State       manager.State
	Connection  chain.ConnectionStatus
	BlockNumber uint64
}

// Stats is the counter snapshot GetStats returns.
type Stats struct {
	Total     int64
	Processed int64
	Failed    int64
	Filtered  int64
}

// Listener is the top-level facade a host application constructs once
// per process.
type Listener struct {
	cfg      *config.Config
	log      *logging.Logger
	resolver *resolver.Resolver
	pipeline *pipeline.Pipeline
	manager  *manager.Manager

	mu      sync.RWMutex
	running bool
}

func isEVMChain(ck model.ChainKind) bool {
	return ck == model.ChainEthereum || ck == model.ChainBSC || ck == model.ChainTron
}

// New loads configuration from path and builds a fully wired, but not
// yet started, Listener.
func New(path string) (*Listener, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a Listener from an already-loaded Config,
// useful for tests and embedders that construct Config programmatically.
func NewFromConfig(cfg *config.Config) (*Listener, error) {
	log := logging.New("listener", cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.CorrelationTracking)

	res := resolver.New(resolver.Defaults{
		MinAmount:          cfg.Filters.Transfer.MinAmount,
		MaxAmount:          cfg.Filters.Transfer.MaxAmount,
		RequiredConfirms:   cfg.Filters.Transfer.RequiredConfirms,
		MinPriority:        model.Priority(cfg.Filters.Transfer.MinPriority),
		RejectSelfTransfer: cfg.Filters.Transfer.RejectSelfTransfer,
	})
	for _, t := range cfg.Targets.EnhancedTargets {
		res.Put(t)
	}

	pl := pipeline.New(log)
	if err := wirePipeline(pl, cfg, res, log); err != nil {
		return nil, err
	}

	mgr := manager.New(manager.Config{
		HealthCheckInterval: time.Duration(cfg.Monitoring.Transfers.PollingIntervalMs) * time.Millisecond * 6,
		ReconnectDelay:      5 * time.Second,
		Log:                 log,
	}, pl)

	l := &Listener{cfg: cfg, log: log, resolver: res, pipeline: pl, manager: mgr}
	if err := l.wireAdapters(); err != nil {
		return nil, err
	}
	return l, nil
}

// wirePipeline registers every filter and notifier described by cfg.
func wirePipeline(pl *pipeline.Pipeline, cfg *config.Config, res *resolver.Resolver, log *logging.Logger) error {
	addrs := append([]string{}, cfg.Targets.Addresses.WatchAddresses...)
	if err := pl.AddFilter(filter.NewAddressFilter(addrs, isEVMChain)); err != nil {
		return err
	}

	contracts := filter.NewContractFilter(
		append(append([]string{}, cfg.Targets.Contracts.ERC20Contracts...), cfg.Targets.Contracts.TRC20Contracts...),
		append(append([]string{}, cfg.Targets.Contracts.ERC721Contracts...), cfg.Targets.Contracts.TRC721Contracts...),
	)
	if err := pl.AddFilter(contracts); err != nil {
		return err
	}

	if err := pl.AddFilter(&filter.AmountFilter{OnEnabled: true, Resolver: res}); err != nil {
		return err
	}

	kinds := []model.EventKind{
		model.EventTransfer, model.EventNativeTransfer, model.EventTokenMint,
		model.EventTokenBurn, model.EventNFTTransfer, model.EventNFTMint, model.EventContractCreation,
	}
	if err := pl.AddFilter(filter.NewEventKindFilter(kinds)); err != nil {
		return err
	}

	if err := pl.AddFilter(filter.NewSelfTransferFilter(isEVMChain)); err != nil {
		return err
	}

	if err := pl.AddFilter(&filter.ConfirmationFilter{OnEnabled: true, Required: uint64(cfg.Filters.Transfer.RequiredConfirms)}); err != nil {
		return err
	}

	if err := pl.AddFilter(&filter.TimestampRangeFilter{OnEnabled: true}); err != nil {
		return err
	}

	if err := pl.AddFilter(&filter.CustomRulesFilter{OnEnabled: true, Resolver: res}); err != nil {
		return err
	}

	if err := pl.AddFilter(&filter.PriorityFilter{OnEnabled: true, MinPriority: model.Priority(cfg.Filters.Transfer.MinPriority), Resolver: res}); err != nil {
		return err
	}

	if cfg.Notifications.Enabled {
		for _, ch := range cfg.Notifications.Channels {
			switch ch {
			case "webhook":
				if err := pl.AddNotifier(notify.NewWebhook("webhook", cfg.Notifications.WebhookURL, 10*time.Second, 3, time.Second)); err != nil {
					return err
				}
			case "redis_pubsub":
				if err := pl.AddNotifier(notify.NewPubSub("redis_pubsub", cfg.Database.RedisURL, cfg.Notifications.RedisChannel, 3, time.Second, log)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// wireAdapters constructs and registers one concrete chain.Adapter per
// enabled [chains.<name>] table.
func (l *Listener) wireAdapters() error {
	for name, cc := range l.cfg.Chains {
		if !cc.Enabled {
			continue
		}

		var a chain.Adapter
		switch model.ChainKind(name) {
		case model.ChainEthereum, model.ChainBSC:
			a = evm.New(evm.Config{
				Chain:                  model.ChainKind(name),
				RPCURL:                 cc.RPCURL,
				WebsocketURL:           cc.WebsocketURL,
				ChainID:                cc.ChainID,
				BlockConfirmationCount: cc.BlockConfirmationCount,
				MaxRetryAttempts:       cc.MaxRetryAttempts,
				Log:                    l.log,
			})
		case model.ChainSolana:
			a = solana.New(solana.Config{
				RPCURL:           cc.RPCURL,
				WebsocketURL:     cc.WebsocketURL,
				Commitment:       rpc.CommitmentType(commitmentOrDefault(cc.Commitment)),
				MaxRetryAttempts: cc.MaxRetryAttempts,
				Log:              l.log,
			})
		case model.ChainSui:
			a = sui.New(sui.Config{
				RPCURL:           cc.RPCURL,
				MaxRetryAttempts: cc.MaxRetryAttempts,
				Log:              l.log,
			})
		case model.ChainTron:
			a = tron.New(tron.Config{
				APIBaseURL:       cc.RPCURL,
				MaxRetryAttempts: cc.MaxRetryAttempts,
				Log:              l.log,
			})
		case model.ChainBitcoin:
			a = bitcoin.New(bitcoin.Config{
				APIBaseURL:       cc.RPCURL,
				MaxRetryAttempts: cc.MaxRetryAttempts,
				Log:              l.log,
			})
		default:
			if name == "tron_evm" {
				// TRON watched through the EVM-compatible RPC path
				// instead of tron's native polling API.
				a = evm.New(evm.Config{
					Chain:                  model.ChainTron,
					RPCURL:                 cc.RPCURL,
					WebsocketURL:           cc.WebsocketURL,
					ChainID:                cc.ChainID,
					BlockConfirmationCount: cc.BlockConfirmationCount,
					MaxRetryAttempts:       cc.MaxRetryAttempts,
					Log:                    l.log,
				})
				break
			}
			return &errs.ConfigError{Field: "chains." + name, Msg: "unsupported chain kind"}
		}

		if err := l.manager.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func commitmentOrDefault(c string) string {
	if c == "" {
		return "confirmed"
	}
	return c
}

// Start connects every registered chain and begins monitoring.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	if err := l.manager.Start(ctx); err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		return err
	}

	for _, t := range l.cfg.Targets.EnhancedTargets {
		if err := l.wireEnhancedTarget(ctx, t); err != nil {
			l.log.Errorf("failed to wire enhanced target %s: %v", t.ID, err)
		}
	}
	return nil
}

// Stop disconnects every registered chain.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	return l.manager.Stop(ctx)
}

func (l *Listener) chainsFor(t model.MonitoringTarget) []model.ChainKind {
	if len(t.Chains) > 0 {
		return t.Chains
	}
	return l.manager.RegisteredChains()
}

func (l *Listener) wireEnhancedTarget(ctx context.Context, t model.MonitoringTarget) error {
	l.resolver.Put(t)
	for _, ck := range l.chainsFor(t) {
		a, ok := l.manager.Adapter(ck)
		if !ok {
			continue
		}
		if err := a.AddMonitoringTarget(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// AddWalletAddress registers addr as a plain wallet-address target
// across every chain it applies to.
func (l *Listener) AddWalletAddress(ctx context.Context, addr string, chains []model.ChainKind, eventKinds []model.EventKind) error {
	t := model.MonitoringTarget{
		ID:         "wallet_" + strings.ToLower(addr),
		Kind:       model.TargetAddress,
		Address:    addr,
		EventKinds: eventKinds,
		Chains:     chains,
		Enabled:    true,
	}
	return l.wireEnhancedTarget(ctx, t)
}

// RemoveWalletAddress tears down a previously added wallet-address
// target across every registered chain.
func (l *Listener) RemoveWalletAddress(ctx context.Context, addr string) error {
	l.resolver.Remove(addr)
	for _, ck := range l.manager.RegisteredChains() {
		a, ok := l.manager.Adapter(ck)
		if !ok {
			continue
		}
		if err := a.RemoveMonitoringTarget(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// AddTokenContract registers a contract/token target on a single chain.
func (l *Listener) AddTokenContract(ctx context.Context, address string, ck model.ChainKind, eventKinds []model.EventKind) error {
	t := model.MonitoringTarget{
		ID:         "contract_" + strings.ToLower(address),
		Kind:       model.TargetContract,
		Address:    address,
		EventKinds: eventKinds,
		Chains:     []model.ChainKind{ck},
		Enabled:    true,
	}
	return l.wireEnhancedTarget(ctx, t)
}

// RemoveTokenContract tears down a contract/token target on ck.
func (l *Listener) RemoveTokenContract(ctx context.Context, address string, ck model.ChainKind) error {
	l.resolver.Remove(address)
	a, ok := l.manager.Adapter(ck)
	if !ok {
		return fmt.Errorf("listener: chain %s not registered", ck)
	}
	return a.RemoveMonitoringTarget(ctx, address)
}

// AddEnhancedTarget registers a fully specified MonitoringTarget,
// including filter overrides and custom rules.
func (l *Listener) AddEnhancedTarget(ctx context.Context, t model.MonitoringTarget) error {
	return l.wireEnhancedTarget(ctx, t)
}

// RemoveEnhancedTarget tears down an enhanced target by address.
func (l *Listener) RemoveEnhancedTarget(ctx context.Context, address string) error {
	return l.RemoveWalletAddress(ctx, address)
}

// UpdateEnhancedTarget replaces an existing enhanced target's resolver
// view without re-registering it against adapters (filter overrides
// only; address-set membership is unaffected).
func (l *Listener) UpdateEnhancedTarget(t model.MonitoringTarget) {
	l.resolver.Put(t)
}

// GetStats returns the pipeline/manager execution counters.
func (l *Listener) GetStats() Stats {
	total, processed, failed := l.manager.Counts()
	pstats := l.pipeline.Stats()
	return Stats{
		Total:     total,
		Processed: processed,
		Failed:    failed,
		Filtered:  pstats.Filtered,
	}
}

// GetChainStatuses reports the lifecycle/connection state of every
// registered chain.
func (l *Listener) GetChainStatuses() []ChainStatus {
	var out []ChainStatus
	for _, ck := range l.manager.RegisteredChains() {
		a, ok := l.manager.Adapter(ck)
		if !ok {
			continue
		}
		state, _ := l.manager.ChainState(ck)
		out = append(out, ChainStatus{
			Chain:       ck,
			State:       state,
			Connection:  a.ConnectionStatus(),
			BlockNumber: a.CurrentBlockNumber(),
		})
	}
	return out
}

// GetSupportedChains returns every registered chain kind.
func (l *Listener) GetSupportedChains() []model.ChainKind {
	return l.manager.RegisteredChains()
}

// IsChainSupported reports whether ck has a registered adapter.
func (l *Listener) IsChainSupported(ck model.ChainKind) bool {
	_, ok := l.manager.Adapter(ck)
	return ok
}

// TestConnections attempts EstimateFee against every registered chain as
// a lightweight connectivity probe, returning the first error per chain
// that failed.
func (l *Listener) TestConnections(ctx context.Context) map[model.ChainKind]error {
	results := make(map[model.ChainKind]error)
	for _, ck := range l.manager.RegisteredChains() {
		a, ok := l.manager.Adapter(ck)
		if !ok {
			continue
		}
		_, err := a.EstimateFee(ctx, map[string]string{})
		results[ck] = err
	}
	return results
}
