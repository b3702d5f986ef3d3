package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/certen-io/chain-listener/pkg/config"
	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/manager"
	"github.com/certen-io/chain-listener/pkg/model"
)

func configFixture() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
		Chains: map[string]config.ChainConfig{
			"bitcoin": {RPCURL: "https://blockstream.info/api", Enabled: true},
			"ethereum": {
				RPCURL:                 "https://eth.example.org",
				ChainID:                1,
				BlockConfirmationCount: 12,
				Enabled:                true,
			},
			"solana": {RPCURL: "https://sol.example.org", Enabled: false},
		},
		Filters: config.FiltersConfig{
			Transfer: config.FilterDefaultsConfig{MinAmount: "1", RequiredConfirms: 1, MinPriority: "low"},
		},
	}
}

func TestNewFromConfig_WiresEnabledChains(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	supported := l.GetSupportedChains()
	if len(supported) != 2 {
		t.Fatalf("supported chains = %v, want bitcoin and ethereum only", supported)
	}
	if !l.IsChainSupported(model.ChainBitcoin) || !l.IsChainSupported(model.ChainEthereum) {
		t.Error("bitcoin and ethereum should be supported")
	}
	if l.IsChainSupported(model.ChainSolana) {
		t.Error("disabled solana chain must not be registered")
	}
}

func TestNewFromConfig_RejectsUnknownChain(t *testing.T) {
	cfg := configFixture()
	cfg.Chains["dogecoin"] = config.ChainConfig{RPCURL: "https://doge.example.org", Enabled: true}

	_, err := NewFromConfig(cfg)
	var cerr *errs.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *errs.ConfigError", err)
	}
}

func TestGetChainStatuses_ReportsRegisteredState(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatal(err)
	}

	statuses := l.GetChainStatuses()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	for _, st := range statuses {
		if st.State != manager.StateRegistered {
			t.Errorf("chain %s state = %v, want registered before Start", st.Chain, st.State)
		}
	}
}

func TestAddWalletAddress_ValidatesPerChain(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	kinds := []model.EventKind{model.EventNativeTransfer}

	btcChains := []model.ChainKind{model.ChainBitcoin}
	if err := l.AddWalletAddress(ctx, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", btcChains, kinds); err != nil {
		t.Errorf("valid bitcoin address rejected: %v", err)
	}

	err = l.AddWalletAddress(ctx, "definitely-not-an-address", btcChains, kinds)
	var verr *errs.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want *errs.ValidationError", err)
	}

	// A bitcoin address is not a valid EVM address; restricting the
	// target to ethereum must fail its adapter's validation.
	err = l.AddWalletAddress(ctx, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", []model.ChainKind{model.ChainEthereum}, kinds)
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want validation failure from the EVM adapter", err)
	}
}

func TestRemoveWalletAddress_IsIdempotent(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RemoveWalletAddress(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"); err != nil {
		t.Errorf("removing a never-added address should be a no-op: %v", err)
	}
}

func TestGetStats_StartsAtZero(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatal(err)
	}
	stats := l.GetStats()
	if stats.Total != 0 || stats.Processed != 0 || stats.Failed != 0 || stats.Filtered != 0 {
		t.Errorf("stats = %+v, want all zero before Start", stats)
	}
}

func TestUpdateEnhancedTarget_ReplacesResolverView(t *testing.T) {
	l, err := NewFromConfig(configFixture())
	if err != nil {
		t.Fatal(err)
	}

	minAmount := "777"
	l.UpdateEnhancedTarget(model.MonitoringTarget{
		ID:      "t1",
		Address: "0xContract",
		Filters: &model.FilterOverrides{MinAmount: &minAmount},
	})

	resolved := l.resolver.Resolve("0xcontract", model.ChainEthereum)
	if !resolved.Found || resolved.MinAmount != "777" {
		t.Errorf("resolved = %+v, want the updated override", resolved)
	}
}
