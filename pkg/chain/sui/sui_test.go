package sui

import (
	"testing"

	"github.com/certen-io/chain-listener/pkg/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		moveType string
		want     model.EventKind
		ok       bool
	}{
		{"0x2::coin::MintEvent<0x5d4b::usdc::USDC>", model.EventTokenMint, true},
		{"0xabc::token::MintCapIssued", model.EventTokenMint, true},
		{"0x2::coin::BurnEvent<0x5d4b::usdc::USDC>", model.EventTokenBurn, true},
		{"0xabc::supply::BurnExecuted", model.EventTokenBurn, true},
		{"0x2::pay::PayEvent", model.EventTransfer, true},
		{"0x2::coin::CoinCreated", model.EventTransfer, true},
		{"0xabc::kiosk::TransferPolicyCreated", model.EventTransfer, true},
		{"0x2::package::UpgradeEvent", model.EventContractCreation, true},
		{"0xabc::deploy::PublishRecord", model.EventContractCreation, true},
		{"0xabc::clob::OrderPlaced", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.moveType, func(t *testing.T) {
			kind, ok := classify(tc.moveType)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if kind != tc.want {
				t.Errorf("kind = %q, want %q", kind, tc.want)
			}
		})
	}
}

func TestParseTypeParam(t *testing.T) {
	cases := []struct {
		moveType string
		want     string
	}{
		{"0x2::coin::MintEvent<0x5d4b::usdc::USDC>", "0x5d4b::usdc::USDC"},
		{"0x2::pay::PayEvent", ""},
		{"0x2::x::Y<0x1::a::A<0x1::b::B>>", "0x1::a::A<0x1::b::B>"},
		{"broken<", ""},
	}
	for _, tc := range cases {
		if got := parseTypeParam(tc.moveType); got != tc.want {
			t.Errorf("parseTypeParam(%q) = %q, want %q", tc.moveType, got, tc.want)
		}
	}
}

func TestBuildEventFilter(t *testing.T) {
	t.Run("move event type wins", func(t *testing.T) {
		got := buildEventFilter(eventSelector{MoveEventType: "0x2::coin::MintEvent", Package: "0xabc"})
		if got["MoveEventType"] != "0x2::coin::MintEvent" {
			t.Errorf("filter = %v", got)
		}
	})
	t.Run("package and module", func(t *testing.T) {
		got := buildEventFilter(eventSelector{Package: "0xabc", MoveModule: "coin"})
		mm, ok := got["MoveModule"].(map[string]string)
		if !ok || mm["package"] != "0xabc" || mm["module"] != "coin" {
			t.Errorf("filter = %v", got)
		}
	})
	t.Run("package only", func(t *testing.T) {
		got := buildEventFilter(eventSelector{Package: "0xabc"})
		if got["Package"] != "0xabc" {
			t.Errorf("filter = %v", got)
		}
	})
}

func TestValidateAddress(t *testing.T) {
	a := New(Config{RPCURL: "http://localhost"})

	if !a.ValidateAddress("0x2") {
		t.Error("short-form framework address should validate")
	}
	if !a.ValidateAddress("0x5d4b302506645c37ff133b98c4b50a5ae14841659738d6d733d59d0d217a93bf") {
		t.Error("full 32-byte address should validate")
	}
	if a.ValidateAddress("0x") {
		t.Error("bare 0x must not validate")
	}
	if a.ValidateAddress("5d4b30") {
		t.Error("missing 0x prefix must not validate")
	}
	if a.ValidateAddress("0xzz") {
		t.Error("non-hex characters must not validate")
	}
}

func TestProcessedIDSuppression(t *testing.T) {
	a := New(Config{RPCURL: "http://localhost"})

	if a.processed.SeenOrAdd("J6Fy...digest:0") {
		t.Error("first composite id should be unseen")
	}
	if !a.processed.SeenOrAdd("J6Fy...digest:0") {
		t.Error("second identical composite id should be suppressed")
	}
	if a.processed.SeenOrAdd("J6Fy...digest:1") {
		t.Error("different event_seq is a distinct observation")
	}
}
