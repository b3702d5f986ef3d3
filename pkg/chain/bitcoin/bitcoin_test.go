package bitcoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen-io/chain-listener/pkg/model"
)

const watched = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func targetFixture() *target {
	return &target{
		MonitoringTarget: model.MonitoringTarget{
			Kind:       model.TargetAddress,
			Address:    watched,
			EventKinds: []model.EventKind{model.EventNativeTransfer},
		},
		seenTx: make(map[string]struct{}),
	}
}

func TestEmitTransfer_IncomingPayment(t *testing.T) {
	a := New(Config{APIBaseURL: "http://localhost"})
	a.tip = 800000
	tgt := targetFixture()

	a.emitTransfer(tgt, esploraTx{
		TxID: "txaa",
		Vin:  []esploraVin{{Prevout: &esploraOut{ScriptPubKeyAddress: "1SomeoneElse", Value: 51000}}},
		Vout: []esploraOut{
			{ScriptPubKeyAddress: watched, Value: 50000},
		},
		Fee:    1000,
		Status: esploraTxStatus{Confirmed: true, BlockHeight: 799990},
	})

	select {
	case ev := <-a.Events():
		if ev.Kind != model.EventNativeTransfer {
			t.Errorf("kind = %q", ev.Kind)
		}
		if ev.Data.To != watched {
			t.Errorf("to = %q, want the watched address", ev.Data.To)
		}
		if ev.Data.Amount != "50000" {
			t.Errorf("amount = %q, want 50000", ev.Data.Amount)
		}
		if ev.Data.Fee != "1000" {
			t.Errorf("fee = %q, want 1000", ev.Data.Fee)
		}
		if !ev.Confirmed || ev.ConfirmationCount != 6 {
			t.Errorf("confirmed=%v count=%d, want confirmed with the fixed count of 6", ev.Confirmed, ev.ConfirmationCount)
		}
		if ev.Data.Metadata["is_incoming"] != "true" {
			t.Errorf("is_incoming = %q", ev.Data.Metadata["is_incoming"])
		}
	default:
		t.Fatal("expected an emitted event")
	}
}

func TestEmitTransfer_OutgoingNetDelta(t *testing.T) {
	a := New(Config{APIBaseURL: "http://localhost"})
	tgt := targetFixture()

	// Spends 80 000 sat from the watched address, 30 000 returns as
	// change: |O - I| = 50 000.
	a.emitTransfer(tgt, esploraTx{
		TxID: "txbb",
		Vin:  []esploraVin{{Prevout: &esploraOut{ScriptPubKeyAddress: watched, Value: 80000}}},
		Vout: []esploraOut{
			{ScriptPubKeyAddress: "1Recipient", Value: 49000},
			{ScriptPubKeyAddress: watched, Value: 30000},
		},
		Fee:    1000,
		Status: esploraTxStatus{Confirmed: false},
	})

	select {
	case ev := <-a.Events():
		if ev.Data.Amount != "50000" {
			t.Errorf("amount = %q, want |30000-80000| = 50000", ev.Data.Amount)
		}
		if ev.Data.From != watched {
			t.Errorf("from = %q, want the watched address on an outgoing spend", ev.Data.From)
		}
		if ev.Confirmed || ev.ConfirmationCount != 0 {
			t.Errorf("unconfirmed tx: confirmed=%v count=%d", ev.Confirmed, ev.ConfirmationCount)
		}
		if ev.Data.Metadata["is_incoming"] != "false" {
			t.Errorf("is_incoming = %q", ev.Data.Metadata["is_incoming"])
		}
	default:
		t.Fatal("expected an emitted event")
	}
}

func TestPollTarget_AdvancesHeightCursor(t *testing.T) {
	history := []esploraTx{
		{
			TxID:   "old",
			Vout:   []esploraOut{{ScriptPubKeyAddress: watched, Value: 100}},
			Status: esploraTxStatus{Confirmed: true, BlockHeight: 700000},
		},
		{
			TxID:   "new",
			Vout:   []esploraOut{{ScriptPubKeyAddress: watched, Value: 200}},
			Status: esploraTxStatus{Confirmed: true, BlockHeight: 700005},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(history)
	}))
	defer srv.Close()

	a := New(Config{APIBaseURL: srv.URL})
	tgt := targetFixture()
	tgt.lastHeight = 700000 // "old" is at or below the cursor

	a.pollTarget(context.Background(), tgt)

	select {
	case ev := <-a.Events():
		if ev.TxHash != "new" {
			t.Errorf("tx = %q, want only the transaction above the cursor", ev.TxHash)
		}
	default:
		t.Fatal("expected the above-cursor transaction to be emitted")
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("below-cursor transaction emitted: %s", ev.TxHash)
	default:
	}

	if tgt.lastHeight != 700005 {
		t.Errorf("cursor = %d, want advanced to 700005", tgt.lastHeight)
	}

	// A second poll over the same history emits nothing further.
	a.pollTarget(context.Background(), tgt)
	select {
	case ev := <-a.Events():
		t.Fatalf("re-poll re-emitted %s", ev.TxHash)
	default:
	}
}

func TestValidateAddress(t *testing.T) {
	mainnet := New(Config{APIBaseURL: "http://localhost"})

	cases := []struct {
		addr string
		want bool
	}{
		{"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", true},          // P2PKH
		{"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", true},          // P2SH
		{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},  // bech32
		{"0xa1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2", false}, // EVM hex
		{"", false},
		{"1A1zP1eP5QGefi2DMPTfTL5SLmv7Divfinvalid", false},
	}
	for _, tc := range cases {
		if got := mainnet.ValidateAddress(tc.addr); got != tc.want {
			t.Errorf("ValidateAddress(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}

	testnet := New(Config{APIBaseURL: "http://localhost", Testnet: true})
	if !testnet.ValidateAddress("mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn") {
		t.Error("testnet P2PKH should validate when so configured")
	}
	if testnet.ValidateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa") {
		t.Error("mainnet address must not validate against testnet params")
	}
}
