package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/certen-io/chain-listener/pkg/chain"
	"github.com/certen-io/chain-listener/pkg/model"
	"github.com/certen-io/chain-listener/pkg/pipeline"
)

// fakeAdapter satisfies chain.Adapter without any transport, failing on
// demand to exercise the manager's settle-all start semantics.
type fakeAdapter struct {
	chain.Signals

	kind        model.ChainKind
	connectErr  error
	monitorErr  error
	connects    int32
	disconnects int32
	status      chain.ConnectionStatus

	hbMu      sync.Mutex
	heartbeat time.Time
}

func newFakeAdapter(kind model.ChainKind) *fakeAdapter {
	return &fakeAdapter{Signals: chain.NewSignals(16), kind: kind, status: chain.StatusDisconnected}
}

func (f *fakeAdapter) Chain() model.ChainKind { return f.kind }

// setHeartbeat pins the heartbeat timestamp the health sweep reads,
// shadowing the embedded Signals tracking so tests control staleness.
func (f *fakeAdapter) setHeartbeat(t time.Time) {
	f.hbMu.Lock()
	f.heartbeat = t
	f.hbMu.Unlock()
}

func (f *fakeAdapter) LastHeartbeat() time.Time {
	f.hbMu.Lock()
	defer f.hbMu.Unlock()
	return f.heartbeat
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.status = chain.StatusConnected
	f.setHeartbeat(time.Now())
	return nil
}

func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	atomic.AddInt32(&f.disconnects, 1)
	f.status = chain.StatusDisconnected
	return nil
}

func (f *fakeAdapter) StartMonitoring(ctx context.Context) error {
	if f.monitorErr != nil {
		return f.monitorErr
	}
	f.status = chain.StatusMonitoring
	return nil
}

func (f *fakeAdapter) StopMonitoring(ctx context.Context) error { return nil }

func (f *fakeAdapter) AddMonitoringTarget(ctx context.Context, t model.MonitoringTarget) error {
	return nil
}
func (f *fakeAdapter) RemoveMonitoringTarget(ctx context.Context, address string) error { return nil }
func (f *fakeAdapter) CurrentBlockNumber() uint64                                       { return 0 }
func (f *fakeAdapter) ConnectionStatus() chain.ConnectionStatus                         { return f.status }
func (f *fakeAdapter) ValidateAddress(addr string) bool                                 { return true }
func (f *fakeAdapter) EstimateFee(ctx context.Context, tx map[string]string) (chain.FeeEstimate, error) {
	return chain.FeeEstimate{}, nil
}

func managerFixture() *Manager {
	return New(Config{HealthCheckInterval: time.Hour, ReconnectDelay: time.Millisecond}, pipeline.New(nil))
}

func TestRegister_RejectsDuplicateChainKind(t *testing.T) {
	m := managerFixture()
	if err := m.Register(newFakeAdapter(model.ChainEthereum)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(newFakeAdapter(model.ChainEthereum)); err == nil {
		t.Error("expected duplicate chain kind to be rejected")
	}
}

func TestStart_DrivesAdapterToMonitoring(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	state, ok := m.ChainState(model.ChainBitcoin)
	if !ok || state != StateMonitoring {
		t.Errorf("state = %v, want monitoring", state)
	}
	if a.connects != 1 {
		t.Errorf("connects = %d, want 1", a.connects)
	}
}

func TestStart_PartialFailureDoesNotAbort(t *testing.T) {
	m := managerFixture()
	good := newFakeAdapter(model.ChainBitcoin)
	bad := newFakeAdapter(model.ChainEthereum)
	bad.connectErr = errors.New("dial refused")

	if err := m.Register(good); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(bad); err != nil {
		t.Fatal(err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("one healthy chain should keep Start successful, got %v", err)
	}
	defer m.Stop(context.Background())

	if state, _ := m.ChainState(model.ChainBitcoin); state != StateMonitoring {
		t.Errorf("healthy chain state = %v, want monitoring", state)
	}
	if state, _ := m.ChainState(model.ChainEthereum); state != StateDisconnected {
		t.Errorf("failed chain state = %v, want disconnected", state)
	}
}

func TestStart_AllFailedReturnsError(t *testing.T) {
	m := managerFixture()
	bad := newFakeAdapter(model.ChainEthereum)
	bad.connectErr = errors.New("dial refused")
	if err := m.Register(bad); err != nil {
		t.Fatal(err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error when every chain fails to start")
	}
	m.Stop(context.Background())
}

func TestManager_RoutesEventsIntoPipeline(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	a.EmitEvent(model.CanonicalEvent{
		ID:     "bitcoin_tx1",
		Chain:  model.ChainBitcoin,
		Kind:   model.EventNativeTransfer,
		TxHash: "tx1",
	})

	deadline := time.After(2 * time.Second)
	for {
		total, processed, _ := m.Counts()
		if total == 1 && processed == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("event never counted: total=%d processed=%d", total, processed)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReconnect_CyclesAdapter(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	if err := m.Reconnect(context.Background(), model.ChainBitcoin); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if a.connects != 2 {
		t.Errorf("connects = %d, want 2 after reconnect", a.connects)
	}
	if a.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", a.disconnects)
	}
	if state, _ := m.ChainState(model.ChainBitcoin); state != StateMonitoring {
		t.Errorf("state after reconnect = %v, want monitoring", state)
	}
}

func waitForConnects(t *testing.T, a *fakeAdapter, want int32) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt32(&a.connects) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("connects = %d, want %d", atomic.LoadInt32(&a.connects), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCheckStaleness_ReconnectsStaleHeartbeat(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	// Last successful tip fetch is far older than 2*HealthCheckInterval.
	a.setHeartbeat(time.Now().Add(-3 * time.Hour))
	m.checkStaleness()

	waitForConnects(t, a, 2)
	if atomic.LoadInt32(&a.disconnects) != 1 {
		t.Errorf("disconnects = %d, want 1", a.disconnects)
	}
}

func TestCheckStaleness_NeverSucceededHeartbeatReconnects(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	// A monitoring chain whose tip fetch never succeeded (dead
	// connection, zero traffic) must still be swept.
	a.setHeartbeat(time.Time{})
	m.checkStaleness()

	waitForConnects(t, a, 2)
}

func TestCheckStaleness_FreshHeartbeatLeftAlone(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	a.setHeartbeat(time.Now())
	m.checkStaleness()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&a.connects); got != 1 {
		t.Errorf("connects = %d, want 1: a fresh heartbeat must not trigger a reconnect", got)
	}
	if state, _ := m.ChainState(model.ChainBitcoin); state != StateMonitoring {
		t.Errorf("state = %v, want monitoring", state)
	}
}

func TestUnregister_RequiresDisconnected(t *testing.T) {
	m := managerFixture()
	a := newFakeAdapter(model.ChainBitcoin)
	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Unregister(model.ChainBitcoin); err == nil {
		t.Error("unregistering a monitoring chain should be rejected")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Unregister(model.ChainBitcoin); err != nil {
		t.Errorf("unregister after stop: %v", err)
	}
}
