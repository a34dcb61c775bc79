package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	"github.com/minanew12/eurodollar-protocol-sub001/core/state"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/storage"
)

type roleCaps map[common.Address]nativecommon.Role

func (r roleCaps) HasCapability(account common.Address, role nativecommon.Role) bool {
	return r[account] == role
}

type stubPauseView struct {
	modules map[string]bool
}

func (s *stubPauseView) IsPaused(module string) bool { return s.modules[module] }

var (
	feeder     = common.HexToAddress("0x0f")
	priceAdmin = common.HexToAddress("0x0a")
	stranger   = common.HexToAddress("0x0e")
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), nativecommon.Scale)
}

// milli returns v/1000 * 1e18.
func milli(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000))
}

type fixture struct {
	oracle *Oracle
	pauses *stubPauseView
	rec    *events.Recorder
	now    time.Time
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := &fixture{pauses: &stubPauseView{modules: map[string]bool{}}, rec: &events.Recorder{}, now: time.Unix(1_700_000_000, 0)}
	o := New(roleCaps{feeder: nativecommon.RoleOracle, priceAdmin: nativecommon.RolePriceAdmin})
	o.SetState(state.NewManager(storage.NewMemDB()))
	o.SetPauses(f.pauses)
	o.SetEmitter(f.rec)
	o.SetClock(func() time.Time { return f.now })
	if params.LastUpdate == 0 {
		params.LastUpdate = uint64(f.now.Unix())
	}
	if err := o.Init(params); err != nil {
		t.Fatalf("init: %v", err)
	}
	f.oracle = o
	return f
}

func mustState(t *testing.T, o *Oracle) *State {
	t.Helper()
	st, err := o.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return st
}

func TestDefaultsAreMinPrice(t *testing.T) {
	o := New(nil)
	o.SetState(state.NewManager(storage.NewMemDB()))
	current, err := o.CurrentPrice()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	old, _ := o.OldPrice()
	if !current.Eq(nativecommon.MinPrice) || !old.Eq(nativecommon.MinPrice) {
		t.Fatalf("expected both prices at the minimum, got %s/%s", current, old)
	}
}

func TestGuardedUpdateShiftsPrices(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: milli(1100), OldPrice: milli(1050), MaxPriceIncrease: milli(100), Delay: 3600})
	f.now = f.now.Add(2 * time.Hour)

	if err := f.oracle.UpdatePrice(feeder, milli(1150)); err != nil {
		t.Fatalf("update: %v", err)
	}
	st := mustState(t, f.oracle)
	if !st.CurrentPrice.Eq(milli(1150)) || !st.OldPrice.Eq(milli(1100)) {
		t.Fatalf("unexpected prices %s/%s", st.CurrentPrice, st.OldPrice)
	}
	if st.LastUpdate != uint64(f.now.Unix()) {
		t.Fatalf("expected lastUpdate %d, got %d", f.now.Unix(), st.LastUpdate)
	}
	drained := f.rec.Drain()
	if len(drained) != 1 || drained[0].Type != events.TypeOraclePriceUpdated || drained[0].Attr("oldPrice") != milli(1100).Dec() {
		t.Fatalf("unexpected events %+v", drained)
	}
}

func TestDecreasesAreUnbounded(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(3), OldPrice: e18(2), MaxPriceIncrease: milli(1), Delay: 60})
	f.now = f.now.Add(time.Minute)
	if err := f.oracle.UpdatePrice(feeder, milli(1001)); err != nil {
		t.Fatalf("decrease should be accepted: %v", err)
	}
}

func TestGuardrailScenario(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(1), MaxPriceIncrease: milli(100), Delay: 3600})
	before := mustState(t, f.oracle)

	f.now = f.now.Add(30 * time.Minute)
	err := f.oracle.UpdatePrice(feeder, new(uint256.Int).Add(e18(1), milli(110)))
	if !errors.Is(err, nativecommon.ErrGuardrailViolation) {
		t.Fatalf("expected ErrGuardrailViolation, got %v", err)
	}
	after := mustState(t, f.oracle)
	if !after.CurrentPrice.Eq(before.CurrentPrice) || !after.OldPrice.Eq(before.OldPrice) || after.LastUpdate != before.LastUpdate {
		t.Fatalf("rejected update must not change state")
	}

	f.now = f.now.Add(31 * time.Minute)
	if err := f.oracle.UpdatePrice(feeder, new(uint256.Int).Add(e18(1), milli(50))); err != nil {
		t.Fatalf("update after delay: %v", err)
	}
}

func TestGuardrailEachReason(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(1), MaxPriceIncrease: milli(100), Delay: 3600})

	f.now = f.now.Add(10 * time.Minute)
	if err := f.oracle.UpdatePrice(feeder, e18(1)); !errors.Is(err, nativecommon.ErrGuardrailViolation) {
		t.Fatalf("expected delay violation, got %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)
	if err := f.oracle.UpdatePrice(feeder, milli(1101)); !errors.Is(err, nativecommon.ErrGuardrailViolation) {
		t.Fatalf("expected increase violation, got %v", err)
	}
	if err := f.oracle.UpdatePrice(feeder, milli(1100)); err != nil {
		t.Fatalf("update at the exact bound: %v", err)
	}
}

func TestUpdateBelowMinimumRejected(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(2), MaxPriceIncrease: e18(1)})
	if err := f.oracle.UpdatePrice(feeder, milli(999)); !errors.Is(err, nativecommon.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestUpdateRequiresOracleRole(t *testing.T) {
	f := newFixture(t, Params{})
	if err := f.oracle.UpdatePrice(priceAdmin, e18(1)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.oracle.SetDelay(feeder, 10); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for SetDelay, got %v", err)
	}
	if err := f.oracle.AdminSetOldPrice(stranger, e18(1)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for admin override, got %v", err)
	}
}

func TestAdminOverrides(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(2), OldPrice: e18(1), MaxPriceIncrease: milli(1), Delay: 86400})

	if err := f.oracle.AdminSetCurrentPrice(priceAdmin, e18(10)); err != nil {
		t.Fatalf("override current bypassing guardrails: %v", err)
	}
	if err := f.oracle.AdminSetOldPrice(priceAdmin, milli(999)); !errors.Is(err, nativecommon.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice below minimum, got %v", err)
	}
	if err := f.oracle.AdminSetOldPrice(priceAdmin, e18(4)); err != nil {
		t.Fatalf("override old: %v", err)
	}
	if err := f.oracle.AdminSetCurrentPrice(priceAdmin, e18(3)); !errors.Is(err, nativecommon.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice when current < old, got %v", err)
	}
	st := mustState(t, f.oracle)
	if !st.CurrentPrice.Eq(e18(10)) || !st.OldPrice.Eq(e18(4)) {
		t.Fatalf("unexpected prices %s/%s", st.CurrentPrice, st.OldPrice)
	}

	if err := f.oracle.SetMaxPriceIncrease(priceAdmin, new(uint256.Int)); err != nil {
		t.Fatalf("set max increase: %v", err)
	}
	if err := f.oracle.SetDelay(priceAdmin, 0); err != nil {
		t.Fatalf("set delay: %v", err)
	}
	st = mustState(t, f.oracle)
	if !st.MaxPriceIncrease.IsZero() || st.Delay != 0 {
		t.Fatalf("unexpected guardrails %s/%d", st.MaxPriceIncrease, st.Delay)
	}
}

func TestConversionsFloor(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(2), OldPrice: milli(1500)})

	shares, err := f.oracle.FromCashToInvest(e18(100))
	if err != nil {
		t.Fatalf("cash->invest: %v", err)
	}
	if !shares.Eq(e18(50)) {
		t.Fatalf("expected 50e18 shares, got %s", shares)
	}
	assets, err := f.oracle.FromInvestToCash(e18(50))
	if err != nil {
		t.Fatalf("invest->cash: %v", err)
	}
	if !assets.Eq(e18(75)) {
		t.Fatalf("expected 75e18 assets, got %s", assets)
	}

	one, _ := f.oracle.FromCashToInvest(uint256.NewInt(3))
	if one.Uint64() != 1 {
		t.Fatalf("expected floor(3/2)=1, got %s", one)
	}
	dust, _ := f.oracle.FromInvestToCash(uint256.NewInt(1))
	if dust.Uint64() != 1 {
		t.Fatalf("expected floor(1*1.5)=1, got %s", dust)
	}
}

func TestConversionOverflow(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(1), OldPrice: e18(2)})
	if _, err := f.oracle.FromInvestToCash(nativecommon.MaxUint256); !errors.Is(err, nativecommon.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestPauseSnapshot(t *testing.T) {
	f := newFixture(t, Params{CurrentPrice: e18(2), OldPrice: e18(1)})

	f.pauses.modules[nativecommon.ModuleInvest] = true
	if err := f.oracle.CaptureSnapshot(); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := f.oracle.AdminSetCurrentPrice(priceAdmin, e18(5)); err != nil {
		t.Fatalf("override during pause: %v", err)
	}
	current, _ := f.oracle.CurrentPrice()
	if !current.Eq(e18(2)) {
		t.Fatalf("expected snapshot price while paused, got %s", current)
	}
	shares, _ := f.oracle.FromCashToInvest(e18(10))
	if !shares.Eq(e18(5)) {
		t.Fatalf("conversions must use the snapshot, got %s", shares)
	}

	f.pauses.modules[nativecommon.ModuleInvest] = false
	if err := f.oracle.ClearSnapshot(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	current, _ = f.oracle.CurrentPrice()
	if !current.Eq(e18(5)) {
		t.Fatalf("expected live price after unpause, got %s", current)
	}
}

func TestInitRejectsLowPrices(t *testing.T) {
	o := New(nil)
	o.SetState(state.NewManager(storage.NewMemDB()))
	if err := o.Init(Params{CurrentPrice: milli(500)}); !errors.Is(err, nativecommon.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}
