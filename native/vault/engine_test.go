package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	"github.com/minanew12/eurodollar-protocol-sub001/core/state"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
	"github.com/minanew12/eurodollar-protocol-sub001/native/token"
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
	lister   = common.HexToAddress("0xa0")
	alice    = common.HexToAddress("0x01")
	bob      = common.HexToAddress("0x02")
	carol    = common.HexToAddress("0x03")
	outsider = common.HexToAddress("0x04")
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), nativecommon.Scale)
}

func milli(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000))
}

type fixture struct {
	engine  *Engine
	cash    *token.Ledger
	invest  *token.Ledger
	allows  *permissions.Registry
	blocks  *permissions.Registry
	pauses  *stubPauseView
	rec     *events.Recorder
	mgr     *state.Manager
	feeding *oracle.Oracle
}

func newFixture(t *testing.T, current, old *uint256.Int) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	caps := roleCaps{lister: nativecommon.RoleAllowlistAdmin}
	pauses := &stubPauseView{modules: map[string]bool{}}

	blocks := permissions.NewRegistry(nativecommon.ModuleCash, permissions.BlockList, roleCaps{lister: nativecommon.RoleBlocklistAdmin})
	blocks.SetState(mgr)
	allows := permissions.NewRegistry(nativecommon.ModuleInvest, permissions.AllowList, caps)
	allows.SetState(mgr)

	cash := token.NewLedger("EUD", nativecommon.ModuleCash)
	cash.SetState(mgr)
	cash.SetPauses(pauses)
	cash.SetValidator(blocks)
	invest := token.NewLedger("EUI", nativecommon.ModuleInvest)
	invest.SetState(mgr)
	invest.SetPauses(pauses)
	invest.SetValidator(allows)

	prices := oracle.New(nil)
	prices.SetState(mgr)
	prices.SetPauses(pauses)
	prices.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	if err := prices.Init(oracle.Params{CurrentPrice: current, OldPrice: old}); err != nil {
		t.Fatalf("oracle init: %v", err)
	}

	engine := NewEngine(cash, invest, prices)
	engine.SetPauses(pauses)
	engine.SetJournal(mgr)
	rec := &events.Recorder{}
	engine.SetEmitter(rec)

	if err := allows.AddMany(lister, []common.Address{alice, bob, carol}); err != nil {
		t.Fatalf("allow: %v", err)
	}
	return &fixture{engine: engine, cash: cash, invest: invest, allows: allows, blocks: blocks, pauses: pauses, rec: rec, mgr: mgr, feeding: prices}
}

func (f *fixture) balance(t *testing.T, l *token.Ledger, addr common.Address) *uint256.Int {
	t.Helper()
	bal, err := l.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) fund(t *testing.T, addr common.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.cash.Mint(addr, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func TestDepositRedeemScenario(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))

	shares, err := f.engine.Deposit(alice, e18(100), alice)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !shares.Eq(e18(50)) {
		t.Fatalf("expected 50e18 shares, got %s", shares)
	}
	if !f.balance(t, f.cash, alice).IsZero() || !f.balance(t, f.invest, alice).Eq(e18(50)) {
		t.Fatalf("unexpected balances after deposit")
	}

	assets, err := f.engine.Redeem(alice, e18(50), alice, alice)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !assets.Eq(e18(75)) {
		t.Fatalf("expected 75e18 assets, got %s", assets)
	}
	if !f.balance(t, f.cash, alice).Eq(e18(75)) || !f.balance(t, f.invest, alice).IsZero() {
		t.Fatalf("unexpected balances after redeem")
	}

	drained := f.rec.Drain()
	if len(drained) != 2 || drained[0].Type != events.TypeVaultDeposit || drained[1].Type != events.TypeVaultWithdraw {
		t.Fatalf("unexpected events %+v", drained)
	}
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	prices := []struct{ current, old *uint256.Int }{
		{e18(1), e18(1)},
		{milli(1001), e18(1)},
		{e18(2), milli(1999)},
		{milli(3333), milli(1234)},
	}
	amounts := []*uint256.Int{uint256.NewInt(1), uint256.NewInt(7), uint256.NewInt(999_999), e18(1), milli(123_456_789)}
	for _, p := range prices {
		for _, amount := range amounts {
			f := newFixture(t, p.current, p.old)
			f.fund(t, alice, amount)
			shares, err := f.engine.Deposit(alice, amount, alice)
			if err != nil {
				t.Fatalf("deposit %s: %v", amount, err)
			}
			assets, err := f.engine.Redeem(alice, shares, alice, alice)
			if err != nil {
				t.Fatalf("redeem %s: %v", shares, err)
			}
			if assets.Gt(amount) {
				t.Fatalf("round trip created value: %s -> %s at %s/%s", amount, assets, p.current, p.old)
			}
		}
	}
}

func TestMintUsesOldPrice(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))

	preview, err := f.engine.PreviewMint(e18(10))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	assets, err := f.engine.Mint(alice, e18(10), bob)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Minting 10 shares costs 15 at the old price, not 20 at the current price.
	if !assets.Eq(e18(15)) || !preview.Eq(assets) {
		t.Fatalf("expected 15e18 cost, got %s (preview %s)", assets, preview)
	}
	if !f.balance(t, f.cash, alice).Eq(e18(85)) || !f.balance(t, f.invest, bob).Eq(e18(10)) {
		t.Fatalf("unexpected balances after mint")
	}
}

func TestWithdrawUsesCurrentPrice(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))
	if _, err := f.engine.Deposit(alice, e18(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	preview, _ := f.engine.PreviewWithdraw(e18(30))
	shares, err := f.engine.Withdraw(alice, e18(30), carol, alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// 30 Cash burns 15 shares at the current price of 2.
	if !shares.Eq(e18(15)) || !preview.Eq(shares) {
		t.Fatalf("expected 15e18 shares, got %s (preview %s)", shares, preview)
	}
	if !f.balance(t, f.invest, alice).Eq(e18(35)) || !f.balance(t, f.cash, carol).Eq(e18(30)) {
		t.Fatalf("unexpected balances after withdraw")
	}
}

func TestWithdrawAboveMaxFails(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))
	if _, err := f.engine.Deposit(alice, e18(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	limit, _ := f.engine.MaxWithdraw(alice)
	if !limit.Eq(e18(75)) {
		t.Fatalf("expected max withdraw 75e18, got %s", limit)
	}
	over := new(uint256.Int).AddUint64(limit, 1)
	if _, err := f.engine.Withdraw(alice, over, alice, alice); !errors.Is(err, nativecommon.ErrExceedsMax) {
		t.Fatalf("expected ErrExceedsMax, got %v", err)
	}
	if _, err := f.engine.Redeem(alice, e18(51), alice, alice); !errors.Is(err, nativecommon.ErrExceedsMax) {
		t.Fatalf("expected ErrExceedsMax for redeem, got %v", err)
	}
}

func TestMaxLimitsZeroWhilePaused(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))
	if _, err := f.engine.Deposit(alice, e18(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !f.engine.MaxDeposit(alice).Eq(nativecommon.MaxUint256) {
		t.Fatalf("expected unbounded deposit while active")
	}

	f.pauses.modules[nativecommon.ModuleInvest] = true
	for _, addr := range []common.Address{alice, bob, outsider} {
		withdraw, _ := f.engine.MaxWithdraw(addr)
		redeem, _ := f.engine.MaxRedeem(addr)
		if !f.engine.MaxDeposit(addr).IsZero() || !f.engine.MaxMint(addr).IsZero() || !withdraw.IsZero() || !redeem.IsZero() {
			t.Fatalf("expected zero limits while paused for %s", addr.Hex())
		}
	}
	if _, err := f.engine.Deposit(alice, uint256.NewInt(1), alice); !errors.Is(err, nativecommon.ErrExceedsMax) {
		t.Fatalf("expected ErrExceedsMax while paused, got %v", err)
	}
	if _, err := f.engine.Redeem(alice, uint256.NewInt(1), alice, alice); !errors.Is(err, nativecommon.ErrExceedsMax) {
		t.Fatalf("expected ErrExceedsMax for redeem while paused, got %v", err)
	}
}

func TestDepositToUnsetReceiverRevertsCashBurn(t *testing.T) {
	f := newFixture(t, e18(1), e18(1))
	f.fund(t, alice, e18(10))

	_, err := f.engine.Deposit(alice, e18(10), outsider)
	if !errors.Is(err, nativecommon.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !f.balance(t, f.cash, alice).Eq(e18(10)) {
		t.Fatalf("cash burn must be reverted, balance %s", f.balance(t, f.cash, alice))
	}
	supply, _ := f.cash.TotalSupply()
	if !supply.Eq(e18(10)) {
		t.Fatalf("cash supply must be restored, got %s", supply)
	}
}

func TestBlockedInvestHolderCanRedeem(t *testing.T) {
	f := newFixture(t, e18(1), e18(1))
	f.fund(t, alice, e18(10))
	if _, err := f.engine.Deposit(alice, e18(10), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.allows.Block(lister, []common.Address{alice}); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := f.engine.Redeem(alice, e18(10), alice, alice); err != nil {
		t.Fatalf("burn from a blocked invest holder must succeed: %v", err)
	}
	if !f.balance(t, f.cash, alice).Eq(e18(10)) {
		t.Fatalf("unexpected cash balance %s", f.balance(t, f.cash, alice))
	}
}

func TestCashBlockListGatesPayout(t *testing.T) {
	f := newFixture(t, e18(1), e18(1))
	f.fund(t, alice, e18(10))
	if _, err := f.engine.Deposit(alice, e18(10), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.blocks.Add(lister, carol); err != nil {
		t.Fatalf("block carol: %v", err)
	}
	if _, err := f.engine.Redeem(alice, e18(10), carol, alice); !errors.Is(err, nativecommon.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied paying a blocked receiver, got %v", err)
	}
	if !f.balance(t, f.invest, alice).Eq(e18(10)) {
		t.Fatalf("share burn must be reverted")
	}
}

func TestThirdPartyRedeemNeedsAllowance(t *testing.T) {
	f := newFixture(t, e18(1), e18(1))
	f.fund(t, alice, e18(10))
	if _, err := f.engine.Deposit(alice, e18(10), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Redeem(bob, e18(4), bob, alice); !errors.Is(err, nativecommon.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := f.invest.Approve(alice, bob, e18(4)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Redeem(bob, e18(4), bob, alice); err != nil {
		t.Fatalf("redeem with allowance: %v", err)
	}
	remaining, _ := f.invest.Allowance(alice, bob)
	if !remaining.IsZero() {
		t.Fatalf("expected allowance consumed, got %s", remaining)
	}
	if !f.balance(t, f.cash, bob).Eq(e18(4)) || !f.balance(t, f.invest, alice).Eq(e18(6)) {
		t.Fatalf("unexpected balances after third-party redeem")
	}
}

func TestTotalAssetsAndAsset(t *testing.T) {
	f := newFixture(t, e18(2), milli(1500))
	f.fund(t, alice, e18(100))
	if _, err := f.engine.Deposit(alice, e18(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	total, err := f.engine.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if !total.Eq(e18(75)) {
		t.Fatalf("expected total assets 75e18, got %s", total)
	}
	if f.engine.Asset() != "EUD" || f.engine.Share() != "EUI" {
		t.Fatalf("unexpected units %s/%s", f.engine.Asset(), f.engine.Share())
	}
}
