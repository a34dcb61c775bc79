package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var errNotConfigured = errors.New("vault: engine not configured")

// Units is the balance surface the engine burns from and mints into.
type Units interface {
	Unit() string
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) (*uint256.Int, error)
	TotalSupply() (*uint256.Int, error)
	SpendAllowance(owner, spender common.Address, amount *uint256.Int) error
}

// Prices converts between the two units.
type Prices interface {
	FromCashToInvest(amount *uint256.Int) (*uint256.Int, error)
	FromInvestToCash(amount *uint256.Int) (*uint256.Int, error)
}

type journal interface {
	Atomic(fn func() error) error
}

// Engine exchanges Cash for Invest and back with ERC4626 semantics. Invest is
// the share and Cash the underlying asset.
type Engine struct {
	cash    Units
	invest  Units
	prices  Prices
	pauses  nativecommon.PauseView
	journal journal
	emitter events.Emitter
}

func NewEngine(cash, invest Units, prices Prices) *Engine {
	return &Engine{cash: cash, invest: invest, prices: prices, emitter: events.NoopEmitter{}}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetJournal makes every mutating call run inside j.Atomic.
func (e *Engine) SetJournal(j journal) { e.journal = j }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) ready() error {
	if e == nil || e.cash == nil || e.invest == nil || e.prices == nil {
		return errNotConfigured
	}
	return nil
}

func (e *Engine) paused() bool {
	return e.pauses != nil && e.pauses.IsPaused(nativecommon.ModuleInvest)
}

func (e *Engine) atomic(fn func() error) error {
	if e.journal == nil {
		return fn()
	}
	return e.journal.Atomic(fn)
}

// Asset returns the underlying unit symbol.
func (e *Engine) Asset() string {
	if e == nil || e.cash == nil {
		return ""
	}
	return e.cash.Unit()
}

// Share returns the share unit symbol.
func (e *Engine) Share() string {
	if e == nil || e.invest == nil {
		return ""
	}
	return e.invest.Unit()
}

// TotalAssets values the outstanding Invest supply in Cash at the old price.
func (e *Engine) TotalAssets() (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	supply, err := e.invest.TotalSupply()
	if err != nil {
		return nil, err
	}
	return e.prices.FromInvestToCash(supply)
}

func (e *Engine) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.prices.FromCashToInvest(assets)
}

func (e *Engine) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.prices.FromInvestToCash(shares)
}

func (e *Engine) MaxDeposit(common.Address) *uint256.Int {
	if e.paused() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(nativecommon.MaxUint256)
}

func (e *Engine) MaxMint(common.Address) *uint256.Int {
	if e.paused() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(nativecommon.MaxUint256)
}

func (e *Engine) MaxWithdraw(owner common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.paused() {
		return new(uint256.Int), nil
	}
	balance, err := e.invest.BalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return e.prices.FromInvestToCash(balance)
}

func (e *Engine) MaxRedeem(owner common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.paused() {
		return new(uint256.Int), nil
	}
	return e.invest.BalanceOf(owner)
}

// PreviewDeposit returns the shares Deposit would mint for assets.
func (e *Engine) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToShares(assets)
}

// PreviewMint returns the assets Mint would burn for shares. Mint prices
// shares at the old price, unlike Deposit.
func (e *Engine) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToAssets(shares)
}

// PreviewWithdraw returns the shares Withdraw would burn for assets, priced at
// the current price.
func (e *Engine) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToShares(assets)
}

// PreviewRedeem returns the assets Redeem would pay for shares.
func (e *Engine) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToAssets(shares)
}

func exceeds(op string, amount, limit *uint256.Int) error {
	if amount.Gt(limit) {
		return fmt.Errorf("%w: %s of %s above limit %s", nativecommon.ErrExceedsMax, op, amount.Dec(), limit.Dec())
	}
	return nil
}

func requireAmount(amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", nativecommon.ErrInvalidAmount)
	}
	return nil
}

// Deposit burns assets Cash from caller and mints the equivalent Invest to
// receiver at the current price.
func (e *Engine) Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireAmount(assets); err != nil {
		return nil, err
	}
	if err := exceeds("deposit", assets, e.MaxDeposit(receiver)); err != nil {
		return nil, err
	}
	var shares *uint256.Int
	err := e.atomic(func() error {
		var err error
		if shares, err = e.prices.FromCashToInvest(assets); err != nil {
			return err
		}
		return e.settleDeposit(caller, receiver, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint mints shares Invest to receiver and burns their Cash cost from caller.
// The cost is taken at the old price.
func (e *Engine) Mint(caller common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireAmount(shares); err != nil {
		return nil, err
	}
	if err := exceeds("mint", shares, e.MaxMint(receiver)); err != nil {
		return nil, err
	}
	var assets *uint256.Int
	err := e.atomic(func() error {
		var err error
		if assets, err = e.prices.FromInvestToCash(shares); err != nil {
			return err
		}
		return e.settleDeposit(caller, receiver, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (e *Engine) settleDeposit(caller, receiver common.Address, assets, shares *uint256.Int) error {
	if err := e.cash.Burn(caller, assets); err != nil {
		return err
	}
	if err := e.invest.Mint(receiver, shares); err != nil {
		return err
	}
	e.emitter.Emit(events.VaultDeposit{Caller: caller, Receiver: receiver, Assets: new(uint256.Int).Set(assets), Shares: new(uint256.Int).Set(shares)})
	return nil
}

// Withdraw pays assets Cash to receiver and burns the required Invest from
// owner, priced at the current price.
func (e *Engine) Withdraw(caller common.Address, assets *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireAmount(assets); err != nil {
		return nil, err
	}
	limit, err := e.MaxWithdraw(owner)
	if err != nil {
		return nil, err
	}
	if err := exceeds("withdraw", assets, limit); err != nil {
		return nil, err
	}
	var shares *uint256.Int
	err = e.atomic(func() error {
		var err error
		if shares, err = e.prices.FromCashToInvest(assets); err != nil {
			return err
		}
		return e.settleWithdraw(caller, receiver, owner, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares Invest from owner and pays their value at the old price
// to receiver.
func (e *Engine) Redeem(caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireAmount(shares); err != nil {
		return nil, err
	}
	limit, err := e.MaxRedeem(owner)
	if err != nil {
		return nil, err
	}
	if err := exceeds("redeem", shares, limit); err != nil {
		return nil, err
	}
	var assets *uint256.Int
	err = e.atomic(func() error {
		var err error
		if assets, err = e.prices.FromInvestToCash(shares); err != nil {
			return err
		}
		return e.settleWithdraw(caller, receiver, owner, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (e *Engine) settleWithdraw(caller, receiver, owner common.Address, assets, shares *uint256.Int) error {
	if owner != caller {
		if err := e.invest.SpendAllowance(owner, caller, shares); err != nil {
			return err
		}
	}
	if err := e.invest.Burn(owner, shares); err != nil {
		return err
	}
	if err := e.cash.Mint(receiver, assets); err != nil {
		return err
	}
	e.emitter.Emit(events.VaultWithdraw{Caller: caller, Receiver: receiver, Owner: owner, Assets: new(uint256.Int).Set(assets), Shares: new(uint256.Int).Set(shares)})
	return nil
}
