package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var errNilState = errors.New("token: state not configured")

type balanceState interface {
	Balance(unit string, addr common.Address) (*uint256.Int, error)
	SetBalance(unit string, addr common.Address, amount *uint256.Int) error
	TotalSupply(unit string) (*uint256.Int, error)
	SetTotalSupply(unit string, amount *uint256.Int) error
	Allowance(unit string, owner, spender common.Address) (*uint256.Int, error)
	SetAllowance(unit string, owner, spender common.Address, amount *uint256.Int) error
}

// TransferValidator decides whether a (from, to) pair may move the unit. A
// zero from denotes a mint and a zero to denotes a burn.
type TransferValidator interface {
	Validate(from, to common.Address) error
}

// Ledger is the balance store of one unit. Mint, Burn and every transfer
// consult the unit's pause flag and its permission registry.
type Ledger struct {
	unit      string
	module    string
	state     balanceState
	pauses    nativecommon.PauseView
	validator TransferValidator
	caps      nativecommon.Capabilities
	emitter   events.Emitter
}

// NewLedger constructs the ledger for unit. module names the pause flag that
// gates it.
func NewLedger(unit, module string) *Ledger {
	return &Ledger{
		unit:    strings.ToUpper(strings.TrimSpace(unit)),
		module:  strings.ToLower(strings.TrimSpace(module)),
		emitter: events.NoopEmitter{},
	}
}

func (l *Ledger) SetState(state balanceState) { l.state = state }

func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

func (l *Ledger) SetValidator(v TransferValidator) { l.validator = v }

func (l *Ledger) SetCapabilities(caps nativecommon.Capabilities) { l.caps = caps }

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Unit returns the upper-case unit symbol.
func (l *Ledger) Unit() string { return l.unit }

// Module returns the pause module gating the ledger.
func (l *Ledger) Module() string { return l.module }

func (l *Ledger) BalanceOf(addr common.Address) (*uint256.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return l.state.Balance(l.unit, addr)
}

func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return l.state.TotalSupply(l.unit)
}

func (l *Ledger) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return l.state.Allowance(l.unit, owner, spender)
}

func (l *Ledger) checkTransfer(from, to common.Address) error {
	if err := nativecommon.Guard(l.pauses, l.module); err != nil {
		return fmt.Errorf("%s: %w", l.unit, err)
	}
	if l.validator != nil {
		if err := l.validator.Validate(from, to); err != nil {
			return err
		}
	}
	return nil
}

// Mint credits amount to to and grows the supply. Callers are trusted modules;
// MintAs is the role-gated entry point.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: mint to zero address", nativecommon.ErrInvalidAmount)
	}
	if err := l.checkTransfer(common.Address{}, to); err != nil {
		return err
	}
	return l.update(common.Address{}, to, amount)
}

// Burn debits amount from from and shrinks the supply.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return fmt.Errorf("%w: burn from zero address", nativecommon.ErrInvalidAmount)
	}
	if err := l.checkTransfer(from, common.Address{}); err != nil {
		return err
	}
	return l.update(from, common.Address{}, amount)
}

func (l *Ledger) MintAs(caller, to common.Address, amount *uint256.Int) error {
	if err := nativecommon.Require(l.caps, caller, nativecommon.RoleMinter); err != nil {
		return err
	}
	return l.Mint(to, amount)
}

func (l *Ledger) BurnAs(caller, from common.Address, amount *uint256.Int) error {
	if err := nativecommon.Require(l.caps, caller, nativecommon.RoleBurner); err != nil {
		return err
	}
	return l.Burn(from, amount)
}

// Transfer moves amount from caller to to.
func (l *Ledger) Transfer(caller, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to zero address", nativecommon.ErrInvalidAmount)
	}
	if err := l.checkTransfer(caller, to); err != nil {
		return err
	}
	return l.update(caller, to, amount)
}

// TransferFrom moves amount from from to to, spending caller's allowance.
func (l *Ledger) TransferFrom(caller, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) || from == (common.Address{}) {
		return fmt.Errorf("%w: transfer involving zero address", nativecommon.ErrInvalidAmount)
	}
	if err := l.checkTransfer(from, to); err != nil {
		return err
	}
	if err := l.SpendAllowance(from, caller, amount); err != nil {
		return err
	}
	return l.update(from, to, amount)
}

// Approve sets the allowance of spender over caller's balance.
func (l *Ledger) Approve(caller, spender common.Address, amount *uint256.Int) error {
	if l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, l.module); err != nil {
		return fmt.Errorf("%s: %w", l.unit, err)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	if err := l.state.SetAllowance(l.unit, caller, spender, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenApproval{Unit: l.unit, Owner: caller, Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// SpendAllowance decrements spender's allowance over owner. An allowance of
// 2^256-1 is treated as unlimited and left untouched.
func (l *Ledger) SpendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil {
		return fmt.Errorf("%w: amount required", nativecommon.ErrInvalidAmount)
	}
	current, err := l.state.Allowance(l.unit, owner, spender)
	if err != nil {
		return err
	}
	if current.Eq(nativecommon.MaxUint256) {
		return nil
	}
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s allowance %s below %s", nativecommon.ErrInsufficientAllowance, l.unit, current.Dec(), amount.Dec())
	}
	return l.state.SetAllowance(l.unit, owner, spender, new(uint256.Int).Sub(current, amount))
}

// Move transfers amount without consulting the pause flag or the permission
// registry. It backs compliance movements that apply their own checks.
func (l *Ledger) Move(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return fmt.Errorf("%w: move involving zero address", nativecommon.ErrInvalidAmount)
	}
	return l.update(from, to, amount)
}

func (l *Ledger) update(from, to common.Address, amount *uint256.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil {
		return fmt.Errorf("%w: amount required", nativecommon.ErrInvalidAmount)
	}
	if from == (common.Address{}) {
		supply, err := l.state.TotalSupply(l.unit)
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(supply, amount)
		if overflow {
			return fmt.Errorf("%w: %s supply", nativecommon.ErrOverflow, l.unit)
		}
		if err := l.state.SetTotalSupply(l.unit, next); err != nil {
			return err
		}
	} else {
		balance, err := l.state.Balance(l.unit, from)
		if err != nil {
			return err
		}
		if balance.Lt(amount) {
			return fmt.Errorf("%w: %s balance %s below %s", nativecommon.ErrInsufficientBalance, l.unit, balance.Dec(), amount.Dec())
		}
		if err := l.state.SetBalance(l.unit, from, new(uint256.Int).Sub(balance, amount)); err != nil {
			return err
		}
	}
	if to == (common.Address{}) {
		supply, err := l.state.TotalSupply(l.unit)
		if err != nil {
			return err
		}
		if err := l.state.SetTotalSupply(l.unit, new(uint256.Int).Sub(supply, amount)); err != nil {
			return err
		}
	} else {
		balance, err := l.state.Balance(l.unit, to)
		if err != nil {
			return err
		}
		// Balances are bounded by supply.
		if err := l.state.SetBalance(l.unit, to, new(uint256.Int).Add(balance, amount)); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.TokenTransfer{Unit: l.unit, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}
