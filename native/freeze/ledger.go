package freeze

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var (
	errNilState = errors.New("freeze: state not configured")
	// ErrNoHolder is returned by Freeze and Release when no custodial holder
	// is configured.
	ErrNoHolder       = fmt.Errorf("%w: custodial holder not configured", nativecommon.ErrPermissionDenied)
	errHolderMismatch = fmt.Errorf("%w: freeze recipient must be the custodial holder", nativecommon.ErrPermissionDenied)
	errHolderIsOwner  = fmt.Errorf("%w: custodial holder cannot freeze or release its own funds", nativecommon.ErrPermissionDenied)
)

type kvState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

// Mover moves balances without pause or permission checks.
type Mover interface {
	Unit() string
	Move(from, to common.Address, amount *uint256.Int) error
}

// ReceiveChecker answers whether an account may be credited the unit.
type ReceiveChecker interface {
	CanReceive(to common.Address) bool
}

// Ledger tracks administratively frozen quantities for one unit. Frozen funds
// sit with a single custodial holder whose balance equals the sum of frozen
// quantities as long as only Freeze and Release touch it.
type Ledger struct {
	tokens  Mover
	perms   ReceiveChecker
	caps    nativecommon.Capabilities
	state   kvState
	emitter events.Emitter
	holder  common.Address
}

func NewLedger(tokens Mover, perms ReceiveChecker, caps nativecommon.Capabilities) *Ledger {
	return &Ledger{tokens: tokens, perms: perms, caps: caps, emitter: events.NoopEmitter{}}
}

func (l *Ledger) SetState(state kvState) { l.state = state }

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetHolder configures the custodial account that receives frozen funds.
func (l *Ledger) SetHolder(holder common.Address) { l.holder = holder }

func (l *Ledger) Holder() common.Address { return l.holder }

func (l *Ledger) frozenKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("freeze/%s/%x", l.tokens.Unit(), addr.Bytes()))
}

// FrozenBalance returns the quantity frozen on behalf of addr.
func (l *Ledger) FrozenBalance(addr common.Address) (*uint256.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	amount := new(uint256.Int)
	if _, err := l.state.KVGet(l.frozenKey(addr), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (l *Ledger) setFrozen(addr common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return l.state.KVDelete(l.frozenKey(addr))
	}
	return l.state.KVPut(l.frozenKey(addr), amount)
}

func (l *Ledger) authorise(caller common.Address, amount *uint256.Int) error {
	if err := nativecommon.Require(l.caps, caller, nativecommon.RoleFreezer); err != nil {
		return err
	}
	if l.state == nil {
		return errNilState
	}
	if amount == nil {
		return fmt.Errorf("%w: amount required", nativecommon.ErrInvalidAmount)
	}
	return nil
}

// Freeze moves amount from from to the custodial holder to and records it
// against from. Only the recipient's permission is checked.
func (l *Ledger) Freeze(caller, from, to common.Address, amount *uint256.Int) error {
	if err := l.authorise(caller, amount); err != nil {
		return err
	}
	if l.holder == (common.Address{}) {
		return ErrNoHolder
	}
	if to != l.holder {
		return fmt.Errorf("%w: got %s", errHolderMismatch, to.Hex())
	}
	if from == l.holder {
		return errHolderIsOwner
	}
	if l.perms != nil && !l.perms.CanReceive(to) {
		return fmt.Errorf("%w: %s cannot receive %s", nativecommon.ErrPermissionDenied, to.Hex(), l.tokens.Unit())
	}
	frozen, err := l.FrozenBalance(from)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(frozen, amount)
	if overflow {
		return fmt.Errorf("%w: frozen balance of %s", nativecommon.ErrOverflow, from.Hex())
	}
	if err := l.tokens.Move(from, to, amount); err != nil {
		return err
	}
	if err := l.setFrozen(from, next); err != nil {
		return err
	}
	l.emitter.Emit(events.FreezeMoved{Kind: events.TypeFreezeFrozen, Unit: l.tokens.Unit(), From: from, To: to, Amount: new(uint256.Int).Set(amount), Frozen: next})
	return nil
}

// Release pays amount out of the custodial holder and decrements the quantity
// frozen for from. Passing the holder as to mirrors the Freeze call and
// returns the funds to from; any other to receives them directly.
func (l *Ledger) Release(caller, from, to common.Address, amount *uint256.Int) error {
	if err := l.authorise(caller, amount); err != nil {
		return err
	}
	if l.holder == (common.Address{}) {
		return ErrNoHolder
	}
	recipient := to
	if to == l.holder {
		recipient = from
	}
	if recipient == l.holder {
		return errHolderIsOwner
	}
	frozen, err := l.FrozenBalance(from)
	if err != nil {
		return err
	}
	if amount.Gt(frozen) {
		return fmt.Errorf("%w: %s has %s frozen, release of %s", nativecommon.ErrInsufficientFrozenBalance, from.Hex(), frozen.Dec(), amount.Dec())
	}
	if err := l.tokens.Move(l.holder, recipient, amount); err != nil {
		return err
	}
	next := new(uint256.Int).Sub(frozen, amount)
	if err := l.setFrozen(from, next); err != nil {
		return err
	}
	l.emitter.Emit(events.FreezeMoved{Kind: events.TypeFreezeReleased, Unit: l.tokens.Unit(), From: from, To: recipient, Amount: new(uint256.Int).Set(amount), Frozen: next})
	return nil
}

// Reclaim moves amount from from to to with no bookkeeping and no permission
// checks.
func (l *Ledger) Reclaim(caller, from, to common.Address, amount *uint256.Int) error {
	if err := l.authorise(caller, amount); err != nil {
		return err
	}
	if err := l.tokens.Move(from, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.FreezeMoved{Kind: events.TypeFreezeReclaimed, Unit: l.tokens.Unit(), From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}
