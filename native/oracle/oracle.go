package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var errNilState = errors.New("oracle: state not configured")

var stateKey = []byte("oracle/state")

type kvState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// Oracle holds the two conversion prices and the guardrails that bound regular
// updates. Cash converts to Invest at the current price and Invest converts to
// Cash at the old price.
type Oracle struct {
	state   kvState
	caps    nativecommon.Capabilities
	pauses  nativecommon.PauseView
	emitter events.Emitter
	now     func() time.Time
}

func New(caps nativecommon.Capabilities) *Oracle {
	return &Oracle{caps: caps, emitter: events.NoopEmitter{}, now: time.Now}
}

func (o *Oracle) SetState(state kvState) { o.state = state }

func (o *Oracle) SetPauses(p nativecommon.PauseView) { o.pauses = p }

func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

// SetClock overrides the oracle clock, primarily for deterministic testing.
func (o *Oracle) SetClock(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.now = now
}

func (o *Oracle) unixNow() uint64 {
	ts := o.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (o *Oracle) load() (*State, error) {
	if o.state == nil {
		return nil, errNilState
	}
	st := new(State)
	ok, err := o.state.KVGet(stateKey, st)
	if err != nil {
		return nil, fmt.Errorf("oracle: load state: %w", err)
	}
	if !ok {
		return &State{
			CurrentPrice:     cloneInt(nativecommon.MinPrice),
			OldPrice:         cloneInt(nativecommon.MinPrice),
			MaxPriceIncrease: new(uint256.Int),
			PausedCurrent:    new(uint256.Int),
			PausedOld:        new(uint256.Int),
		}, nil
	}
	return st.Clone(), nil
}

func (o *Oracle) store(st *State) error {
	if o.state == nil {
		return errNilState
	}
	return o.state.KVPut(stateKey, st)
}

// Init writes the genesis record. Prices below the minimum are rejected.
func (o *Oracle) Init(params Params) error {
	current := params.CurrentPrice
	if current == nil {
		current = nativecommon.MinPrice
	}
	old := params.OldPrice
	if old == nil {
		old = current
	}
	if current.Lt(nativecommon.MinPrice) || old.Lt(nativecommon.MinPrice) {
		return fmt.Errorf("%w: genesis prices must be at least %s", nativecommon.ErrInvalidPrice, nativecommon.MinPrice.Dec())
	}
	return o.store(&State{
		CurrentPrice:     cloneInt(current),
		OldPrice:         cloneInt(old),
		MaxPriceIncrease: cloneInt(params.MaxPriceIncrease),
		Delay:            params.Delay,
		LastUpdate:       params.LastUpdate,
		PausedCurrent:    new(uint256.Int),
		PausedOld:        new(uint256.Int),
	})
}

// Snapshot returns a copy of the persisted record including guardrails.
func (o *Oracle) Snapshot() (*State, error) {
	return o.load()
}

func (o *Oracle) frozen(st *State) bool {
	if !st.Snapshotted || o.pauses == nil {
		return false
	}
	return o.pauses.IsPaused(nativecommon.ModuleInvest)
}

// CurrentPrice returns the Cash->Invest price. While the Invest unit is paused
// it returns the price captured when the pause was engaged.
func (o *Oracle) CurrentPrice() (*uint256.Int, error) {
	st, err := o.load()
	if err != nil {
		return nil, err
	}
	if o.frozen(st) {
		return st.PausedCurrent, nil
	}
	return st.CurrentPrice, nil
}

// OldPrice returns the Invest->Cash price, honouring the pause snapshot.
func (o *Oracle) OldPrice() (*uint256.Int, error) {
	st, err := o.load()
	if err != nil {
		return nil, err
	}
	if o.frozen(st) {
		return st.PausedOld, nil
	}
	return st.OldPrice, nil
}

// UpdatePrice publishes a new current price. The previous current price
// becomes the old price.
func (o *Oracle) UpdatePrice(caller common.Address, newPrice *uint256.Int) error {
	if err := nativecommon.Require(o.caps, caller, nativecommon.RoleOracle); err != nil {
		return err
	}
	if newPrice == nil {
		return fmt.Errorf("%w: price required", nativecommon.ErrInvalidPrice)
	}
	st, err := o.load()
	if err != nil {
		return err
	}
	now := o.unixNow()

	var reasons []string
	if st.Delay > ^uint64(0)-st.LastUpdate || now < st.LastUpdate+st.Delay {
		reasons = append(reasons, fmt.Sprintf("update before delay of %ds elapsed", st.Delay))
	}
	limit, overflow := new(uint256.Int).AddOverflow(st.CurrentPrice, st.MaxPriceIncrease)
	if !overflow && newPrice.Gt(limit) {
		reasons = append(reasons, fmt.Sprintf("increase above %s", st.MaxPriceIncrease.Dec()))
	}
	if len(reasons) > 0 {
		return fmt.Errorf("%w: %s", nativecommon.ErrGuardrailViolation, strings.Join(reasons, "; "))
	}
	if newPrice.Lt(nativecommon.MinPrice) {
		return fmt.Errorf("%w: %s below minimum %s", nativecommon.ErrInvalidPrice, newPrice.Dec(), nativecommon.MinPrice.Dec())
	}

	previous := st.CurrentPrice
	st.OldPrice = previous
	st.CurrentPrice = cloneInt(newPrice)
	st.LastUpdate = now
	if err := o.store(st); err != nil {
		return err
	}
	o.emitter.Emit(events.OraclePriceUpdated{Caller: caller, OldPrice: cloneInt(previous), NewPrice: cloneInt(newPrice), At: int64(now)})
	return nil
}

// AdminSetOldPrice overrides the old price without guardrails.
func (o *Oracle) AdminSetOldPrice(caller common.Address, price *uint256.Int) error {
	st, err := o.adminLoad(caller, price)
	if err != nil {
		return err
	}
	previous := st.OldPrice
	st.OldPrice = cloneInt(price)
	if err := o.store(st); err != nil {
		return err
	}
	o.emitter.Emit(events.OraclePriceOverridden{Caller: caller, Slot: "old", Previous: previous, Price: cloneInt(price)})
	return nil
}

// AdminSetCurrentPrice overrides the current price without guardrails. The
// current price may not drop below the old price.
func (o *Oracle) AdminSetCurrentPrice(caller common.Address, price *uint256.Int) error {
	st, err := o.adminLoad(caller, price)
	if err != nil {
		return err
	}
	if price.Lt(st.OldPrice) {
		return fmt.Errorf("%w: current price %s below old price %s", nativecommon.ErrInvalidPrice, price.Dec(), st.OldPrice.Dec())
	}
	previous := st.CurrentPrice
	st.CurrentPrice = cloneInt(price)
	if err := o.store(st); err != nil {
		return err
	}
	o.emitter.Emit(events.OraclePriceOverridden{Caller: caller, Slot: "current", Previous: previous, Price: cloneInt(price)})
	return nil
}

func (o *Oracle) adminLoad(caller common.Address, price *uint256.Int) (*State, error) {
	if err := nativecommon.Require(o.caps, caller, nativecommon.RolePriceAdmin); err != nil {
		return nil, err
	}
	if price == nil || price.Lt(nativecommon.MinPrice) {
		return nil, fmt.Errorf("%w: price below minimum %s", nativecommon.ErrInvalidPrice, nativecommon.MinPrice.Dec())
	}
	return o.load()
}

// SetMaxPriceIncrease sets the absolute increase bound for guarded updates.
func (o *Oracle) SetMaxPriceIncrease(caller common.Address, value *uint256.Int) error {
	if err := nativecommon.Require(o.caps, caller, nativecommon.RolePriceAdmin); err != nil {
		return err
	}
	st, err := o.load()
	if err != nil {
		return err
	}
	st.MaxPriceIncrease = cloneInt(value)
	if err := o.store(st); err != nil {
		return err
	}
	o.emitter.Emit(events.OracleParamsUpdated{Caller: caller, MaxPriceIncrease: cloneInt(value), Delay: st.Delay})
	return nil
}

// SetDelay sets the minimum number of seconds between guarded updates.
func (o *Oracle) SetDelay(caller common.Address, seconds uint64) error {
	if err := nativecommon.Require(o.caps, caller, nativecommon.RolePriceAdmin); err != nil {
		return err
	}
	st, err := o.load()
	if err != nil {
		return err
	}
	st.Delay = seconds
	if err := o.store(st); err != nil {
		return err
	}
	o.emitter.Emit(events.OracleParamsUpdated{Caller: caller, MaxPriceIncrease: cloneInt(st.MaxPriceIncrease), Delay: seconds})
	return nil
}

// CaptureSnapshot freezes the prices in effect. It is registered as the pause
// hook of the Invest unit.
func (o *Oracle) CaptureSnapshot() error {
	st, err := o.load()
	if err != nil {
		return err
	}
	st.PausedCurrent = cloneInt(st.CurrentPrice)
	st.PausedOld = cloneInt(st.OldPrice)
	st.Snapshotted = true
	return o.store(st)
}

// ClearSnapshot drops the pause snapshot; reads return live prices again.
func (o *Oracle) ClearSnapshot() error {
	st, err := o.load()
	if err != nil {
		return err
	}
	st.PausedCurrent = new(uint256.Int)
	st.PausedOld = new(uint256.Int)
	st.Snapshotted = false
	return o.store(st)
}

// FromCashToInvest converts a Cash amount at the current price, rounding down.
func (o *Oracle) FromCashToInvest(amount *uint256.Int) (*uint256.Int, error) {
	price, err := o.CurrentPrice()
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, nativecommon.Scale, price)
}

// FromInvestToCash converts an Invest amount at the old price, rounding down.
func (o *Oracle) FromInvestToCash(amount *uint256.Int) (*uint256.Int, error) {
	price, err := o.OldPrice()
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, nativecommon.Scale)
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: amount required", nativecommon.ErrInvalidAmount)
	}
	if d.IsZero() {
		return nil, fmt.Errorf("%w: zero price", nativecommon.ErrInvalidPrice)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", nativecommon.ErrOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return out, nil
}
