package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
)

const (
	// TypeOraclePriceUpdated is emitted when a guarded price update succeeds.
	TypeOraclePriceUpdated = "oracle.price_updated"
	// TypeOraclePriceOverridden is emitted when a price admin sets a price slot
	// directly.
	TypeOraclePriceOverridden = "oracle.price_overridden"
	// TypeOracleParamsUpdated is emitted when the guardrail parameters change.
	TypeOracleParamsUpdated = "oracle.params_updated"
)

// OraclePriceUpdated captures a successful guarded price update.
type OraclePriceUpdated struct {
	Caller   common.Address
	OldPrice *uint256.Int
	NewPrice *uint256.Int
	At       int64
}

func (OraclePriceUpdated) EventType() string { return TypeOraclePriceUpdated }

func (e OraclePriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePriceUpdated,
		Attributes: map[string]string{
			"caller":   addressString(e.Caller),
			"oldPrice": amountString(e.OldPrice),
			"newPrice": amountString(e.NewPrice),
			"at":       strconv.FormatInt(e.At, 10),
		},
	}
}

// OraclePriceOverridden captures an administrative price override. Slot is
// either "current" or "old".
type OraclePriceOverridden struct {
	Caller   common.Address
	Slot     string
	Previous *uint256.Int
	Price    *uint256.Int
}

func (OraclePriceOverridden) EventType() string { return TypeOraclePriceOverridden }

func (e OraclePriceOverridden) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePriceOverridden,
		Attributes: map[string]string{
			"caller":   addressString(e.Caller),
			"slot":     e.Slot,
			"previous": amountString(e.Previous),
			"price":    amountString(e.Price),
		},
	}
}

// OracleParamsUpdated captures a guardrail parameter change.
type OracleParamsUpdated struct {
	Caller           common.Address
	MaxPriceIncrease *uint256.Int
	Delay            uint64
}

func (OracleParamsUpdated) EventType() string { return TypeOracleParamsUpdated }

func (e OracleParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleParamsUpdated,
		Attributes: map[string]string{
			"caller":           addressString(e.Caller),
			"maxPriceIncrease": amountString(e.MaxPriceIncrease),
			"delay":            strconv.FormatUint(e.Delay, 10),
		},
	}
}
