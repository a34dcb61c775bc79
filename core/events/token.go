package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
)

const (
	// TypeTokenTransfer is emitted for every balance movement, including mints
	// (zero From) and burns (zero To).
	TypeTokenTransfer = "token.transfer"
	// TypeTokenApproval is emitted when an allowance changes.
	TypeTokenApproval = "token.approval"
)

type TokenTransfer struct {
	Unit   string
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"unit":   normalizeUnit(e.Unit),
			"from":   addressString(e.From),
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

type TokenApproval struct {
	Unit    string
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproval,
		Attributes: map[string]string{
			"unit":    normalizeUnit(e.Unit),
			"owner":   addressString(e.Owner),
			"spender": addressString(e.Spender),
			"amount":  amountString(e.Amount),
		},
	}
}
