package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
)

const (
	// TypeVaultDeposit is emitted when Cash is converted into Invest.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw is emitted when Invest is converted back into Cash.
	TypeVaultWithdraw = "vault.withdraw"
)

// VaultDeposit mirrors the ERC4626 Deposit event.
type VaultDeposit struct {
	Caller   common.Address
	Receiver common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDeposit,
		Attributes: map[string]string{
			"caller":   addressString(e.Caller),
			"receiver": addressString(e.Receiver),
			"assets":   amountString(e.Assets),
			"shares":   amountString(e.Shares),
		},
	}
}

// VaultWithdraw mirrors the ERC4626 Withdraw event.
type VaultWithdraw struct {
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultWithdraw,
		Attributes: map[string]string{
			"caller":   addressString(e.Caller),
			"receiver": addressString(e.Receiver),
			"owner":    addressString(e.Owner),
			"assets":   amountString(e.Assets),
			"shares":   amountString(e.Shares),
		},
	}
}
