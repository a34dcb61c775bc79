package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
)

// Receipt is returned by vault operations.
type Receipt struct {
	Amount *uint256.Int
	Events []*types.Event
}

// OracleView combines the stored oracle record with the prices conversions
// currently use.
type OracleView struct {
	*oracle.State
	EffectiveCurrent *uint256.Int
	EffectiveOld     *uint256.Int
	InvestPaused     bool
}

// VaultLimits are the per-account operation ceilings.
type VaultLimits struct {
	MaxDeposit  *uint256.Int
	MaxMint     *uint256.Int
	MaxWithdraw *uint256.Int
	MaxRedeem   *uint256.Int
}

// Preview operations accepted by Preview.
const (
	OpDeposit  = "deposit"
	OpMint     = "mint"
	OpWithdraw = "withdraw"
	OpRedeem   = "redeem"
)

// ---- oracle ----

func (l *Ledger) OracleState() (*OracleView, error) {
	var out *OracleView
	err := l.view(func(m *modules) error {
		st, err := m.oracle.Snapshot()
		if err != nil {
			return err
		}
		current, err := m.oracle.CurrentPrice()
		if err != nil {
			return err
		}
		old, err := m.oracle.OldPrice()
		if err != nil {
			return err
		}
		out = &OracleView{
			State:            st,
			EffectiveCurrent: current,
			EffectiveOld:     old,
			InvestPaused:     m.pauses.IsPaused(nativecommon.ModuleInvest),
		}
		return nil
	})
	return out, err
}

// UpdatePrice submits a new Cash-per-Invest price as caller.
func (l *Ledger) UpdatePrice(ctx context.Context, caller common.Address, price *uint256.Int) ([]*types.Event, error) {
	evts, err := l.exec(ctx, "oracle.update_price", func(m *modules) error {
		return m.oracle.UpdatePrice(caller, price)
	})
	if err == nil {
		l.refreshPriceMetrics()
	}
	return evts, err
}

func (l *Ledger) AdminSetCurrentPrice(ctx context.Context, caller common.Address, price *uint256.Int) ([]*types.Event, error) {
	evts, err := l.exec(ctx, "oracle.set_current_price", func(m *modules) error {
		return m.oracle.AdminSetCurrentPrice(caller, price)
	})
	if err == nil {
		l.refreshPriceMetrics()
	}
	return evts, err
}

func (l *Ledger) AdminSetOldPrice(ctx context.Context, caller common.Address, price *uint256.Int) ([]*types.Event, error) {
	evts, err := l.exec(ctx, "oracle.set_old_price", func(m *modules) error {
		return m.oracle.AdminSetOldPrice(caller, price)
	})
	if err == nil {
		l.refreshPriceMetrics()
	}
	return evts, err
}

func (l *Ledger) SetMaxPriceIncrease(ctx context.Context, caller common.Address, value *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "oracle.set_max_price_increase", func(m *modules) error {
		return m.oracle.SetMaxPriceIncrease(caller, value)
	})
}

func (l *Ledger) SetDelay(ctx context.Context, caller common.Address, seconds uint64) ([]*types.Event, error) {
	return l.exec(ctx, "oracle.set_delay", func(m *modules) error {
		return m.oracle.SetDelay(caller, seconds)
	})
}

// ---- vault ----

// VaultUnits returns the asset (Cash) and share (Invest) symbols.
func (l *Ledger) VaultUnits() (asset, share string) {
	return l.spec.CashUnit, l.spec.InvestUnit
}

func (l *Ledger) TotalAssets() (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		var err error
		out, err = m.vault.TotalAssets()
		return err
	})
	return out, err
}

func (l *Ledger) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		var err error
		out, err = m.vault.ConvertToShares(assets)
		return err
	})
	return out, err
}

func (l *Ledger) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		var err error
		out, err = m.vault.ConvertToAssets(shares)
		return err
	})
	return out, err
}

// Limits reports the vault ceilings for account.
func (l *Ledger) Limits(account common.Address) (*VaultLimits, error) {
	out := &VaultLimits{}
	err := l.view(func(m *modules) error {
		out.MaxDeposit = m.vault.MaxDeposit(account)
		out.MaxMint = m.vault.MaxMint(account)
		var err error
		if out.MaxWithdraw, err = m.vault.MaxWithdraw(account); err != nil {
			return err
		}
		out.MaxRedeem, err = m.vault.MaxRedeem(account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Preview estimates the counter-amount of op without changing state.
func (l *Ledger) Preview(op string, amount *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		var err error
		switch strings.ToLower(strings.TrimSpace(op)) {
		case OpDeposit:
			out, err = m.vault.PreviewDeposit(amount)
		case OpMint:
			out, err = m.vault.PreviewMint(amount)
		case OpWithdraw:
			out, err = m.vault.PreviewWithdraw(amount)
		case OpRedeem:
			out, err = m.vault.PreviewRedeem(amount)
		default:
			err = fmt.Errorf("ledger: unknown preview operation %q", op)
		}
		return err
	})
	return out, err
}

func (l *Ledger) vaultOp(ctx context.Context, op string, fn func(m *modules) (*uint256.Int, error)) (*Receipt, error) {
	var amount *uint256.Int
	evts, err := l.exec(ctx, "vault."+op, func(m *modules) error {
		var err error
		amount, err = fn(m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{Amount: cloneAmount(amount), Events: evts}, nil
}

// Deposit pulls assets of Cash from caller and mints Invest to receiver.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, assets *uint256.Int, receiver common.Address) (*Receipt, error) {
	return l.vaultOp(ctx, OpDeposit, func(m *modules) (*uint256.Int, error) {
		return m.vault.Deposit(caller, assets, receiver)
	})
}

// Mint issues exactly shares of Invest to receiver.
func (l *Ledger) Mint(ctx context.Context, caller common.Address, shares *uint256.Int, receiver common.Address) (*Receipt, error) {
	return l.vaultOp(ctx, OpMint, func(m *modules) (*uint256.Int, error) {
		return m.vault.Mint(caller, shares, receiver)
	})
}

// Withdraw pays exactly assets of Cash to receiver, burning owner's Invest.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, assets *uint256.Int, receiver, owner common.Address) (*Receipt, error) {
	return l.vaultOp(ctx, OpWithdraw, func(m *modules) (*uint256.Int, error) {
		return m.vault.Withdraw(caller, assets, receiver, owner)
	})
}

// Redeem burns shares of owner's Invest and pays Cash to receiver.
func (l *Ledger) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*Receipt, error) {
	return l.vaultOp(ctx, OpRedeem, func(m *modules) (*uint256.Int, error) {
		return m.vault.Redeem(caller, shares, receiver, owner)
	})
}

// ---- tokens ----

func (l *Ledger) Balance(unit string, account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		out, err = units.BalanceOf(account)
		return err
	})
	return out, err
}

func (l *Ledger) TotalSupply(unit string) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		out, err = units.TotalSupply()
		return err
	})
	return out, err
}

func (l *Ledger) Allowance(unit string, owner, spender common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		out, err = units.Allowance(owner, spender)
		return err
	})
	return out, err
}

func (l *Ledger) Transfer(ctx context.Context, unit string, caller, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "token.transfer", func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		return units.Transfer(caller, to, amount)
	})
}

func (l *Ledger) TransferFrom(ctx context.Context, unit string, caller, from, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "token.transfer_from", func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		return units.TransferFrom(caller, from, to, amount)
	})
}

func (l *Ledger) Approve(ctx context.Context, unit string, caller, spender common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "token.approve", func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		return units.Approve(caller, spender, amount)
	})
}

// MintTo issues new units to an account; caller needs the minter role.
func (l *Ledger) MintTo(ctx context.Context, unit string, caller, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "token.mint", func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		return units.MintAs(caller, to, amount)
	})
}

// BurnFrom destroys units held by an account; caller needs the burner role.
func (l *Ledger) BurnFrom(ctx context.Context, unit string, caller, from common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "token.burn", func(m *modules) error {
		units, err := m.units(unit)
		if err != nil {
			return err
		}
		return units.BurnAs(caller, from, amount)
	})
}

// ---- permissions ----

func (l *Ledger) PermissionStatus(unit string, account common.Address) (permissions.Status, permissions.Variant, error) {
	var (
		status  permissions.Status
		variant permissions.Variant
	)
	err := l.view(func(m *modules) error {
		list, err := m.registry(unit)
		if err != nil {
			return err
		}
		variant = list.Variant()
		status, err = list.Status(account)
		return err
	})
	return status, variant, err
}

// AddPermissions adds accounts to the unit's list in the list's own direction:
// allowed on an allow-list, blocked on a block-list.
func (l *Ledger) AddPermissions(ctx context.Context, unit string, caller common.Address, accounts []common.Address) ([]*types.Event, error) {
	return l.exec(ctx, "permissions.add", func(m *modules) error {
		list, err := m.registry(unit)
		if err != nil {
			return err
		}
		return list.AddMany(caller, accounts)
	})
}

func (l *Ledger) RemovePermissions(ctx context.Context, unit string, caller common.Address, accounts []common.Address) ([]*types.Event, error) {
	return l.exec(ctx, "permissions.remove", func(m *modules) error {
		list, err := m.registry(unit)
		if err != nil {
			return err
		}
		return list.RemoveMany(caller, accounts)
	})
}

// SetPermissions moves accounts to an explicit status.
func (l *Ledger) SetPermissions(ctx context.Context, unit string, caller common.Address, accounts []common.Address, status permissions.Status) ([]*types.Event, error) {
	return l.exec(ctx, "permissions.set", func(m *modules) error {
		list, err := m.registry(unit)
		if err != nil {
			return err
		}
		switch status {
		case permissions.StatusAllowed:
			return list.Allow(caller, accounts)
		case permissions.StatusBlocked:
			return list.Block(caller, accounts)
		default:
			return list.Void(caller, accounts)
		}
	})
}

// ---- freeze ----

func (l *Ledger) FrozenBalance(unit string, account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(func(m *modules) error {
		f, err := m.freezer(unit)
		if err != nil {
			return err
		}
		out, err = f.FrozenBalance(account)
		return err
	})
	return out, err
}

func (l *Ledger) Freeze(ctx context.Context, unit string, caller, from, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "freeze.freeze", func(m *modules) error {
		f, err := m.freezer(unit)
		if err != nil {
			return err
		}
		return f.Freeze(caller, from, to, amount)
	})
}

func (l *Ledger) Release(ctx context.Context, unit string, caller, from, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "freeze.release", func(m *modules) error {
		f, err := m.freezer(unit)
		if err != nil {
			return err
		}
		return f.Release(caller, from, to, amount)
	})
}

func (l *Ledger) Reclaim(ctx context.Context, unit string, caller, from, to common.Address, amount *uint256.Int) ([]*types.Event, error) {
	return l.exec(ctx, "freeze.reclaim", func(m *modules) error {
		f, err := m.freezer(unit)
		if err != nil {
			return err
		}
		return f.Reclaim(caller, from, to, amount)
	})
}

// ---- pause ----

func (l *Ledger) IsPaused(unit string) (bool, error) {
	module, err := l.Module(unit)
	if err != nil {
		return false, err
	}
	var paused bool
	err = l.view(func(m *modules) error {
		paused = m.pauses.IsPaused(module)
		return nil
	})
	return paused, err
}

// Pause halts user operations on unit. Pausing Invest also captures the oracle
// prices so conversions stay fixed while the pause lasts.
func (l *Ledger) Pause(ctx context.Context, unit string, caller common.Address) ([]*types.Event, error) {
	module, err := l.Module(unit)
	if err != nil {
		return nil, err
	}
	return l.exec(ctx, "pause.pause", func(m *modules) error {
		return m.pauses.Pause(caller, module)
	})
}

func (l *Ledger) Unpause(ctx context.Context, unit string, caller common.Address) ([]*types.Event, error) {
	module, err := l.Module(unit)
	if err != nil {
		return nil, err
	}
	return l.exec(ctx, "pause.unpause", func(m *modules) error {
		return m.pauses.Unpause(caller, module)
	})
}

// ---- roles ----

func (l *Ledger) HasRole(role nativecommon.Role, account common.Address) (bool, error) {
	var ok bool
	err := l.view(func(m *modules) error {
		ok = m.access.HasCapability(account, role)
		return nil
	})
	return ok, err
}

func (l *Ledger) RoleMembers(role nativecommon.Role) ([]common.Address, error) {
	var out []common.Address
	err := l.view(func(m *modules) error {
		var err error
		out, err = m.access.Members(role)
		return err
	})
	return out, err
}

func (l *Ledger) GrantRole(ctx context.Context, caller common.Address, role nativecommon.Role, account common.Address) ([]*types.Event, error) {
	return l.exec(ctx, "access.grant", func(m *modules) error {
		return m.access.Grant(caller, role, account)
	})
}

func (l *Ledger) RevokeRole(ctx context.Context, caller common.Address, role nativecommon.Role, account common.Address) ([]*types.Event, error) {
	return l.exec(ctx, "access.revoke", func(m *modules) error {
		return m.access.Revoke(caller, role, account)
	})
}
