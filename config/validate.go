package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
)

// Prices returns the oracle parameters scaled to 18 decimals.
func (o Oracle) Prices() (current, old, maxIncrease *uint256.Int, err error) {
	if current, err = nativecommon.ParseFixed18(o.CurrentPrice); err != nil {
		return nil, nil, nil, fmt.Errorf("oracle: current_price: %w", err)
	}
	if old, err = nativecommon.ParseFixed18(o.OldPrice); err != nil {
		return nil, nil, nil, fmt.Errorf("oracle: old_price: %w", err)
	}
	if maxIncrease, err = nativecommon.ParseFixed18(o.MaxPriceIncrease); err != nil {
		return nil, nil, nil, fmt.Errorf("oracle: max_price_increase: %w", err)
	}
	return current, old, maxIncrease, nil
}

// ParseAddress accepts a 0x-prefixed hex address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAddresses parses every entry of values.
func ParseAddresses(values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		addr, err := ParseAddress(v)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// Validate checks the configuration after Normalise.
func (c *Ledger) Validate() error {
	if c.Units.Cash == c.Units.Invest {
		return fmt.Errorf("units: cash and invest must differ, both %q", c.Units.Cash)
	}
	current, old, _, err := c.Oracle.Prices()
	if err != nil {
		return err
	}
	if current.Lt(nativecommon.MinPrice) || old.Lt(nativecommon.MinPrice) {
		return fmt.Errorf("oracle: prices must be at least 1")
	}
	if current.Lt(old) {
		return fmt.Errorf("oracle: current_price below old_price")
	}
	if c.Oracle.Delay.Duration < 0 {
		return fmt.Errorf("oracle: delay must not be negative")
	}
	if c.Oracle.LastUpdate < 0 {
		return fmt.Errorf("oracle: last_update must not be negative")
	}
	for role, members := range c.Roles {
		if _, err := nativecommon.ParseRole(role); err != nil {
			return fmt.Errorf("roles: %w", err)
		}
		if _, err := ParseAddresses(members); err != nil {
			return fmt.Errorf("roles.%s: %w", role, err)
		}
	}
	if _, err := permissions.ParseVariant(c.Permissions.CashVariant); err != nil {
		return err
	}
	if _, err := permissions.ParseVariant(c.Permissions.InvestVariant); err != nil {
		return err
	}
	if _, err := ParseAddresses(c.Permissions.Blocked); err != nil {
		return fmt.Errorf("permissions.blocked: %w", err)
	}
	if _, err := ParseAddresses(c.Permissions.Allowed); err != nil {
		return fmt.Errorf("permissions.allowed: %w", err)
	}
	if c.Freeze.Holder != "" {
		if _, err := ParseAddress(c.Freeze.Holder); err != nil {
			return fmt.Errorf("freeze.holder: %w", err)
		}
	}
	for i, alloc := range c.Alloc {
		unit := strings.ToUpper(strings.TrimSpace(alloc.Unit))
		if unit != c.Units.Cash && unit != c.Units.Invest {
			return fmt.Errorf("alloc[%d]: unknown unit %q", i, alloc.Unit)
		}
		if _, err := ParseAddress(alloc.Account); err != nil {
			return fmt.Errorf("alloc[%d]: %w", i, err)
		}
		if _, err := nativecommon.ParseFixed18(alloc.Amount); err != nil {
			return fmt.Errorf("alloc[%d]: %w", i, err)
		}
	}
	return nil
}
