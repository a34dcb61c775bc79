package common

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability granted to an account.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleOracle         Role = "oracle"
	RolePriceAdmin     Role = "price_admin"
	RoleAllowlistAdmin Role = "allowlist_admin"
	RoleBlocklistAdmin Role = "blocklist_admin"
	RoleFreezer        Role = "freezer"
	RolePauser         Role = "pauser"
	RoleMinter         Role = "minter"
	RoleBurner         Role = "burner"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{
		RoleAdmin,
		RoleOracle,
		RolePriceAdmin,
		RoleAllowlistAdmin,
		RoleBlocklistAdmin,
		RoleFreezer,
		RolePauser,
		RoleMinter,
		RoleBurner,
	}
}

// ParseRole resolves a role name, ignoring case and surrounding whitespace.
func ParseRole(name string) (Role, error) {
	normalized := Role(strings.ToLower(strings.TrimSpace(name)))
	for _, role := range Roles() {
		if role == normalized {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", name)
}

// Capabilities answers whether an account holds a role.
type Capabilities interface {
	HasCapability(account common.Address, role Role) bool
}

// Require returns ErrUnauthorized unless caller holds role.
func Require(caps Capabilities, caller common.Address, role Role) error {
	if caps == nil || !caps.HasCapability(caller, role) {
		return fmt.Errorf("%w: %s requires role %s", ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}
