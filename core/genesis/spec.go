package genesis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/config"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
	"github.com/minanew12/eurodollar-protocol-sub001/native/oracle"
	"github.com/minanew12/eurodollar-protocol-sub001/native/permissions"
)

// Spec is the typed genesis of the ledger, derived from the TOML configuration.
type Spec struct {
	CashUnit      string
	InvestUnit    string
	CashVariant   permissions.Variant
	InvestVariant permissions.Variant
	Oracle        oracle.Params
	Roles         map[nativecommon.Role][]common.Address
	Blocked       []common.Address
	Allowed       []common.Address
	Holder        common.Address
	Alloc         []Allocation
}

// Allocation is a genesis balance in base units.
type Allocation struct {
	Unit    string
	Account common.Address
	Amount  *uint256.Int
}

// FromConfig resolves cfg into a Spec. When the oracle has no explicit
// last_update the supplied genesis time is used.
func FromConfig(cfg *config.Ledger, genesisTime time.Time) (*Spec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("genesis: config must not be nil")
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	current, old, maxIncrease, err := cfg.Oracle.Prices()
	if err != nil {
		return nil, err
	}
	lastUpdate := cfg.Oracle.LastUpdate
	if lastUpdate == 0 && !genesisTime.IsZero() {
		lastUpdate = genesisTime.Unix()
	}
	spec := &Spec{
		CashUnit:   cfg.Units.Cash,
		InvestUnit: cfg.Units.Invest,
		Oracle: oracle.Params{
			CurrentPrice:     current,
			OldPrice:         old,
			MaxPriceIncrease: maxIncrease,
			Delay:            uint64(cfg.Oracle.Delay.Seconds()),
			LastUpdate:       uint64(lastUpdate),
		},
		Roles: make(map[nativecommon.Role][]common.Address, len(cfg.Roles)),
	}
	if spec.CashVariant, err = permissions.ParseVariant(cfg.Permissions.CashVariant); err != nil {
		return nil, err
	}
	if spec.InvestVariant, err = permissions.ParseVariant(cfg.Permissions.InvestVariant); err != nil {
		return nil, err
	}
	for name, members := range cfg.Roles {
		role, err := nativecommon.ParseRole(name)
		if err != nil {
			return nil, err
		}
		addrs, err := config.ParseAddresses(members)
		if err != nil {
			return nil, err
		}
		spec.Roles[role] = append(spec.Roles[role], addrs...)
	}
	if spec.Blocked, err = config.ParseAddresses(cfg.Permissions.Blocked); err != nil {
		return nil, err
	}
	if spec.Allowed, err = config.ParseAddresses(cfg.Permissions.Allowed); err != nil {
		return nil, err
	}
	if cfg.Freeze.Holder != "" {
		if spec.Holder, err = config.ParseAddress(cfg.Freeze.Holder); err != nil {
			return nil, err
		}
	}
	for _, alloc := range cfg.Alloc {
		account, err := config.ParseAddress(alloc.Account)
		if err != nil {
			return nil, err
		}
		amount, err := nativecommon.ParseFixed18(alloc.Amount)
		if err != nil {
			return nil, err
		}
		spec.Alloc = append(spec.Alloc, Allocation{Unit: strings.ToUpper(strings.TrimSpace(alloc.Unit)), Account: account, Amount: amount})
	}
	return spec, nil
}

// SortedRoles returns the configured roles in a deterministic order.
func (s *Spec) SortedRoles() []nativecommon.Role {
	roles := make([]nativecommon.Role, 0, len(s.Roles))
	for role := range s.Roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
