package permissions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var errNilState = errors.New("permissions: state not configured")

// Status is the registry entry of an account.
type Status uint8

const (
	StatusUnset Status = iota
	StatusAllowed
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusAllowed:
		return "allowed"
	case StatusBlocked:
		return "blocked"
	default:
		return "unset"
	}
}

// Variant selects the validity rule applied to transfers.
type Variant uint8

const (
	// BlockList admits every pair unless a party is Blocked.
	BlockList Variant = iota
	// AllowList admits a pair only when both parties are Allowed.
	AllowList
)

func (v Variant) String() string {
	if v == AllowList {
		return "allowlist"
	}
	return "blocklist"
}

// ParseVariant resolves "blocklist" or "allowlist".
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "blocklist", "block":
		return BlockList, nil
	case "allowlist", "allow":
		return AllowList, nil
	}
	return BlockList, fmt.Errorf("permissions: unknown variant %q", name)
}

type kvState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

// Registry maps accounts to a Status for one list and evaluates transfer pairs
// against it.
type Registry struct {
	list    string
	variant Variant
	state   kvState
	caps    nativecommon.Capabilities
	emitter events.Emitter
}

func NewRegistry(list string, variant Variant, caps nativecommon.Capabilities) *Registry {
	return &Registry{
		list:    strings.ToLower(strings.TrimSpace(list)),
		variant: variant,
		caps:    caps,
		emitter: events.NoopEmitter{},
	}
}

func (r *Registry) SetState(state kvState) { r.state = state }

func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Registry) List() string { return r.list }

func (r *Registry) Variant() Variant { return r.variant }

// AdminRole is the role that manages this list.
func (r *Registry) AdminRole() nativecommon.Role {
	if r.variant == AllowList {
		return nativecommon.RoleAllowlistAdmin
	}
	return nativecommon.RoleBlocklistAdmin
}

func (r *Registry) entryKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("permissions/%s/%x", r.list, addr.Bytes()))
}

// Status returns the entry of addr; accounts never written read as Unset.
func (r *Registry) Status(addr common.Address) (Status, error) {
	if r.state == nil {
		return StatusUnset, errNilState
	}
	var raw uint8
	ok, err := r.state.KVGet(r.entryKey(addr), &raw)
	if err != nil {
		return StatusUnset, err
	}
	if !ok {
		return StatusUnset, nil
	}
	return Status(raw), nil
}

func (r *Registry) statusOrBlocked(addr common.Address) Status {
	status, err := r.Status(addr)
	if err != nil {
		return StatusBlocked
	}
	return status
}

// IsValid applies the block-list rule: burns are always valid, otherwise
// neither party may be Blocked.
func (r *Registry) IsValid(from, to common.Address) bool {
	if to == (common.Address{}) {
		return true
	}
	return r.statusOrBlocked(from) != StatusBlocked && r.statusOrBlocked(to) != StatusBlocked
}

// IsValidStrict applies the allow-list rule: burns are always valid, mints
// need an Allowed recipient and transfers need both parties Allowed.
func (r *Registry) IsValidStrict(from, to common.Address) bool {
	if to == (common.Address{}) {
		return true
	}
	if r.statusOrBlocked(to) != StatusAllowed {
		return false
	}
	if from == (common.Address{}) {
		return true
	}
	return r.statusOrBlocked(from) == StatusAllowed
}

// Validate evaluates the pair with the registry's variant and returns
// ErrPermissionDenied when it is rejected.
func (r *Registry) Validate(from, to common.Address) error {
	var ok bool
	if r.variant == AllowList {
		ok = r.IsValidStrict(from, to)
	} else {
		ok = r.IsValid(from, to)
	}
	if !ok {
		return fmt.Errorf("%w: %s rejects %s -> %s", nativecommon.ErrPermissionDenied, r.list, from.Hex(), to.Hex())
	}
	return nil
}

// CanReceive reports whether to passes the recipient side of the list rule.
func (r *Registry) CanReceive(to common.Address) bool {
	if to == (common.Address{}) {
		return false
	}
	status := r.statusOrBlocked(to)
	if r.variant == AllowList {
		return status == StatusAllowed
	}
	return status != StatusBlocked
}

// Add places addr on the list: Blocked for a block-list, Allowed for an
// allow-list.
func (r *Registry) Add(caller, addr common.Address) error {
	return r.AddMany(caller, []common.Address{addr})
}

func (r *Registry) AddMany(caller common.Address, addrs []common.Address) error {
	target := StatusBlocked
	if r.variant == AllowList {
		target = StatusAllowed
	}
	return r.transition(caller, addrs, target)
}

// Remove resets addr to Unset.
func (r *Registry) Remove(caller, addr common.Address) error {
	return r.RemoveMany(caller, []common.Address{addr})
}

func (r *Registry) RemoveMany(caller common.Address, addrs []common.Address) error {
	return r.transition(caller, addrs, StatusUnset)
}

// Allow, Block and Void set explicit states regardless of the variant.
func (r *Registry) Allow(caller common.Address, addrs []common.Address) error {
	return r.transition(caller, addrs, StatusAllowed)
}

func (r *Registry) Block(caller common.Address, addrs []common.Address) error {
	return r.transition(caller, addrs, StatusBlocked)
}

func (r *Registry) Void(caller common.Address, addrs []common.Address) error {
	return r.transition(caller, addrs, StatusUnset)
}

// Seed writes an entry without an authorisation check while applying genesis.
func (r *Registry) Seed(addr common.Address, status Status) error {
	return r.write(addr, status)
}

func (r *Registry) transition(caller common.Address, addrs []common.Address, target Status) error {
	if err := nativecommon.Require(r.caps, caller, r.AdminRole()); err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := r.write(addr, target); err != nil {
			return err
		}
		r.emitter.Emit(events.PermissionsUpdated{List: r.list, Account: addr, Status: target.String()})
	}
	return nil
}

func (r *Registry) write(addr common.Address, status Status) error {
	if r.state == nil {
		return errNilState
	}
	if status == StatusUnset {
		return r.state.KVDelete(r.entryKey(addr))
	}
	return r.state.KVPut(r.entryKey(addr), uint8(status))
}
