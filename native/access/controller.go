package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var errNilState = errors.New("access: state not configured")

type roleState interface {
	SetRole(role string, addr common.Address) error
	RemoveRole(role string, addr common.Address) error
	RoleMembers(role string) ([]common.Address, error)
	HasRole(role string, addr common.Address) bool
}

// Controller stores role membership and answers capability checks. Grants and
// revocations are gated by RoleAdmin.
type Controller struct {
	state   roleState
	emitter events.Emitter
}

func NewController() *Controller {
	return &Controller{emitter: events.NoopEmitter{}}
}

// SetState wires the controller to the external persistence layer.
func (c *Controller) SetState(state roleState) { c.state = state }

func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

// HasCapability implements nativecommon.Capabilities.
func (c *Controller) HasCapability(account common.Address, role nativecommon.Role) bool {
	if c == nil || c.state == nil {
		return false
	}
	return c.state.HasRole(string(role), account)
}

// Bootstrap grants role without an authorisation check. It is only used while
// applying genesis configuration.
func (c *Controller) Bootstrap(role nativecommon.Role, account common.Address) error {
	if c.state == nil {
		return errNilState
	}
	return c.state.SetRole(string(role), account)
}

func (c *Controller) Grant(caller common.Address, role nativecommon.Role, account common.Address) error {
	if err := nativecommon.Require(c, caller, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if c.state.HasRole(string(role), account) {
		return nil
	}
	if err := c.state.SetRole(string(role), account); err != nil {
		return fmt.Errorf("access: grant %s: %w", role, err)
	}
	c.emitter.Emit(events.RoleChanged{Role: string(role), Account: account, Granted: true, Caller: caller})
	return nil
}

// Revoke removes role from account. An admin may not revoke its own admin role
// so the ledger can never lose its last administrator by accident.
func (c *Controller) Revoke(caller common.Address, role nativecommon.Role, account common.Address) error {
	if err := nativecommon.Require(c, caller, nativecommon.RoleAdmin); err != nil {
		return err
	}
	if role == nativecommon.RoleAdmin && account == caller {
		return fmt.Errorf("%w: admin cannot revoke its own admin role", nativecommon.ErrUnauthorized)
	}
	if !c.state.HasRole(string(role), account) {
		return nil
	}
	if err := c.state.RemoveRole(string(role), account); err != nil {
		return fmt.Errorf("access: revoke %s: %w", role, err)
	}
	c.emitter.Emit(events.RoleChanged{Role: string(role), Account: account, Caller: caller})
	return nil
}

// Members lists the accounts holding role.
func (c *Controller) Members(role nativecommon.Role) ([]common.Address, error) {
	if c.state == nil {
		return nil, errNilState
	}
	return c.state.RoleMembers(string(role))
}
