package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/core/types"
)

const (
	TypePermissionsUpdated = "permissions.updated"
	TypeFreezeFrozen       = "freeze.frozen"
	TypeFreezeReleased     = "freeze.released"
	TypeFreezeReclaimed    = "freeze.reclaimed"
	TypePaused             = "pause.paused"
	TypeUnpaused           = "pause.unpaused"
	TypeRoleGranted        = "access.role_granted"
	TypeRoleRevoked        = "access.role_revoked"
)

// PermissionsUpdated records a registry transition for one account.
type PermissionsUpdated struct {
	List    string
	Account common.Address
	Status  string
}

func (PermissionsUpdated) EventType() string { return TypePermissionsUpdated }

func (e PermissionsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePermissionsUpdated,
		Attributes: map[string]string{
			"list":    normalizeUnit(e.List),
			"account": addressString(e.Account),
			"status":  e.Status,
		},
	}
}

// FreezeMoved covers the three compliance movements. Kind selects the event
// type and must be one of the TypeFreeze* constants.
type FreezeMoved struct {
	Kind   string
	Unit   string
	From   common.Address
	To     common.Address
	Amount *uint256.Int
	Frozen *uint256.Int
}

func (e FreezeMoved) EventType() string { return e.Kind }

func (e FreezeMoved) Event() *types.Event {
	attrs := map[string]string{
		"unit":   normalizeUnit(e.Unit),
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"amount": amountString(e.Amount),
	}
	if e.Frozen != nil {
		attrs["frozen"] = amountString(e.Frozen)
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

// PauseToggled records a change of a unit's pause flag.
type PauseToggled struct {
	Module string
	Paused bool
	Caller common.Address
}

func (e PauseToggled) EventType() string {
	if e.Paused {
		return TypePaused
	}
	return TypeUnpaused
}

func (e PauseToggled) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"module": normalizeUnit(e.Module),
			"caller": addressString(e.Caller),
		},
	}
}

// RoleChanged records a role grant or revocation.
type RoleChanged struct {
	Role    string
	Account common.Address
	Granted bool
	Caller  common.Address
}

func (e RoleChanged) EventType() string {
	if e.Granted {
		return TypeRoleGranted
	}
	return TypeRoleRevoked
}

func (e RoleChanged) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"role":    e.Role,
			"account": addressString(e.Account),
			"caller":  addressString(e.Caller),
		},
	}
}
