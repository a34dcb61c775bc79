package common

import "errors"

// Error kinds shared by every ledger module. Modules wrap them with context via
// fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	ErrGuardrailViolation        = errors.New("guardrail violation")
	ErrInvalidPrice              = errors.New("invalid price")
	ErrExceedsMax                = errors.New("exceeds max")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrInsufficientFrozenBalance = errors.New("insufficient frozen balance")
	ErrInsufficientAllowance     = errors.New("insufficient allowance")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrOverflow                  = errors.New("arithmetic overflow")
	ErrInvalidAmount             = errors.New("invalid amount")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrGuardrailViolation, "guardrail_violation"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrExceedsMax, "exceeds_max"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInsufficientFrozenBalance, "insufficient_frozen_balance"},
	{ErrInsufficientAllowance, "insufficient_allowance"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrPaused, "paused"},
	{ErrOverflow, "overflow"},
	{ErrInvalidAmount, "invalid_amount"},
}

// Kind returns a stable label for err: "ok" for nil, the error kind for
// ledger sentinels and "internal" otherwise.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
