package common

import (
	"errors"
	"strings"
)

// ErrPaused is returned when an operation targets a paused unit.
var ErrPaused = errors.New("module paused")

// Pause modules. Each unit carries its own flag; the conversion engine follows
// the Invest flag.
const (
	ModuleCash   = "cash"
	ModuleInvest = "invest"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrPaused
	}
	return nil
}
