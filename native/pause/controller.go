package pause

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minanew12/eurodollar-protocol-sub001/core/events"
	nativecommon "github.com/minanew12/eurodollar-protocol-sub001/native/common"
)

var (
	errNilState      = errors.New("pause: state not configured")
	errUnknownModule = errors.New("pause: unknown module")
)

type flagState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// Hook runs inside the pausing call; an error aborts the toggle.
type Hook func() error

// Controller keeps one pause flag per unit and runs registered hooks when a
// flag flips.
type Controller struct {
	state     flagState
	caps      nativecommon.Capabilities
	emitter   events.Emitter
	onPause   map[string][]Hook
	onUnpause map[string][]Hook
}

func NewController(caps nativecommon.Capabilities) *Controller {
	return &Controller{
		caps:      caps,
		emitter:   events.NoopEmitter{},
		onPause:   make(map[string][]Hook),
		onUnpause: make(map[string][]Hook),
	}
}

func (c *Controller) SetState(state flagState) { c.state = state }

func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

func normaliseModule(module string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(module))
	switch m {
	case nativecommon.ModuleCash, nativecommon.ModuleInvest:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownModule, module)
}

func flagKey(module string) []byte { return []byte("pause/" + module) }

// OnPause registers a hook that runs after module is paused.
func (c *Controller) OnPause(module string, hook Hook) {
	m := strings.ToLower(strings.TrimSpace(module))
	c.onPause[m] = append(c.onPause[m], hook)
}

// OnUnpause registers a hook that runs before module is unpaused.
func (c *Controller) OnUnpause(module string, hook Hook) {
	m := strings.ToLower(strings.TrimSpace(module))
	c.onUnpause[m] = append(c.onUnpause[m], hook)
}

// IsPaused implements nativecommon.PauseView. Unknown modules and read errors
// report false.
func (c *Controller) IsPaused(module string) bool {
	if c == nil || c.state == nil {
		return false
	}
	m, err := normaliseModule(module)
	if err != nil {
		return false
	}
	var paused bool
	if _, err := c.state.KVGet(flagKey(m), &paused); err != nil {
		return false
	}
	return paused
}

// Pause engages the module flag. Pausing an already paused module is a no-op
// and does not rerun hooks.
func (c *Controller) Pause(caller common.Address, module string) error {
	return c.toggle(caller, module, true)
}

// Unpause clears the module flag.
func (c *Controller) Unpause(caller common.Address, module string) error {
	return c.toggle(caller, module, false)
}

func (c *Controller) toggle(caller common.Address, module string, paused bool) error {
	if err := nativecommon.Require(c.caps, caller, nativecommon.RolePauser); err != nil {
		return err
	}
	if c.state == nil {
		return errNilState
	}
	m, err := normaliseModule(module)
	if err != nil {
		return err
	}
	if c.IsPaused(m) == paused {
		return nil
	}
	if !paused {
		for _, hook := range c.onUnpause[m] {
			if err := hook(); err != nil {
				return fmt.Errorf("pause: unpause hook for %s: %w", m, err)
			}
		}
	}
	if err := c.state.KVPut(flagKey(m), paused); err != nil {
		return err
	}
	if paused {
		for _, hook := range c.onPause[m] {
			if err := hook(); err != nil {
				return fmt.Errorf("pause: pause hook for %s: %w", m, err)
			}
		}
	}
	c.emitter.Emit(events.PauseToggled{Module: m, Paused: paused, Caller: caller})
	return nil
}
