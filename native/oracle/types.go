package oracle

import "github.com/holiman/uint256"

// State is the persisted oracle record. The Paused* fields hold the prices
// captured when the Invest unit was paused and are only meaningful while
// Snapshotted is set.
type State struct {
	CurrentPrice     *uint256.Int
	OldPrice         *uint256.Int
	MaxPriceIncrease *uint256.Int
	Delay            uint64
	LastUpdate       uint64
	PausedCurrent    *uint256.Int
	PausedOld        *uint256.Int
	Snapshotted      bool
}

// Params seeds the oracle at genesis.
type Params struct {
	CurrentPrice     *uint256.Int
	OldPrice         *uint256.Int
	MaxPriceIncrease *uint256.Int
	Delay            uint64
	LastUpdate       uint64
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		CurrentPrice:     cloneInt(s.CurrentPrice),
		OldPrice:         cloneInt(s.OldPrice),
		MaxPriceIncrease: cloneInt(s.MaxPriceIncrease),
		Delay:            s.Delay,
		LastUpdate:       s.LastUpdate,
		PausedCurrent:    cloneInt(s.PausedCurrent),
		PausedOld:        cloneInt(s.PausedOld),
		Snapshotted:      s.Snapshotted,
	}
}
