// Package slots provides slot/epoch arithmetic against wall-clock time,
// grounded on the teacher's time/slots package: the SlotTicker type and
// the Duration/CurrentSlot helpers it injects a Now func into for tests.
package slots

import (
	"time"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
)

// Duration returns the number of whole slots elapsed between genesisTime
// and now, given the configured seconds-per-slot. Negative or pre-genesis
// values return slot 0.
func Duration(genesisTime, now time.Time) primitives.Slot {
	if now.Before(genesisTime) {
		return 0
	}
	elapsed := now.Sub(genesisTime)
	secondsPerSlot := params.BeaconConfig().SecondsPerSlot
	return primitives.Slot(uint64(elapsed.Seconds()) / secondsPerSlot)
}

// StartTime returns the wall-clock instant at which slot s begins,
// given the chain's genesis time.
func StartTime(genesisTime time.Time, s primitives.Slot) time.Time {
	secondsPerSlot := params.BeaconConfig().SecondsPerSlot
	return genesisTime.Add(time.Duration(uint64(s)*secondsPerSlot) * time.Second)
}

// SinceGenesis reports how long has elapsed between genesisTime and now;
// negative values report pre-genesis.
func SinceGenesis(genesisTime, now time.Time) time.Duration {
	return now.Sub(genesisTime)
}

// ToEpoch converts s to its containing epoch using the active config.
func ToEpoch(s primitives.Slot) primitives.Epoch {
	return s.ToEpoch(uint64(params.BeaconConfig().SlotsPerEpoch))
}

// EpochStart returns the first slot of epoch e using the active config.
func EpochStart(e primitives.Epoch) primitives.Slot {
	return e.StartSlot(uint64(params.BeaconConfig().SlotsPerEpoch))
}

// IsEpochStart reports whether s is the first slot of its epoch.
func IsEpochStart(s primitives.Slot) bool {
	return primitives.IsEpochStart(s, uint64(params.BeaconConfig().SlotsPerEpoch))
}

// IsEpochEnd reports whether s is the last slot of its epoch.
func IsEpochEnd(s primitives.Slot) bool {
	return IsEpochStart(s.Add(1))
}
