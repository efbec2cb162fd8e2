package params

import (
	"sync"

	"github.com/mohae/deepcopy"
)

var activeMu sync.RWMutex
var active = MainnetConfig()

// BeaconConfig retrieves the beacon chain config currently in effect.
// The preferred pattern for changing it is to call BeaconConfig(),
// copy and mutate the specific fields, then call OverrideBeaconConfig.
func BeaconConfig() *BeaconChainConfig {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// OverrideBeaconConfig replaces the active config. Subsequent calls to
// BeaconConfig return the new value; existing callers holding a prior
// pointer keep observing the old config (copy-on-write).
func OverrideBeaconConfig(c *BeaconChainConfig) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = c
}

// Copy returns a deep copy of the config, so callers may mutate it
// before calling OverrideBeaconConfig without racing readers of the
// previously active config.
func (b *BeaconChainConfig) Copy() *BeaconChainConfig {
	config := deepcopy.Copy(*b).(BeaconChainConfig)
	return &config
}
