// Package params defines the chain-wide constants the beacon-node
// runtime needs: fork schedule, slot/epoch timing, Deneb blob
// constants, and the gossip/duty-cycle constants consumed by
// ConsensusManager, GossipController, and DutyDispatcher.
package params

import (
	"time"

	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
)

// ForkVersion is the 4-byte wire identifier of a consensus fork.
type ForkVersion [4]byte

// BeaconChainConfig contains constant configs for the node to
// participate in a beacon chain network. Fields tagged `spec:"true"`
// are loadable from a network's `config.yaml`; the rest are derived or
// implementation-level constants.
type BeaconChainConfig struct {
	ConfigName string `yaml:"CONFIG_NAME" spec:"true"`

	// Time.
	SecondsPerSlot uint64          `yaml:"SECONDS_PER_SLOT" spec:"true"`
	SlotsPerEpoch  primitives.Slot `yaml:"SLOTS_PER_EPOCH" spec:"true"`

	// Fork schedule.
	GenesisForkVersion   ForkVersion      `yaml:"GENESIS_FORK_VERSION" spec:"true"`
	AltairForkVersion    ForkVersion      `yaml:"ALTAIR_FORK_VERSION" spec:"true"`
	BellatrixForkVersion ForkVersion      `yaml:"BELLATRIX_FORK_VERSION" spec:"true"`
	CapellaForkVersion   ForkVersion      `yaml:"CAPELLA_FORK_VERSION" spec:"true"`
	DenebForkVersion     ForkVersion      `yaml:"DENEB_FORK_VERSION" spec:"true"`
	GenesisEpoch         primitives.Epoch `yaml:"GENESIS_EPOCH"`
	AltairForkEpoch      primitives.Epoch `yaml:"ALTAIR_FORK_EPOCH" spec:"true"`
	BellatrixForkEpoch   primitives.Epoch `yaml:"BELLATRIX_FORK_EPOCH" spec:"true"`
	CapellaForkEpoch     primitives.Epoch `yaml:"CAPELLA_FORK_EPOCH" spec:"true"`
	DenebForkEpoch       primitives.Epoch `yaml:"DENEB_FORK_EPOCH" spec:"true"`

	// Deneb / blob constants.
	MaxBlobsPerBlock                 uint64           `yaml:"MAX_BLOBS_PER_BLOCK" spec:"true"`
	MinEpochsForBlobSidecarsRequests primitives.Epoch `yaml:"MIN_EPOCHS_FOR_BLOB_SIDECARS_REQUESTS" spec:"true"`

	// Validator duty cycle.
	EpochsPerValidatorRegistrationSubmission primitives.Epoch `yaml:"EPOCHS_PER_VALIDATOR_REGISTRATION_SUBMISSION" spec:"true"`

	// Gossip / subnets.
	AttestationSubnetCount    uint64 `yaml:"ATTESTATION_SUBNET_COUNT" spec:"true"`
	AttestationPropagationSlotRange primitives.Slot `yaml:"ATTESTATION_PROPAGATION_SLOT_RANGE" spec:"true"`
	SyncCommitteeSubnetCount  uint64 `yaml:"SYNC_COMMITTEE_SUBNET_COUNT" spec:"true"`
	RandomSubnetsPerValidator uint64 `yaml:"RANDOM_SUBNETS_PER_VALIDATOR" spec:"true"`
	EpochsPerSyncCommitteePeriod primitives.Epoch `yaml:"EPOCHS_PER_SYNC_COMMITTEE_PERIOD" spec:"true"`

	// Validator economics (ActionTracker stability predicate, §4.4).
	MaxEffectiveBalance          uint64 `yaml:"MAX_EFFECTIVE_BALANCE" spec:"true"`
	EffectiveBalanceIncrement    uint64 `yaml:"EFFECTIVE_BALANCE_INCREMENT" spec:"true"`
	HysteresisQuotient           uint64 `yaml:"HYSTERESIS_QUOTIENT" spec:"true"`
	HysteresisDownwardMultiplier uint64 `yaml:"HYSTERESIS_DOWNWARD_MULTIPLIER" spec:"true"`
	HysteresisUpwardMultiplier   uint64 `yaml:"HYSTERESIS_UPWARD_MULTIPLIER" spec:"true"`

	// Fork-choice.
	ProposerScoreBoost          uint64          `yaml:"PROPOSER_SCORE_BOOST" spec:"true"`
	SafeSlotsToUpdateJustified  primitives.Slot `yaml:"SAFE_SLOTS_TO_UPDATE_JUSTIFIED" spec:"true"`

	// Sync / backfill.
	MaxPeersToSync int `yaml:"MAX_PEERS_TO_SYNC"`

	// Sync-behind hysteresis (spec.md §4.7): isBehind = headDistance > SyncDistanceThreshold + SyncHysteresis.
	SyncDistanceThreshold primitives.Slot `yaml:"SYNC_DISTANCE_THRESHOLD"`
	SyncHysteresisSlots   primitives.Slot `yaml:"SYNC_HYSTERESIS_SLOTS"`

	// Scheduling derived durations, computed by InitializeDerived.
	SecondsPerSlotDuration time.Duration
}

// ForkScheduleEntry pairs a fork version with its activation epoch, in
// ascending-epoch order, for GossipController's target-gossip-state
// computation (spec.md §4.7).
type ForkScheduleEntry struct {
	Name    string
	Version ForkVersion
	Epoch   primitives.Epoch
}

// ForkSchedule returns the chain's forks in ascending activation order.
func (b *BeaconChainConfig) ForkSchedule() []ForkScheduleEntry {
	return []ForkScheduleEntry{
		{Name: "phase0", Version: b.GenesisForkVersion, Epoch: b.GenesisEpoch},
		{Name: "altair", Version: b.AltairForkVersion, Epoch: b.AltairForkEpoch},
		{Name: "bellatrix", Version: b.BellatrixForkVersion, Epoch: b.BellatrixForkEpoch},
		{Name: "capella", Version: b.CapellaForkVersion, Epoch: b.CapellaForkEpoch},
		{Name: "deneb", Version: b.DenebForkVersion, Epoch: b.DenebForkEpoch},
	}
}

// ForkAtEpoch returns the name of the fork active at epoch e.
func (b *BeaconChainConfig) ForkAtEpoch(e primitives.Epoch) string {
	sched := b.ForkSchedule()
	active := sched[0].Name
	for _, entry := range sched {
		if e >= entry.Epoch {
			active = entry.Name
		}
	}
	return active
}

// InitializeDerived fills in fields computed from the loaded spec
// constants, mirroring the teacher's InitializeForkSchedule pattern.
func (b *BeaconChainConfig) InitializeDerived() {
	b.SecondsPerSlotDuration = time.Duration(b.SecondsPerSlot) * time.Second
}
