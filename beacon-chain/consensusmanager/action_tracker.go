// Package consensusmanager implements C4 from spec.md §4.4: head
// tracking plus the ActionTracker fast-path/fallback rule, grounded on
// the teacher's beacon-chain/blockchain/process_block.go
// (updateHead/insertBlockAndAttestationsToForkChoiceStore ordering) and
// beacon-chain/cache's shuffling-cache pattern.
package consensusmanager

import (
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
)

// ParticipationFlags mirrors the three timely flags the stability
// predicate inspects (spec.md §4.4).
type ParticipationFlags struct {
	TimelySource bool
	TimelyTarget bool
	TimelyHead   bool
}

// ValidatorSnapshot is the slice of validator state the stability
// predicate needs, read out of CONSENSUS_SPEC's state (out of scope
// per spec.md §1; supplied here only by interface).
type ValidatorSnapshot struct {
	Flags            ParticipationFlags
	EffectiveBalance uint64
	Balance          uint64
	InactivityScore  uint64
}

// ShufflingProvider is the out-of-scope CONSENSUS_SPEC surface
// ActionTracker drives: shuffling availability, proposer computation,
// and the two update paths (fast UpdateActions vs. full
// EpochRefFallback).
type ShufflingProvider interface {
	NextEpochShufflingAvailable(epoch primitives.Epoch) bool
	FirstProposerOfEpoch(epoch primitives.Epoch) (primitives.ValidatorIndex, error)
	ValidatorSnapshot(index primitives.ValidatorIndex) (ValidatorSnapshot, error)
	// UpdateActions is the fast path: it derives next epoch's proposer
	// duties from the shuffling alone, skipping a full EpochRef build.
	UpdateActions(nextEpoch primitives.Epoch, proposer primitives.ValidatorIndex) error
	// EpochRefFallback computes a complete EpochRef for nextEpoch.
	EpochRefFallback(nextEpoch primitives.Epoch) error
}

// crossesHysteresis reports whether balance would move effective
// balance across the hysteresis band computed from cfg, i.e. whether
// EffectiveBalance no longer tracks balance to within the configured
// downward/upward multipliers (spec.md §4.4, fifth stability
// condition). Grounded on CONSENSUS_SPEC's
// get_validator_churn_limit-adjacent effective-balance update rule.
func crossesHysteresis(cfg *params.BeaconChainConfig, effectiveBalance, balance uint64) bool {
	increment := cfg.EffectiveBalanceIncrement
	if increment == 0 {
		return false
	}
	hysteresisIncrement := increment / cfg.HysteresisQuotient
	downward := hysteresisIncrement * cfg.HysteresisDownwardMultiplier
	upward := hysteresisIncrement * cfg.HysteresisUpwardMultiplier

	if balance+downward < effectiveBalance {
		return true
	}
	if balance > effectiveBalance+upward {
		return true
	}
	return false
}

// passesStabilityPredicate implements spec.md §4.4's five-condition
// stability check gating the ActionTracker fast path.
func passesStabilityPredicate(cfg *params.BeaconChainConfig, currentEpoch primitives.Epoch, v ValidatorSnapshot) bool {
	if !v.Flags.TimelySource || !v.Flags.TimelyTarget {
		return false
	}
	if v.EffectiveBalance != cfg.MaxEffectiveBalance {
		return false
	}
	if currentEpoch == cfg.GenesisEpoch {
		return false
	}
	if v.InactivityScore != 0 {
		return false
	}
	if crossesHysteresis(cfg, v.EffectiveBalance, v.Balance) {
		return false
	}
	return true
}

// ActionTracker decides, once per epoch, whether next epoch's proposer
// duties can be derived from the shuffling alone (fast path) or
// require a full EpochRef rebuild (fallback), per spec.md §4.4.
type ActionTracker struct {
	cfg       *params.BeaconChainConfig
	shuffling ShufflingProvider
}

// NewActionTracker constructs an ActionTracker over cfg and shuffling.
func NewActionTracker(cfg *params.BeaconChainConfig, shuffling ShufflingProvider) *ActionTracker {
	return &ActionTracker{cfg: cfg, shuffling: shuffling}
}

// MaybeUpdateNextEpoch runs the fast-path/fallback decision for
// nextEpoch and reports which path it took. version is the head
// state's fork version: Phase0 always falls back, since the fast path
// depends on Altair-era participation flags.
func (a *ActionTracker) MaybeUpdateNextEpoch(nextEpoch, currentEpoch primitives.Epoch, version blocks.Version) (usedFastPath bool, err error) {
	if version < blocks.Altair {
		return false, a.shuffling.EpochRefFallback(nextEpoch)
	}
	if !a.shuffling.NextEpochShufflingAvailable(nextEpoch) {
		return false, a.shuffling.EpochRefFallback(nextEpoch)
	}

	proposer, err := a.shuffling.FirstProposerOfEpoch(nextEpoch)
	if err != nil {
		return false, a.shuffling.EpochRefFallback(nextEpoch)
	}
	snap, err := a.shuffling.ValidatorSnapshot(proposer)
	if err != nil {
		return false, a.shuffling.EpochRefFallback(nextEpoch)
	}
	if !passesStabilityPredicate(a.cfg, currentEpoch, snap) {
		return false, a.shuffling.EpochRefFallback(nextEpoch)
	}

	return true, a.shuffling.UpdateActions(nextEpoch, proposer)
}
