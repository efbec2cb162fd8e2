// Package scheduler implements C8 from spec.md §4.8: the slot loop and
// second loop driving onSlotStart/onSlotEnd, grounded on the teacher's
// beacon-chain/blockchain/service.go slot-ticker consumption loop and
// time/slots.SlotTicker (already adapted in this module's
// time/slots package) for the tick source itself.
package scheduler

import (
	"context"
	"time"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/lanternlabs/beacon-node/time/slots"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "scheduler")

// HistoryMode selects whether onSlotEnd prunes history/blobs
// (spec.md §4.8 step 4).
type HistoryMode int

const (
	HistoryArchive HistoryMode = iota
	HistoryPrune
)

// ConsensusUpdater is the subset of ConsensusManager the scheduler
// drives directly: head recompute at slot boundaries, and the
// once-per-epoch ActionTracker decision (spec.md §4.4, §4.8 step 8).
type ConsensusUpdater interface {
	UpdateHead(ctx context.Context) error
	MaybeUpdateActionTrackerNextEpoch(nextEpoch, currentEpoch primitives.Epoch, version blocks.Version) (bool, error)
}

// DutyRunner is DutyDispatcher's entry point (spec.md §4.9), called
// from onSlotStart.
type DutyRunner interface {
	HandleValidatorDuties(ctx context.Context, lastSlot, wallSlot primitives.Slot) error
}

// GossipUpdater is GossipController's entry points the scheduler
// drives once per slot (spec.md §4.7, §4.8 step 11).
type GossipUpdater interface {
	UpdateAttestationSubnets(epoch primitives.Epoch)
	UpdateSyncCommitteeTopics(epoch primitives.Epoch)
	UpdateGossipStatus(ctx context.Context, epoch primitives.Epoch, headDistance primitives.Slot)
	UpdateBlocksSubscription(headDistance primitives.Slot, shouldSyncOptimistically bool)
}

// ChainStatus reports the head/sync state the scheduler's decisions
// are gated on (spec.md §4.8 steps 2, 8, 11).
type ChainStatus interface {
	HeadSlot() primitives.Slot
	HeadVersion() blocks.Version
	IsSynced() bool
	IsExecutionValid() bool
	ShouldSyncOptimistically() bool
	FinalizationAdvanced() bool
}

// MaintenanceHooks are the out-of-scope storage/GC/pruning
// collaborators onSlotEnd drives (spec.md §4.8 steps 2-7, 9); each is
// optional (a nil hook is skipped) so a minimal test harness need not
// stub every one.
type MaintenanceHooks struct {
	PruneSlashingProtection       func(ctx context.Context) error
	PruneStateCachesAndForkChoice func(ctx context.Context) error
	PruneHistory                  func(ctx context.Context) error
	PruneBlobs                    func(ctx context.Context, epoch primitives.Epoch) error
	GCMajor                       func()
	DBCheckpoint                  func() error
	PruneSyncCommitteePool        func()
	PruneFeeRecipients            func()
	AdvanceClearanceState         func(ctx context.Context, nextSlot primitives.Slot) error
}

// aggregateSlotOffset is how far into a slot attestation aggregation
// is expected to complete; onSlotEnd waits this long plus half the
// remaining slot before running post-slot maintenance (spec.md §4.8
// step 1), matching the two-thirds/one-third split the teacher's
// NewSlotTickerWithIntervals tests exercise for attestation timing.
func aggregateSlotOffset(secondsPerSlot time.Duration) time.Duration {
	return secondsPerSlot * 2 / 3
}

var (
	ticksDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_ticks_delay_seconds",
		Help: "Ratio of actual second-loop sleep to the expected 1s interval, surfacing event-loop starvation.",
	})
	slotStartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_slot_start_total",
		Help: "Count of onSlotStart invocations.",
	})
)

// Scheduler drives SlotScheduler's slot loop and second loop (spec.md
// §4.8).
type Scheduler struct {
	cfg         *params.BeaconChainConfig
	genesisTime time.Time

	consensus ConsensusUpdater
	duties    DutyRunner
	gossip    GossipUpdater
	status    ChainStatus
	hooks     MaintenanceHooks
	historyMode HistoryMode

	stopAtSyncedEpoch *primitives.Epoch

	now func() time.Time

	stop    chan struct{}
	stopped chan struct{}
}

// New constructs a Scheduler. stopAtSyncedEpoch, if non-nil, halts the
// slot loop once the chain is synced past that epoch (used by
// checkpoint-sync verification tooling).
func New(cfg *params.BeaconChainConfig, genesisTime time.Time, consensus ConsensusUpdater, duties DutyRunner, gossip GossipUpdater, status ChainStatus, hooks MaintenanceHooks, historyMode HistoryMode, stopAtSyncedEpoch *primitives.Epoch) *Scheduler {
	return &Scheduler{
		cfg:               cfg,
		genesisTime:       genesisTime,
		consensus:         consensus,
		duties:            duties,
		gossip:            gossip,
		status:            status,
		hooks:             hooks,
		historyMode:       historyMode,
		stopAtSyncedEpoch: stopAtSyncedEpoch,
		now:               time.Now,
		stop:              make(chan struct{}),
		stopped:           make(chan struct{}),
	}
}

// Start launches the slot loop and second loop (satisfies
// runtime.Service).
func (s *Scheduler) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

// Stop signals both loops to exit and waits for them.
func (s *Scheduler) Stop() error {
	close(s.stop)
	<-s.stopped
	return nil
}

// Status reports healthy unconditionally; starvation is surfaced via
// the ticks_delay metric, not a Service health failure.
func (s *Scheduler) Status() error { return nil }

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	slotTicker := slots.NewSlotTicker(s.genesisTime, s.cfg.SecondsPerSlot)
	defer slotTicker.Done()

	secondTicker := time.NewTicker(time.Second)
	defer secondTicker.Stop()
	lastSecondTick := s.now()

	lastSlot := primitives.Slot(0)

	for {
		select {
		case slot := <-slotTicker.C():
			slotStartTotal.Inc()
			s.onSlotStart(ctx, lastSlot, slot)
			lastSlot = slot
			if s.stopAtSyncedEpoch != nil && s.status.IsSynced() {
				if s.toEpoch(slot) > *s.stopAtSyncedEpoch {
					return
				}
			}
		case now := <-secondTicker.C:
			actual := now.Sub(lastSecondTick)
			ticksDelay.Set(actual.Seconds())
			lastSecondTick = now
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// onSlotStart logs, updates metrics, runs updateHead, dispatches
// validator duties, then runs onSlotEnd (spec.md §4.8).
func (s *Scheduler) onSlotStart(ctx context.Context, lastSlot, slot primitives.Slot) {
	log.WithFields(logrus.Fields{"slot": slot, "epoch": s.toEpoch(slot)}).Debug("slot start")

	if err := s.consensus.UpdateHead(ctx); err != nil {
		log.WithError(err).Warn("updateHead failed")
	}

	if err := s.duties.HandleValidatorDuties(ctx, lastSlot, slot); err != nil {
		log.WithError(err).Warn("handleValidatorDuties failed")
	}

	s.onSlotEnd(ctx, slot)
}

// OnSlotEndForTest exposes onSlotEnd to tests exercising the
// eleven-step maintenance ordering without driving a full slot tick.
func (s *Scheduler) OnSlotEndForTest(ctx context.Context, slot primitives.Slot) {
	s.onSlotEnd(ctx, slot)
}

// onSlotEnd runs the eleven-step post-slot sequence spec.md §4.8
// requires, in order.
func (s *Scheduler) onSlotEnd(ctx context.Context, slot primitives.Slot) {
	secondsPerSlot := s.cfg.SecondsPerSlotDuration
	slotStart := s.startTimeOf(slot)

	// Step 1: wait until slot.start + aggregateSlotOffset + remaining/2.
	offset := aggregateSlotOffset(secondsPerSlot)
	remaining := secondsPerSlot - offset
	waitUntil := slotStart.Add(offset).Add(remaining / 2)
	s.sleepUntil(ctx, waitUntil)

	// Step 2: slashing-protection pruning, only if finalization advanced
	// and in pruning mode.
	if s.status.FinalizationAdvanced() && s.historyMode == HistoryPrune {
		if s.hooks.PruneSlashingProtection != nil {
			if err := s.hooks.PruneSlashingProtection(ctx); err != nil {
				log.WithError(err).Warn("slashing-protection pruning failed")
			}
		}
	}

	// Step 3: prune state caches and fork choice.
	if s.hooks.PruneStateCachesAndForkChoice != nil {
		if err := s.hooks.PruneStateCachesAndForkChoice(ctx); err != nil {
			log.WithError(err).Warn("state-cache/fork-choice pruning failed")
		}
	}

	// Step 4: if Prune mode and next slot is not an epoch boundary,
	// prune history and blobs.
	nextSlot := slot.Add(1)
	if s.historyMode == HistoryPrune && !s.isEpochStart(nextSlot) {
		if s.hooks.PruneHistory != nil {
			if err := s.hooks.PruneHistory(ctx); err != nil {
				log.WithError(err).Warn("history pruning failed")
			}
		}
		if s.hooks.PruneBlobs != nil {
			if err := s.hooks.PruneBlobs(ctx, s.toEpoch(slot)); err != nil {
				log.WithError(err).Warn("blob pruning failed")
			}
		}
	}

	// Step 5: trigger a GC major collection between slots.
	if s.hooks.GCMajor != nil {
		s.hooks.GCMajor()
	}

	// Step 6: DB checkpoint (flush WAL).
	if s.hooks.DBCheckpoint != nil {
		if err := s.hooks.DBCheckpoint(); err != nil {
			log.WithError(err).Warn("DB checkpoint failed")
		}
	}

	// Step 7: prune sync-committee message pool, and at epoch boundary
	// prune dynamic fee-recipient mappings.
	if s.hooks.PruneSyncCommitteePool != nil {
		s.hooks.PruneSyncCommitteePool()
	}
	if s.isEpochStart(nextSlot) && s.hooks.PruneFeeRecipients != nil {
		s.hooks.PruneFeeRecipients()
	}

	// Step 8: maybeUpdateActionTrackerNextEpoch, only if head is synced
	// and execution-valid.
	if s.status.IsSynced() && s.status.IsExecutionValid() {
		currentEpoch := s.toEpoch(slot)
		nextEpoch := currentEpoch + 1
		if _, err := s.consensus.MaybeUpdateActionTrackerNextEpoch(nextEpoch, currentEpoch, s.status.HeadVersion()); err != nil {
			log.WithError(err).Warn("ActionTracker next-epoch update failed")
		}
	}

	// Step 9: sleep to slot.start + (SECONDS_PER_SLOT - 1), then
	// advance clearance state to pre-stage the next slot.
	preStageAt := slotStart.Add(secondsPerSlot - time.Second)
	s.sleepUntil(ctx, preStageAt)
	if s.hooks.AdvanceClearanceState != nil {
		if err := s.hooks.AdvanceClearanceState(ctx, nextSlot); err != nil {
			log.WithError(err).Warn("advanceClearanceState failed")
		}
	}

	// Step 11: recompute gossip subscription state for nextSlot. There
	// is no separate step 10 call: ActionTracker keeps no per-slot state,
	// and nothing here or in ConsensusManager advances one.
	nextEpoch := s.toEpoch(nextSlot)
	headDistance, ok := slot.SafeSub(uint64(s.status.HeadSlot()))
	if !ok {
		headDistance = 0
	}
	s.gossip.UpdateAttestationSubnets(nextEpoch)
	s.gossip.UpdateSyncCommitteeTopics(nextEpoch)
	s.gossip.UpdateGossipStatus(ctx, nextEpoch, headDistance)
	s.gossip.UpdateBlocksSubscription(headDistance, s.status.ShouldSyncOptimistically())
}

// toEpoch and isEpochStart compute epoch boundaries against the
// Scheduler's own injected cfg rather than the package-level
// params.BeaconConfig() singleton, so a Scheduler built with a
// non-default config (e.g. in tests) never silently disagrees with
// itself about where epoch boundaries fall.
func (s *Scheduler) toEpoch(slot primitives.Slot) primitives.Epoch {
	return slot.ToEpoch(uint64(s.cfg.SlotsPerEpoch))
}

func (s *Scheduler) isEpochStart(slot primitives.Slot) bool {
	return primitives.IsEpochStart(slot, uint64(s.cfg.SlotsPerEpoch))
}

func (s *Scheduler) startTimeOf(slot primitives.Slot) time.Time {
	return s.genesisTime.Add(time.Duration(uint64(slot)) * s.cfg.SecondsPerSlotDuration)
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-s.stop:
	}
}
