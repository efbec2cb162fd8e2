package consensusmanager

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/lanternlabs/beacon-node/beacon-chain/eventbus"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "consensusmanager")

// ChainReader is the out-of-scope fork-choice/ChainDAG surface
// ConsensusManager reads head state from (spec.md §1: fork-choice
// internals are an external collaborator, specified only by
// interface). Grounded on the teacher's beacon-chain/blockchain/head.go
// and chain_info.go accessor shapes.
type ChainReader interface {
	// Head re-runs fork-choice (if needed) and returns the current head.
	Head(ctx context.Context) (primitives.Root, primitives.Slot, error)
	// IsAncestor reports whether ancestor is an ancestor of descendant
	// in the current DAG.
	IsAncestor(ctx context.Context, ancestor, descendant primitives.Root) (bool, error)
	// CommonAncestor returns the most recent common ancestor of a and b.
	CommonAncestor(ctx context.Context, a, b primitives.Root) (primitives.Root, error)
	// NeedsPruning reports whether needStateCachesAndForkChoicePruning
	// is currently set (spec.md §4.4).
	NeedsPruning() bool
	// Prune runs DAG/state-cache pruning.
	Prune(ctx context.Context) error
}

// HeadChangedEvent is published on eventbus.TopicHead whenever
// UpdateHead observes a new head root (spec.md §4.4).
type HeadChangedEvent struct {
	NewHead primitives.Root
	Slot    primitives.Slot
}

// ReorgEvent is published on eventbus.TopicReorg when the new head is
// not a descendant of the previous one.
type ReorgEvent struct {
	OldHead        primitives.Root
	NewHead        primitives.Root
	CommonAncestor primitives.Root
}

const defaultShufflingCacheSize = 4

// ShufflingCache is a bounded LRU mapping an epoch to a cached proposer
// index; ActionTracker does not consult it. It is grounded on the teacher's beacon-chain/cache committee/proposer
// indices LRU caches (github.com/hashicorp/golang-lru, pinned at the
// v1 non-generic API by go.mod).
type ShufflingCache struct {
	cache *lru.Cache
}

// NewShufflingCache constructs a ShufflingCache holding up to size
// entries (defaultShufflingCacheSize if size <= 0).
func NewShufflingCache(size int) (*ShufflingCache, error) {
	if size <= 0 {
		size = defaultShufflingCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "could not construct shuffling cache")
	}
	return &ShufflingCache{cache: c}, nil
}

// Get returns the cached proposer index for epoch, if present.
func (s *ShufflingCache) Get(epoch primitives.Epoch) (primitives.ValidatorIndex, bool) {
	v, ok := s.cache.Get(epoch)
	if !ok {
		return 0, false
	}
	return v.(primitives.ValidatorIndex), true
}

// Put caches the proposer index for epoch.
func (s *ShufflingCache) Put(epoch primitives.Epoch, proposer primitives.ValidatorIndex) {
	s.cache.Add(epoch, proposer)
}

var (
	headSlotGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_manager_head_slot",
		Help: "Slot of the current fork-choice head as last observed by ConsensusManager.",
	})
	reorgTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consensus_manager_reorg_total",
		Help: "Count of head changes where the new head was not a descendant of the previous head.",
	})
)

// Manager implements C4 (spec.md §4.4): head tracking, reorg
// detection, ActionTracker invocation, and DAG-pruning triggers.
type Manager struct {
	chain   ChainReader
	tracker *ActionTracker
	bus     *eventbus.Bus

	mu           sync.Mutex
	lastHead     primitives.Root
	lastHeadSlot primitives.Slot
	haveHead     bool
}

// New constructs a Manager wired to chain, tracker, and bus.
func New(chain ChainReader, tracker *ActionTracker, bus *eventbus.Bus) *Manager {
	return &Manager{chain: chain, tracker: tracker, bus: bus}
}

// UpdateHead re-runs fork-choice via chain.Head and, if the head root
// changed, publishes HeadChangedEvent (and ReorgEvent if the new head
// does not descend from the previous one), per spec.md §4.4's "after
// every accepted block and at each slot boundary" rule.
func (m *Manager) UpdateHead(ctx context.Context) error {
	newHead, slot, err := m.chain.Head(ctx)
	if err != nil {
		return errors.Wrap(err, "could not compute head")
	}

	m.mu.Lock()
	prevHead := m.lastHead
	hadHead := m.haveHead
	changed := !hadHead || newHead != prevHead
	if changed {
		m.lastHead = newHead
		m.lastHeadSlot = slot
		m.haveHead = true
	}
	m.mu.Unlock()

	if !changed {
		return nil
	}

	headSlotGauge.Set(float64(slot))
	m.bus.Publish(eventbus.TopicHead, HeadChangedEvent{NewHead: newHead, Slot: slot})

	if hadHead {
		isAncestor, err := m.chain.IsAncestor(ctx, prevHead, newHead)
		if err != nil {
			log.WithError(err).Warn("could not determine ancestry for reorg detection")
			return nil
		}
		if !isAncestor {
			common, err := m.chain.CommonAncestor(ctx, prevHead, newHead)
			if err != nil {
				log.WithError(err).Warn("could not compute common ancestor for reorg")
				common = primitives.Root{}
			}
			reorgTotal.Inc()
			m.bus.Publish(eventbus.TopicReorg, ReorgEvent{OldHead: prevHead, NewHead: newHead, CommonAncestor: common})
		}
	}

	if m.chain.NeedsPruning() {
		if err := m.chain.Prune(ctx); err != nil {
			log.WithError(err).Warn("DAG/state-cache pruning failed")
		}
	}

	return nil
}

// Head returns the last head root and slot UpdateHead observed.
func (m *Manager) Head() (primitives.Root, primitives.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHead, m.lastHeadSlot, m.haveHead
}

// MaybeUpdateActionTrackerNextEpoch runs the ActionTracker's
// fast-path/fallback decision for nextEpoch (spec.md §4.8 step 8:
// "only if head is synced and execution-valid" — that gating is the
// caller's responsibility, typically SlotScheduler).
func (m *Manager) MaybeUpdateActionTrackerNextEpoch(nextEpoch, currentEpoch primitives.Epoch, version blocks.Version) (bool, error) {
	return m.tracker.MaybeUpdateNextEpoch(nextEpoch, currentEpoch, version)
}
