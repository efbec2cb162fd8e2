// Package gossip implements C7 from spec.md §4.7: the topic
// subscription state machine driven by fork schedule, sync status,
// and validator duties, grounded on the teacher's
// beacon-chain/sync/subscriber.go (registerSubscribers/subscribe),
// applying fork changes as a remove-then-add diff, generalized to the fork-versioned
// topic-set table spec.md §4.7 names.
package gossip

import (
	"context"
	"sync"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/libp2p/go-libp2p-pubsub"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "gossip")

// behindHysteresisSlots is the +16-slot margin spec.md §4.7 adds on top of
// syncDistanceThreshold before declaring the node behind, avoiding
// subscribe/unsubscribe flapping right at the boundary.
const behindHysteresisSlots = 16

// Topic names a single gossip message kind, independent of its wire
// digest (fork-qualification and encoding are the p2p layer's
// concern, out of scope per spec.md §1).
type Topic string

const (
	TopicAttesterSlashing Topic = "attester_slashing"
	TopicProposerSlashing Topic = "proposer_slashing"
	TopicVoluntaryExit    Topic = "voluntary_exit"
	TopicAggregateProof   Topic = "aggregate_and_proof"
	TopicAttestationSub   Topic = "beacon_attestation"
	TopicSyncCommitteeSub Topic = "sync_committee"
	TopicContributionProof Topic = "sync_committee_contribution_and_proof"
	TopicBLSToExecution   Topic = "bls_to_execution_change"
	TopicBlobSidecarSub   Topic = "blob_sidecar"
	TopicBeaconBlock      Topic = "beacon_block"
)

// baseTopics (Phase0, spec.md §4.7) are present at every fork.
var baseTopics = []Topic{TopicAttesterSlashing, TopicProposerSlashing, TopicVoluntaryExit, TopicAggregateProof}

// forkTopics returns the non-subnet topics introduced at version,
// cumulative with every earlier fork's topics (spec.md §4.7's table:
// Altair adds sync-committee/contribution, Capella adds
// BLS-to-execution). Deneb adds no topic here, and this controller
// subscribes no blob-sidecar topic or subnet at any fork.
func forkTopics(version blocks.Version) []Topic {
	topics := append([]Topic{}, baseTopics...)
	if version >= blocks.Altair {
		topics = append(topics, TopicContributionProof)
	}
	if version >= blocks.Capella {
		topics = append(topics, TopicBLSToExecution)
	}
	return topics
}

// GossipState is the set of forks (at most two, during a transition
// epoch) whose topics are currently subscribed (spec.md §4.7).
type GossipState struct {
	Forks []blocks.Version
}

func (s GossipState) contains(v blocks.Version) bool {
	for _, f := range s.Forks {
		if f == v {
			return true
		}
	}
	return false
}

// IsBehind reports whether headDistance exceeds the sync-distance
// threshold plus hysteresis (spec.md §4.7:
// "isBehind = headDistance > 64 + 16").
func IsBehind(cfg *params.BeaconChainConfig, headDistance primitives.Slot) bool {
	return headDistance > cfg.SyncDistanceThreshold+behindHysteresisSlots
}

// TargetGossipState computes the set of forks whose topics should be
// subscribed at epoch, given the fork schedule and whether the node is
// behind. While behind (and not optimistically syncing), the target is
// empty (spec.md §4.7: "while behind ... unsubscribe"). At a
// fork-transition epoch the two adjacent forks coexist.
func TargetGossipState(cfg *params.BeaconChainConfig, epoch primitives.Epoch, isBehind bool) GossipState {
	if isBehind {
		return GossipState{}
	}

	schedule := cfg.ForkSchedule()
	current := forkNameToVersion(cfg.ForkAtEpoch(epoch))

	state := GossipState{Forks: []blocks.Version{current}}
	for i, entry := range schedule {
		if entry.Epoch == epoch && i > 0 && schedule[i-1].Epoch < epoch {
			state.Forks = append(state.Forks, forkNameToVersion(schedule[i-1].Name))
		}
	}
	return dedupeVersions(state)
}

// forkNameToVersion maps a params.ForkScheduleEntry.Name to its
// blocks.Version tag.
func forkNameToVersion(name string) blocks.Version {
	switch name {
	case "phase0":
		return blocks.Phase0
	case "altair":
		return blocks.Altair
	case "bellatrix":
		return blocks.Bellatrix
	case "capella":
		return blocks.Capella
	case "deneb":
		return blocks.Deneb
	default:
		return blocks.Phase0
	}
}

func dedupeVersions(s GossipState) GossipState {
	seen := make(map[blocks.Version]bool, len(s.Forks))
	out := GossipState{}
	for _, v := range s.Forks {
		if !seen[v] {
			seen[v] = true
			out.Forks = append(out.Forks, v)
		}
	}
	return out
}

// Diff computes which forks must be removed (present in old, absent
// from target) and which must be added (present in target, absent
// from old), the "remove then add message handlers per fork"
// transition spec.md §4.7 describes.
func Diff(old, target GossipState) (removed, added []blocks.Version) {
	for _, f := range old.Forks {
		if !target.contains(f) {
			removed = append(removed, f)
		}
	}
	for _, f := range target.Forks {
		if !old.contains(f) {
			added = append(added, f)
		}
	}
	return removed, added
}

// SubnetHandle is an installed subscription a Controller can tear
// down; the out-of-scope pubsub/libp2p surface (spec.md §1).
type SubnetHandle interface {
	Cancel()
}

// PubSub is the out-of-scope libp2p-pubsub surface Controller drives
// (spec.md §1: networking internals are external).
type PubSub interface {
	JoinAndSubscribe(topic Topic) (*pubsub.Subscription, SubnetHandle, error)
}

// DutyProvider reports which attestation subnets current validator
// duties require, and each attached validator's pseudo-random
// long-lived stability subnet.
type DutyProvider interface {
	AggregateSubnets(epoch primitives.Epoch) bitfield.Bitvector64
	StabilitySubnets() bitfield.Bitvector64
	SyncCommitteeSubnets(period uint64) bitfield.Bitvector4
}

// Controller is the gossip topic-subscription state machine (spec.md
// §4.7). It holds no network handles itself beyond what PubSub hands
// back from JoinAndSubscribe, matching the teacher's subscriber.go
// pattern of a per-topic handler map the service owns.
type Controller struct {
	cfg   *params.BeaconChainConfig
	pubs  PubSub
	duty  DutyProvider
	mu    sync.Mutex
	state GossipState
	subs  map[Topic]SubnetHandle

	attSubnets    bitfield.Bitvector64
	syncSubnets   bitfield.Bitvector4
	syncPeriod    uint64
	blocksBehind  bool
}

// NewController constructs a Controller with no topics subscribed.
func NewController(cfg *params.BeaconChainConfig, pubs PubSub, duty DutyProvider) *Controller {
	return &Controller{cfg: cfg, pubs: pubs, duty: duty, subs: make(map[Topic]SubnetHandle)}
}

// UpdateGossipStatus recomputes the target GossipState for epoch given
// headDistance and applies the add/remove diff (spec.md §4.7).
func (c *Controller) UpdateGossipStatus(ctx context.Context, epoch primitives.Epoch, headDistance primitives.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isBehind := IsBehind(c.cfg, headDistance)
	target := TargetGossipState(c.cfg, epoch, isBehind)
	removed, added := Diff(c.state, target)

	for _, v := range removed {
		c.removeForkLocked(v)
	}
	for _, v := range added {
		c.addForkLocked(v)
	}
	c.state = target
}

func (c *Controller) addForkLocked(v blocks.Version) {
	for _, topic := range forkTopics(v) {
		if _, ok := c.subs[topic]; ok {
			continue
		}
		_, handle, err := c.pubs.JoinAndSubscribe(topic)
		if err != nil {
			log.WithError(err).WithField("topic", topic).Warn("could not subscribe to gossip topic")
			continue
		}
		c.subs[topic] = handle
	}
}

func (c *Controller) removeForkLocked(v blocks.Version) {
	for _, topic := range forkTopics(v) {
		if handle, ok := c.subs[topic]; ok {
			handle.Cancel()
			delete(c.subs, topic)
		}
	}
}

// UpdateAttestationSubnets recomputes the attestation-subnet
// subscription as aggregate subnets (from current duties) union
// stability subnets, run every slot per spec.md §4.7.
func (c *Controller) UpdateAttestationSubnets(epoch primitives.Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	aggregate := c.duty.AggregateSubnets(epoch)
	stability := c.duty.StabilitySubnets()
	var union bitfield.Bitvector64
	for i := 0; i < 64; i++ {
		if aggregate.BitAt(uint64(i)) || stability.BitAt(uint64(i)) {
			union.SetBitAt(uint64(i), true)
		}
	}
	c.attSubnets = union
}

// UpdateSyncCommitteeTopics recomputes the sync-committee subnet
// subscription when period changes or nearSyncCommitteePeriod(epoch)
// is true, per spec.md §4.7.
func (c *Controller) UpdateSyncCommitteeTopics(epoch primitives.Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	period := syncCommitteePeriod(c.cfg, epoch)
	if period == c.syncPeriod && !c.nearSyncCommitteePeriodLocked(epoch) {
		return
	}
	c.syncPeriod = period
	c.syncSubnets = c.duty.SyncCommitteeSubnets(period)
}

func (c *Controller) nearSyncCommitteePeriodLocked(epoch primitives.Epoch) bool {
	if c.cfg.EpochsPerSyncCommitteePeriod == 0 {
		return false
	}
	remaining := uint64(epoch) % uint64(c.cfg.EpochsPerSyncCommitteePeriod)
	return remaining == uint64(c.cfg.EpochsPerSyncCommitteePeriod)-1
}

func syncCommitteePeriod(cfg *params.BeaconChainConfig, epoch primitives.Epoch) uint64 {
	if cfg.EpochsPerSyncCommitteePeriod == 0 {
		return 0
	}
	return uint64(epoch) / uint64(cfg.EpochsPerSyncCommitteePeriod)
}

// IsBehindForBlocks computes the separate block-gossip behind flag
// spec.md §4.7 names: "isBehindForBlocks = isBehind && !shouldSyncOptimistically",
// since optimistic sync requires staying subscribed to blocks while
// otherwise behind.
func IsBehindForBlocks(cfg *params.BeaconChainConfig, headDistance primitives.Slot, shouldSyncOptimistically bool) bool {
	return IsBehind(cfg, headDistance) && !shouldSyncOptimistically
}

// UpdateBlocksSubscription manages the beacon_block topic separately
// from the rest of gossip state, per spec.md §4.7.
func (c *Controller) UpdateBlocksSubscription(headDistance primitives.Slot, shouldSyncOptimistically bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	behind := IsBehindForBlocks(c.cfg, headDistance, shouldSyncOptimistically)
	_, subscribed := c.subs[TopicBeaconBlock]

	if behind && subscribed {
		c.subs[TopicBeaconBlock].Cancel()
		delete(c.subs, TopicBeaconBlock)
		c.blocksBehind = true
		return
	}
	if !behind && !subscribed {
		_, handle, err := c.pubs.JoinAndSubscribe(TopicBeaconBlock)
		if err != nil {
			log.WithError(err).Warn("could not subscribe to beacon_block topic")
			return
		}
		c.subs[TopicBeaconBlock] = handle
		c.blocksBehind = false
	}
}

// AttestationSubnets reports the currently computed attestation
// subnet union, read by the p2p layer when (un)subscribing subnets.
func (c *Controller) AttestationSubnets() bitfield.Bitvector64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attSubnets
}

// SyncCommitteeSubnets reports the currently computed sync-committee
// subnet set.
func (c *Controller) SyncCommitteeSubnets() bitfield.Bitvector4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncSubnets
}

// ActiveTopics reports the currently subscribed topics, for tests and
// introspection.
func (c *Controller) ActiveTopics() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Topic, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}
