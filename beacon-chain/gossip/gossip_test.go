package gossip_test

import (
	"context"
	"sync"
	"testing"

	"github.com/lanternlabs/beacon-node/beacon-chain/gossip"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ cancelled *bool }

func (h fakeHandle) Cancel() { *h.cancelled = true }

type fakePubSub struct {
	mu        sync.Mutex
	joined    map[gossip.Topic]int
	cancelled map[gossip.Topic]*bool
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{joined: make(map[gossip.Topic]int), cancelled: make(map[gossip.Topic]*bool)}
}

func (f *fakePubSub) JoinAndSubscribe(topic gossip.Topic) (*pubsub.Subscription, gossip.SubnetHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[topic]++
	cancelled := false
	f.cancelled[topic] = &cancelled
	return nil, fakeHandle{cancelled: &cancelled}, nil
}

type fakeDuty struct {
	aggregate bitfield.Bitvector64
	stability bitfield.Bitvector64
	sync      bitfield.Bitvector4
}

func (f fakeDuty) AggregateSubnets(epoch primitives.Epoch) bitfield.Bitvector64 { return f.aggregate }
func (f fakeDuty) StabilitySubnets() bitfield.Bitvector64                      { return f.stability }
func (f fakeDuty) SyncCommitteeSubnets(period uint64) bitfield.Bitvector4      { return f.sync }

func TestIsBehind_HysteresisBoundary(t *testing.T) {
	cfg := params.MinimalConfig()
	require.False(t, gossip.IsBehind(cfg, cfg.SyncDistanceThreshold+16))
	require.True(t, gossip.IsBehind(cfg, cfg.SyncDistanceThreshold+17))
}

func TestTargetGossipState_EmptyWhenBehind(t *testing.T) {
	cfg := params.MinimalConfig()
	state := gossip.TargetGossipState(cfg, 10, true)
	require.Empty(t, state.Forks)
}

func TestTargetGossipState_CoexistsAtTransitionEpoch(t *testing.T) {
	cfg := params.MainnetConfig()
	state := gossip.TargetGossipState(cfg, cfg.AltairForkEpoch, false)
	require.Contains(t, state.Forks, blocks.Phase0)
	require.Contains(t, state.Forks, blocks.Altair)
	require.Len(t, state.Forks, 2)
}

func TestDiff_ComputesAddedAndRemoved(t *testing.T) {
	old := gossip.GossipState{Forks: []blocks.Version{blocks.Phase0}}
	target := gossip.GossipState{Forks: []blocks.Version{blocks.Altair}}
	removed, added := gossip.Diff(old, target)
	require.Equal(t, []blocks.Version{blocks.Phase0}, removed)
	require.Equal(t, []blocks.Version{blocks.Altair}, added)
}

func TestController_UpdateGossipStatus_SubscribesAndUnsubscribes(t *testing.T) {
	cfg := params.MinimalConfig()
	pubs := newFakePubSub()
	c := gossip.NewController(cfg, pubs, fakeDuty{})

	c.UpdateGossipStatus(context.Background(), 0, 0)
	require.NotEmpty(t, c.ActiveTopics())

	c.UpdateGossipStatus(context.Background(), 0, cfg.SyncDistanceThreshold+100)
	require.Empty(t, c.ActiveTopics())
}

func TestController_UpdateBlocksSubscription_StaysSubscribedWhenOptimistic(t *testing.T) {
	cfg := params.MinimalConfig()
	pubs := newFakePubSub()
	c := gossip.NewController(cfg, pubs, fakeDuty{})

	c.UpdateBlocksSubscription(cfg.SyncDistanceThreshold+100, true)
	require.Contains(t, c.ActiveTopics(), gossip.TopicBeaconBlock)

	c.UpdateBlocksSubscription(cfg.SyncDistanceThreshold+100, false)
	require.NotContains(t, c.ActiveTopics(), gossip.TopicBeaconBlock)
}

func TestController_UpdateAttestationSubnets_UnionsAggregateAndStability(t *testing.T) {
	cfg := params.MinimalConfig()
	pubs := newFakePubSub()
	var agg, stab bitfield.Bitvector64
	agg.SetBitAt(3, true)
	stab.SetBitAt(9, true)
	c := gossip.NewController(cfg, pubs, fakeDuty{aggregate: agg, stability: stab})

	c.UpdateAttestationSubnets(0)
	union := c.AttestationSubnets()
	require.True(t, union.BitAt(3))
	require.True(t, union.BitAt(9))
	require.False(t, union.BitAt(5))
}
