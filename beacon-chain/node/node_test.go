package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-pubsub"
	"github.com/lanternlabs/beacon-node/beacon-chain/blockprocessor"
	"github.com/lanternlabs/beacon-node/beacon-chain/consensusmanager"
	"github.com/lanternlabs/beacon-node/beacon-chain/duties"
	"github.com/lanternlabs/beacon-node/beacon-chain/gossip"
	"github.com/lanternlabs/beacon-node/beacon-chain/node"
	"github.com/lanternlabs/beacon-node/beacon-chain/scheduler"
	"github.com/lanternlabs/beacon-node/beacon-chain/syncmanager"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/require"
)

type fakeChain struct{}

func (f *fakeChain) ApplyBlock(ctx context.Context, block *blocks.SignedBeaconBlock, root primitives.Root, blobs []*blocks.BlobSidecar) (blockprocessor.ChainUpdate, error) {
	return blockprocessor.ChainUpdate{}, nil
}
func (f *fakeChain) HasBlock(root primitives.Root) bool    { return false }
func (f *fakeChain) FinalizedSlot() primitives.Slot        { return 0 }
func (f *fakeChain) Head(ctx context.Context) (primitives.Root, primitives.Slot, error) {
	return primitives.Root{}, 0, nil
}
func (f *fakeChain) IsAncestor(ctx context.Context, ancestor, descendant primitives.Root) (bool, error) {
	return true, nil
}
func (f *fakeChain) CommonAncestor(ctx context.Context, a, b primitives.Root) (primitives.Root, error) {
	return primitives.Root{}, nil
}
func (f *fakeChain) NeedsPruning() bool          { return false }
func (f *fakeChain) Prune(ctx context.Context) error { return nil }

type fakeShuffling struct{}

func (f *fakeShuffling) NextEpochShufflingAvailable(epoch primitives.Epoch) bool { return true }
func (f *fakeShuffling) FirstProposerOfEpoch(epoch primitives.Epoch) (primitives.ValidatorIndex, error) {
	return 0, nil
}
func (f *fakeShuffling) ValidatorSnapshot(index primitives.ValidatorIndex) (consensusmanager.ValidatorSnapshot, error) {
	return consensusmanager.ValidatorSnapshot{}, nil
}
func (f *fakeShuffling) UpdateActions(nextEpoch primitives.Epoch, proposer primitives.ValidatorIndex) error {
	return nil
}
func (f *fakeShuffling) EpochRefFallback(nextEpoch primitives.Epoch) error { return nil }

type fakePeerPool struct{}

func (f *fakePeerPool) BestPeers(max int) []peer.ID { return nil }
func (f *fakePeerPool) FetchRange(ctx context.Context, p peer.ID, start, end primitives.Slot) (syncmanager.Batch, error) {
	return syncmanager.Batch{}, nil
}

// caughtUpBounds reports a range already at equilibrium so RangeSyncer
// never needs a peer in this test.
func caughtUpBounds() syncmanager.RangeBounds {
	return syncmanager.RangeBounds{Start: 0, End: 0}
}

type fakePeerSource struct{}

func (f *fakePeerSource) BestPeer() (peer.ID, bool) { return "", false }

type fakePubSub struct{}

func (f *fakePubSub) JoinAndSubscribe(topic gossip.Topic) (*pubsub.Subscription, gossip.SubnetHandle, error) {
	return nil, nil, nil
}

type fakeDuty struct{}

func (f *fakeDuty) AggregateSubnets(epoch primitives.Epoch) bitfield.Bitvector64 { return nil }
func (f *fakeDuty) StabilitySubnets() bitfield.Bitvector64                      { return nil }
func (f *fakeDuty) SyncCommitteeSubnets(period uint64) bitfield.Bitvector4      { return nil }

type fakeStatus struct{}

func (f *fakeStatus) HeadSlot() primitives.Slot      { return 0 }
func (f *fakeStatus) HeadVersion() blocks.Version     { return blocks.Altair }
func (f *fakeStatus) IsSynced() bool                  { return true }
func (f *fakeStatus) IsExecutionValid() bool          { return true }
func (f *fakeStatus) ShouldSyncOptimistically() bool  { return false }
func (f *fakeStatus) FinalizationAdvanced() bool      { return false }

type fakeRoles struct{}

func (f *fakeRoles) RolesAt(ctx context.Context, slot primitives.Slot) (map[duties.PubKey][]duties.Role, error) {
	return nil, nil
}

type fakeRunner struct{}

func (f *fakeRunner) SubmitAttestation(ctx context.Context, slot primitives.Slot, key duties.PubKey) {}
func (f *fakeRunner) SubmitAggregateAndProof(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
}
func (f *fakeRunner) ProposeBlock(ctx context.Context, slot primitives.Slot, key duties.PubKey) {}
func (f *fakeRunner) SubmitSyncCommitteeMessage(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
}
func (f *fakeRunner) SubmitSyncCommitteeContribution(ctx context.Context, slot primitives.Slot, key duties.PubKey) {
}

type fakeRegistrar struct{}

func (f *fakeRegistrar) SubmitRegistration(ctx context.Context, key duties.PubKey, builderURL string) error {
	return nil
}

func testDeps() node.Dependencies {
	return node.Dependencies{
		Chain:     &fakeChain{},
		RootOf:    func(*blocks.SignedBeaconBlock) (primitives.Root, error) { return primitives.Root{}, nil },
		Shuffling: &fakeShuffling{},

		ForwardPeers:   &fakePeerPool{},
		ForwardBounds:  caughtUpBounds,
		BackfillPeers:  &fakePeerPool{},
		BackfillBounds: caughtUpBounds,

		RequestPeers:     &fakePeerSource{},
		FetchBlockByRoot: func(ctx context.Context, p peer.ID, root primitives.Root) (*blocks.SignedBeaconBlock, error) { return nil, nil },
		FetchBlobsByRoot: func(ctx context.Context, p peer.ID, root primitives.Root, indices []uint64) ([]*blocks.BlobSidecar, error) { return nil, nil },

		PubSub: &fakePubSub{},
		Duty:   &fakeDuty{},

		Status: &fakeStatus{},
		Hooks:  scheduler.MaintenanceHooks{},

		Roles:     &fakeRoles{},
		Runner:    &fakeRunner{},
		Registrar: &fakeRegistrar{},
		Builders:  func() map[duties.PubKey]string { return nil },
	}
}

func testConfig() node.Config {
	stop := primitives.Epoch(0)
	return node.Config{
		ChainConfig:           params.MinimalConfig(),
		GenesisTime:           time.Now(),
		HistoryMode:           scheduler.HistoryPrune,
		StopAtSyncedEpoch:     &stop,
		DoppelgangerSkipCheck: true,
	}
}

func TestNew_RejectsMissingChainConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ChainConfig = nil
	_, err := node.New(cfg, testDeps())
	require.Error(t, err)
}

func TestNew_RejectsMissingChain(t *testing.T) {
	deps := testDeps()
	deps.Chain = nil
	_, err := node.New(testConfig(), deps)
	require.Error(t, err)
}

func TestNew_WiresEveryComponent(t *testing.T) {
	n, err := node.New(testConfig(), testDeps())
	require.NoError(t, err)
	require.NotNil(t, n)
}

func TestNode_StartRunClose(t *testing.T) {
	n, err := node.New(testConfig(), testDeps())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	require.Equal(t, node.StatusRunning, n.Status())

	require.Error(t, n.Start(ctx), "starting twice must fail")

	require.NoError(t, n.Close())
	require.Equal(t, node.StatusStopped, n.Status())

	require.Error(t, n.Close(), "closing twice must fail")
}
