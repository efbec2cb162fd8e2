package syncmanager_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanternlabs/beacon-node/beacon-chain/syncmanager"
	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/require"
)

type fakePeerPool struct {
	mu       sync.Mutex
	peers    []peer.ID
	fetchErr error
	batch    syncmanager.Batch
	fetched  int
}

func (f *fakePeerPool) BestPeers(max int) []peer.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) > max {
		return f.peers[:max]
	}
	return f.peers
}

func (f *fakePeerPool) FetchRange(ctx context.Context, p peer.ID, start, end primitives.Slot) (syncmanager.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched++
	if f.fetchErr != nil {
		return syncmanager.Batch{}, f.fetchErr
	}
	return f.batch, nil
}

func phase0Block(slot primitives.Slot) *blocks.SignedBeaconBlock {
	return &blocks.SignedBeaconBlock{
		Block: blocks.NewPhase0Block(slot, 1, primitives.Root{}, &blocks.BeaconBlockBody{}),
	}
}

func TestRangeSyncer_ImportsBatchAndReportsIdle(t *testing.T) {
	cfg := params.MinimalConfig()
	b := phase0Block(1)
	pool := &fakePeerPool{peers: []peer.ID{"p1"}, batch: syncmanager.Batch{Blocks: []*blocks.SignedBeaconBlock{b}}}

	var verified int32
	verify := func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
		ch := make(chan error, 1)
		ch <- nil
		atomic.AddInt32(&verified, 1)
		return ch, nil
	}

	var calls int
	bounds := func() syncmanager.RangeBounds {
		calls++
		if calls == 1 {
			return syncmanager.RangeBounds{Start: 0, End: 10}
		}
		return syncmanager.RangeBounds{Start: 10, End: 10}
	}

	rs := syncmanager.NewForwardSyncer(cfg, pool, verify, bounds)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rs.Start(ctx))

	require.Eventually(t, func() bool { return !rs.InProgress() && calls >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, rs.Stop())
	require.Equal(t, int32(1), atomic.LoadInt32(&verified))
}

func TestRangeSyncer_NoPeersLogsAndRetries(t *testing.T) {
	cfg := params.MinimalConfig()
	pool := &fakePeerPool{}
	verify := func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
		t.Fatal("verify should not be called with no peers")
		return nil, nil
	}
	bounds := func() syncmanager.RangeBounds { return syncmanager.RangeBounds{Start: 0, End: 10} }

	rs := syncmanager.NewForwardSyncer(cfg, pool, verify, bounds)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rs.Start(ctx))
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, rs.Stop())
}

func TestBackfiller_WaitsForForwardSyncCompletion(t *testing.T) {
	cfg := params.MinimalConfig()
	b := phase0Block(5)
	pool := &fakePeerPool{peers: []peer.ID{"p1"}, batch: syncmanager.Batch{Blocks: []*blocks.SignedBeaconBlock{b}}}

	verify := func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
		ch := make(chan error, 1)
		ch <- nil
		return ch, nil
	}

	var mu sync.Mutex
	forwardDone := false
	bounds := func() syncmanager.RangeBounds { return syncmanager.RangeBounds{Start: 0, End: 0} }

	rs := syncmanager.NewBackfiller(cfg, pool, verify, bounds, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return forwardDone
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rs.Start(ctx))
	defer func() {
		cancel()
		rs.Stop()
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, rs.InProgress())

	mu.Lock()
	forwardDone = true
	mu.Unlock()
}

func TestRangeSyncer_BlocksPerMinuteTracksImports(t *testing.T) {
	cfg := params.MinimalConfig()
	b := phase0Block(1)
	pool := &fakePeerPool{peers: []peer.ID{"p1"}, batch: syncmanager.Batch{Blocks: []*blocks.SignedBeaconBlock{b}}}
	verify := func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
		ch := make(chan error, 1)
		ch <- nil
		return ch, nil
	}
	var calls int
	bounds := func() syncmanager.RangeBounds {
		calls++
		if calls == 1 {
			return syncmanager.RangeBounds{Start: 0, End: 10}
		}
		return syncmanager.RangeBounds{Start: 10, End: 10}
	}

	rs := syncmanager.NewForwardSyncer(cfg, pool, verify, bounds)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rs.Start(ctx))
	defer func() {
		cancel()
		rs.Stop()
	}()

	require.Eventually(t, func() bool { return rs.BlocksPerMinute() > 0 }, 2*time.Second, 10*time.Millisecond)
}
