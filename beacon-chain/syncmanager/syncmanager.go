// Package syncmanager implements C5 from spec.md §4.5: a range-sync
// engine run as two instances (forward sync and the backfiller)
// differing only in direction and lifecycle, grounded on the teacher's
// beacon-chain/sync/initial-sync/round_robin.go (batch-fetch-then-submit
// loop) and beacon-chain/sync/backfill/service.go (direction-specific
// minimum-slot/worker-count plumbing).
package syncmanager

import (
	"context"
	"sync"
	"time"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "syncmanager")

// Direction distinguishes the two RangeSyncer instances spec.md §4.5
// describes: forward sync chases the wall slot; the backfiller walks
// from the backfill frontier toward genesis.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
)

func (d Direction) String() string {
	if d == DirectionForward {
		return "forward"
	}
	return "backward"
}

// backfillerPollInterval is how often the backfiller checks whether
// forward sync has completed before it may start (spec.md §4.5:
// "waits with polling interval ≈ 2s").
const backfillerPollInterval = 2 * time.Second

// idlePollInterval is how often a caught-up syncer re-checks its
// bounds for new work.
const idlePollInterval = time.Second

// Batch is one fetched range of blocks (and, for Deneb+, their blobs)
// awaiting submission to BlockVerifier.
type Batch struct {
	Blocks []*blocks.SignedBeaconBlock
	Blobs  map[primitives.Root][]*blocks.BlobSidecar
	Peer   peer.ID
}

// PeerPool is the out-of-scope p2p surface RangeSyncer draws batches
// from (spec.md §1: networking internals are external).
type PeerPool interface {
	// BestPeers returns up to max peer IDs suitable for range requests,
	// ordered best-first.
	BestPeers(max int) []peer.ID
	// FetchRange requests [start, end] from peer p.
	FetchRange(ctx context.Context, p peer.ID, start, end primitives.Slot) (Batch, error)
}

// BlockVerifier is the same sink gossip submits to (spec.md §4.5:
// "submits downloaded blocks via the same blockVerifier used by
// gossip"); the composition root wires this to
// blockprocessor.Processor.AddBlock with a fixed Source value.
type BlockVerifier func(ctx context.Context, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error)

// RangeBounds is the [start, end] slot range one sync iteration should
// cover, resolved fresh on every iteration so RangeSyncer stays free
// of ChainDAG/backfill-store coupling.
type RangeBounds struct {
	Start primitives.Slot
	End   primitives.Slot
}

// BoundsFn resolves the current range bounds: for forward sync, (head
// slot, wall slot); for the backfiller, (backfill horizon, backfill
// frontier).
type BoundsFn func() RangeBounds

var (
	batchesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_manager_batches_fetched_total",
		Help: "Count of range-sync batches fetched, by direction.",
	}, []string{"direction"})
	blocksImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_manager_blocks_imported_total",
		Help: "Count of blocks submitted to the block verifier, by direction.",
	}, []string{"direction"})
)

// RangeSyncer drives one direction of range sync (spec.md §4.5). A
// forward RangeSyncer and a backward one are two independently
// configured instances of this same type.
type RangeSyncer struct {
	direction Direction
	cfg       *params.BeaconChainConfig
	peers     PeerPool
	verify    BlockVerifier
	bounds    BoundsFn
	waitOther func() bool // backfiller only: reports whether forward sync has completed
	rate      *ratecounter.RateCounter

	mu      sync.Mutex
	inProg  bool
	stop    chan struct{}
	stopped chan struct{}
}

// NewForwardSyncer constructs the forward-direction RangeSyncer,
// ranging from the chain's head slot to the wall slot.
func NewForwardSyncer(cfg *params.BeaconChainConfig, peers PeerPool, verify BlockVerifier, bounds BoundsFn) *RangeSyncer {
	return newRangeSyncer(DirectionForward, cfg, peers, verify, bounds, nil)
}

// NewBackfiller constructs the backward-direction RangeSyncer, ranging
// from the backfill frontier toward genesis (or a frontfill horizon).
// waitOther reports whether forward sync has completed; the
// backfiller polls it at backfillerPollInterval before starting
// (spec.md §4.5).
func NewBackfiller(cfg *params.BeaconChainConfig, peers PeerPool, verify BlockVerifier, bounds BoundsFn, waitOther func() bool) *RangeSyncer {
	return newRangeSyncer(DirectionBackward, cfg, peers, verify, bounds, waitOther)
}

func newRangeSyncer(dir Direction, cfg *params.BeaconChainConfig, peers PeerPool, verify BlockVerifier, bounds BoundsFn, waitOther func() bool) *RangeSyncer {
	return &RangeSyncer{
		direction: dir,
		cfg:       cfg,
		peers:     peers,
		verify:    verify,
		bounds:    bounds,
		waitOther: waitOther,
		rate:      ratecounter.NewRateCounter(time.Minute),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// InProgress reports whether this syncer currently has a range sync
// underway (spec.md §4.6: RequestManager is gated on this).
func (r *RangeSyncer) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProg
}

func (r *RangeSyncer) setInProgress(v bool) {
	r.mu.Lock()
	r.inProg = v
	r.mu.Unlock()
}

// BlocksPerMinute reports the recent block-import throughput, used
// for sync-progress logging.
func (r *RangeSyncer) BlocksPerMinute() int64 { return r.rate.Rate() }

// Start launches the syncer's run loop (satisfies runtime.Service).
func (r *RangeSyncer) Start(ctx context.Context) error {
	go r.run(ctx)
	return nil
}

// Stop signals the run loop to exit and waits for it.
func (r *RangeSyncer) Stop() error {
	close(r.stop)
	<-r.stopped
	return nil
}

// Status reports healthy unconditionally; a stalled sync is surfaced
// via metrics, not a Service health failure.
func (r *RangeSyncer) Status() error { return nil }

func (r *RangeSyncer) run(ctx context.Context) {
	defer close(r.stopped)

	if r.waitOther != nil {
		ticker := time.NewTicker(backfillerPollInterval)
		defer ticker.Stop()
		for !r.waitOther() {
			select {
			case <-ticker.C:
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		b := r.bounds()
		if r.caughtUp(b) {
			r.setInProgress(false)
			select {
			case <-time.After(idlePollInterval):
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		r.setInProgress(true)
		if err := r.fetchAndSubmit(ctx, b); err != nil {
			log.WithError(err).WithField("direction", r.direction).Warn("range sync iteration failed")
		}
	}
}

func (r *RangeSyncer) caughtUp(b RangeBounds) bool {
	if r.direction == DirectionForward {
		return b.Start >= b.End
	}
	return b.Start <= b.End
}

// fetchAndSubmit fetches one batch within b from the best available
// peer and submits every block it contains to verify, gating blob
// inclusion on MIN_EPOCHS_FOR_BLOB_SIDECARS_REQUESTS for Deneb+
// blocks (spec.md §4.5). maybeFinalized accelerates processing of
// backfill ranges, which are always below the finalized checkpoint.
func (r *RangeSyncer) fetchAndSubmit(ctx context.Context, b RangeBounds) error {
	candidates := r.peers.BestPeers(r.cfg.MaxPeersToSync)
	if len(candidates) == 0 {
		return errors.New("no peers available for range sync")
	}

	start, end := b.Start, b.End
	if start > end {
		start, end = end, start
	}

	batch, err := r.peers.FetchRange(ctx, candidates[0], start, end)
	if err != nil {
		return errors.Wrap(err, "could not fetch range")
	}
	batchesFetched.WithLabelValues(r.direction.String()).Inc()

	maybeFinalized := r.direction == DirectionBackward
	for _, blk := range batch.Blocks {
		root, rerr := computeRoot(blk)
		if rerr != nil {
			log.WithError(rerr).Warn("could not compute block root during range sync")
			continue
		}

		var blobs []*blocks.BlobSidecar
		if blk.Block.Version() == blocks.Deneb && r.blobsRequiredFor(blk.Block.Slot) {
			blobs = batch.Blobs[root]
		}

		resultCh, err := r.verify(ctx, blk, blobs, maybeFinalized)
		if err != nil {
			log.WithError(err).WithField("root", root).Warn("range-sync block rejected at enqueue")
			continue
		}
		select {
		case verr := <-resultCh:
			if verr != nil {
				log.WithError(verr).WithField("root", root).Debug("range-sync block rejected")
			} else {
				r.rate.Incr(1)
				blocksImported.WithLabelValues(r.direction.String()).Inc()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// blobsRequiredFor reports whether peers are still obligated to serve
// blob sidecars for slot, i.e. its epoch is within
// MIN_EPOCHS_FOR_BLOB_SIDECARS_REQUESTS of the current epoch
// (spec.md §4.5). Retention pruning (spec.md §4.8) is what actually
// drops old sidecars; this only decides whether to request them.
func (r *RangeSyncer) blobsRequiredFor(slot primitives.Slot) bool {
	if r.cfg.SlotsPerEpoch == 0 {
		return true
	}
	epoch := primitives.Epoch(uint64(slot) / uint64(r.cfg.SlotsPerEpoch))
	currentEpoch := primitives.Epoch(uint64(r.bounds().End) / uint64(r.cfg.SlotsPerEpoch))
	if currentEpoch <= epoch {
		return true
	}
	return currentEpoch-epoch <= r.cfg.MinEpochsForBlobSidecarsRequests
}

func computeRoot(b *blocks.SignedBeaconBlock) (primitives.Root, error) {
	h := &blocks.BeaconBlockHeader{
		Slot:          b.Block.Slot,
		ProposerIndex: b.Block.ProposerIndex,
		ParentRoot:    b.Block.ParentRoot,
	}
	root, err := h.HashTreeRoot()
	return primitives.Root(root), err
}
