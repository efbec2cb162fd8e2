// Package blockprocessor implements C3 from spec.md §4.3: the
// single-consumer queue that runs state-transition and fork-choice
// updates, grounded on the teacher's beacon-chain/blockchain/
// receive_block.go (transition -> update head -> feed event ordering)
// and its github.com/pkg/errors wrapping convention.
package blockprocessor

import (
	"context"

	"github.com/lanternlabs/beacon-node/async"
	"github.com/lanternlabs/beacon-node/beacon-chain/blobquarantine"
	"github.com/lanternlabs/beacon-node/beacon-chain/blockquarantine"
	"github.com/lanternlabs/beacon-node/beacon-chain/eventbus"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blockprocessor")

// Source identifies where a block submission originated, for logging
// and for SyncManager/RequestManager backpressure decisions.
type Source int

const (
	SourceGossip Source = iota
	SourceRangeSync
	SourceRequestManager
)

func (s Source) String() string {
	switch s {
	case SourceGossip:
		return "gossip"
	case SourceRangeSync:
		return "range_sync"
	case SourceRequestManager:
		return "request_manager"
	default:
		return "unknown"
	}
}

// ChainUpdate summarizes the effect of applying one block: whether the
// fork-choice head changed, whether that change was a reorg, and
// whether finalization advanced (spec.md §4.4).
type ChainUpdate struct {
	HeadChanged       bool
	NewHead           primitives.Root
	Reorg             bool
	CommonAncestor    primitives.Root
	FinalizedAdvanced bool
	FinalizedEpoch    primitives.Epoch
}

// ChainUpdater is the out-of-scope CONSENSUS_SPEC/ChainDAG/fork-choice
// surface BlockProcessor drives (spec.md §1: state transition and
// fork-choice internals are external collaborators specified only by
// interface).
type ChainUpdater interface {
	// ApplyBlock runs the state transition for block (using blobs when
	// the block's fork requires them) and informs fork-choice,
	// returning a summary of head/reorg/finalization movement.
	ApplyBlock(ctx context.Context, block *blocks.SignedBeaconBlock, root primitives.Root, blobs []*blocks.BlobSidecar) (ChainUpdate, error)
	// HasBlock reports whether root is already known to the DAG.
	HasBlock(root primitives.Root) bool
	// FinalizedSlot returns the current finalized slot.
	FinalizedSlot() primitives.Slot
}

// BlockRootFn computes a block's hash-tree-root; CONSENSUS_SPEC's
// concern (out of scope per spec.md §1), injected so BlockProcessor
// never reaches into SSZ internals itself.
type BlockRootFn func(*blocks.SignedBeaconBlock) (primitives.Root, error)

// BlockAddedEvent is published on eventbus.TopicBlocks after a
// successful state transition (the onBlockAdded callback of spec.md §4.3).
type BlockAddedEvent struct {
	Root primitives.Root
	Slot primitives.Slot
}

// HeadChangedEvent is published on eventbus.TopicHead (onHeadChanged).
type HeadChangedEvent struct {
	NewHead primitives.Root
	Slot    primitives.Slot
}

// ReorgEvent is published on eventbus.TopicReorg (onChainReorg).
type ReorgEvent struct {
	CommonAncestor primitives.Root
}

// FinalizationEvent is published on eventbus.TopicFinalization (onFinalization).
type FinalizationEvent struct {
	Epoch primitives.Epoch
}

type job struct {
	source         Source
	block          *blocks.SignedBeaconBlock
	root           primitives.Root
	blobs          []*blocks.BlobSidecar
	maybeFinalized bool
	resultCh       chan error
}

// DefaultQueueCapacity bounds each of the priority/normal queues,
// giving BlockProcessor the bounded-queue backpressure spec.md §5 requires.
const DefaultQueueCapacity = 256

// Processor is the single-consumer FIFO block-processing queue
// (spec.md §4.3). Ordering is FIFO except that blocks whose parent is
// already known are placed in a preferred queue drained ahead of the
// normal one, matching spec.md's "blocks with known parents may be
// preferred."
type Processor struct {
	chain      ChainUpdater
	blobs      *blobquarantine.Quarantine
	quarantine *blockquarantine.Quarantine
	bus        *eventbus.Bus
	pool       *async.Pool
	rootOf     BlockRootFn

	preferred chan *job
	normal    chan *job
	stop      chan struct{}
	stopped   chan struct{}
}

// New constructs a Processor wired to its collaborators.
func New(chain ChainUpdater, blobs *blobquarantine.Quarantine, quarantine *blockquarantine.Quarantine, bus *eventbus.Bus, pool *async.Pool, rootOf BlockRootFn) *Processor {
	return &Processor{
		chain:      chain,
		blobs:      blobs,
		quarantine: quarantine,
		bus:        bus,
		pool:       pool,
		rootOf:     rootOf,
		preferred:  make(chan *job, DefaultQueueCapacity),
		normal:     make(chan *job, DefaultQueueCapacity),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the single consumer goroutine (satisfies runtime.Service).
func (p *Processor) Start(ctx context.Context) error {
	go p.run(ctx)
	return nil
}

// Stop signals the consumer goroutine to exit and waits for it.
func (p *Processor) Stop() error {
	close(p.stop)
	<-p.stopped
	return nil
}

// Status reports healthy as long as the consumer loop is running;
// a full queue is back-pressure, not a health failure.
func (p *Processor) Status() error { return nil }

func (p *Processor) run(ctx context.Context) {
	defer close(p.stopped)
	for {
		var j *job
		select {
		case j = <-p.preferred:
		default:
			select {
			case j = <-p.preferred:
			case j = <-p.normal:
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		p.handle(ctx, j)
	}
}

// AddBlock enqueues block for processing and returns a future that
// resolves with the result (spec.md §4.3: "future<Result<(), VerifierError>>").
// It never blocks: a full queue returns ErrQueueFull immediately.
func (p *Processor) AddBlock(ctx context.Context, source Source, block *blocks.SignedBeaconBlock, blobs []*blocks.BlobSidecar, maybeFinalized bool) (<-chan error, error) {
	root, err := p.rootOf(block)
	if err != nil {
		return nil, ErrInvalid(err, "could not compute block root")
	}

	j := &job{
		source:         source,
		block:          block,
		root:           root,
		blobs:          blobs,
		maybeFinalized: maybeFinalized,
		resultCh:       make(chan error, 1),
	}

	target := p.normal
	if p.chain.HasBlock(block.Block.ParentRoot) {
		target = p.preferred
	}

	select {
	case target <- j:
		return j.resultCh, nil
	default:
		return nil, ErrQueueFull("block processor queue is full")
	}
}

func (p *Processor) handle(ctx context.Context, j *job) {
	err := p.process(ctx, j)
	j.resultCh <- err
	close(j.resultCh)
	if err != nil {
		var verr *VerifierError
		if asVerifierError(err, &verr) && verr.Kind == KindInvalid {
			log.WithError(err).WithFields(logrus.Fields{
				"slot":   j.block.Block.Slot,
				"root":   j.root,
				"source": j.source,
			}).Warn("rejected invalid block")
		}
	}
}

func asVerifierError(err error, target **VerifierError) bool {
	v, ok := err.(*VerifierError)
	if ok {
		*target = v
	}
	return ok
}

var genesisParentRoot primitives.Root

func (p *Processor) process(ctx context.Context, j *job) error {
	finalizedSlot := p.chain.FinalizedSlot()
	if finalizedSlot > 0 && j.block.Block.Slot <= finalizedSlot {
		return ErrUnviableFork("block slot at or below finalized slot")
	}
	if p.chain.HasBlock(j.root) {
		return ErrDuplicate("block already processed")
	}

	commitmentCount := j.block.Block.KZGCommitmentCount()
	if j.block.Block.Version() == blocks.Deneb && commitmentCount > 0 && j.blobs == nil {
		if !p.blobs.HasBlobs(j.root, commitmentCount) {
			if err := p.quarantine.Add(finalizedSlot, j.block, j.root, true); err != nil {
				return translateQuarantineError(err)
			}
			return ErrMissingParent("blobless Deneb block quarantined pending blobs")
		}
		j.blobs = p.blobs.PopBlobs(j.root)
	}

	if j.block.Block.ParentRoot != genesisParentRoot && !p.chain.HasBlock(j.block.Block.ParentRoot) {
		if err := p.quarantine.Add(finalizedSlot, j.block, j.root, false); err != nil {
			return translateQuarantineError(err)
		}
		return ErrMissingParent("parent not yet known")
	}

	update, err := p.runTransition(ctx, j)
	if err != nil {
		return ErrInvalid(err, "state transition failed")
	}

	p.bus.Publish(eventbus.TopicBlocks, BlockAddedEvent{Root: j.root, Slot: j.block.Block.Slot})
	if update.HeadChanged {
		p.bus.Publish(eventbus.TopicHead, HeadChangedEvent{NewHead: update.NewHead, Slot: j.block.Block.Slot})
		if update.Reorg {
			p.bus.Publish(eventbus.TopicReorg, ReorgEvent{CommonAncestor: update.CommonAncestor})
		}
	}
	if update.FinalizedAdvanced {
		p.bus.Publish(eventbus.TopicFinalization, FinalizationEvent{Epoch: update.FinalizedEpoch})
	}

	p.driveChildren(ctx, j.root)
	return nil
}

func (p *Processor) runTransition(ctx context.Context, j *job) (ChainUpdate, error) {
	var update ChainUpdate
	err := p.pool.Submit(ctx, func() error {
		var innerErr error
		update, innerErr = p.chain.ApplyBlock(ctx, j.block, j.root, j.blobs)
		return innerErr
	})
	return update, err
}

// driveChildren re-submits every block that was quarantined waiting on
// root, now that root has been accepted (spec.md §8 scenario 1: "On
// arrival of index 0, RequestManager re-drives; processor accepts").
func (p *Processor) driveChildren(ctx context.Context, root primitives.Root) {
	children := p.quarantine.ChildrenOf(root)
	for _, item := range children {
		if _, err := p.AddBlock(ctx, SourceRequestManager, item.Block, nil, false); err != nil {
			log.WithError(err).WithField("root", item.Root).Warn("could not re-drive quarantined child")
		}
	}
}

func translateQuarantineError(err error) *VerifierError {
	switch err {
	case blockquarantine.ErrUnviableFork:
		return ErrUnviableFork("block slot at or below finalized slot")
	case blockquarantine.ErrFull:
		return ErrMissingParent("block quarantine is full, retry later")
	default:
		return ErrInvalid(err, "could not quarantine block")
	}
}
