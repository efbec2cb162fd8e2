// Package blockquarantine implements C2 from spec.md §4.2: a bounded
// holding area for blocks whose parent is unknown or whose blobs are
// missing ("blobless"), grounded on the teacher's
// beacon-chain/sync/pending_blocks_queue.go slot-to-blocks map, which
// this package generalizes to an explicit UnviableFork/MissingParent/
// full-queue contract.
package blockquarantine

import (
	"sort"
	"sync"

	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blockquarantine")

var quarantinedBlockCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "block_quarantine_count",
		Help: "Number of blocks currently held in quarantine pending a parent or blobs.",
	},
)

// ErrUnviableFork is returned when a block's slot is at or before the
// chain's finalized slot: it can never be canonical.
var ErrUnviableFork = errors.New("block is from an unviable fork")

// ErrFull is returned when the quarantine is at capacity; callers
// should retry the insert later (spec.md §4.2).
var ErrFull = errors.New("block quarantine is full")

// DefaultCapacity bounds the quarantine independent of chain config,
// mirroring the teacher's unbounded-but-pruned map with an explicit cap
// per spec.md §4.2 ("Rejects ... when full").
const DefaultCapacity = 4 * 32 * 16 // a few epochs' worth of slots, headroom for forks

// Item is a quarantined block together with the reason it is held:
// missing parent, missing blobs, or both.
type Item struct {
	Block        *blocks.SignedBeaconBlock
	Root         primitives.Root
	MissingBlobs bool
}

// Quarantine holds orphan/blobless blocks keyed by slot (for retry
// ordering, oldest slot first) and by parent root (for fast lookup when
// a parent arrives), exactly the two indices
// beacon-chain/sync/pending_blocks_queue.go's slotToPendingBlocks and
// seenPendingBlocks maintain.
type Quarantine struct {
	mu           sync.Mutex
	byParentRoot map[primitives.Root][]*Item
	bySlot       map[primitives.Slot][]*Item
	count        int
	capacity     int
}

// New constructs an empty Quarantine with DefaultCapacity.
func New() *Quarantine {
	return &Quarantine{
		byParentRoot: make(map[primitives.Root][]*Item),
		bySlot:       make(map[primitives.Slot][]*Item),
		capacity:     DefaultCapacity,
	}
}

// Add inserts block into quarantine. It is rejected with ErrUnviableFork
// if block.Slot <= finalizedSlot (it can never become canonical), or
// with ErrFull if the quarantine is at capacity.
func (q *Quarantine) Add(finalizedSlot primitives.Slot, block *blocks.SignedBeaconBlock, root primitives.Root, missingBlobs bool) error {
	if block.Block.Slot <= finalizedSlot && finalizedSlot > 0 {
		return ErrUnviableFork
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.capacity {
		return ErrFull
	}

	item := &Item{Block: block, Root: root, MissingBlobs: missingBlobs}
	q.byParentRoot[block.Block.ParentRoot] = append(q.byParentRoot[block.Block.ParentRoot], item)
	q.bySlot[block.Block.Slot] = append(q.bySlot[block.Block.Slot], item)
	q.count++
	quarantinedBlockCount.Set(float64(q.count))
	return nil
}

// ChildrenOf returns, and removes, every quarantined block whose
// parent root is parentRoot. Called once the parent has been
// accepted, to re-drive the children through BlockProcessor.
func (q *Quarantine) ChildrenOf(parentRoot primitives.Root) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.byParentRoot[parentRoot]
	if len(items) == 0 {
		return nil
	}
	delete(q.byParentRoot, parentRoot)
	for _, item := range items {
		q.removeFromSlotIndexLocked(item)
	}
	q.count -= len(items)
	quarantinedBlockCount.Set(float64(q.count))
	return items
}

func (q *Quarantine) removeFromSlotIndexLocked(item *Item) {
	slot := item.Block.Block.Slot
	bucket := q.bySlot[slot]
	for i, other := range bucket {
		if other == item {
			q.bySlot[slot] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(q.bySlot[slot]) == 0 {
		delete(q.bySlot, slot)
	}
}

// RetryBySlot returns every quarantined item in ascending slot order,
// the iteration RequestManager uses to drive parent requests
// (grounded on pending_blocks_queue.go's sorted-slot retry loop).
func (q *Quarantine) RetryBySlot() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	slotsList := make([]primitives.Slot, 0, len(q.bySlot))
	for s := range q.bySlot {
		slotsList = append(slotsList, s)
	}
	sort.Slice(slotsList, func(i, j int) bool { return slotsList[i] < slotsList[j] })

	var out []*Item
	for _, s := range slotsList {
		out = append(out, q.bySlot[s]...)
	}
	return out
}

// ResolveBlobs marks the item for root as no longer missing blobs,
// called when BlobQuarantine reports hasBlobs(block) now true.
func (q *Quarantine) ResolveBlobs(root primitives.Root) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, items := range q.byParentRoot {
		for _, item := range items {
			if item.Root == root {
				item.MissingBlobs = false
			}
		}
	}
}

// PruneFinalized drops every quarantined block at or below
// finalizedSlot: such blocks are unviable regardless of why they were
// quarantined (spec.md §4.2).
func (q *Quarantine) PruneFinalized(finalizedSlot primitives.Slot) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pruned := 0
	for slot, items := range q.bySlot {
		if slot > finalizedSlot {
			continue
		}
		for _, item := range items {
			parentItems := q.byParentRoot[item.Block.Block.ParentRoot]
			for i, other := range parentItems {
				if other == item {
					parentItems = append(parentItems[:i], parentItems[i+1:]...)
					break
				}
			}
			if len(parentItems) == 0 {
				delete(q.byParentRoot, item.Block.Block.ParentRoot)
			} else {
				q.byParentRoot[item.Block.Block.ParentRoot] = parentItems
			}
			pruned++
		}
		delete(q.bySlot, slot)
	}
	q.count -= pruned
	quarantinedBlockCount.Set(float64(q.count))
	if pruned > 0 {
		log.WithField("pruned", pruned).Debug("pruned unviable blocks from quarantine")
	}
	return pruned
}

// Len reports current occupancy.
func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
