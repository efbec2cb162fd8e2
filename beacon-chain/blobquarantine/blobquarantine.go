// Package blobquarantine implements C1 from spec.md §4.1: a bounded
// FIFO holding area for blob sidecars whose block has not yet arrived.
package blobquarantine

import (
	"sort"
	"sync"

	"github.com/lanternlabs/beacon-node/config/params"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blobquarantine")

var blobQuarantineCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "blob_quarantine_count",
		Help: "Number of blob sidecars currently held in quarantine.",
	},
)

// key identifies a quarantined sidecar by (block_root, index).
type key struct {
	root  primitives.Root
	index uint64
}

// entry pairs a quarantined sidecar with its insertion sequence number,
// used to implement FIFO eviction (spec.md §4.1: "evict oldest by
// insertion order").
type entry struct {
	blob *blocks.BlobSidecar
	seq  uint64
}

// Record reports, for a given block, which of its expected blob
// indices are still missing from quarantine (spec.md §4.1 fetch_record).
type Record struct {
	BlockRoot       primitives.Root
	MissingIndices  []uint64
}

// Quarantine is a capacity-bounded FIFO keyed by (block_root, index).
// Capacity is SlotsPerEpoch * MaxBlobsPerBlock (spec.md §4.1). All
// methods are safe for concurrent use, though per spec.md §5 only the
// event loop is expected to call them.
type Quarantine struct {
	mu       sync.Mutex
	byKey    map[key]*entry
	nextSeq  uint64
	capacity int
}

// New constructs an empty Quarantine sized from the active chain config.
func New() *Quarantine {
	cfg := params.BeaconConfig()
	return &Quarantine{
		byKey:    make(map[key]*entry),
		capacity: int(uint64(cfg.SlotsPerEpoch) * cfg.MaxBlobsPerBlock),
	}
}

// Put inserts blob, computing its block root from the signed header.
// Insertion is at-most-once per (root, index): a duplicate key is a
// no-op. If the quarantine is at capacity, the oldest entry (by
// insertion order) is evicted first. Put never fails: per spec.md
// §4.1, insertion is advisory and may silently drop under pressure.
func (q *Quarantine) Put(blob *blocks.BlobSidecar) {
	root, err := blob.BlockRoot()
	if err != nil {
		log.WithError(err).Warn("could not compute block root for blob sidecar, dropping")
		return
	}
	k := key{root: root, index: blob.Index}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byKey[k]; exists {
		return
	}
	if len(q.byKey) >= q.capacity {
		q.evictOldestLocked()
	}
	q.byKey[k] = &entry{blob: blob, seq: q.nextSeq}
	q.nextSeq++
	blobQuarantineCount.Set(float64(len(q.byKey)))
}

func (q *Quarantine) evictOldestLocked() {
	var oldestKey key
	var oldestSeq uint64 = ^uint64(0)
	found := false
	for k, e := range q.byKey {
		if !found || e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
			found = true
		}
	}
	if found {
		delete(q.byKey, oldestKey)
	}
}

// BlobIndices returns the sorted indices present for root.
func (q *Quarantine) BlobIndices(root primitives.Root) []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var indices []uint64
	for k := range q.byKey {
		if k.root == root {
			indices = append(indices, k.index)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// HasBlob reports whether (root-implied-by-slot/proposer, index) is
// present; used for gossip dedup (spec.md §4.1 has_blob), which only
// has slot+proposer_index to identify the block, not its root, so this
// does a linear scan matching on the cached header fields.
func (q *Quarantine) HasBlob(slot primitives.Slot, proposerIndex primitives.ValidatorIndex, index uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k, e := range q.byKey {
		if k.index != index {
			continue
		}
		if e.blob.Slot() == slot && e.blob.ProposerIndex() == proposerIndex {
			return true
		}
	}
	return false
}

// HasBlobs reports whether every index in [0, commitmentCount) is
// present for root (spec.md §4.1 has_blobs: "count matches ... and
// indices are exactly 0..N-1 contiguous").
func (q *Quarantine) HasBlobs(root primitives.Root, commitmentCount int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < commitmentCount; i++ {
		if _, ok := q.byKey[key{root: root, index: uint64(i)}]; !ok {
			return false
		}
	}
	return true
}

// PopBlobs removes and returns the contiguous prefix of blobs for root
// starting at index 0, stopping at the first gap (spec.md §4.1
// pop_blobs). The returned slice is in index order.
func (q *Quarantine) PopBlobs(root primitives.Root) []*blocks.BlobSidecar {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*blocks.BlobSidecar
	for i := uint64(0); ; i++ {
		k := key{root: root, index: i}
		e, ok := q.byKey[k]
		if !ok {
			break
		}
		out = append(out, e.blob)
		delete(q.byKey, k)
	}
	blobQuarantineCount.Set(float64(len(q.byKey)))
	return out
}

// FetchRecord reports which indices in [0, commitmentCount) are still
// missing for root (spec.md §4.1 fetch_record), driving RequestManager's
// targeted by-root-and-index blob fetches.
func (q *Quarantine) FetchRecord(root primitives.Root, commitmentCount int) Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec := Record{BlockRoot: root}
	for i := 0; i < commitmentCount; i++ {
		if _, ok := q.byKey[key{root: root, index: uint64(i)}]; !ok {
			rec.MissingIndices = append(rec.MissingIndices, uint64(i))
		}
	}
	return rec
}

// Len reports the current occupancy, for tests and metrics.
func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}
