package blobquarantine_test

import (
	"testing"

	"github.com/lanternlabs/beacon-node/beacon-chain/blobquarantine"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/stretchr/testify/require"
)

func sidecar(t *testing.T, slot primitives.Slot, proposer primitives.ValidatorIndex, parent byte, index uint64) *blocks.BlobSidecar {
	t.Helper()
	return &blocks.BlobSidecar{
		Index: index,
		SignedBlockHeader: &blocks.SignedBeaconBlockHeader{
			Header: &blocks.BeaconBlockHeader{
				Slot:          slot,
				ProposerIndex: proposer,
				ParentRoot:    primitives.Root{parent},
			},
		},
	}
}

func TestPut_AtMostOnce(t *testing.T) {
	q := blobquarantine.New()
	b := sidecar(t, 1, 1, 1, 0)
	q.Put(b)
	q.Put(b)
	require.Equal(t, 1, q.Len())
}

func TestHasBlobs_RequiresContiguousPrefix(t *testing.T) {
	q := blobquarantine.New()
	b := sidecar(t, 5, 2, 9, 0)
	root, err := b.BlockRoot()
	require.NoError(t, err)

	b1 := sidecar(t, 5, 2, 9, 1)
	b2 := sidecar(t, 5, 2, 9, 2)
	q.Put(b1)
	q.Put(b2)
	require.False(t, q.HasBlobs(root, 3), "missing index 0 should fail has_blobs")

	q.Put(b)
	require.True(t, q.HasBlobs(root, 3))
}

func TestPopBlobs_ReturnsContiguousPrefixOnly(t *testing.T) {
	q := blobquarantine.New()
	b0 := sidecar(t, 5, 2, 9, 0)
	b1 := sidecar(t, 5, 2, 9, 1)
	b3 := sidecar(t, 5, 2, 9, 3) // gap at index 2
	root, err := b0.BlockRoot()
	require.NoError(t, err)

	q.Put(b0)
	q.Put(b1)
	q.Put(b3)

	popped := q.PopBlobs(root)
	require.Len(t, popped, 2)
	require.Equal(t, uint64(0), popped[0].Index)
	require.Equal(t, uint64(1), popped[1].Index)

	// index 3 remains, since it wasn't part of the contiguous prefix.
	require.Equal(t, 1, q.Len())
}

func TestBlobIndices_Sorted(t *testing.T) {
	q := blobquarantine.New()
	b2 := sidecar(t, 5, 2, 9, 2)
	b0 := sidecar(t, 5, 2, 9, 0)
	root, err := b0.BlockRoot()
	require.NoError(t, err)

	q.Put(b2)
	q.Put(b0)
	require.Equal(t, []uint64{0, 2}, q.BlobIndices(root))
}

func TestHasBlob_GossipDedup(t *testing.T) {
	q := blobquarantine.New()
	b := sidecar(t, 7, 4, 1, 2)
	q.Put(b)
	require.True(t, q.HasBlob(7, 4, 2))
	require.False(t, q.HasBlob(7, 4, 3))
	require.False(t, q.HasBlob(8, 4, 2))
}

func TestFetchRecord_ReportsMissingIndices(t *testing.T) {
	q := blobquarantine.New()
	b0 := sidecar(t, 5, 2, 9, 0)
	root, err := b0.BlockRoot()
	require.NoError(t, err)
	q.Put(b0)

	rec := q.FetchRecord(root, 3)
	require.Equal(t, root, rec.BlockRoot)
	require.Equal(t, []uint64{1, 2}, rec.MissingIndices)
}

func TestPut_EvictsOldestWhenFull(t *testing.T) {
	q := blobquarantine.New()
	// Fill beyond capacity using distinct block roots (distinct parents)
	// so every Put is a genuinely new key.
	cap := 32 * 6 // mainnet SlotsPerEpoch * MaxBlobsPerBlock
	var first *blocks.BlobSidecar
	for i := 0; i < cap+1; i++ {
		b := sidecar(t, primitives.Slot(i), 1, byte(i), 0)
		if i == 0 {
			first = b
		}
		q.Put(b)
	}
	require.Equal(t, cap, q.Len())
	root, err := first.BlockRoot()
	require.NoError(t, err)
	require.False(t, q.HasBlobs(root, 1), "oldest entry should have been evicted")
}
