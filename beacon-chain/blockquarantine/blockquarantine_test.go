package blockquarantine_test

import (
	"testing"

	"github.com/lanternlabs/beacon-node/beacon-chain/blockquarantine"
	"github.com/lanternlabs/beacon-node/consensus-types/blocks"
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/stretchr/testify/require"
)

func block(slot primitives.Slot, parent byte) *blocks.SignedBeaconBlock {
	body := &blocks.BeaconBlockBody{}
	return &blocks.SignedBeaconBlock{
		Block: blocks.NewPhase0Block(slot, 1, primitives.Root{parent}, body),
	}
}

func TestAdd_RejectsUnviableFork(t *testing.T) {
	q := blockquarantine.New()
	b := block(5, 1)
	err := q.Add(10, b, primitives.Root{2}, false)
	require.ErrorIs(t, err, blockquarantine.ErrUnviableFork)
}

func TestAdd_RejectsWhenFull(t *testing.T) {
	q := blockquarantine.New()
	for i := 0; i < blockquarantine.DefaultCapacity; i++ {
		b := block(primitives.Slot(i+1), byte(i))
		require.NoError(t, q.Add(0, b, primitives.Root{byte(i), 1}, false))
	}
	over := block(primitives.Slot(blockquarantine.DefaultCapacity+1), 9)
	err := q.Add(0, over, primitives.Root{9, 9}, false)
	require.ErrorIs(t, err, blockquarantine.ErrFull)
}

func TestChildrenOf_RemovesFromBothIndices(t *testing.T) {
	q := blockquarantine.New()
	parent := primitives.Root{7}
	b := block(5, 7)
	require.NoError(t, q.Add(0, b, primitives.Root{5}, false))

	children := q.ChildrenOf(parent)
	require.Len(t, children, 1)
	require.Equal(t, 0, q.Len())

	// A second call finds nothing left.
	require.Empty(t, q.ChildrenOf(parent))
}

func TestRetryBySlot_AscendingOrder(t *testing.T) {
	q := blockquarantine.New()
	require.NoError(t, q.Add(0, block(9, 1), primitives.Root{9}, false))
	require.NoError(t, q.Add(0, block(3, 2), primitives.Root{3}, false))
	require.NoError(t, q.Add(0, block(6, 3), primitives.Root{6}, false))

	items := q.RetryBySlot()
	require.Len(t, items, 3)
	require.Equal(t, primitives.Slot(3), items[0].Block.Block.Slot)
	require.Equal(t, primitives.Slot(6), items[1].Block.Block.Slot)
	require.Equal(t, primitives.Slot(9), items[2].Block.Block.Slot)
}

func TestPruneFinalized_DropsUnviableOnly(t *testing.T) {
	q := blockquarantine.New()
	require.NoError(t, q.Add(0, block(3, 1), primitives.Root{3}, false))
	require.NoError(t, q.Add(0, block(9, 2), primitives.Root{9}, false))

	pruned := q.PruneFinalized(5)
	require.Equal(t, 1, pruned)
	require.Equal(t, 1, q.Len())
}
