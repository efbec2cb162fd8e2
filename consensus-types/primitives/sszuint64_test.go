package primitives_test

import (
	"testing"

	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	"github.com/stretchr/testify/require"
)

func TestSSZUint64_RoundTrip(t *testing.T) {
	fixedVal := uint64(8)
	sszVal := primitives.SSZUint64(fixedVal)

	marshalled, err := sszVal.MarshalSSZ()
	require.NoError(t, err)

	var newVal primitives.SSZUint64
	require.NoError(t, newVal.UnmarshalSSZ(marshalled))
	require.Equal(t, fixedVal, uint64(newVal))
}

func TestSSZUint64_UnmarshalSSZ_WrongLength(t *testing.T) {
	var s primitives.SSZUint64
	err := s.UnmarshalSSZ(make([]byte, 7))
	require.ErrorContains(t, err, "expected buffer of length")
}

func TestSSZUint64_HashTreeRoot(t *testing.T) {
	s := primitives.SSZUint64(0)
	root, err := s.HashTreeRoot()
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, root)
}

func TestSlot_ToEpoch(t *testing.T) {
	require.Equal(t, primitives.Epoch(0), primitives.Slot(0).ToEpoch(32))
	require.Equal(t, primitives.Epoch(0), primitives.Slot(31).ToEpoch(32))
	require.Equal(t, primitives.Epoch(1), primitives.Slot(32).ToEpoch(32))
}

func TestEpoch_StartSlot(t *testing.T) {
	require.Equal(t, primitives.Slot(0), primitives.Epoch(0).StartSlot(32))
	require.Equal(t, primitives.Slot(32), primitives.Epoch(1).StartSlot(32))
}

func TestIsEpochStart(t *testing.T) {
	require.True(t, primitives.IsEpochStart(primitives.Slot(0), 32))
	require.True(t, primitives.IsEpochStart(primitives.Slot(32), 32))
	require.False(t, primitives.IsEpochStart(primitives.Slot(33), 32))
}
