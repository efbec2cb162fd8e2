package primitives

import (
	"encoding/binary"
	"fmt"
)

// SSZUint64 is a uint64 that implements fastssz's Marshaler/HashRoot
// interfaces directly, used as the wire representation of Slot/Epoch
// fields that travel inside SSZ containers owned by CONSENSUS_SPEC.
type SSZUint64 uint64

// SizeSSZ returns the fixed SSZ-encoded size of a uint64.
func (s *SSZUint64) SizeSSZ() int {
	return 8
}

// MarshalSSZTo appends the little-endian encoding of s to dst.
func (s *SSZUint64) MarshalSSZTo(dst []byte) ([]byte, error) {
	marshalled, err := s.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	return append(dst, marshalled...), nil
}

// MarshalSSZ returns the little-endian encoding of s.
func (s *SSZUint64) MarshalSSZ() ([]byte, error) {
	marshalled := make([]byte, 8)
	binary.LittleEndian.PutUint64(marshalled, uint64(*s))
	return marshalled, nil
}

// UnmarshalSSZ decodes buf into s; buf must be exactly 8 bytes.
func (s *SSZUint64) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 8 {
		return fmt.Errorf("expected buffer of length %d but received %d", 8, len(buf))
	}
	*s = SSZUint64(binary.LittleEndian.Uint64(buf))
	return nil
}

// HashTreeRoot computes the SSZ hash-tree-root of the little-endian
// uint64: its 8 little-endian bytes followed by 24 zero bytes.
func (s *SSZUint64) HashTreeRoot() ([32]byte, error) {
	var root [32]byte
	marshalled, err := s.MarshalSSZ()
	if err != nil {
		return root, err
	}
	copy(root[:], marshalled)
	return root, nil
}
