package blocks

import "github.com/lanternlabs/beacon-node/consensus-types/primitives"

// BlobSidecar is the Deneb+ data-availability payload associated with
// a block, indexed 0..N-1 against its body's BlobKZGCommitments
// (spec.md §3).
type BlobSidecar struct {
	Index                   uint64
	SignedBlockHeader       *SignedBeaconBlockHeader
	KZGCommitment           KZGCommitment
	KZGProof                [48]byte
	Data                    []byte
}

// BlockRoot computes the root of the block this sidecar belongs to,
// the key BlobQuarantine indexes on (spec.md §4.1).
func (s *BlobSidecar) BlockRoot() (primitives.Root, error) {
	root, err := s.SignedBlockHeader.Header.HashTreeRoot()
	if err != nil {
		return primitives.Root{}, err
	}
	return primitives.Root(root), nil
}

// Slot is a convenience accessor mirroring fields callers frequently
// need without recomputing the block root (e.g. pruning by slot).
func (s *BlobSidecar) Slot() primitives.Slot {
	return s.SignedBlockHeader.Header.Slot
}

// ProposerIndex is a convenience accessor used by gossip dedup
// (spec.md §4.1 has_blob).
func (s *BlobSidecar) ProposerIndex() primitives.ValidatorIndex {
	return s.SignedBlockHeader.Header.ProposerIndex
}
