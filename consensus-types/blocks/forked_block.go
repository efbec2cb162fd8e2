package blocks

import (
	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
	ssz "github.com/prysmaticlabs/fastssz"
)

// BeaconBlock is the fork-agnostic envelope: header fields every
// version shares, plus a Body whose populated fields depend on Version.
type BeaconBlock struct {
	version       Version
	Slot          primitives.Slot
	ProposerIndex primitives.ValidatorIndex
	ParentRoot    primitives.Root
	StateRoot     primitives.Root
	Body          *BeaconBlockBody
}

// Version reports which fork variant this block carries, used to
// dispatch by exhaustive switch (Design Note 2) rather than reflection.
func (b *BeaconBlock) Version() Version {
	return b.version
}

// SignedBeaconBlock pairs a BeaconBlock with its proposer signature.
type SignedBeaconBlock struct {
	Block     *BeaconBlock
	Signature [96]byte
}

// NewPhase0Block constructs a phase0 block; body must not set any
// Altair-or-later-only field (the constructor does not check this).
func NewPhase0Block(slot primitives.Slot, proposer primitives.ValidatorIndex, parentRoot primitives.Root, body *BeaconBlockBody) *BeaconBlock {
	return &BeaconBlock{version: Phase0, Slot: slot, ProposerIndex: proposer, ParentRoot: parentRoot, Body: body}
}

// NewAltairBlock constructs an Altair block; body.SyncAggregate must be set.
func NewAltairBlock(slot primitives.Slot, proposer primitives.ValidatorIndex, parentRoot primitives.Root, body *BeaconBlockBody) *BeaconBlock {
	return &BeaconBlock{version: Altair, Slot: slot, ProposerIndex: proposer, ParentRoot: parentRoot, Body: body}
}

// NewBellatrixBlock constructs a Bellatrix block; body.ExecutionPayloadHeader must be set.
func NewBellatrixBlock(slot primitives.Slot, proposer primitives.ValidatorIndex, parentRoot primitives.Root, body *BeaconBlockBody) *BeaconBlock {
	return &BeaconBlock{version: Bellatrix, Slot: slot, ProposerIndex: proposer, ParentRoot: parentRoot, Body: body}
}

// NewCapellaBlock constructs a Capella block.
func NewCapellaBlock(slot primitives.Slot, proposer primitives.ValidatorIndex, parentRoot primitives.Root, body *BeaconBlockBody) *BeaconBlock {
	return &BeaconBlock{version: Capella, Slot: slot, ProposerIndex: proposer, ParentRoot: parentRoot, Body: body}
}

// NewDenebBlock constructs a Deneb block; body.BlobKZGCommitments may be non-empty.
func NewDenebBlock(slot primitives.Slot, proposer primitives.ValidatorIndex, parentRoot primitives.Root, body *BeaconBlockBody) *BeaconBlock {
	return &BeaconBlock{version: Deneb, Slot: slot, ProposerIndex: proposer, ParentRoot: parentRoot, Body: body}
}

// KZGCommitmentCount returns the number of blob commitments this block's
// body references. Zero for every version before Deneb.
func (b *BeaconBlock) KZGCommitmentCount() int {
	switch b.version {
	case Deneb:
		return len(b.Body.BlobKZGCommitments)
	default:
		return 0
	}
}

// HasSyncAggregate reports whether the block's version carries a sync
// aggregate (Altair onward).
func (b *BeaconBlock) HasSyncAggregate() bool {
	switch b.version {
	case Altair, Bellatrix, Capella, Deneb:
		return true
	default:
		return false
	}
}

// HasExecutionPayload reports whether the block's version carries an
// execution payload header (Bellatrix onward).
func (b *BeaconBlock) HasExecutionPayload() bool {
	switch b.version {
	case Bellatrix, Capella, Deneb:
		return true
	default:
		return false
	}
}

// BeaconBlockHeader is the compact, body-root-only representation of a
// block used for blob-sidecar signed headers (spec.md §3) and for
// quarantine/fork-choice bookkeeping that doesn't need the full body.
type BeaconBlockHeader struct {
	Slot          primitives.Slot
	ProposerIndex primitives.ValidatorIndex
	ParentRoot    primitives.Root
	StateRoot     primitives.Root
	BodyRoot      primitives.Root
}

// HashTreeRoot computes the header's SSZ hash-tree-root via a
// merkleization of its five 32-byte-aligned fields. This stands in for
// the full generated SSZ container (SSZ internals are CONSENSUS_SPEC's
// concern, out of scope per spec.md §1); the orchestrator only needs a
// stable, collision-resistant root to key quarantines and the DAG by.
func (h *BeaconBlockHeader) HashTreeRoot() ([32]byte, error) {
	hh := ssz.NewHasher()
	hh.PutUint64(uint64(h.Slot))
	hh.PutUint64(uint64(h.ProposerIndex))
	hh.PutBytes(h.ParentRoot[:])
	hh.PutBytes(h.StateRoot[:])
	hh.PutBytes(h.BodyRoot[:])
	return hh.HashRoot()
}

// SignedBeaconBlockHeader pairs a header with its proposer signature,
// the payload format blob sidecars reference (spec.md §3).
type SignedBeaconBlockHeader struct {
	Header    *BeaconBlockHeader
	Signature [96]byte
}
