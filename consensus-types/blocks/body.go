package blocks

import "github.com/lanternlabs/beacon-node/consensus-types/primitives"

// Eth1Data is the eth1 deposit-tree vote carried in every block body.
type Eth1Data struct {
	DepositRoot  [32]byte
	DepositCount uint64
	BlockHash    [32]byte
}

// SyncAggregate is the Altair+ sync-committee contribution.
type SyncAggregate struct {
	SyncCommitteeBits      []byte
	SyncCommitteeSignature [96]byte
}

// ExecutionPayloadHeader is the Bellatrix+ execution-payload summary
// carried inside the beacon block body (the full payload lives with
// ELManager, an out-of-scope collaborator; only the header commits to it).
type ExecutionPayloadHeader struct {
	ParentHash    [32]byte
	FeeRecipient  [20]byte
	StateRoot     [32]byte
	ReceiptsRoot  [32]byte
	BlockNumber   uint64
	GasLimit      uint64
	GasUsed       uint64
	Timestamp     uint64
	ExtraData     []byte
	BaseFeePerGas [32]byte
	BlockHash     [32]byte
	TransactionsRoot [32]byte
	WithdrawalsRoot  [32]byte // zero pre-Capella
}

// BLSToExecutionChange is the Capella+ withdrawal-credential migration.
type BLSToExecutionChange struct {
	ValidatorIndex     primitives.ValidatorIndex
	FromBLSPubkey      [48]byte
	ToExecutionAddress [20]byte
}

// KZGCommitment is a 48-byte KZG polynomial commitment, one per blob
// referenced by a Deneb+ block body.
type KZGCommitment [48]byte

// BeaconBlockBody carries every field across all forks; Version governs
// which subset is populated and meaningful. This flat representation
// (rather than N separate structs) keeps the exhaustive switches in
// BeaconBlock's Version-gated accessors (KZGCommitmentCount,
// HasSyncAggregate, HasExecutionPayload) simple while still modeling
// each fork's actual field set.
type BeaconBlockBody struct {
	RandaoReveal      [96]byte
	Eth1Data          Eth1Data
	Graffiti          [32]byte
	ProposerSlashings []ProposerSlashing
	AttesterSlashings []AttesterSlashing
	Attestations      []Attestation
	Deposits          []Deposit
	VoluntaryExits    []SignedVoluntaryExit

	// Altair+.
	SyncAggregate *SyncAggregate

	// Bellatrix+.
	ExecutionPayloadHeader *ExecutionPayloadHeader

	// Capella+.
	BLSToExecutionChanges []BLSToExecutionChange

	// Deneb+.
	BlobKZGCommitments []KZGCommitment
}

// ProposerSlashing, AttesterSlashing, Attestation, Deposit, and
// SignedVoluntaryExit are modeled as opaque operation payloads: their
// internal structure and validity rules belong to CONSENSUS_SPEC
// (out of scope per spec.md §1); the orchestrator only needs to carry,
// count, and forward them.
type (
	ProposerSlashing     struct{ Raw []byte }
	AttesterSlashing     struct{ Raw []byte }
	Attestation          struct {
		Raw            []byte
		Slot           primitives.Slot
		CommitteeIndex primitives.CommitteeIndex
		BeaconBlockRoot primitives.Root
	}
	Deposit              struct{ Raw []byte }
	SignedVoluntaryExit  struct{ Raw []byte }
)
