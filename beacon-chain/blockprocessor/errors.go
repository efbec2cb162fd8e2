package blockprocessor

import "github.com/pkg/errors"

// VerifierError is the taxonomy BlockProcessor surfaces to callers
// (spec.md §4.3, §7). Only ErrInvalid is peer-punishable; the others
// reflect timing or capacity conditions a well-behaved peer can cause.
type VerifierError struct {
	Kind VerifierErrorKind
	Err  error
}

// VerifierErrorKind enumerates the five kinds spec.md §4.3 names.
type VerifierErrorKind int

const (
	// KindMissingParent: the block's parent (or, for Deneb+, its blobs)
	// has not yet been seen; the block was quarantined for later retry.
	KindMissingParent VerifierErrorKind = iota
	// KindUnviableFork: the block's slot is at or below the finalized
	// slot; it can never become canonical.
	KindUnviableFork
	// KindInvalid: the block failed state-transition or fork-choice
	// validation. The only kind that justifies penalizing the sending peer.
	KindInvalid
	// KindDuplicate: an equivalent block has already been processed.
	KindDuplicate
	// KindQueueFull: BlockProcessor's queue is at capacity; callers
	// should back off (spec.md §5 backpressure).
	KindQueueFull
)

func (k VerifierErrorKind) String() string {
	switch k {
	case KindMissingParent:
		return "MissingParent"
	case KindUnviableFork:
		return "UnviableFork"
	case KindInvalid:
		return "Invalid"
	case KindDuplicate:
		return "Duplicate"
	case KindQueueFull:
		return "QueueFull"
	default:
		return "Unknown"
	}
}

func (e *VerifierError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *VerifierError) Unwrap() error { return e.Err }

// PeerPunishable reports whether the sending peer should be scored
// down for having sent this block (spec.md §7: "Only Invalid is
// peer-punishable").
func (e *VerifierError) PeerPunishable() bool {
	return e.Kind == KindInvalid
}

func newVerifierError(kind VerifierErrorKind, cause error, msg string) *VerifierError {
	var err error
	if cause != nil {
		err = errors.Wrap(cause, msg)
	} else if msg != "" {
		err = errors.New(msg)
	}
	return &VerifierError{Kind: kind, Err: err}
}

// ErrMissingParent constructs a KindMissingParent VerifierError.
func ErrMissingParent(msg string) *VerifierError { return newVerifierError(KindMissingParent, nil, msg) }

// ErrUnviableFork constructs a KindUnviableFork VerifierError.
func ErrUnviableFork(msg string) *VerifierError { return newVerifierError(KindUnviableFork, nil, msg) }

// ErrInvalid constructs a KindInvalid VerifierError wrapping cause.
func ErrInvalid(cause error, msg string) *VerifierError { return newVerifierError(KindInvalid, cause, msg) }

// ErrDuplicate constructs a KindDuplicate VerifierError.
func ErrDuplicate(msg string) *VerifierError { return newVerifierError(KindDuplicate, nil, msg) }

// ErrQueueFull constructs a KindQueueFull VerifierError.
func ErrQueueFull(msg string) *VerifierError { return newVerifierError(KindQueueFull, nil, msg) }
