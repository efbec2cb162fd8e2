package primitives

import "fmt"

// Root is a 32-byte digest identifying a block, state, or other
// SSZ-hashable object by its hash-tree-root.
type Root [32]byte

// String renders the root as a 0x-prefixed hex string of all 32 bytes.
func (r Root) String() string {
	return fmt.Sprintf("0x%x", r[:])
}

// IsZero reports whether r is the zero root.
func (r Root) IsZero() bool {
	return r == Root{}
}

// RootFromBytes copies b into a Root, left-padding is not performed:
// b must be exactly 32 bytes.
func RootFromBytes(b []byte) (Root, error) {
	var r Root
	if len(b) != 32 {
		return r, fmt.Errorf("invalid root length %d, expected 32", len(b))
	}
	copy(r[:], b)
	return r, nil
}
