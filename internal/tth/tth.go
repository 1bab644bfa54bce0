// Package tth defines the Tiger Tree Hash digest type and the running leaf
// hasher used while receiving a block of a download. The TTH primitive
// itself (Tiger, combined pairwise into a Merkle tree) is out of scope for
// this module — see spec.md's Non-goals — so the leaf hasher is built on a
// swappable hash.Hash. Production deployments plug in a real Tiger-based
// implementation; the leaf size and digest width below match TTH's.
package tth

import (
	"encoding/base32"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Size is the width in bytes of a TTH leaf or root digest.
const Size = 24

// Leaf is a single TTH leaf or root digest.
type Leaf [Size]byte

// base32Enc is DC++'s base32 alphabet: RFC 4648, uppercase, unpadded.
var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// String returns the base32 encoding used on the wire (TTH/<base32>).
func (l Leaf) String() string {
	return base32Enc.EncodeToString(l[:])
}

// ParseLeaf decodes a base32-encoded TTH as seen in ADC/NMDC messages.
func ParseLeaf(s string) (Leaf, error) {
	var l Leaf
	b, err := base32Enc.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("tth: invalid base32 leaf %q: %w", s, err)
	}
	if len(b) != Size {
		return l, fmt.Errorf("tth: decoded leaf has %d bytes, want %d", len(b), Size)
	}
	copy(l[:], b)
	return l, nil
}

// LeafHasher accumulates the bytes of a single block and finalizes them into
// a Leaf. A fresh LeafHasher is used per block; the thread resets it at
// every block boundary.
type LeafHasher struct {
	h hash.Hash
}

// NewLeafHasher returns a LeafHasher ready to accumulate one block's bytes.
func NewLeafHasher() *LeafHasher {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		// Size (24) is within blake2b's supported digest range, so this
		// cannot happen; a panic here would indicate a corrupted build.
		panic(fmt.Sprintf("tth: blake2b.New failed: %v", err))
	}
	return &LeafHasher{h: h}
}

// Write feeds more bytes of the current block into the running hash.
func (lh *LeafHasher) Write(p []byte) (int, error) {
	return lh.h.Write(p)
}

// Sum finalizes the current block into a Leaf without resetting.
func (lh *LeafHasher) Sum() Leaf {
	var l Leaf
	copy(l[:], lh.h.Sum(nil))
	return l
}

// Reset prepares the hasher to accumulate a new block from scratch.
func (lh *LeafHasher) Reset() {
	lh.h.Reset()
}

// Root folds a file's per-block leaves into a single root digest by
// pairwise combination, promoting an unpaired tail leaf unchanged to the
// next level (the standard Tiger Tree shape, minus the real Tiger
// primitive itself). A single-leaf file's root is that leaf.
func Root(leaves []Leaf) Leaf {
	if len(leaves) == 0 {
		return Leaf{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([]Leaf, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, combine(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// combine hashes two child digests into their parent node.
func combine(left, right Leaf) Leaf {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic(fmt.Sprintf("tth: blake2b.New failed: %v", err))
	}
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out Leaf
	copy(out[:], h.Sum(nil))
	return out
}
