// Package bloomfilter implements the TTH bloom-filter responder from
// spec.md §4.H (component H): a parameterized bloom filter sized by a bit
// exponent, populated by folding share TTH roots into sub-hash indices, and
// tested against a search token the same way.
package bloomfilter

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/lburgey/ncdc-core/internal/tth"
)

// Params sizes a filter: it holds m = 2^H bits and sets K bits per entry.
// Validate checks H and K against fixed ranges only; it does not relate m
// to the number of entries or bound the false-positive rate.
type Params struct {
	// H is the bit exponent: the filter holds 2^H bits.
	H uint
	// K is the number of hash functions (sub-hash indices per entry).
	K int
}

// Validate enforces the constraints a conforming bloom filter must satisfy:
// H in a sane range and at least one hash function.
func (p Params) Validate() error {
	if p.H < 1 || p.H > 32 {
		return fmt.Errorf("bloomfilter: H=%d out of range [1,32]", p.H)
	}
	if p.K < 1 || p.K > 24 {
		return fmt.Errorf("bloomfilter: K=%d out of range [1,24]", p.K)
	}
	return nil
}

// ErrParams is returned by New when Params fails validation.
var ErrParams = errors.New("bloomfilter: invalid parameters")

// Filter is a bit-packed bloom filter over TTH roots.
type Filter struct {
	bits []byte
	m    uint64
	k    int
}

// New allocates an empty filter for the given parameters.
func New(p Params) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParams, err)
	}
	m := uint64(1) << p.H
	return &Filter{bits: make([]byte, (m+7)/8), m: m, k: p.K}, nil
}

// Bits returns the raw packed bit array, suitable for transmission.
func (f *Filter) Bits() []byte { return f.bits }

// BitCount returns m, the number of bits in the filter.
func (f *Filter) BitCount() uint64 { return f.m }

// Add folds root into f's k sub-hash indices and sets the corresponding
// bits.
func (f *Filter) Add(root tth.Leaf) {
	for _, idx := range f.indices(root) {
		f.set(idx)
	}
}

// Test reports whether root's sub-hash indices are all set; a true result
// may be a false positive, a false result is conclusive.
func (f *Filter) Test(root tth.Leaf) bool {
	for _, idx := range f.indices(root) {
		if !f.get(idx) {
			return false
		}
	}
	return true
}

// indices folds a TTH leaf into f.k sub-hash bit positions using the
// Kirsch-Mitzenmacher double-hashing scheme: index_i = (h1 + i*h2) mod m.
func (f *Filter) indices(root tth.Leaf) []uint64 {
	h1 := xxhash.Sum64(root[:])
	h2 := xxhash.Sum64(append(root[:], 0xA5))
	if h2 == 0 {
		h2 = 1 // avoid collapsing every index to h1 when h2 folds to zero
	}

	out := make([]uint64, f.k)
	for i := 0; i < f.k; i++ {
		out[i] = (h1 + uint64(i)*h2) % f.m
	}
	return out
}

func (f *Filter) set(i uint64) {
	f.bits[i/8] |= 1 << (i % 8)
}

func (f *Filter) get(i uint64) bool {
	return f.bits[i/8]&(1<<(i%8)) != 0
}
