// Package dlqueue implements the thread/segment allocator and block verifier
// from spec.md §4.C/§4.D (components C and D): the Dl and Thread types, the
// logic that hands out download segments to attaching peers, the per-chunk
// write path that feeds the rolling TTH leaf hasher, and the recovery path
// when a finalized block's leaf disagrees with the hash-tree.
//
// dlqueue owns the Dl-level mutex, the completion bitmap, and the thread
// list; package dlfile underneath only knows how to read and write bytes.
package dlqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/lburgey/ncdc-core/internal/ccerr"
	"github.com/lburgey/ncdc-core/internal/chunkmath"
	"github.com/lburgey/ncdc-core/internal/dlfile"
	"github.com/lburgey/ncdc-core/internal/tth"
)

// ErrNoCapacity is returned by Allocate when no thread has any undownloaded
// range left to hand out.
var ErrNoCapacity = errors.New("dlqueue: no capacity left to allocate")

// DlState is a Dl's position in its lifecycle (SPEC_FULL.md §5), mirroring
// dctoolkit's Download.state field: queued before any peer has attached,
// waiting_peer once threads exist but none is currently receiving,
// processing while at least one thread is busy, done once the file has been
// moved to its destination, and error once a local I/O failure has halted
// further allocation.
type DlState int

const (
	StateQueued DlState = iota
	StateWaitingPeer
	StateProcessing
	StateDone
	StateError
)

func (s DlState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateWaitingPeer:
		return "waiting_peer"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// HashTreeStore resolves the expected TTH leaf for a block of a file, keyed
// by the file's TTH root. Implemented by package hashtree.
type HashTreeStore interface {
	Leaf(root tth.Leaf, blockIndex int64) (leaf tth.Leaf, ok bool, err error)
}

// SaveBitmapDelay is how long the deferred bitmap-save timer waits after the
// first dirtying write before persisting, coalescing bursts of chunk
// completions into a single trailer write (spec.md §4.B).
const SaveBitmapDelay = 5 * time.Second

// Thread is one contiguous, currently- or formerly-owned span of chunks
// within a Dl, per spec.md §3.
type Thread struct {
	// Chunk is the index of the next chunk this thread will receive.
	Chunk int64
	// Len is how many bytes of the current chunk have landed.
	Len int64
	// Allocated is the number of chunks still to fetch under the current GET.
	Allocated int64
	// Avail is the number of still-undownloaded chunks in and after this
	// thread's current position.
	Avail int64
	// Busy reports whether a GET is currently in flight on this thread.
	Busy bool
	// PeerID identifies the peer currently (or most recently) assigned.
	PeerID string

	hasher *tth.LeafHasher
	// DeferredErr is set by Recv or the verifier when a failure happens off
	// the caller's stack (spec.md §7); the owner must check and clear it.
	DeferredErr *ccerr.Error
}

// hasherFor returns the thread's running leaf hasher, creating one lazily.
func (t *Thread) hasherFor() *tth.LeafHasher {
	if t.hasher == nil {
		t.hasher = tth.NewLeafHasher()
	}
	return t.hasher
}

// Dl is one download: a single destination file, assembled from one or more
// peer mirrors, tracked chunk by chunk against a completion bitmap.
type Dl struct {
	mu sync.Mutex

	ID       string
	Root     tth.Leaf
	Dest     string
	Size     int64
	BlockSize int64
	IsList   bool

	file   *dlfile.File
	bitmap chunkmath.Bitmap

	Threads []*Thread

	have int64

	// MinSegmentBytes is the configured minimum download segment size
	// (download_segment); 0 means "whole remaining thread".
	MinSegmentBytes int64

	verify HashTreeStore

	saveTimer *time.Timer
	saveDue   bool

	ioErr    error
	finished bool
	state    DlState
	OnFinish func(d *Dl, finalPath string)
}

// State reports the Dl's current lifecycle state.
func (d *Dl) State() DlState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// refreshStateLocked derives d.state from the current thread/error
// snapshot. Called with d.mu held. Done and Error are sticky terminal
// states; otherwise a pending I/O error moves the Dl to Error, and without
// one the state is Processing while any thread is busy, else WaitingPeer.
func (d *Dl) refreshStateLocked() {
	if d.state == StateDone || d.state == StateError {
		return
	}
	if d.ioErr != nil {
		d.state = StateError
		return
	}
	for _, t := range d.Threads {
		if t.Busy {
			d.state = StateProcessing
			return
		}
	}
	d.state = StateWaitingPeer
}

// Have returns the number of verified bytes currently on disk.
func (d *Dl) Have() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.have
}

// Bitmap returns a copy of the completion bitmap (safe to read without
// racing concurrent writers).
func (d *Dl) Bitmap() chunkmath.Bitmap {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make(chunkmath.Bitmap, len(d.bitmap))
	copy(cp, d.bitmap)
	return cp
}

// Err returns the pending local I/O error, if any; a non-nil Err halts new
// allocations (spec.md §7). Once set, the error is never cleared.
func (d *Dl) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ioErr
}

func (d *Dl) chunksPerBlock() int64 {
	n := chunkmath.ChunksPerBlock(d.BlockSize)
	if n <= 0 {
		total := chunkmath.Chunks(d.Size)
		if total <= 0 {
			total = 1
		}
		return total
	}
	return n
}

func (d *Dl) totalChunks() int64 {
	return chunkmath.Chunks(d.Size)
}
