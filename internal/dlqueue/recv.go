package dlqueue

import (
	"fmt"

	"github.com/lburgey/ncdc-core/internal/ccerr"
	"github.com/lburgey/ncdc-core/internal/chunkmath"
	"github.com/lburgey/ncdc-core/internal/tth"
)

// Recv writes buf (bytes received under thread t's current GET) at t's
// current position, advancing t chunk by chunk and feeding the running TTH
// leaf hasher, per spec.md §4.B/§4.D. On each completed chunk the bitmap bit
// is set and a deferred save armed; on each completed block the leaf is
// finalized and checked against the hash-tree.
//
// Any failure is also recorded on t.DeferredErr, since Recv may run off a
// worker goroutine whose caller cannot return the error directly to the
// connection's main-thread handler (spec.md §7).
func (d *Dl) Recv(t *Thread, buf []byte) error {
	if d.IsList {
		if _, err := d.file.WriteAt(buf, t.Len); err != nil {
			t.DeferredErr = ccerr.IO(fmt.Errorf("dlqueue: write: %w", err))
			return t.DeferredErr
		}
		t.Len += int64(len(buf))
		return nil
	}

	off := chunkmath.ChunkOffset(t.Chunk) + t.Len
	if _, err := d.file.WriteAt(buf, off); err != nil {
		d.mu.Lock()
		d.ioErr = err
		d.refreshStateLocked()
		d.mu.Unlock()
		t.DeferredErr = ccerr.IO(fmt.Errorf("dlqueue: write: %w", err))
		return t.DeferredErr
	}

	remaining := buf
	for len(remaining) > 0 {
		chunkLen := chunkmath.ChunkLength(t.Chunk, d.Size)
		room := chunkLen - t.Len
		n := int64(len(remaining))
		if n > room {
			n = room
		}

		t.hasherFor().Write(remaining[:n])
		t.Len += n
		remaining = remaining[n:]

		if t.Len < chunkLen {
			continue
		}

		d.mu.Lock()
		if !d.bitmap.Get(t.Chunk) {
			d.bitmap.Set(t.Chunk)
			d.have += chunkLen
			d.armSaveLocked()
		}
		t.Chunk++
		if t.Allocated > 0 {
			t.Allocated--
		}
		if t.Avail > 0 {
			t.Avail--
		}
		t.Len = 0

		chunksPerBlock := d.chunksPerBlock()
		total := d.totalChunks()
		reachedBlockBoundary := chunksPerBlock > 0 && t.Chunk%chunksPerBlock == 0
		atEOF := t.Chunk == total
		var verr error
		if reachedBlockBoundary || atEOF {
			leaf := t.hasherFor().Sum()
			t.hasherFor().Reset()
			blockIndex := (t.Chunk - 1) / chunksPerBlock
			verr = d.verifyBlockLocked(t, leaf, blockIndex, chunksPerBlock, total)
		}
		d.mu.Unlock()

		if verr != nil {
			return verr
		}
	}
	return nil
}

// verifyBlockLocked compares a just-finalized leaf against the hash-tree and,
// on mismatch, rewinds the thread and bitmap to the start of the offending
// block (spec.md §4.D). Called with d.mu held.
func (d *Dl) verifyBlockLocked(t *Thread, leaf tth.Leaf, blockIndex, chunksPerBlock, total int64) error {
	if d.verify == nil {
		return nil
	}

	var expected tth.Leaf
	var ok bool
	var err error
	if total <= chunksPerBlock {
		expected, ok = d.Root, true
	} else {
		expected, ok, err = d.verify.Leaf(d.Root, blockIndex)
	}
	if err != nil {
		return ccerr.IO(fmt.Errorf("dlqueue: hash-tree lookup: %w", err))
	}
	if !ok || expected == leaf {
		return nil
	}

	blockStart := blockIndex * chunksPerBlock
	blockEnd := blockStart + chunksPerBlock
	if blockEnd > total {
		blockEnd = total
	}

	var lost int64
	for c := blockStart; c < blockEnd; c++ {
		if d.bitmap.Get(c) {
			d.bitmap.Clear(c)
			lost += chunkmath.ChunkLength(c, d.Size)
		}
	}
	d.have -= lost
	d.armSaveLocked()

	t.Chunk = blockStart
	t.Len = 0
	t.Avail += blockEnd - blockStart
	t.Allocated += blockEnd - blockStart

	msg := fmt.Sprintf("Hash for block %d (chunk %d-%d) does not match.", blockIndex, blockStart, blockEnd)
	derr := ccerr.Hash(msg)
	t.DeferredErr = derr
	return derr
}
