package dlqueue

import "github.com/lburgey/ncdc-core/internal/chunkmath"

// Allocate hands peerID a thread to request bytes on, per spec.md §4.C.
// estBytesPerSec is the caller's current throughput estimate for this peer,
// used to size the segment when a minimum segment length is configured.
func (d *Dl) Allocate(peerID string, estBytesPerSec int64) (*Thread, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ioErr != nil {
		return nil, d.ioErr
	}

	if d.IsList {
		if len(d.Threads) == 0 {
			d.Threads = append(d.Threads, &Thread{Avail: 1})
		}
		th := d.Threads[0]
		th.Chunk, th.Len, th.Allocated, th.Busy, th.PeerID = 0, 0, th.Avail, true, peerID
		d.refreshStateLocked()
		return th, nil
	}

	total := d.totalChunks()
	chunksPerBlock := d.chunksPerBlock()

	var t, tsec *Thread
	for _, th := range d.Threads {
		if !th.Busy && th.Avail > 0 && (t == nil || th.Avail > t.Avail) {
			t = th
		}
		if hasFreeBlock(th, total, chunksPerBlock) {
			if tsec == nil || (th.Avail-th.Allocated) > (tsec.Avail-tsec.Allocated) {
				tsec = th
			}
		}
	}

	if t == nil {
		if tsec == nil {
			tsec = largestAvailThread(d.Threads)
		}
		if tsec == nil {
			return nil, ErrNoCapacity
		}
		nt := splitThread(tsec, chunksPerBlock)
		if nt == nil {
			return nil, ErrNoCapacity
		}
		d.Threads = append(d.Threads, nt)
		t = nt
	}

	t.Allocated = computeSegment(t.Avail, estBytesPerSec, d.MinSegmentBytes)
	t.Busy = true
	t.PeerID = peerID
	d.refreshStateLocked()
	return t, nil
}

// hasFreeBlock reports whether th has an undownloaded span worth splitting
// off: either more than one block's worth of avail beyond what's already
// allocated, or th is the thread covering the file's last (possibly short)
// block and hasn't had its whole avail allocated yet.
func hasFreeBlock(th *Thread, totalChunks, chunksPerBlock int64) bool {
	free := th.Avail - th.Allocated
	if free > chunksPerBlock {
		return true
	}
	coversLastBlock := th.Chunk+th.Avail == totalChunks
	return coversLastBlock && th.Allocated < th.Avail
}

func largestAvailThread(threads []*Thread) *Thread {
	var best *Thread
	for _, th := range threads {
		if th.Avail > 0 && (best == nil || th.Avail > best.Avail) {
			best = th
		}
	}
	return best
}

// splitThread carves a new thread off the tail of tsec, aligned to a block
// boundary. When tsec's entire avail has already been granted to the
// current GET (no unallocated tail at all — the common case for a lone
// thread spanning the whole file with no minimum segment configured), the
// split instead bisects tsec's full remaining range and the over-allocation
// is clamped away; tsec's connection simply stops short of its original
// request once its avail no longer reaches that far.
func splitThread(tsec *Thread, chunksPerBlock int64) *Thread {
	tailStart := tsec.Chunk + tsec.Allocated
	tailEnd := tsec.Chunk + tsec.Avail
	degenerate := tailStart >= tailEnd
	if degenerate {
		tailStart = tsec.Chunk
	}
	if tailEnd-tailStart < 1 {
		return nil
	}

	mid := tailStart + (tailEnd-tailStart)/2
	splitChunk := (mid / chunksPerBlock) * chunksPerBlock
	if splitChunk <= tsec.Chunk {
		splitChunk = tsec.Chunk + chunksPerBlock
	}
	if !degenerate && splitChunk < tsec.Chunk+tsec.Allocated {
		// Falls inside the already-allocated region; only possible when
		// that region runs into the file's last short block.
		splitChunk += chunksPerBlock
	}
	if splitChunk >= tailEnd {
		splitChunk = tailEnd - chunksPerBlock
	}
	if splitChunk <= tsec.Chunk || splitChunk >= tailEnd {
		return nil
	}

	newAvail := tsec.Avail - (splitChunk - tsec.Chunk)
	tsec.Avail = splitChunk - tsec.Chunk
	if tsec.Allocated > tsec.Avail {
		tsec.Allocated = tsec.Avail
	}

	return &Thread{Chunk: splitChunk, Avail: newAvail}
}

// computeSegment implements spec.md §4.C step 4: allocated = avail unless a
// minimum segment size is configured, in which case it is the larger of
// that minimum and roughly five minutes of the peer's estimated throughput,
// capped at avail.
func computeSegment(avail, estBytesPerSec, minSegmentBytes int64) int64 {
	if minSegmentBytes <= 0 {
		return avail
	}
	minChunks := (minSegmentBytes + chunkmath.ChunkSize - 1) / chunkmath.ChunkSize
	if minChunks < 1 {
		minChunks = 1
	}
	fiveMin := 1 + (estBytesPerSec*300)/chunkmath.ChunkSize
	target := minChunks
	if fiveMin > target {
		target = fiveMin
	}
	if target > avail {
		target = avail
	}
	return target
}

// AllBusy reports whether every thread is either fully allocated or busy
// with no free block left to split off — i.e. no further peer can be
// usefully admitted right now.
func (d *Dl) AllBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allBusyLocked()
}

func (d *Dl) allBusyLocked() bool {
	if len(d.Threads) == 0 {
		return false
	}
	total := d.totalChunks()
	chunksPerBlock := d.chunksPerBlock()
	for _, th := range d.Threads {
		fullyAllocated := th.Allocated == th.Avail
		busyNoFree := th.Busy && !hasFreeBlock(th, total, chunksPerBlock)
		if !fullyAllocated && !busyNoFree {
			return false
		}
	}
	return true
}

// RecvDone releases a thread after its GET ends, per spec.md §4.C: a thread
// with nothing left to fetch is retired; otherwise it goes idle, ready to be
// split or re-allocated. If no threads remain and there is no pending local
// error, the download is complete and finish is invoked.
func (d *Dl) RecvDone(t *Thread) {
	d.mu.Lock()
	t.Busy = false
	t.PeerID = ""
	if !d.IsList && t.Avail == 0 {
		d.retireThread(t)
	} else {
		t.Allocated = 0
	}
	done := !d.IsList && d.ioErr == nil && len(d.Threads) == 0 && !d.finished
	if !done {
		d.refreshStateLocked()
	}
	d.mu.Unlock()

	if done {
		d.finish()
	}
}

func (d *Dl) retireThread(dead *Thread) {
	for i, th := range d.Threads {
		if th == dead {
			d.Threads = append(d.Threads[:i], d.Threads[i+1:]...)
			return
		}
	}
}
