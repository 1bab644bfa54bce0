package dlqueue

import (
	"github.com/lburgey/ncdc-core/internal/chunkmath"
	"github.com/lburgey/ncdc-core/internal/dlfile"
	"github.com/lburgey/ncdc-core/internal/tth"
)

// ErrNoTTHL and ErrLegacyBitmap mirror the dlfile sentinels so callers only
// need to import dlqueue when driving the open/resume flow.
var (
	ErrNoTTHL       = dlfile.ErrNoTTHL
	ErrLegacyBitmap = dlfile.ErrLegacyBitmap
)

// Params describes a download to open or resume.
type Params struct {
	ID              string
	Root            tth.Leaf
	IncomingPath    string
	Dest            string
	Size            int64
	BlockSize       int64
	IsList          bool
	MinSegmentBytes int64
	Verify          HashTreeStore
}

// Create starts a brand-new download: a fresh incoming file with a zeroed
// bitmap and a single thread spanning the whole file.
func Create(p Params) (*Dl, error) {
	f, bitmap, err := dlfile.Create(p.IncomingPath, p.Size, p.IsList)
	if err != nil {
		return nil, err
	}
	return newDl(p, f, bitmap, false), nil
}

// Resume reopens an existing incoming file and reconstructs its thread list
// from the persisted bitmap, per spec.md §4.B step 3. hasTTHL must be true
// iff the caller already has a hash-tree (or TTH root, for single-block
// files) for this download; if the file exists without one, ErrNoTTHL is
// returned and the caller must discard it. If the file predates segmented
// downloads (no bitmap trailer at all), ErrLegacyBitmap is returned; the
// caller must obtain confirmation and call ResumeLegacy.
//
// A nil, nil return means there was nothing on disk to resume; the caller
// should fall back to Create.
func Resume(p Params, hasTTHL bool) (*Dl, error) {
	f, bitmap, err := dlfile.Load(p.IncomingPath, p.Size, p.IsList, hasTTHL)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	return newDl(p, f, bitmap, true), nil
}

// ResumeLegacy converts a pre-segmentation incoming file after interactive
// confirmation, marking every full chunk already on disk as complete.
func ResumeLegacy(p Params) (*Dl, error) {
	f, bitmap, err := dlfile.LoadLegacy(p.IncomingPath, p.Size)
	if err != nil {
		return nil, err
	}
	return newDl(p, f, bitmap, true), nil
}

func newDl(p Params, f *dlfile.File, bitmap chunkmath.Bitmap, resumed bool) *Dl {
	d := &Dl{
		ID:              p.ID,
		Root:            p.Root,
		Dest:            p.Dest,
		Size:            p.Size,
		BlockSize:       p.BlockSize,
		IsList:          p.IsList,
		MinSegmentBytes: p.MinSegmentBytes,
		file:            f,
		bitmap:          bitmap,
		verify:          p.Verify,
		state:           StateQueued,
	}
	if resumed {
		d.state = StateWaitingPeer
	}

	if p.IsList {
		d.Threads = []*Thread{{Avail: 1}}
		return d
	}

	d.have = chunkmath.Have(bitmap, p.Size)
	d.Threads = reconstructThreads(bitmap, chunkmath.Chunks(p.Size))
	for _, t := range d.Threads {
		primeHasher(d, t)
	}
	if len(d.Threads) == 0 {
		// Every chunk's bitmap bit is already set; reconstructThreads only
		// builds threads for gaps, so without this there would be nothing
		// left to drive RecvDone/finish and the download would sit at
		// 100% forever. Re-verify the trailing block before trusting the
		// bitmap: a crash between setting its bits and the hash-tree
		// comparison in verifyBlockLocked would otherwise let an unverified
		// tail through.
		d.verifyResumedCompletion()
	}
	return d
}

// verifyResumedCompletion handles a Dl whose bitmap is already fully set on
// open: it re-hashes the file's last (possibly short) block from disk and
// compares it against the hash-tree before calling finish, reopening the
// block as a fresh thread instead if the check can't be completed or fails.
func (d *Dl) verifyResumedCompletion() {
	total := d.totalChunks()
	if total == 0 {
		d.finish()
		return
	}
	chunksPerBlock := d.chunksPerBlock()
	if d.verify == nil || chunksPerBlock <= 0 {
		d.finish()
		return
	}

	blockIndex := (total - 1) / chunksPerBlock
	blockStart := blockIndex * chunksPerBlock

	bufLen := (total - 1 - blockStart) * chunkmath.ChunkSize
	bufLen += chunkmath.ChunkLength(total-1, d.Size)
	buf := make([]byte, bufLen)
	read, err := d.file.ReadAt(buf, chunkmath.ChunkOffset(blockStart))
	if err != nil && int64(read) < bufLen {
		d.reopenTrailingBlock(blockStart, total)
		return
	}

	h := tth.NewLeafHasher()
	h.Write(buf)
	leaf := h.Sum()

	var expected tth.Leaf
	var ok bool
	if total <= chunksPerBlock {
		expected, ok = d.Root, true
	} else {
		expected, ok, err = d.verify.Leaf(d.Root, blockIndex)
		if err != nil {
			d.reopenTrailingBlock(blockStart, total)
			return
		}
	}
	if ok && expected != leaf {
		d.reopenTrailingBlock(blockStart, total)
		return
	}
	d.finish()
}

// reopenTrailingBlock clears the bitmap bits covering [blockStart, end) and
// opens a fresh thread over them, for when the last block's completion
// bits can't be trusted.
func (d *Dl) reopenTrailingBlock(blockStart, end int64) {
	d.mu.Lock()
	var lost int64
	for c := blockStart; c < end; c++ {
		if d.bitmap.Get(c) {
			d.bitmap.Clear(c)
			lost += chunkmath.ChunkLength(c, d.Size)
		}
	}
	d.have -= lost
	d.armSaveLocked()
	d.refreshStateLocked()
	d.mu.Unlock()

	d.Threads = append(d.Threads, &Thread{Chunk: blockStart, Avail: end - blockStart})
}

// primeHasher re-hashes the already-downloaded prefix of a partially
// completed block for a thread reconstructed mid-block on resume, so its
// running TTH leaf covers the whole block rather than just the bytes this
// thread will receive from here on (spec.md §4.B step 3).
func primeHasher(d *Dl, t *Thread) {
	chunksPerBlock := d.chunksPerBlock()
	if chunksPerBlock <= 0 || t.Chunk%chunksPerBlock == 0 {
		return
	}
	blockStart := (t.Chunk / chunksPerBlock) * chunksPerBlock
	n := t.Chunk - blockStart
	if n <= 0 {
		return
	}
	buf := make([]byte, n*chunkmath.ChunkSize)
	read, err := d.file.ReadAt(buf, chunkmath.ChunkOffset(blockStart))
	if err != nil && read == 0 {
		return
	}
	t.hasherFor().Write(buf[:read])
}

// reconstructThreads turns each maximal run of unset bitmap bits into one
// idle thread spanning that run (spec.md §4.B step 3).
func reconstructThreads(bitmap chunkmath.Bitmap, total int64) []*Thread {
	var threads []*Thread
	var runStart int64 = -1
	for i := int64(0); i < total; i++ {
		if bitmap.Get(i) {
			if runStart >= 0 {
				threads = append(threads, &Thread{Chunk: runStart, Avail: i - runStart})
				runStart = -1
			}
			continue
		}
		if runStart < 0 {
			runStart = i
		}
	}
	if runStart >= 0 {
		threads = append(threads, &Thread{Chunk: runStart, Avail: total - runStart})
	}
	return threads
}
