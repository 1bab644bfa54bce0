package ccconn

import (
	"fmt"

	"github.com/lburgey/ncdc-core/internal/ccconn/dialect"
	"github.com/lburgey/ncdc-core/internal/ccerr"
	"github.com/lburgey/ncdc-core/internal/chunkmath"
	"github.com/lburgey/ncdc-core/internal/dlqueue"
)

// DlSource is the subset of *dlqueue.Dl a Downloader drives. Matched
// directly by *dlqueue.Dl; named here so a fake can stand in for tests
// that don't want to touch the filesystem.
type DlSource interface {
	Allocate(peerID string, estBytesPerSec int64) (*dlqueue.Thread, error)
	Recv(t *dlqueue.Thread, buf []byte) error
	RecvDone(t *dlqueue.Thread)
}

// Downloader is the download-side half of a CC's Idle/Transfer loop
// (spec.md §4.F). One Downloader is bound to one Dl; the CC event loop
// calls NextRequest when Idle and Recv/Complete while in Transfer.
type Downloader struct {
	PeerID string
	Dl     DlSource

	thread *dlqueue.Thread
}

// NextRequest asks the allocator for a Thread and builds the GET message
// to send, per spec.md §4.F's Idle state. ok is false, with a nil error,
// when the allocator has no capacity left for this peer right now
// (dlqueue.ErrNoCapacity); Session.downloadRound ends the session in that
// case.
func (d *Downloader) NextRequest(fileID string, fileType dialect.FileType, estBytesPerSec int64) (dialect.Get, bool, error) {
	t, err := d.Dl.Allocate(d.PeerID, estBytesPerSec)
	if err != nil {
		if err == dlqueue.ErrNoCapacity {
			return dialect.Get{}, false, nil
		}
		return dialect.Get{}, false, fmt.Errorf("ccconn: allocate: %w", err)
	}
	d.thread = t

	start := threadByteOffset(t)
	return dialect.Get{Type: fileType, ID: fileID, Start: start, Bytes: threadByteLength(t)}, true, nil
}

// threadByteOffset/threadByteLength convert a Thread's chunk-granularity
// position into the byte range a GET/SND pair actually carries.
func threadByteOffset(t *dlqueue.Thread) int64 {
	return chunkmath.ChunkOffset(t.Chunk) + t.Len
}

func threadByteLength(t *dlqueue.Thread) int64 {
	return t.Allocated*chunkmath.ChunkSize - t.Len
}

// AcceptHeader validates an incoming SND header against the GET this
// Downloader just issued, per spec.md §4.F's Transfer state.
func (d *Downloader) AcceptHeader(want dialect.Get, got dialect.Send) error {
	if got.Type != want.Type || got.ID != want.ID {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: unexpected SND for %s %s (got %s %s)", want.Type, want.ID, got.Type, got.ID))
	}
	if got.Start != want.Start {
		return ccerr.Protocol(true, fmt.Errorf("ccconn: SND offset %d does not match requested %d", got.Start, want.Start))
	}
	return nil
}

// RecvBody feeds received bytes into the bound Dl.
func (d *Downloader) RecvBody(buf []byte) error {
	if d.thread == nil {
		return ccerr.Protocol(false, fmt.Errorf("ccconn: Recv with no active thread"))
	}
	return d.Dl.Recv(d.thread, buf)
}

// Complete returns the borrowed Thread to the allocator once a transfer
// finishes (or is interrupted), per spec.md §5's cancellation rule.
func (d *Downloader) Complete() {
	if d.thread == nil {
		return
	}
	d.Dl.RecvDone(d.thread)
	d.thread = nil
}
