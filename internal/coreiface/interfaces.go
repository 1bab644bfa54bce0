// Package coreiface names the external collaborators the transfer core
// depends on but does not implement itself (spec.md §6): the hub link,
// the local share index, typed settings, the hash-tree store, and the
// transfer log. Each has exactly one concrete adapter elsewhere in this
// module; the core only ever depends on these interfaces so it can be
// exercised in tests with fakes.
package coreiface

import (
	"context"
	"time"

	"github.com/lburgey/ncdc-core/internal/tth"
)

// HubLink is what a hub-protocol handler implements to let the transfer
// core register expect-table entries and learn about inbound sockets.
// Implementing NMDC/ADC hub chat itself is out of scope (spec.md non-goal);
// this is only the seam the core needs.
type HubLink interface {
	// Expect registers that a connection from peerID is imminent, per
	// spec.md §4.G. token and keyprint may be empty for dialects that
	// don't supply them up front.
	Expect(hubID, peerID string, port int, token, keyprint string, wantDownload bool, deadline time.Time) error
}

// ShareEntry is one resolved share lookup result.
type ShareEntry struct {
	LocalPath string
	Size      int64
	TTH       tth.Leaf
}

// ShareIndex resolves upload requests (spec.md §4.F's Transfer state,
// uploader side) by virtual path or by TTH.
type ShareIndex interface {
	ResolvePath(virtualPath string) (ShareEntry, bool)
	ResolveTTH(root tth.Leaf) (ShareEntry, bool)
	// FileList returns the bytes of files.xml.bz2 (or a recursive subtree
	// for `list /`), already compressed.
	FileList(ctx context.Context, subtree string) ([]byte, error)
	// AllTTHs enumerates every shared root, for bloom-filter folding
	// (component H).
	AllTTHs() []tth.Leaf
}

// SettingsStore gives typed reads of spec.md §6's named configuration
// keys, at use-time (no cached snapshot).
type SettingsStore interface {
	Int(name string) int
	Int64(name string) int64
	Bool(name string) bool
	String(name string) string
}

// HashTreeStore stores and retrieves TTHL leaves. dlqueue depends on the
// narrower dlqueue.HashTreeStore; this is the full read/write surface the
// hash-tree adapter (internal/hashtree) exposes.
type HashTreeStore interface {
	Leaf(root tth.Leaf, blockIndex int64) (tth.Leaf, bool, error)
	Has(root tth.Leaf) (bool, error)
	PutTree(ctx context.Context, root tth.Leaf, size, blockSize int64, fetchedAtUnix int64, leaves []tth.Leaf) error
}

// TransferRecord is one line of the transfer log format from spec.md §6.
type TransferRecord struct {
	HubName          string
	CID              string // "-" if unknown
	Nick             string
	Host             string
	Download         bool // d|u
	Complete         bool // c|i
	TTH              tth.Leaf
	Duration         time.Duration
	Size             int64
	Offset           int64
	BytesTransferred int64
	VirtualPath      string
}

// TransferLog appends completed/interrupted transfer records.
type TransferLog interface {
	Append(rec TransferRecord) error
}
