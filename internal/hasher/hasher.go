// Package hasher is the on-disk Hasher collaborator for internal/shareindex:
// it reads a shared file block by block and produces the per-block leaves
// and file root that a hash-tree store keeps, using the same swappable
// digest as the download verifier (internal/tth) rather than a real Tiger
// implementation (out of scope per spec.md's non-goals).
package hasher

import (
	"fmt"
	"io"
	"os"

	"github.com/lburgey/ncdc-core/internal/tth"
)

// BlockSize is the TTH block size new shares are hashed at. It must stay a
// multiple of chunkmath.ChunkSize so a download later resumed against this
// tree can be chunk-aligned.
const BlockSize = 1024 * 1024

// File hashes local files for sharing.
type File struct{}

// New returns a File hasher.
func New() File { return File{} }

// HashFile implements shareindex.Hasher: it reads path in BlockSize chunks,
// producing one leaf per block and folding them into a root.
func (File) HashFile(path string, size int64) (tth.Leaf, []tth.Leaf, error) {
	f, err := os.Open(path)
	if err != nil {
		return tth.Leaf{}, nil, fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	if size == 0 {
		leaf := tth.NewLeafHasher().Sum()
		return leaf, []tth.Leaf{leaf}, nil
	}

	blocks := (size + BlockSize - 1) / BlockSize
	leaves := make([]tth.Leaf, 0, blocks)
	buf := make([]byte, BlockSize)

	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			lh := tth.NewLeafHasher()
			lh.Write(buf[:n])
			leaves = append(leaves, lh.Sum())
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return tth.Leaf{}, nil, fmt.Errorf("hasher: read %s: %w", path, err)
		}
	}

	return tth.Root(leaves), leaves, nil
}
