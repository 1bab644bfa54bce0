// Package shareindex is the filesystem-backed ShareIndex adapter
// (coreiface.ShareIndex): it walks one or more configured share roots,
// records each file's virtual path and size, and resolves upload GETs by
// path or by TTH. Computing a file's TTH root is delegated to a Hasher —
// the TTH construction itself is a spec.md non-goal, so this package only
// owns the directory walk and the lookup tables, the same split the
// teacher's internal/storage/blob package uses between its manager (walk
// and index) and its backends (content addressing).
package shareindex

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/lburgey/ncdc-core/internal/coreiface"
	"github.com/lburgey/ncdc-core/internal/tth"
)

// Hasher computes the TTH root and leaves for a local file. The daemon
// backs this with internal/hasher; swappable per spec.md's non-goal on TTH
// construction.
type Hasher interface {
	HashFile(path string, size int64) (root tth.Leaf, leaves []tth.Leaf, err error)
}

// TreeStore persists the leaves a Hasher produces so they can be looked up
// later by root and block index.
type TreeStore interface {
	PutTree(ctx context.Context, root tth.Leaf, size, blockSize int64, fetchedAtUnix int64, leaves []tth.Leaf) error
}

// Index is an in-memory view of one or more share roots.
type Index struct {
	mu      sync.RWMutex
	roots   []string
	hasher  Hasher
	tree    TreeStore
	byPath  map[string]coreiface.ShareEntry // virtual path -> entry
	byTTH   map[tth.Leaf]coreiface.ShareEntry
	shareBS int64
}

// New creates an Index over roots (absolute filesystem directories),
// blockSize is the TTH block size used when hashing freshly indexed files.
func New(roots []string, blockSize int64, hasher Hasher, tree TreeStore) *Index {
	return &Index{
		roots:   roots,
		hasher:  hasher,
		tree:    tree,
		byPath:  make(map[string]coreiface.ShareEntry),
		byTTH:   make(map[tth.Leaf]coreiface.ShareEntry),
		shareBS: blockSize,
	}
}

// Scan walks every configured root, hashing any file not already indexed
// under its virtual path (keyed by root-relative path, "/"-separated).
// fetchedAtUnix stamps freshly computed trees in the TreeStore.
func (idx *Index) Scan(ctx context.Context, fetchedAtUnix int64) error {
	for _, root := range idx.roots {
		if err := idx.scanRoot(ctx, root, fetchedAtUnix); err != nil {
			return fmt.Errorf("shareindex: scan %s: %w", root, err)
		}
	}
	return nil
}

func (idx *Index) scanRoot(ctx context.Context, root string, fetchedAtUnix int64) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		virtual := "/" + filepath.ToSlash(rel)

		idx.mu.RLock()
		_, known := idx.byPath[virtual]
		idx.mu.RUnlock()
		if known {
			return nil
		}

		rootHash, leaves, err := idx.hasher.HashFile(p, info.Size())
		if err != nil {
			return fmt.Errorf("hash %s: %w", p, err)
		}
		if idx.tree != nil {
			if err := idx.tree.PutTree(ctx, rootHash, info.Size(), idx.shareBS, fetchedAtUnix, leaves); err != nil {
				return fmt.Errorf("store tree for %s: %w", p, err)
			}
		}

		entry := coreiface.ShareEntry{LocalPath: p, Size: info.Size(), TTH: rootHash}
		idx.mu.Lock()
		idx.byPath[virtual] = entry
		idx.byTTH[rootHash] = entry
		idx.mu.Unlock()
		return nil
	})
}

// ResolvePath implements coreiface.ShareIndex.
func (idx *Index) ResolvePath(virtualPath string) (coreiface.ShareEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byPath[virtualPath]
	return e, ok
}

// ResolveTTH implements coreiface.ShareIndex.
func (idx *Index) ResolveTTH(root tth.Leaf) (coreiface.ShareEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byTTH[root]
	return e, ok
}

// AllTTHs implements coreiface.ShareIndex, for bloom-filter folding
// (component H).
func (idx *Index) AllTTHs() []tth.Leaf {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]tth.Leaf, 0, len(idx.byTTH))
	for t := range idx.byTTH {
		out = append(out, t)
	}
	return out
}

// FileList implements coreiface.ShareIndex: it renders a DC++-compatible
// file listing for subtree ("/" for the whole share) and compresses it.
// The wire format spec.md names is files.xml.bz2; the standard library
// only ships a bzip2 reader, so this module compresses with klauspost's
// zlib (already used for ADC ZL1 bodies) instead of shipping a hand-rolled
// bzip2 encoder. A real client would need a bzip2-writer dependency not
// present anywhere in the retrieved corpus; see DESIGN.md.
func (idx *Index) FileList(ctx context.Context, subtree string) ([]byte, error) {
	idx.mu.RLock()
	paths := make([]string, 0, len(idx.byPath))
	for p := range idx.byPath {
		if subtree == "" || subtree == "/" || hasPrefixDir(p, subtree) {
			paths = append(paths, p)
		}
	}
	entries := make(map[string]coreiface.ShareEntry, len(paths))
	for _, p := range paths {
		entries[p] = idx.byPath[p]
	}
	idx.mu.RUnlock()

	sort.Strings(paths)

	var xml bytes.Buffer
	xml.WriteString(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n")
	xml.WriteString(`<FileListing Version="1" Generator="ncdcd">` + "\n")
	for _, p := range paths {
		e := entries[p]
		fmt.Fprintf(&xml, "  <File Name=%q Size=%q TTH=%q/>\n", path.Base(p), fmt.Sprint(e.Size), e.TTH.String())
	}
	xml.WriteString("</FileListing>\n")

	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(xml.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func hasPrefixDir(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !filepath.IsAbs(prefix) && prefix[0] != '/' {
		prefix = "/" + prefix
	}
	return p == prefix || (len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/')
}

var _ coreiface.ShareIndex = (*Index)(nil)
