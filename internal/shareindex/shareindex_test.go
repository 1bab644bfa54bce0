package shareindex

import (
	"compress/zlib"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lburgey/ncdc-core/internal/tth"
)

type fakeHasher struct{}

func (fakeHasher) HashFile(path string, size int64) (tth.Leaf, []tth.Leaf, error) {
	var root tth.Leaf
	copy(root[:], filepath.Base(path))
	return root, []tth.Leaf{root}, nil
}

type fakeTree struct{ puts int }

func (f *fakeTree) PutTree(ctx context.Context, root tth.Leaf, size, blockSize int64, fetchedAtUnix int64, leaves []tth.Leaf) error {
	f.puts++
	return nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "sub/b.txt", "world")

	tree := &fakeTree{}
	idx := New([]string{dir}, 128*1024, fakeHasher{}, tree)

	if err := idx.Scan(context.Background(), 1000); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if tree.puts != 2 {
		t.Fatalf("puts = %d, want 2", tree.puts)
	}

	entry, ok := idx.ResolvePath("/a.txt")
	if !ok {
		t.Fatal("expected /a.txt to resolve")
	}
	if entry.Size != 5 {
		t.Errorf("Size = %d, want 5", entry.Size)
	}

	_, ok = idx.ResolveTTH(entry.TTH)
	if !ok {
		t.Error("expected TTH lookup to resolve")
	}

	all := idx.AllTTHs()
	if len(all) != 2 {
		t.Errorf("AllTTHs len = %d, want 2", len(all))
	}
}

func TestScanIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")

	tree := &fakeTree{}
	idx := New([]string{dir}, 128*1024, fakeHasher{}, tree)

	if err := idx.Scan(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if err := idx.Scan(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if tree.puts != 1 {
		t.Errorf("puts = %d, want 1 (second scan should skip known paths)", tree.puts)
	}
}

func TestFileListProducesCompressedXML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "movie.mkv", "fake-bytes")

	idx := New([]string{dir}, 128*1024, fakeHasher{}, nil)
	if err := idx.Scan(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	data, err := idx.FileList(context.Background(), "/")
	if err != nil {
		t.Fatalf("FileList: %v", err)
	}

	zr, err := zlib.NewReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer zr.Close()
	xml, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read decompressed: %v", err)
	}
	if !strings.Contains(string(xml), "movie.mkv") {
		t.Errorf("expected file list to mention movie.mkv, got %s", xml)
	}
}
