package hasher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileSingleBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	h := New()
	root, leaves, err := h.HashFile(path, 11)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if len(leaves) != 1 {
		t.Fatalf("leaves = %d, want 1", len(leaves))
	}
	if root != leaves[0] {
		t.Error("single-block root should equal its only leaf")
	}
}

func TestHashFileMultiBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	data := make([]byte, BlockSize*2+100)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	h := New()
	root, leaves, err := h.HashFile(path, int64(len(data)))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if len(leaves) != 3 {
		t.Fatalf("leaves = %d, want 3", len(leaves))
	}
	var zero [24]byte
	if [24]byte(root) == zero {
		t.Error("root should not be zero")
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.bin")
	if err := os.WriteFile(path, []byte("repeatable"), 0644); err != nil {
		t.Fatal(err)
	}

	h := New()
	root1, _, err := h.HashFile(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	root2, _, err := h.HashFile(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if root1 != root2 {
		t.Error("hashing the same file twice should produce the same root")
	}
}
