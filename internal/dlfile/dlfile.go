// Package dlfile implements the on-disk mechanics of an incoming file
// (spec.md §4.B, component B): a sparse file holding partial content
// followed by a packed completion bitmap trailer, positional reads/writes,
// and the finish/resume file-system operations. Bitmap ownership, the Dl
// mutex, and thread bookkeeping live one layer up in package dlqueue; this
// package only touches the filesystem.
package dlfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lburgey/ncdc-core/internal/chunkmath"
)

// ErrNoTTHL is returned by Load when an incoming file exists but no TTHL is
// known for it: per spec.md §4.B step 1, the file must be deleted and the
// resume aborted rather than guessed at.
var ErrNoTTHL = errors.New("dlfile: incoming file present but no TTHL known")

// ErrLegacyBitmap is returned by Load when the incoming file predates
// segmented downloads (content present, bitmap trailer entirely absent).
// Per spec.md §4.B/§9 this requires an explicit interactive confirmation
// before any on-disk state is touched.
var ErrLegacyBitmap = errors.New("dlfile: incoming file has no bitmap trailer (legacy format)")

// File is the on-disk handle for one incoming download: bytes [0,size) are
// content, bytes [size, size+bitSize) are the completion bitmap.
type File struct {
	f      *os.File
	path   string
	size   int64
	islist bool
}

// Create opens or creates the incoming file at path, sized for size bytes
// plus its bitmap trailer, and writes a zeroed bitmap trailer. islist files
// carry no bitmap (spec.md §4.B).
func Create(path string, size int64, islist bool) (*File, chunkmath.Bitmap, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("dlfile: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("dlfile: create: %w", err)
	}

	var bitmap chunkmath.Bitmap
	if !islist {
		bitmap = chunkmath.NewBitmap(chunkmath.Chunks(size))
		if err := writeBitmapAt(f, size, bitmap); err != nil {
			f.Close()
			return nil, nil, err
		}
	}

	return &File{f: f, path: path, size: size, islist: islist}, bitmap, nil
}

// Load opens an existing incoming file for resume. hasTTHL reports whether
// the caller already knows the TTHL for this download; if false and the
// file exists, Load returns ErrNoTTHL (the caller must then delete the file
// and abort the resume, per spec.md §4.B step 1).
//
// If the file exists but carries no bitmap trailer at all, Load returns
// ErrLegacyBitmap without mutating anything; the caller must obtain
// interactive confirmation and then call LoadLegacy.
func Load(path string, size int64, islist bool, hasTTHL bool) (*File, chunkmath.Bitmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil // nothing to resume
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dlfile: open: %w", err)
	}

	if islist {
		return &File{f: f, path: path, size: size, islist: true}, nil, nil
	}

	if !hasTTHL {
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, nil, fmt.Errorf("dlfile: %w (and failed to remove stale file: %v)", ErrNoTTHL, rmErr)
		}
		return nil, nil, ErrNoTTHL
	}

	n := chunkmath.Chunks(size)
	bitmapLen := chunkmath.BitSize(n)
	bitmap, err := readBitmapAt(f, size, bitmapLen)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		f.Close()
		return nil, nil, ErrLegacyBitmap
	}
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("dlfile: reading bitmap trailer: %w", err)
	}

	return &File{f: f, path: path, size: size, islist: false}, bitmap, nil
}

// LoadLegacy re-opens path after the caller has obtained interactive
// confirmation to convert a pre-segmentation file. It marks every full
// chunk implied by the existing file length as complete and leaves the
// trailing partial chunk (if any) unset.
func LoadLegacy(path string, size int64) (*File, chunkmath.Bitmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("dlfile: reopen for legacy convert: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("dlfile: stat: %w", err)
	}

	existing := info.Size()
	fullChunks := existing / chunkmath.ChunkSize
	bitmap := chunkmath.NewBitmap(chunkmath.Chunks(size))
	bitmap.SetRange(0, fullChunks)

	if err := writeBitmapAt(f, size, bitmap); err != nil {
		f.Close()
		return nil, nil, err
	}

	return &File{f: f, path: path, size: size}, bitmap, nil
}

// WriteAt performs a positional write; no shared offset cursor is used so
// concurrent writers on different regions never race on seek state.
func (df *File) WriteAt(p []byte, off int64) (int, error) {
	return df.f.WriteAt(p, off)
}

// ReadAt performs a positional read, used when re-hashing already-downloaded
// chunks of a partially complete block during Load's reconstruction pass.
func (df *File) ReadAt(p []byte, off int64) (int, error) {
	return df.f.ReadAt(p, off)
}

// SaveBitmap writes the full bitmap to the trailer without seeking, so it
// may be called concurrently with in-flight WriteAt calls on content bytes.
func (df *File) SaveBitmap(bitmap chunkmath.Bitmap) error {
	if df.islist {
		return nil
	}
	return writeBitmapAt(df.f, df.size, bitmap)
}

// Close closes the underlying file descriptor.
func (df *File) Close() error {
	return df.f.Close()
}

// Finish truncates the trailer off, closes the file, creates the
// destination's parent directories, and moves the file into place. If dest
// already exists and this is not a file-list download, it appends .N with
// increasing N until a free name is found.
func (df *File) Finish(dest string) (finalPath string, err error) {
	if !df.islist {
		if err := df.f.Truncate(df.size); err != nil {
			return "", fmt.Errorf("dlfile: truncate trailer: %w", err)
		}
	}
	if err := df.f.Close(); err != nil {
		return "", fmt.Errorf("dlfile: close before finish: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("dlfile: mkdir destination: %w", err)
	}

	final := dest
	if !df.islist {
		final = nextFreeName(dest)
	}
	if err := os.Rename(df.path, final); err != nil {
		return "", fmt.Errorf("dlfile: move to destination: %w", err)
	}
	return final, nil
}

func nextFreeName(dest string) string {
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		return dest
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", dest, n)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func writeBitmapAt(f *os.File, size int64, bitmap chunkmath.Bitmap) error {
	if len(bitmap) == 0 {
		return nil
	}
	if _, err := f.WriteAt(bitmap, size); err != nil {
		return fmt.Errorf("dlfile: write bitmap trailer: %w", err)
	}
	return nil
}

func readBitmapAt(f *os.File, size, bitmapLen int64) (chunkmath.Bitmap, error) {
	if bitmapLen == 0 {
		return chunkmath.Bitmap{}, nil
	}
	buf := make([]byte, bitmapLen)
	n, err := f.ReadAt(buf, size)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) < bitmapLen {
		return nil, io.ErrUnexpectedEOF
	}
	return chunkmath.Bitmap(buf), nil
}
