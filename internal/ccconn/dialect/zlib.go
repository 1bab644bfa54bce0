package dialect

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// CompressBody wraps w so bytes written to the returned WriteCloser are
// zlib-deflated before reaching w, for a Send with Zlib set (ADC ZL1). The
// caller must Close the returned writer to flush the final block.
func CompressBody(w io.Writer) io.WriteCloser {
	return zlib.NewWriter(w)
}

// DecompressBody wraps r so reads from the returned io.ReadCloser yield the
// inflated bytes of a zlib-compressed GET/SND body. Close releases the
// decompressor's internal buffers; it does not close r.
func DecompressBody(r io.Reader) (io.ReadCloser, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr, nil
}
