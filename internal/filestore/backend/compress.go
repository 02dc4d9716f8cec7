package backend

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compress gzips data. Returns the compressed bytes and true, or the
// original bytes and false when compression fails or does not shrink
// the payload. Compression is a best-effort optimization, never a
// correctness requirement.
func Compress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return data, false
	}
	if err := zw.Close(); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

// Decompress reverses Compress. Failure here means the stored bytes
// are unusable, so the error wraps ErrCorrupt.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip body: %v", ErrCorrupt, err)
	}
	return out, nil
}
