package utils

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressFramed brotli-compresses data at quality behind a one-byte header.
func CompressFramed(header byte, data []byte, quality int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 1)
	buf.WriteByte(header)

	writer := brotli.NewWriterLevel(&buf, quality)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
