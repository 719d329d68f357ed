package adapter

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// CompressionType identifies the stream codec applied to dump artifacts
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

// IsValid reports whether the compression type is supported.
func (c CompressionType) IsValid() bool {
	switch c {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4:
		return true
	}
	return false
}

// compressedSuffix returns the conventional filename suffix for the codec.
func compressedSuffix(algorithm CompressionType) string {
	switch algorithm {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeZstd:
		return ".zst"
	case CompressionTypeLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// nopWriteCloser adapts a plain writer for the no-compression case.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewCompressingWriter wraps w with the requested codec. The returned
// writer must be closed to flush codec framing before the underlying
// file is closed.
func NewCompressingWriter(w io.Writer, algorithm CompressionType) (io.WriteCloser, error) {
	switch algorithm {
	case CompressionTypeNone:
		return nopWriteCloser{w}, nil
	case CompressionTypeGzip:
		return gzip.NewWriter(w), nil
	case CompressionTypeZstd:
		writer, err := zstd.NewWriter(w)
		if err != nil {
			return nil, backup.NewStorageError("failed to create zstd writer", err)
		}
		return writer, nil
	case CompressionTypeLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, backup.NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}

// NewDecompressingReader wraps r with the requested codec.
func NewDecompressingReader(r io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionTypeNone:
		return io.NopCloser(r), nil
	case CompressionTypeGzip:
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, backup.NewStorageError("failed to create gzip reader", err)
		}
		return reader, nil
	case CompressionTypeZstd:
		reader, err := zstd.NewReader(r)
		if err != nil {
			return nil, backup.NewStorageError("failed to create zstd reader", err)
		}
		return reader.IOReadCloser(), nil
	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, backup.NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}
