// Package compressor shrinks object streams before fragmentation and
// encryption. Algorithms form a closed tagged set; whenever an encoder cannot
// beat the raw form the raw form is stored instead, so decompression is always
// self-describing and never guesses.
package compressor

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Algorithm tags the codec used for a stored stream.
type Algorithm string

const (
	AlgLZ4  Algorithm = "lz4"  // fast, moderate ratio
	AlgZstd Algorithm = "zstd" // balanced
	AlgLZMA Algorithm = "lzma" // slow, highest ratio
	AlgRaw  Algorithm = "raw"  // stored verbatim
)

// Metadata describes how a stream was encoded so Decompress can reverse it.
type Metadata struct {
	Algorithm    Algorithm `json:"algorithm"`
	OriginalSize int64     `json:"original_size"`
}

// CompressionError reports an internal codec fault. Content that merely does
// not shrink is not an error; it falls back to AlgRaw.
type CompressionError struct {
	Algorithm Algorithm
	Op        string // "compress" or "decompress"
	Err       error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s with %s failed: %v", e.Op, e.Algorithm, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

type codec interface {
	compress(data []byte) ([]byte, error)
	decompress(data []byte) ([]byte, error)
}

var codecs = map[Algorithm]codec{
	AlgLZ4:  lz4Codec{},
	AlgZstd: zstdCodec{},
	AlgLZMA: lzmaCodec{},
}

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToLower(strings.TrimSpace(name))); alg {
	case AlgLZ4, AlgZstd, AlgLZMA, AlgRaw:
		return alg, nil
	default:
		return "", fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Compress encodes data with the preferred algorithm, falling back to AlgRaw
// whenever the encoded form would not be strictly smaller. Empty input is
// stored raw.
func Compress(data []byte, preferred Algorithm) ([]byte, Metadata, error) {
	meta := Metadata{Algorithm: AlgRaw, OriginalSize: int64(len(data))}
	if len(data) == 0 || preferred == AlgRaw {
		return data, meta, nil
	}
	c, ok := codecs[preferred]
	if !ok {
		return nil, Metadata{}, &CompressionError{Algorithm: preferred, Op: "compress", Err: fmt.Errorf("no such codec")}
	}
	encoded, err := c.compress(data)
	if err != nil {
		return nil, Metadata{}, &CompressionError{Algorithm: preferred, Op: "compress", Err: err}
	}
	if len(encoded) >= len(data) {
		return data, meta, nil
	}
	meta.Algorithm = preferred
	return encoded, meta, nil
}

// Decompress reverses Compress using the recorded metadata. The output length
// is checked against the recorded original size.
func Decompress(data []byte, meta Metadata) ([]byte, error) {
	if meta.Algorithm == AlgRaw {
		if int64(len(data)) != meta.OriginalSize {
			return nil, &CompressionError{Algorithm: AlgRaw, Op: "decompress",
				Err: fmt.Errorf("raw stream is %d bytes, metadata says %d", len(data), meta.OriginalSize)}
		}
		return data, nil
	}
	c, ok := codecs[meta.Algorithm]
	if !ok {
		return nil, &CompressionError{Algorithm: meta.Algorithm, Op: "decompress", Err: fmt.Errorf("no such codec")}
	}
	decoded, err := c.decompress(data)
	if err != nil {
		return nil, &CompressionError{Algorithm: meta.Algorithm, Op: "decompress", Err: err}
	}
	if int64(len(decoded)) != meta.OriginalSize {
		return nil, &CompressionError{Algorithm: meta.Algorithm, Op: "decompress",
			Err: fmt.Errorf("decoded %d bytes, metadata says %d", len(decoded), meta.OriginalSize)}
	}
	return decoded, nil
}

type lz4Codec struct{}

func (lz4Codec) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zstdCodec struct{}

func (zstdCodec) compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

type lzmaCodec struct{}

func (lzmaCodec) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lzmaCodec) decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// File types that are containers for already-compressed data, where another
// pass is wasted effort.
var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".zst": true, ".xz": true,
	".mp3": true, ".flac": true, ".aac": true,
	".apk": true, ".iso": true,
}

// PreferredForPath downgrades the configured algorithm to AlgRaw for file
// types that are already compressed.
func PreferredForPath(path string, configured Algorithm) Algorithm {
	if skipExtensions[strings.ToLower(filepath.Ext(path))] {
		return AlgRaw
	}
	return configured
}
