// Package codec compresses backup documents for the remote store.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// chunkSize bounds every base64 write so arbitrarily large archives never go
// through a single conversion call.
const chunkSize = 3 * 16 * 1024

// ErrEmptyInput is returned when there is nothing to decompress.
var ErrEmptyInput = errors.New("empty input")

// Compress gzips data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Input that is base64 text of a gzip stream is
// accepted as well.
func Decompress(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}
	if !IsGzip(data) {
		return decompressBase64(bytes.NewReader(bytes.TrimSpace(data)))
	}
	return gunzip(bytes.NewReader(data))
}

// CompressToBase64 gzips text and returns it base64 encoded.
func CompressToBase64(text string) (string, error) {
	var out strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &out)
	zw := gzip.NewWriter(enc)
	src := strings.NewReader(text)
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(zw, src, buf); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("base64 close: %w", err)
	}
	return out.String(), nil
}

// DecompressBase64 reverses CompressToBase64.
func DecompressBase64(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", ErrEmptyInput
	}
	out, err := decompressBase64(strings.NewReader(encoded))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func decompressBase64(r io.Reader) ([]byte, error) {
	return gunzip(base64.NewDecoder(base64.StdEncoding, r))
}

func gunzip(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()
	var out bytes.Buffer
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(&out, zr, buf); err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out.Bytes(), nil
}
