package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressThreshold is the payload size in bytes above which remote tiers
// store brotli-compressed data. Small payloads are stored raw: the codec
// prefix byte costs less than the compression overhead.
const CompressThreshold = 4096

const (
	codecRaw    byte = 0x00
	codecBrotli byte = 0x01
)

// compressBytes wraps data with a one-byte codec prefix, compressing when
// it exceeds the threshold.
func compressBytes(raw []byte) ([]byte, error) {
	if len(raw) <= CompressThreshold {
		return append([]byte{codecRaw}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(codecBrotli)
	w := brotli.NewWriterLevel(&buf, brotli.BestSpeed)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress cache data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed cache data: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBytes reverses compressBytes.
func decompressBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty cache data")
	}

	switch data[0] {
	case codecRaw:
		return data[1:], nil
	case codecBrotli:
		raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data[1:])))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache data: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown cache codec byte 0x%02x", data[0])
	}
}

// encodeEntry serializes a full entry envelope for the Redis tier.
func encodeEntry(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return compressBytes(raw)
}

// decodeEntry deserializes data produced by encodeEntry.
func decodeEntry(data []byte) (*Entry, error) {
	raw, err := decompressBytes(data)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry: %w", err)
	}
	return &e, nil
}
