package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix is appended to object keys written with compression on
const CompressedSuffix = ".zst"

// EncodeAll and DecodeAll are safe for concurrent use
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Codec turns values into stored objects: indented JSON, optionally zstd-compressed
type Codec struct {
	Compress bool
}

// Key returns the object key actually used for a logical key
func (c Codec) Key(key string) string {
	if c.Compress && !strings.HasSuffix(key, CompressedSuffix) {
		return key + CompressedSuffix
	}
	return key
}

// Encode marshals v as JSON with a 2-space indent
func (c Codec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	if !c.Compress {
		return buf.Bytes(), nil
	}
	return zstdEncoder.EncodeAll(buf.Bytes(), nil), nil
}

// Decode reverses Encode. Data is treated as compressed when the codec
// compresses or when key carries the compressed suffix.
func (c Codec) Decode(key string, data []byte, v any) error {
	if c.Compress || strings.HasSuffix(key, CompressedSuffix) {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", key, err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
