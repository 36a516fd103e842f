package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoderPool = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return err
			}
			return enc
		},
	}
	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return err
			}
			return dec
		},
	}
)

// Compress zstd-compresses data
func Compress(data []byte) ([]byte, error) {
	switch v := zstdEncoderPool.Get().(type) {
	case *zstd.Encoder:
		defer zstdEncoderPool.Put(v)
		return v.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case error:
		return nil, fmt.Errorf("zstd encoder: %w", v)
	default:
		return nil, fmt.Errorf("zstd encoder: unexpected pool value %T", v)
	}
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	switch v := zstdDecoderPool.Get().(type) {
	case *zstd.Decoder:
		defer zstdDecoderPool.Put(v)
		out, err := v.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	case error:
		return nil, fmt.Errorf("zstd decoder: %w", v)
	default:
		return nil, fmt.Errorf("zstd decoder: unexpected pool value %T", v)
	}
}

// MarshalCompressed encodes v to msgpack and compresses the result
func MarshalCompressed(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Compress(data)
}

// UnmarshalCompressed reverses MarshalCompressed
func UnmarshalCompressed(data []byte, v any) error {
	raw, err := Decompress(data)
	if err != nil {
		return err
	}
	return Unmarshal(raw, v)
}
