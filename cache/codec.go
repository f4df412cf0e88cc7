package cache

import (
	"bytes"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// NegativeSentinel marks a key whose source of truth confirmed absence.
var NegativeSentinel = []byte("NULL")

const (
	frameJSON   byte = 'j'
	frameBrotli byte = 'b'
)

// Codec frames cached values with a one-byte header. An encoded value never
// equals NegativeSentinel.
type Codec struct {
	compress  bool
	threshold int
	quality   int
}

func NewCodec(config *types.CompressionConfig) *Codec {
	codec := &Codec{threshold: 1024, quality: 4}
	if config == nil {
		return codec
	}

	codec.compress = config.Enabled
	if config.Threshold > 0 {
		codec.threshold = config.Threshold
	}
	if config.Quality > 0 {
		codec.quality = config.Quality
	}
	return codec
}

func (c *Codec) Encode(value interface{}) ([]byte, error) {
	framed, err := utils.MarshalFramed(frameJSON, value)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheEncodeFailed, "%v", err)
	}

	if c.compress && len(framed)-1 > c.threshold {
		compressed, err := utils.CompressFramed(frameBrotli, framed[1:], c.quality)
		if err != nil {
			return nil, types.Errorf(types.ErrCacheEncodeFailed, "compress: %v", err)
		}
		return compressed, nil
	}

	return framed, nil
}

func IsNegative(raw []byte) bool {
	return bytes.Equal(raw, NegativeSentinel)
}

func decode[T any](raw []byte) (T, error) {
	var value T

	if len(raw) == 0 {
		return value, types.Errorf(types.ErrCacheDecodeFailed, "empty payload")
	}

	payload := raw[1:]
	switch raw[0] {
	case frameJSON:
	case frameBrotli:
		decompressed, err := utils.Decompress(payload)
		if err != nil {
			return value, types.Errorf(types.ErrCacheDecodeFailed, "decompress: %v", err)
		}
		payload = decompressed
	default:
		return value, types.Errorf(types.ErrCacheDecodeFailed, "unknown frame %q", raw[0])
	}

	if err := utils.Unmarshal(payload, &value); err != nil {
		return value, types.Errorf(types.ErrCacheDecodeFailed, "%v", err)
	}
	return value, nil
}
