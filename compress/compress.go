// Package compress provides the reversible payload codecs used by the
// lifecycle manager when archiving records.
//
// Compression is opportunistic: when the compressed form is not smaller
// than the input, Compress reports that and the caller stores the payload
// raw. Decompress(Compress(p)) == p for all p.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses byte payloads.
type Codec interface {
	// Name identifies the codec in logs and stats.
	Name() string

	// Compress returns the compressed form of p and true, or p unchanged
	// and false when compression would not shrink it.
	Compress(p []byte) ([]byte, bool, error)

	// Decompress reverses Compress for payloads it reported compressed.
	Decompress(p []byte) ([]byte, error)
}

// Level is the configured compression effort. It maps onto the codec's
// native level scale.
type Level int

const (
	// LevelFastest favors speed over ratio.
	LevelFastest Level = 1
	// LevelDefault balances speed and ratio.
	LevelDefault Level = 3
	// LevelBest favors ratio over speed.
	LevelBest Level = 9
)

// Zstd encoder/decoder pools. Encoders are pooled per level.
type zstdCodec struct {
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewZstd creates a zstd codec with the given effort level.
func NewZstd(level Level) Codec {
	return &zstdCodec{
		level: zstd.EncoderLevelFromZstd(int(level)),
	}
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) getEncoder() (*zstd.Encoder, error) {
	if v := c.encoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
}

func (c *zstdCodec) getDecoder() (*zstd.Decoder, error) {
	if v := c.decoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Compress implements Codec.
func (c *zstdCodec) Compress(p []byte) ([]byte, bool, error) {
	if len(p) == 0 {
		return p, false, nil
	}

	enc, err := c.getEncoder()
	if err != nil {
		return nil, false, fmt.Errorf("compress: create zstd encoder: %w", err)
	}
	defer c.encoderPool.Put(enc)

	out := enc.EncodeAll(p, make([]byte, 0, len(p)))
	if len(out) >= len(p) {
		return p, false, nil
	}
	return out, true, nil
}

// Decompress implements Codec.
func (c *zstdCodec) Decompress(p []byte) ([]byte, error) {
	dec, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("compress: create zstd decoder: %w", err)
	}
	defer c.decoderPool.Put(dec)

	out, err := dec.DecodeAll(p, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}

// lz4Codec uses LZ4 frame compression. Faster than zstd with a lower
// ratio; suited to hot archival paths.
type lz4Codec struct {
	level lz4.CompressionLevel
}

// NewLZ4 creates an LZ4 codec with the given effort level.
func NewLZ4(level Level) Codec {
	var l lz4.CompressionLevel
	switch {
	case level <= LevelFastest:
		l = lz4.Fast
	case level >= LevelBest:
		l = lz4.Level9
	default:
		l = lz4.Level4
	}
	return &lz4Codec{level: l}
}

func (c *lz4Codec) Name() string { return "lz4" }

// Compress implements Codec.
func (c *lz4Codec) Compress(p []byte) ([]byte, bool, error) {
	if len(p) == 0 {
		return p, false, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(p))
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, false, fmt.Errorf("compress: configure lz4: %w", err)
	}
	if _, err := w.Write(p); err != nil {
		return nil, false, fmt.Errorf("compress: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("compress: lz4 close: %w", err)
	}

	out := buf.Bytes()
	if len(out) >= len(p) {
		return p, false, nil
	}
	return out, true, nil
}

// Decompress implements Codec.
func (c *lz4Codec) Decompress(p []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(p))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 decode: %w", err)
	}
	return out, nil
}
