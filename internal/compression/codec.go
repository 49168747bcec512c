// Package compression provides the codec registry used by content
// storage and the HTTP cache.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a compression family.
type Algorithm string

const (
	None   Algorithm = "none"
	Gzip   Algorithm = "gzip"
	Brotli Algorithm = "brotli"
	Zstd   Algorithm = "zstd"
)

// Preset is a named (algorithm, level) pair. Preset IDs are stable and
// persisted alongside compressed content.
type Preset struct {
	ID        int
	Name      string
	Algorithm Algorithm
	Level     int
}

// Codec compresses and decompresses content using registered presets.
type Codec struct {
	mu       sync.RWMutex
	byName   map[string]Preset
	byID     map[int]Preset
	zstdEnc3 *zstd.Encoder
	zstdEnc19 *zstd.Encoder
	zstdDec  *zstd.Decoder
}

// NewCodec returns a codec with the full preset table registered:
// none, gzip-{1,3,6,9}, brotli-0..11, zstd-3 and zstd-19.
func NewCodec() (*Codec, error) {
	c := &Codec{
		byName: make(map[string]Preset),
		byID:   make(map[int]Preset),
	}

	id := 0
	register := func(name string, alg Algorithm, level int) {
		p := Preset{ID: id, Name: name, Algorithm: alg, Level: level}
		c.byName[name] = p
		c.byID[id] = p
		id++
	}

	register("none", None, 0)
	for _, lvl := range []int{1, 3, 6, 9} {
		register(fmt.Sprintf("gzip-%d", lvl), Gzip, lvl)
	}
	for lvl := 0; lvl <= 11; lvl++ {
		register(fmt.Sprintf("brotli-%d", lvl), Brotli, lvl)
	}
	register("zstd-3", Zstd, 3)
	register("zstd-19", Zstd, 19)

	var err error
	c.zstdEnc3, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	c.zstdEnc19, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	c.zstdDec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return c, nil
}

// PresetByName looks up a preset by its registered name.
func (c *Codec) PresetByName(name string) (Preset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown compression preset %q", name)
	}
	return p, nil
}

// PresetByID looks up a preset by its stable ID.
func (c *Codec) PresetByID(id int) (Preset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return Preset{}, fmt.Errorf("unknown compression preset id %d", id)
	}
	return p, nil
}

// Compress compresses data with the given preset.
func (c *Codec) Compress(data []byte, preset Preset) ([]byte, error) {
	switch preset.Algorithm {
	case None:
		return data, nil

	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, preset.Level)
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

	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, preset.Level)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case Zstd:
		enc := c.zstdEnc3
		if preset.Level >= 19 {
			enc = c.zstdEnc19
		}
		return enc.EncodeAll(data, nil), nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", preset.Algorithm)
}

// Decompress reverses Compress for the given preset.
func (c *Codec) Decompress(data []byte, preset Preset) ([]byte, error) {
	switch preset.Algorithm {
	case None:
		return data, nil

	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))

	case Zstd:
		return c.zstdDec.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("unknown algorithm %q", preset.Algorithm)
}
