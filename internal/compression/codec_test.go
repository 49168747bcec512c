package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, name := range []string{"none", "gzip-1", "gzip-9", "brotli-5", "zstd-3", "zstd-19"} {
		preset, err := codec.PresetByName(name)
		require.NoError(t, err, name)

		compressed, err := codec.Compress(payload, preset)
		require.NoError(t, err, name)
		if preset.Algorithm != None {
			assert.Less(t, len(compressed), len(payload), name)
		}

		restored, err := codec.Decompress(compressed, preset)
		require.NoError(t, err, name)
		assert.True(t, bytes.Equal(payload, restored), name)
	}
}

func TestPresetIDsStable(t *testing.T) {
	a, err := NewCodec()
	require.NoError(t, err)
	b, err := NewCodec()
	require.NoError(t, err)

	for _, name := range []string{"none", "gzip-6", "brotli-11", "zstd-19"} {
		pa, err := a.PresetByName(name)
		require.NoError(t, err)
		pb, err := b.PresetByName(name)
		require.NoError(t, err)
		assert.Equal(t, pa.ID, pb.ID, name)

		byID, err := b.PresetByID(pa.ID)
		require.NoError(t, err)
		assert.Equal(t, name, byID.Name)
	}
}

func TestUnknownPreset(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	_, err = codec.PresetByName("lz4-9")
	assert.Error(t, err)
	_, err = codec.PresetByID(9999)
	assert.Error(t, err)
}
