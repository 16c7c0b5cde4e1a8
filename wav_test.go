package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRecorderHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	rec, err := newWAVRecorder(path, 8000)
	require.NoError(t, err)

	samples := make([]byte, 320)
	_, err = rec.Write(samples)
	require.NoError(t, err)
	require.NoError(t, rec.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+len(samples))

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(len(samples)), binary.LittleEndian.Uint32(data[40:44]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
}
