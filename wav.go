package main

import (
	"encoding/binary"
	"fmt"
	"os"
)

const wavHeaderSize = 44

// wavRecorder owns one recording file. A canonical 16-bit mono PCM header is
// written up front with placeholder sizes which Stop fixes up from the final
// file length.
type wavRecorder struct {
	file *os.File
	path string
	rate int
}

func newWAVRecorder(path string, sampleRate int) (*wavRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r := &wavRecorder{file: f, path: path, rate: sampleRate}
	if err := r.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return r, nil
}

func (r *wavRecorder) writeHeader() error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := r.rate * channels * bitsPerSample / 8

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	// chunk size at [4:8] patched on Stop
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(r.rate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	// data size at [40:44] patched on Stop

	_, err := r.file.Write(header)
	return err
}

func (r *wavRecorder) Path() string { return r.path }

// Write appends raw PCM samples.
func (r *wavRecorder) Write(p []byte) (int, error) {
	return r.file.Write(p)
}

// Stop patches the RIFF sizes and closes the file.
func (r *wavRecorder) Stop() error {
	info, err := r.file.Stat()
	if err != nil {
		r.file.Close()
		return err
	}
	size := info.Size()
	sizes := make([]byte, 4)

	binary.LittleEndian.PutUint32(sizes, uint32(size-8))
	if _, err := r.file.WriteAt(sizes, 4); err != nil {
		r.file.Close()
		return err
	}
	binary.LittleEndian.PutUint32(sizes, uint32(size-wavHeaderSize))
	if _, err := r.file.WriteAt(sizes, 40); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
