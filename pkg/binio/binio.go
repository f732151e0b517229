// Package binio reads and writes the flat little-endian float32 arrays the
// reconstruction pipeline stores on disk. All offsets and counts are element
// offsets into the file, not byte offsets, mirroring how the datasets index
// into their projection and geometry files.
package binio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxOpenFiles bounds the file handle cache when no explicit
// capacity is given. A run touches a handful of files, each hundreds of
// times, so a small cache eliminates almost all reopen syscalls.
const DefaultMaxOpenFiles = 8

// Reader reads float32 regions from binary files, keeping recently used
// file handles open in an LRU cache. Evicted handles are closed. A Reader
// is intended for use from a single goroutine.
type Reader struct {
	files *lru.Cache[string, *os.File]
}

// NewReader creates a reader whose handle cache holds at most maxOpenFiles
// files. A non-positive capacity selects DefaultMaxOpenFiles.
func NewReader(maxOpenFiles int) (*Reader, error) {
	if maxOpenFiles <= 0 {
		maxOpenFiles = DefaultMaxOpenFiles
	}
	files, err := lru.NewWithEvict[string, *os.File](maxOpenFiles, func(path string, f *os.File) {
		f.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create file handle cache: %w", err)
	}
	return &Reader{files: files}, nil
}

// ReadFloats reads count float32 values starting at the given element
// offset. The file must contain the full region: a short read is an error,
// never a truncated result.
func (r *Reader) ReadFloats(path string, count, offset int64) ([]float32, error) {
	if count < 0 || offset < 0 {
		return nil, fmt.Errorf("invalid read region: count=%d offset=%d", count, offset)
	}
	if count == 0 {
		return []float32{}, nil
	}

	f, err := r.open(path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, count*4)
	n, err := f.ReadAt(buf, offset*4)
	if n < len(buf) {
		return nil, fmt.Errorf("short read from %s: got %d of %d bytes at element offset %d: %v", path, n, len(buf), offset, err)
	}

	vals := make([]float32, count)
	decodeFloats(vals, buf)
	return vals, nil
}

func (r *Reader) open(path string) (*os.File, error) {
	if f, ok := r.files.Get(path); ok {
		return f, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r.files.Add(path, f)
	return f, nil
}

// Close releases every cached file handle.
func (r *Reader) Close() error {
	r.files.Purge()
	return nil
}

// WriteFloats writes data as little-endian float32 values starting at the
// given element offset, creating the file if necessary.
func WriteFloats(path string, offset int64, data []float32) error {
	if offset < 0 {
		return fmt.Errorf("invalid write offset %d", offset)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset*4, 0); err != nil {
		return fmt.Errorf("failed to seek %s to element offset %d: %w", path, offset, err)
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// EncodeFloats packs float32 values into little-endian bytes. The wire
// protocol and the file format share this layout.
func EncodeFloats(vals []float32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// DecodeFloats unpacks little-endian bytes into float32 values. The buffer
// length must be a multiple of four.
func DecodeFloats(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid float payload: %d bytes is not a multiple of 4", len(buf))
	}
	vals := make([]float32, len(buf)/4)
	decodeFloats(vals, buf)
	return vals, nil
}

func decodeFloats(dst []float32, buf []byte) {
	for i := range dst {
		off := i * 4
		bits := uint32(buf[off]) |
			uint32(buf[off+1])<<8 |
			uint32(buf[off+2])<<16 |
			uint32(buf[off+3])<<24
		dst[i] = math.Float32frombits(bits)
	}
}
