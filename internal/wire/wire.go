// Package wire implements the framing protocol the cluster workers speak
// over TCP. Every message is a fixed header followed by an optional
// payload; reduce payloads carry zstd-compressed float32 data. All integers
// on the wire are little-endian, the same byte order as the data files.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kirilklein/HPC/pkg/binio"
)

// Frame operation codes.
const (
	// OpHello announces a worker's rank to the coordinator after dialing.
	OpHello uint8 = iota + 1

	// OpReduce carries a worker's compressed partial volume.
	OpReduce

	// OpReduceAck releases a worker once the coordinator has accumulated
	// every partial.
	OpReduceAck

	// OpBarrier announces arrival at a barrier.
	OpBarrier

	// OpBarrierAck releases a worker from a barrier.
	OpBarrierAck

	// OpAbort carries an error message; the collective is failed on both
	// ends instead of left hanging.
	OpAbort
)

// magic marks the start of every frame, guarding against stray connections
// and desynchronized streams.
const magic uint32 = 0x43545231 // "CTR1"

// headerSize is magic + op + rank + payload length.
const headerSize = 4 + 1 + 4 + 8

// maxPayloadBytes bounds a frame payload so a corrupt length field cannot
// trigger an enormous allocation. 32 GiB covers an uncompressed partial
// volume of 2000^3 voxels.
const maxPayloadBytes = 1 << 35

// Frame is a single protocol message.
type Frame struct {
	Op      uint8
	Rank    int
	Payload []byte
}

// WriteFrame writes a frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	header[4] = f.Op
	binary.LittleEndian.PutUint32(header[5:9], uint32(f.Rank))
	binary.LittleEndian.PutUint64(header[9:17], uint64(len(f.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads the next frame from r. It fails on a bad magic value, an
// oversized payload length, or a truncated stream.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return Frame{}, fmt.Errorf("invalid frame magic 0x%08x", got)
	}

	f := Frame{
		Op:   header[4],
		Rank: int(int32(binary.LittleEndian.Uint32(header[5:9]))),
	}

	n := binary.LittleEndian.Uint64(header[9:17])
	if n > maxPayloadBytes {
		return Frame{}, fmt.Errorf("frame payload of %d bytes exceeds limit", n)
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
	return f, nil
}

// Codec compresses and decompresses reduce payloads. Reduce traffic is the
// dominant cluster cost, and partial volumes compress well because voxels a
// worker's projections never touched stay zero.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec for reduce payloads.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// CompressFloats packs vals little-endian and compresses them.
func (c *Codec) CompressFloats(vals []float32) []byte {
	return c.enc.EncodeAll(binio.EncodeFloats(vals), nil)
}

// DecompressFloats reverses CompressFloats and checks that the payload
// holds exactly want values.
func (c *Codec) DecompressFloats(buf []byte, want int) ([]float32, error) {
	raw, err := c.dec.DecodeAll(buf, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	vals, err := binio.DecodeFloats(raw)
	if err != nil {
		return nil, err
	}
	if len(vals) != want {
		return nil, fmt.Errorf("reduce payload holds %d values, want %d", len(vals), want)
	}
	return vals, nil
}

// Close releases the codec's compressor state.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
