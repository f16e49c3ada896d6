// Package decode adapts third-party audio decoders to the per-frame
// contract of the player: complete compressed frames in, PCM descriptors
// out. The framing layer guarantees each input is an exact frame payload.
package decode

import (
	"errors"

	"github.com/zsiec/chime/internal/framing"
)

// Sentinel errors for decoder adapters.
var (
	// ErrNoDecoder means no decoder implementation exists for the stream
	// type. AAC sessions run in frame passthrough: frames are still
	// located and emitted, just not decoded locally.
	ErrNoDecoder = errors.New("decode: no decoder for stream type")

	// ErrDecode wraps a failed frame decode. The player skips the frame
	// and pumps the next one.
	ErrDecode = errors.New("decode: frame decode failed")
)

// PCM describes one span of decoded samples. Samples is interleaved
// signed 16-bit little-endian. The buffer is owned by the decoder and
// valid only until the next Decode call.
type PCM struct {
	Samples     []byte
	SampleCount int
	Channels    int
	SampleRate  int
}

// Empty reports whether the descriptor carries no samples, as during a
// decoder's warm-up frames.
func (p PCM) Empty() bool {
	return p.SampleCount == 0
}

// Decoder consumes one compressed frame per call and yields whatever PCM
// it produced. Decoders may buffer: early calls can return an empty PCM
// while the decoder primes.
type Decoder interface {
	Decode(frame []byte) (PCM, error)
	Close() error
}

// New returns the decoder adapter for the given stream type, or
// ErrNoDecoder when only passthrough is available.
func New(t framing.Type) (Decoder, error) {
	switch t {
	case framing.TypeMP3:
		return NewMP3Decoder(), nil
	default:
		return nil, ErrNoDecoder
	}
}
