package decode

import (
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

const (
	// mp3WarmupBytes is how much compressed input must be buffered
	// before the underlying decoder is constructed. The library probes
	// its reader for the stream parameters at construction time and
	// fails on short input.
	mp3WarmupBytes = 8 * 1024

	// mp3ReserveBytes is the compressed backlog kept in the FIFO during
	// steady-state reads, so the decoder never underruns in the middle
	// of a frame it has partially consumed.
	mp3ReserveBytes = 2 * 1024

	// mp3BytesPerSample is the output sample width: two channels of
	// signed 16-bit little-endian.
	mp3BytesPerSample = 4
)

// MP3Decoder adapts the pull-style go-mp3 decoder to the per-frame push
// contract. Compressed frames accumulate in an internal FIFO; once the
// warm-up threshold is reached the underlying decoder is constructed and
// each subsequent push drains whatever PCM the backlog yields.
type MP3Decoder struct {
	fifo   frameFIFO
	dec    *mp3.Decoder
	pcmBuf []byte
	failed bool
}

// NewMP3Decoder returns an MP3 adapter ready to accept frames.
func NewMP3Decoder() *MP3Decoder {
	return &MP3Decoder{
		pcmBuf: make([]byte, 16*1024),
	}
}

// Decode buffers one compressed frame and returns any PCM the decoder
// produced. Early calls return an empty PCM while the decoder warms up.
// A construction or read failure poisons the adapter: the frame backlog
// is discarded and all further calls fail.
func (d *MP3Decoder) Decode(frame []byte) (PCM, error) {
	if d.failed {
		return PCM{}, fmt.Errorf("%w: decoder poisoned by earlier failure", ErrDecode)
	}
	d.fifo.push(frame)

	if d.dec == nil {
		if d.fifo.len() < mp3WarmupBytes {
			return PCM{}, nil
		}
		dec, err := mp3.NewDecoder(&d.fifo)
		if err != nil {
			d.failed = true
			d.fifo.buf.Reset()
			return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		d.dec = dec
	}

	return d.drain()
}

// drain reads PCM until the compressed backlog shrinks to the reserve,
// keeping the decoder fed across the read it is mid-way through.
func (d *MP3Decoder) drain() (PCM, error) {
	total := 0
	for d.fifo.len() > mp3ReserveBytes && total < len(d.pcmBuf) {
		n, err := d.dec.Read(d.pcmBuf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.ErrNoProgress) || errors.Is(err, io.EOF) {
				break
			}
			d.failed = true
			return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if n == 0 {
			break
		}
	}
	return PCM{
		Samples:     d.pcmBuf[:total],
		SampleCount: total / mp3BytesPerSample,
		Channels:    2,
		SampleRate:  d.dec.SampleRate(),
	}, nil
}

// Flush marks end of input and returns the PCM still held inside the
// decoder. Call once after the last frame.
func (d *MP3Decoder) Flush() (PCM, error) {
	if d.failed || d.dec == nil {
		return PCM{}, nil
	}
	d.fifo.close()
	total := 0
	for total < len(d.pcmBuf) {
		n, err := d.dec.Read(d.pcmBuf[total:])
		total += n
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	return PCM{
		Samples:     d.pcmBuf[:total],
		SampleCount: total / mp3BytesPerSample,
		Channels:    2,
		SampleRate:  d.dec.SampleRate(),
	}, nil
}

// SampleRate reports the decoded output rate, or zero before warm-up
// completes.
func (d *MP3Decoder) SampleRate() int {
	if d.dec == nil {
		return 0
	}
	return d.dec.SampleRate()
}

// Close releases the adapter. The underlying library holds no resources
// beyond the reader, so closing only seals the FIFO.
func (d *MP3Decoder) Close() error {
	d.fifo.close()
	return nil
}
