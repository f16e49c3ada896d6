// Package playback plays decoded PCM on the local sound device.
package playback

import (
	"fmt"
	"io"
	"log/slog"

	oto "github.com/hajimehoshi/oto/v2"

	"github.com/zsiec/chime/internal/decode"
)

// bitDepthBytes is the sample width the sessions produce: signed 16-bit.
const bitDepthBytes = 2

// Sink streams interleaved s16le samples to the sound device. The oto
// player pulls from the read side of a pipe; Write feeds the write side,
// so producers experience natural backpressure at playback rate.
type Sink struct {
	log    *slog.Logger
	player oto.Player
	pw     *io.PipeWriter
}

// NewSink opens the audio device for the given format. Blocks until the
// device is ready.
func NewSink(sampleRate, channels int, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "playback")

	ctx, ready, err := oto.NewContext(sampleRate, channels, bitDepthBytes)
	if err != nil {
		return nil, fmt.Errorf("playback: open device: %w", err)
	}
	<-ready

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	log.Debug("device opened", "sample_rate", sampleRate, "channels", channels)
	return &Sink{log: log, player: player, pw: pw}, nil
}

// Write queues one span of decoded samples, blocking at playback rate.
func (s *Sink) Write(pcm decode.PCM) error {
	if pcm.Empty() {
		return nil
	}
	if _, err := s.pw.Write(pcm.Samples); err != nil {
		return fmt.Errorf("playback: write samples: %w", err)
	}
	return nil
}

// Close stops feeding the device. Samples already queued play out.
func (s *Sink) Close() error {
	s.pw.Close()
	return s.player.Close()
}
