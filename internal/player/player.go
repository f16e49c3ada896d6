// Package player runs one audio session: bytes are pushed into a ring
// buffer on the producer side while the session goroutine probes the
// stream type, synchronizes to the first frame boundary, and pumps exact
// frame payloads through an optional decoder to the registered handlers.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/chime/internal/decode"
	"github.com/zsiec/chime/internal/framing"
	"github.com/zsiec/chime/internal/rbstream"
)

// Sentinel errors for session lifecycle.
var (
	// ErrNotInitialized is returned by frame operations before a
	// successful InitDecoder.
	ErrNotInitialized = errors.New("player: not initialized")

	// ErrAlreadyInitialized is returned by a second InitDecoder call.
	ErrAlreadyInitialized = errors.New("player: already initialized")
)

// maxFrameSize bounds a single compressed frame: the ADTS length field
// is 13 bits, and the largest legal MP3 frame is well under that.
const maxFrameSize = 8 * 1024

// FrameHandler receives each located frame payload. The slice is valid
// only until the next pump call.
type FrameHandler func(t framing.Type, frame []byte)

// PCMHandler receives each non-empty span of decoded samples.
type PCMHandler func(pcm decode.PCM)

// Option configures a Player.
type Option func(*Player)

// WithRingSize sets the ring capacity in bytes.
func WithRingSize(n int) Option {
	return func(p *Player) { p.ringSize = n }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Player) { p.log = log }
}

// WithFill registers a pull-style input callback invoked when a read
// outruns buffered data. Without one, reads block until Push or Finish.
func WithFill(fill rbstream.FillFunc) Option {
	return func(p *Player) { p.fill = fill }
}

// WithType forces the stream type, skipping the probe. Used when the
// caller already knows the format from out-of-band signaling.
func WithType(t framing.Type) Option {
	return func(p *Player) {
		p.typ = t
		p.typeKnown = true
	}
}

// WithFrameHandler registers the raw-frame callback.
func WithFrameHandler(h FrameHandler) Option {
	return func(p *Player) { p.onFrame = h }
}

// WithPCMHandler registers the decoded-output callback.
func WithPCMHandler(h PCMHandler) Option {
	return func(p *Player) { p.onPCM = h }
}

// WithDecoderConfig registers a callback invoked once with the freshly
// constructed decoder, before the first frame is pumped.
func WithDecoderConfig(fn func(decode.Decoder)) Option {
	return func(p *Player) { p.configDec = fn }
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Frames  uint64
	Bytes   uint64
	Resyncs uint64
}

// Player is one audio session. The producer side (Push) and the
// consumer side (InitDecoder, GetFrame, DecodeFrame, Run) may run on
// different goroutines; all consumer operations belong to a single
// goroutine.
type Player struct {
	log      *slog.Logger
	ringSize int
	fill     rbstream.FillFunc

	ring   *rbstream.Ring
	stream *rbstream.Stream

	pushMu sync.Mutex

	typ       framing.Type
	typeKnown bool

	pos         int64
	fixedHeader uint32
	dec         decode.Decoder
	frameBuf    []byte
	initialized bool
	finished    bool

	configDec func(decode.Decoder)
	onFrame   FrameHandler
	onPCM     PCMHandler

	frames  atomic.Uint64
	bytes   atomic.Uint64
	resyncs atomic.Uint64
}

// New creates a session with an empty ring.
func New(opts ...Option) *Player {
	p := &Player{
		ringSize: rbstream.DefaultRingSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "player")

	p.ring = rbstream.NewRing(p.ringSize)
	p.stream = rbstream.Open(p.ring, p.fill)
	p.frameBuf = make([]byte, maxFrameSize)
	return p
}

// Push appends compressed bytes on the producer side, returning the
// count accepted. A full ring accepts a short count; zero means the
// caller should back off until the session consumes.
func (p *Player) Push(data []byte) (int, error) {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	return p.stream.Write(data)
}

// Writer returns a blocking producer-side writer for io.Copy-style
// sources. Safe for one producer goroutine.
func (p *Player) Writer() io.Writer {
	return p.stream.Writer()
}

// AudioType probes and caches the stream type. The probe runs with
// dequeueing suspended, so no bytes are lost to a trial sync.
func (p *Player) AudioType() framing.Type {
	if !p.typeKnown {
		p.typ = framing.Probe(p.stream)
		p.typeKnown = true
	}
	return p.typ
}

// InitDecoder classifies the stream, constructs the decoder adapter,
// and synchronizes to the first frame boundary. On any failure all
// acquisitions are released and the session stays uninitialized.
func (p *Player) InitDecoder(ctx context.Context) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := p.AudioType()
	if t == framing.TypeUnknown {
		return framing.ErrUnsupportedFormat
	}

	dec, err := decode.New(t)
	if err != nil && !errors.Is(err, decode.ErrNoDecoder) {
		return fmt.Errorf("player: init decoder: %w", err)
	}
	if dec != nil && p.configDec != nil {
		p.configDec(dec)
	}

	switch t {
	case framing.TypeMP3:
		pos, hdr, serr := framing.InitMP3(p.stream)
		if serr != nil {
			err = serr
			break
		}
		p.pos, p.fixedHeader = pos, hdr
	case framing.TypeAAC:
		pos, serr := framing.InitADTS(p.stream)
		if serr != nil {
			err = serr
			break
		}
		p.pos = pos
	}
	if err != nil && !errors.Is(err, decode.ErrNoDecoder) {
		if dec != nil {
			dec.Close()
		}
		return fmt.Errorf("player: first frame sync: %w", err)
	}

	p.dec = dec
	p.initialized = true
	p.log.Debug("session initialized",
		"type", t.String(),
		"pos", p.pos,
		"passthrough", dec == nil)
	return nil
}

// GetFrame pumps the next complete frame. The returned slice is valid
// until the next GetFrame call. Returns io.EOF when the synchronizer
// exhausts its envelope or input ends.
func (p *Player) GetFrame() ([]byte, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	var (
		n      int
		newPos int64
		ok     bool
	)
	switch p.typ {
	case framing.TypeMP3:
		n, newPos, ok = framing.NextFrameMP3(p.stream, p.pos, p.fixedHeader, p.frameBuf)
	case framing.TypeAAC:
		n, newPos, ok = framing.NextFrameADTS(p.stream, p.pos, p.frameBuf)
	default:
		return nil, framing.ErrUnsupportedFormat
	}
	if !ok {
		p.pos = newPos
		return nil, io.EOF
	}

	if newPos-int64(n) != p.pos {
		p.resyncs.Add(1)
	}
	p.pos = newPos
	p.frames.Add(1)
	p.bytes.Add(uint64(n))
	return p.frameBuf[:n], nil
}

// DecodeFrame feeds one frame through the decoder adapter. Passthrough
// sessions return an empty PCM. A decode failure is reported so the
// caller can skip the frame and pump the next one.
func (p *Player) DecodeFrame(frame []byte) (decode.PCM, error) {
	if !p.initialized {
		return decode.PCM{}, ErrNotInitialized
	}
	if p.dec == nil {
		return decode.PCM{}, nil
	}
	return p.dec.Decode(frame)
}

// Run drives the session to end of stream: initialize if needed, then
// pump, decode, and emit until EOS or ctx cancellation. Cancellation is
// observed between frames.
func (p *Player) Run(ctx context.Context) error {
	if !p.initialized {
		if err := p.InitDecoder(ctx); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := p.GetFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.flushDecoder()
				p.log.Debug("end of stream", "frames", p.frames.Load())
				return nil
			}
			return err
		}

		if p.onFrame != nil {
			p.onFrame(p.typ, frame)
		}

		pcm, derr := p.DecodeFrame(frame)
		if derr != nil {
			p.log.Warn("frame decode failed, skipping", "error", derr)
			continue
		}
		if !pcm.Empty() && p.onPCM != nil {
			p.onPCM(pcm)
		}
	}
}

// flushDecoder drains PCM still buffered inside the adapter once input
// ends.
func (p *Player) flushDecoder() {
	type flusher interface {
		Flush() (decode.PCM, error)
	}
	f, ok := p.dec.(flusher)
	if !ok {
		return
	}
	pcm, err := f.Flush()
	if err != nil {
		p.log.Warn("decoder flush failed", "error", err)
		return
	}
	if !pcm.Empty() && p.onPCM != nil {
		p.onPCM(pcm)
	}
}

// Finish ends the session: the stream closes (unblocking any pending
// producer or consumer), and the decoder is released. Idempotent.
func (p *Player) Finish() error {
	if p.finished {
		return nil
	}
	p.finished = true

	err := p.stream.Close()
	if p.dec != nil {
		if cerr := p.dec.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.dec = nil
	}
	return err
}

// Stats returns a snapshot of the session counters.
func (p *Player) Stats() Stats {
	return Stats{
		Frames:  p.frames.Load(),
		Bytes:   p.bytes.Load(),
		Resyncs: p.resyncs.Load(),
	}
}
