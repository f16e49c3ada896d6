package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/chime/internal/ingest"
)

// dialTimeout bounds the SRT handshake with a remote listener. libsrt's
// own handshake retries can hold a dial against a silent host for far
// longer than any caller wants to wait.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT listener to pull a stream from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

// streamID is the SRT StreamID offered to the remote listener, derived
// from the stream key when not set explicitly.
func (r PullRequest) streamID() string {
	if r.StreamID != "" {
		return r.StreamID
	}
	return "live/" + r.StreamKey
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller dials remote SRT listeners and feeds the pulled bytes into
// player sessions obtained from the ingest registry. At most one pull
// is active per stream key.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that registers pulled streams with the
// given registry. If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously, returning an error
// if the handshake fails or times out. On success the pulled bytes flow
// into the stream's session ring in a background goroutine until Stop
// is called, the context is cancelled, or the remote closes.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return errors.New("srt: pull needs an address")
	}
	if req.StreamKey == "" {
		return errors.New("srt: pull needs a stream key")
	}

	pullCtx, cancel := context.WithCancel(ctx)

	// Claim the key before dialing so a concurrent Pull for the same
	// stream fails fast instead of racing the handshake.
	c.mu.Lock()
	if _, busy := c.pulls[req.StreamKey]; busy {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("srt: pull already active for %q", req.StreamKey)
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	conn, err := dial(pullCtx, req)
	if err != nil {
		c.release(req.StreamKey)
		return err
	}

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)
	go c.pump(pullCtx, req, conn)
	return nil
}

// dial performs the SRT handshake under the pull context plus the dial
// timeout. srtgo.Dial itself does not take a context, so the handshake
// runs in its own goroutine and a connection that lands after the
// caller has given up is closed rather than leaked.
func dial(ctx context.Context, req PullRequest) (*srtgo.Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = req.streamID()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conns := make(chan *srtgo.Conn)
	errs := make(chan error, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		if err != nil {
			errs <- err
			return
		}
		select {
		case conns <- conn:
		default:
			conn.Close()
		}
	}()

	select {
	case conn := <-conns:
		return conn, nil
	case err := <-errs:
		return nil, fmt.Errorf("srt: dial %s: %w", req.Address, err)
	case <-ctx.Done():
		return nil, fmt.Errorf("srt: dial %s: %w", req.Address, ctx.Err())
	}
}

// pump copies the remote's bytes into the session ring until the pull
// is stopped or the remote disconnects, then tears the pull down.
func (c *Caller) pump(ctx context.Context, req PullRequest, conn *srtgo.Conn) {
	stream, ring := c.registry.Register(req.StreamKey)
	stream.SetRemoteAddr(req.Address)

	// Closing the socket is the only way to unblock the copy below.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	defer func() {
		stop()
		conn.Close()
		c.registry.Unregister(req.StreamKey)
		c.release(req.StreamKey)
	}()

	received, err := io.CopyBuffer(meteredSink{ring, stream}, conn, make([]byte, copyChunk))
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		c.log.Debug("transfer ended", "stream_key", req.StreamKey, "error", err)
	}

	session := stream.Session.Stats()
	c.log.Info("pull ended", "stream_key", req.StreamKey,
		"bytes", received,
		"frames", session.Frames,
		"resyncs", session.Resyncs,
		"uptime_ms", stream.IngestStats().UptimeMs)
}

// release frees the pull slot for the key and cancels its context.
func (c *Caller) release(key string) {
	c.mu.Lock()
	ap := c.pulls[key]
	delete(c.pulls, key)
	c.mu.Unlock()
	if ap != nil {
		ap.cancel()
	}
}

// Stop cancels an active pull by stream key.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("srt: no active pull for %q", streamKey)
	}
	ap.cancel()
	return nil
}

// ActivePulls lists the pulls currently streaming.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	return out
}
