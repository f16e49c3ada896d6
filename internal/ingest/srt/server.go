package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/chime/internal/ingest"
)

// srtLatencyNs is the receive latency window handed to libsrt (120 ms):
// enough reordering slack for internet jitter without an audible delay
// on the relay path.
const srtLatencyNs = 120_000_000

// copyChunk is the transfer buffer between the socket and the session
// ring. Compressed audio rarely exceeds 40 kB/s, so eight SRT payloads
// already hold a quarter second of stream.
const copyChunk = 8 * 1316

// meteredSink feeds socket bytes into a session ring while keeping the
// ingest stream's receive counters current.
type meteredSink struct {
	ring   io.Writer
	stream *ingest.Stream
}

func (m meteredSink) Write(p []byte) (int, error) {
	n, err := m.ring.Write(p)
	if n > 0 {
		m.stream.RecordRead(n)
	}
	return n, err
}

// Server accepts incoming SRT publish connections and feeds each one
// into a player session obtained from the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	// Publishers without a usable stream key are turned away during the
	// handshake, before a connection exists to tear down.
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, err := streamKey(req.StreamID); err != nil {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, err := streamKey(conn.StreamID())
		if err != nil {
			conn.Close()
			continue
		}

		s.log.Info("publish", "stream_key", key, "remote", conn.RemoteAddr())
		go s.serve(ctx, conn, key)
	}
}

// serve copies one publisher's bytes into its session ring until the
// publisher disconnects, the session ends, or the server stops.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn, key string) {
	stream, ring := s.registry.Register(key)
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	defer s.registry.Unregister(key)

	// Closing the socket is the only way to unblock the copy below.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	received, err := io.CopyBuffer(meteredSink{ring, stream}, conn, make([]byte, copyChunk))
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		s.log.Debug("transfer ended", "stream_key", key, "error", err)
	}

	session := stream.Session.Stats()
	s.log.Info("publish ended", "stream_key", key,
		"bytes", received,
		"frames", session.Frames,
		"resyncs", session.Resyncs,
		"uptime_ms", stream.IngestStats().UptimeMs)
}

// streamKey derives the chime stream key from an SRT StreamID. Both the
// path form ("live/radio", "/radio") and the access control form
// ("#!::r=radio,m=publish") are accepted.
func streamKey(id string) (string, error) {
	if rest, ok := strings.CutPrefix(id, "#!::"); ok {
		for _, kv := range strings.Split(rest, ",") {
			if v, ok := strings.CutPrefix(kv, "r="); ok && v != "" {
				return v, nil
			}
		}
		return "", fmt.Errorf("srt: stream id %q has no resource name", id)
	}

	key := strings.TrimPrefix(id, "/")
	key = strings.TrimPrefix(key, "live/")
	if key == "" {
		return "", errors.New("srt: empty stream key")
	}
	return key, nil
}
