package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

// alpnProtocol is the ALPN token subscribers must offer.
const alpnProtocol = "chime-relay"

// keyLineLimit bounds the subscribe request line.
const keyLineLimit = 256

// Server accepts QUIC subscriber connections. Each subscriber opens one
// bidirectional stream, sends the stream key terminated by a newline,
// and then receives the stream info line followed by framed records
// until it disconnects or the stream ends.
type Server struct {
	log    *slog.Logger
	addr   string
	lookup func(key string) *Relay

	tlsConf      *tls.Config
	certValidity time.Duration
	certHosts    []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTLSConfig uses an operator-supplied TLS configuration instead of
// minting a self-signed certificate.
func WithTLSConfig(conf *tls.Config) ServerOption {
	return func(s *Server) { s.tlsConf = conf }
}

// WithCertValidity sets the validity of the minted certificate, capped
// at 14 days.
func WithCertValidity(d time.Duration) ServerOption {
	return func(s *Server) { s.certValidity = d }
}

// WithCertHosts sets the hosts the minted certificate covers, replacing
// the loopback defaults.
func WithCertHosts(hosts ...string) ServerOption {
	return func(s *Server) { s.certHosts = hosts }
}

// NewServer creates a relay server. lookup resolves a stream key to its
// fan-out hub, returning nil for unknown keys.
func NewServer(addr string, lookup func(key string) *Relay, log *slog.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:    log.With("component", "relay-server"),
		addr:   addr,
		lookup: lookup,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens for subscribers until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	tlsConf, fingerprint, err := s.listenerTLS()
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(s.addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("relay: listen on %s: %w", s.addr, err)
	}
	defer listener.Close()

	if fingerprint != "" {
		s.log.Info("listening", "addr", s.addr, "fingerprint", fingerprint)
	} else {
		s.log.Info("listening", "addr", s.addr)
	}

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(1, "no stream")
		return
	}

	key, err := readKeyLine(stream)
	if err != nil {
		conn.CloseWithError(1, "bad subscribe request")
		return
	}

	relay := s.lookup(key)
	if relay == nil {
		s.log.Debug("unknown stream key", "stream_key", key)
		conn.CloseWithError(2, "unknown stream")
		return
	}

	info, _ := json.Marshal(relay.StreamInfo())
	if _, err := stream.Write(append(info, '\n')); err != nil {
		conn.CloseWithError(1, "write failed")
		return
	}

	subID := conn.RemoteAddr().String()
	frames := relay.Subscribe(subID)
	defer relay.Unsubscribe(subID)

	s.log.Info("subscriber attached", "stream_key", key, "remote", subID)

	for {
		select {
		case <-ctx.Done():
			conn.CloseWithError(0, "server shutdown")
			return
		case frame, ok := <-frames:
			if !ok {
				conn.CloseWithError(0, "stream ended")
				return
			}
			if err := WriteRecord(stream, frame.Type, frame.Payload); err != nil {
				s.log.Debug("subscriber write failed", "stream_key", key,
					"remote", subID, "error", err)
				conn.CloseWithError(1, "write failed")
				return
			}
		}
	}
}

func readKeyLine(stream quic.Stream) (string, error) {
	r := bufio.NewReaderSize(stream, keyLineLimit)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("empty stream key")
	}
	return key, nil
}
