// Package ingest manages active ingest connections, coupling network
// byte receivers with per-stream player sessions and lifecycle
// signaling.
package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/chime/internal/player"
)

// IngestStats captures connection-level metrics for an ingest stream,
// exposed for monitoring source health.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active ingest connection, coupling the receiver
// with its player session and lifecycle signaling. Bytes written to the
// session's ring by the receiver are consumed by the session goroutine.
type Stream struct {
	Key       string
	StartedAt time.Time
	Session   *player.Player
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest streams by key and dispatches each new
// session to the onStream callback. It is the rendezvous point between
// the network ingest layer and the playback or relay pipeline.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream   func(key string, session *player.Player)
	sessionFor func(key string) *player.Player
}

// NewRegistry creates a Registry. sessionFor builds the player for each
// new key (nil means a default session); onStream is invoked
// asynchronously whenever a new stream is registered.
func NewRegistry(sessionFor func(key string) *player.Player, onStream func(key string, session *player.Player)) *Registry {
	return &Registry{
		streams:    make(map[string]*Stream),
		onStream:   onStream,
		sessionFor: sessionFor,
	}
}

// Register creates a new ingest stream with the given key, returning
// the Stream and the Writer the receiver should write into. If onStream
// is set, the callback is invoked asynchronously with the session.
func (r *Registry) Register(key string) (*Stream, io.Writer) {
	var session *player.Player
	if r.sessionFor != nil {
		session = r.sessionFor(key)
	}
	if session == nil {
		session = player.New()
	}

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Session:   session,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(key, session)
	}

	return stream, session.Writer()
}

// Unregister removes a stream by key, finishing its session and
// signaling Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.Session.Finish()
		close(stream.done)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the keys of all active streams.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	return keys
}
