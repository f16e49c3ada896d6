// Package relay fans located compressed frames out to network
// subscribers over QUIC, without decoding them.
package relay

import (
	"log/slog"
	"sync"

	"github.com/zsiec/chime/internal/framing"
)

// frameCacheSize is the number of recent frames cached per stream for
// replay to late-joining subscribers (roughly one second of audio).
const frameCacheSize = 50

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// whose channel is full when a frame arrives has the frame dropped;
// audio at the live edge is worthless late.
const subscriberBuffer = 64

// Frame is one relayed frame: the stream type tag plus an owned copy of
// the payload.
type Frame struct {
	Type    framing.Type
	Payload []byte
}

// SubscriberStats captures delivery metrics for one subscriber.
type SubscriberStats struct {
	ID        string `json:"id"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

type subscriber struct {
	id string
	ch chan Frame

	mu        sync.Mutex
	delivered int64
	dropped   int64
}

func (s *subscriber) stats() SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriberStats{ID: s.id, Delivered: s.delivered, Dropped: s.dropped}
}

// Relay is the fan-out hub for a single stream. It distributes frames
// from the player session to all attached subscribers and caches recent
// frames so that new subscribers can pre-fill their buffers.
type Relay struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber

	cacheMu sync.RWMutex
	cache   []Frame

	infoMu sync.RWMutex
	info   StreamInfo
}

// StreamInfo holds the stream parameters detected from the first
// confirmed frame, advertised to subscribers at attach time.
type StreamInfo struct {
	Type       framing.Type `json:"type"`
	SampleRate int          `json:"sampleRate,omitempty"`
	Channels   int          `json:"channels,omitempty"`
}

// NewRelay creates a Relay with no subscribers.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:  log.With("component", "relay"),
		subs: make(map[string]*subscriber),
	}
}

// SetStreamInfo stores the detected stream parameters. First caller
// wins.
func (r *Relay) SetStreamInfo(info StreamInfo) {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	if r.info.Type == framing.TypeUnknown {
		r.info = info
		r.log.Debug("stream info set",
			"type", info.Type.String(),
			"sample_rate", info.SampleRate,
			"channels", info.Channels)
	}
}

// StreamInfo returns the detected stream parameters.
func (r *Relay) StreamInfo() StreamInfo {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	return r.info
}

// Broadcast copies the frame, updates the replay cache, and delivers it
// to every subscriber whose channel has room. Slow subscribers lose the
// frame rather than stalling the session.
func (r *Relay) Broadcast(t framing.Type, payload []byte) {
	frame := Frame{Type: t, Payload: append([]byte(nil), payload...)}

	r.cacheMu.Lock()
	if len(r.cache) >= frameCacheSize {
		copy(r.cache, r.cache[1:])
		r.cache[len(r.cache)-1] = frame
	} else {
		r.cache = append(r.cache, frame)
	}
	r.cacheMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- frame:
			sub.mu.Lock()
			sub.delivered++
			sub.mu.Unlock()
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
	}
}

// Subscribe replays the cached frames into a fresh channel, then
// registers it for live delivery. Replay happens before registration so
// Broadcast cannot interleave live frames ahead of the replay.
func (r *Relay) Subscribe(id string) <-chan Frame {
	sub := &subscriber{id: id, ch: make(chan Frame, subscriberBuffer)}

	r.cacheMu.RLock()
	for _, frame := range r.cache {
		select {
		case sub.ch <- frame:
			sub.delivered++
		default:
		}
	}
	r.cacheMu.RUnlock()

	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()

	r.log.Info("subscriber added", "subscriber", id, "subscribers", r.SubscriberCount())
	return sub.ch
}

// Unsubscribe removes a subscriber by ID and closes its channel.
func (r *Relay) Unsubscribe(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if ok {
		close(sub.ch)
		r.log.Info("subscriber removed", "subscriber", id, "subscribers", r.SubscriberCount())
	}
}

// SubscriberCount returns the number of attached subscribers.
func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// SubscriberStatsAll returns delivery metrics for every subscriber.
func (r *Relay) SubscriberStatsAll() []SubscriberStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]SubscriberStats, 0, len(r.subs))
	for _, sub := range r.subs {
		stats = append(stats, sub.stats())
	}
	return stats
}
