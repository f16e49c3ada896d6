package relay

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/zsiec/chime/internal/framing"
)

func TestRelayBroadcastDelivers(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	ch := r.Subscribe("sub-1")
	defer r.Unsubscribe("sub-1")

	r.Broadcast(framing.TypeMP3, []byte("frame-a"))
	r.Broadcast(framing.TypeMP3, []byte("frame-b"))

	for i, want := range []string{"frame-a", "frame-b"} {
		frame := <-ch
		if frame.Type != framing.TypeMP3 {
			t.Errorf("frame %d: type = %v, want mp3", i, frame.Type)
		}
		if string(frame.Payload) != want {
			t.Errorf("frame %d: payload = %q, want %q", i, frame.Payload, want)
		}
	}
}

func TestRelayBroadcastCopiesPayload(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	ch := r.Subscribe("sub-1")
	defer r.Unsubscribe("sub-1")

	payload := []byte("original")
	r.Broadcast(framing.TypeAAC, payload)
	copy(payload, "clobberd")

	frame := <-ch
	if !bytes.Equal(frame.Payload, []byte("original")) {
		t.Errorf("payload = %q, broadcast aliased the caller's buffer", frame.Payload)
	}
}

func TestRelayCacheReplay(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	for i := 0; i < 3; i++ {
		r.Broadcast(framing.TypeMP3, []byte{byte(i)})
	}

	// A late subscriber receives the cached frames in broadcast order.
	ch := r.Subscribe("late")
	defer r.Unsubscribe("late")

	for i := 0; i < 3; i++ {
		frame := <-ch
		if frame.Payload[0] != byte(i) {
			t.Errorf("replayed frame %d: payload = %d", i, frame.Payload[0])
		}
	}
}

func TestRelayCacheSlides(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	for i := 0; i < frameCacheSize+10; i++ {
		r.Broadcast(framing.TypeMP3, []byte{byte(i)})
	}

	ch := r.Subscribe("late")
	defer r.Unsubscribe("late")

	// The cache holds only the newest frameCacheSize frames, so replay
	// starts 10 frames in.
	frame := <-ch
	if frame.Payload[0] != 10 {
		t.Errorf("oldest replayed frame = %d, want 10", frame.Payload[0])
	}
}

func TestRelayDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.Subscribe("slow")
	defer r.Unsubscribe("slow")

	// Never read: the channel fills and later frames are dropped.
	for i := 0; i < subscriberBuffer+5; i++ {
		r.Broadcast(framing.TypeMP3, []byte{0})
	}

	stats := r.SubscriberStatsAll()
	if len(stats) != 1 {
		t.Fatalf("stats entries = %d, want 1", len(stats))
	}
	if stats[0].Delivered != subscriberBuffer {
		t.Errorf("delivered = %d, want %d", stats[0].Delivered, subscriberBuffer)
	}
	if stats[0].Dropped != 5 {
		t.Errorf("dropped = %d, want 5", stats[0].Dropped)
	}
}

func TestRelayUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	ch := r.Subscribe("sub-1")

	r.Unsubscribe("sub-1")
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if r.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", r.SubscriberCount())
	}

	// Unknown IDs are ignored.
	r.Unsubscribe("sub-1")
}

func TestRelayStreamInfoFirstWins(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	if got := r.StreamInfo(); got.Type != framing.TypeUnknown {
		t.Fatalf("initial info type = %v, want unknown", got.Type)
	}

	r.SetStreamInfo(StreamInfo{Type: framing.TypeMP3, SampleRate: 44100, Channels: 2})
	r.SetStreamInfo(StreamInfo{Type: framing.TypeAAC, SampleRate: 48000, Channels: 1})

	got := r.StreamInfo()
	if got.Type != framing.TypeMP3 || got.SampleRate != 44100 || got.Channels != 2 {
		t.Errorf("info = %+v, want first writer's parameters", got)
	}
}

func TestRelayFanOut(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	var chans []<-chan Frame
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sub-%d", i)
		chans = append(chans, r.Subscribe(id))
		defer r.Unsubscribe(id)
	}
	if r.SubscriberCount() != 3 {
		t.Fatalf("subscriber count = %d, want 3", r.SubscriberCount())
	}

	r.Broadcast(framing.TypeAAC, []byte("shared"))
	for i, ch := range chans {
		frame := <-ch
		if string(frame.Payload) != "shared" {
			t.Errorf("subscriber %d: payload = %q", i, frame.Payload)
		}
	}
}
