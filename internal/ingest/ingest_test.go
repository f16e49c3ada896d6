package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/zsiec/chime/internal/player"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, w := r.Register("test-stream")

	if stream.Key != "test-stream" {
		t.Fatalf("got key %q, want %q", stream.Key, "test-stream")
	}
	if stream.Session == nil {
		t.Fatal("session is nil")
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	got, ok := r.Get("test-stream")
	if !ok {
		t.Fatal("Get returned false for registered stream")
	}
	if got != stream {
		t.Fatal("Get returned different stream pointer")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("Get returned true for missing stream")
	}
}

func TestRegistrySessionFor(t *testing.T) {
	t.Parallel()

	custom := player.New()
	var askedKey string
	r := NewRegistry(func(key string) *player.Player {
		askedKey = key
		return custom
	}, nil)

	stream, _ := r.Register("s1")
	if askedKey != "s1" {
		t.Fatalf("sessionFor got key %q, want %q", askedKey, "s1")
	}
	if stream.Session != custom {
		t.Fatal("Register did not use the session from sessionFor")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	r.Register("stream1")

	r.Unregister("stream1")

	_, ok := r.Get("stream1")
	if ok {
		t.Fatal("stream still found after Unregister")
	}
}

func TestRegistryUnregisterMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	// Should not panic.
	r.Unregister("nonexistent")
}

func TestRegistryUnregisterFinishesSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _ := r.Register("stream1")
	r.Unregister("stream1")

	select {
	case <-stream.Done():
	default:
		t.Fatal("Done not closed after Unregister")
	}

	// The session's ring is sealed, so the receiver's writes must fail.
	if _, err := stream.Session.Push([]byte("x")); err == nil {
		t.Fatal("Push succeeded after Unregister")
	}
}

func TestRegistryOnStreamCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calledKey string
	var calledSession *player.Player

	done := make(chan struct{})
	r := NewRegistry(nil, func(key string, session *player.Player) {
		mu.Lock()
		calledKey = key
		calledSession = session
		mu.Unlock()
		close(done)
	})

	stream, _ := r.Register("cb-stream")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onStream callback not called within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if calledKey != "cb-stream" {
		t.Fatalf("callback got key %q, want %q", calledKey, "cb-stream")
	}
	if calledSession != stream.Session {
		t.Fatal("callback got a different session than the registered stream")
	}
}

func TestStreamRecordRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _ := r.Register("s1")

	stream.RecordRead(100)
	stream.RecordRead(200)

	stats := stream.IngestStats()
	if stats.BytesReceived != 300 {
		t.Fatalf("BytesReceived = %d, want 300", stats.BytesReceived)
	}
	if stats.ReadCount != 2 {
		t.Fatalf("ReadCount = %d, want 2", stats.ReadCount)
	}
}

func TestStreamSetRemoteAddr(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _ := r.Register("s1")

	stream.SetRemoteAddr("192.168.1.1:5000")

	stats := stream.IngestStats()
	if stats.RemoteAddr != "192.168.1.1:5000" {
		t.Fatalf("RemoteAddr = %q, want %q", stats.RemoteAddr, "192.168.1.1:5000")
	}
}

func TestStreamIngestStatsUptime(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	stream, _ := r.Register("s1")

	// Sleep briefly to ensure uptime is measurable.
	time.Sleep(10 * time.Millisecond)

	stats := stream.IngestStats()
	if stats.UptimeMs < 10 {
		t.Fatalf("UptimeMs = %d, expected at least 10", stats.UptimeMs)
	}
	if stats.ConnectedAt == 0 {
		t.Fatal("ConnectedAt is zero")
	}
}

func TestRegistryKeys(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	r.Register("a")
	r.Register("b")

	keys := r.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys = %v, want 2 entries", keys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("Keys = %v, want a and b", keys)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			r.Register(key)
			r.Get(key)
			r.Unregister(key)
		}(i)
	}

	wg.Wait()
}
