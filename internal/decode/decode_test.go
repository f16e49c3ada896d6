package decode

import (
	"errors"
	"io"
	"testing"

	"github.com/zsiec/chime/internal/framing"
)

func TestNewDecoderDispatch(t *testing.T) {
	t.Parallel()

	dec, err := New(framing.TypeMP3)
	if err != nil {
		t.Fatalf("New(mp3): %v", err)
	}
	if dec == nil {
		t.Fatal("New(mp3) returned nil decoder")
	}
	dec.Close()

	if _, err := New(framing.TypeAAC); !errors.Is(err, ErrNoDecoder) {
		t.Errorf("New(aac) error = %v, want ErrNoDecoder", err)
	}
	if _, err := New(framing.TypeUnknown); !errors.Is(err, ErrNoDecoder) {
		t.Errorf("New(unknown) error = %v, want ErrNoDecoder", err)
	}
}

func TestPCMEmpty(t *testing.T) {
	t.Parallel()

	if !(PCM{}).Empty() {
		t.Error("zero PCM should be empty")
	}
	if (PCM{Samples: make([]byte, 4), SampleCount: 1}).Empty() {
		t.Error("PCM with samples should not be empty")
	}
}

func TestMP3DecoderWarmUp(t *testing.T) {
	t.Parallel()

	d := NewMP3Decoder()
	defer d.Close()

	// Frames below the warm-up threshold buffer silently: no PCM, no
	// error, no decoder construction.
	frame := make([]byte, 512)
	for buffered := 0; buffered+len(frame) < mp3WarmupBytes; buffered += len(frame) {
		pcm, err := d.Decode(frame)
		if err != nil {
			t.Fatalf("warm-up decode: %v", err)
		}
		if !pcm.Empty() {
			t.Fatal("warm-up produced samples before the decoder existed")
		}
	}
}

func TestMP3DecoderPoisonedOnBadStream(t *testing.T) {
	t.Parallel()

	d := NewMP3Decoder()
	defer d.Close()

	// Enough garbage to trip construction, which must fail and poison
	// the adapter.
	garbage := make([]byte, mp3WarmupBytes)
	for i := range garbage {
		garbage[i] = 0xA5
	}
	if _, err := d.Decode(garbage); !errors.Is(err, ErrDecode) {
		t.Fatalf("decode of garbage = %v, want ErrDecode", err)
	}
	if _, err := d.Decode(garbage[:16]); !errors.Is(err, ErrDecode) {
		t.Errorf("poisoned decoder accepted another frame: %v", err)
	}
}

func TestFrameFIFO(t *testing.T) {
	t.Parallel()

	f := &frameFIFO{}

	// Open and empty: the reader must not block or report EOF.
	if _, err := f.Read(make([]byte, 4)); !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("empty read error = %v, want io.ErrNoProgress", err)
	}

	f.push([]byte("abc"))
	f.push([]byte("def"))
	if f.len() != 6 {
		t.Errorf("len = %d, want 6", f.len())
	}

	got := make([]byte, 6)
	if n, err := io.ReadFull(f, got); n != 6 || err != nil {
		t.Fatalf("ReadFull = %d, %v", n, err)
	}
	if string(got) != "abcdef" {
		t.Errorf("read %q", got)
	}

	f.close()
	if _, err := f.Read(got); !errors.Is(err, io.EOF) {
		t.Errorf("closed empty read error = %v, want io.EOF", err)
	}
}
