package rbstream

import "io"

// FillFunc is invoked by the consumer side when a read outruns the
// buffered data, giving pull-style producers a chance to push more bytes.
// Returning 0 marks end of input; the blocked read then completes short.
type FillFunc func() int

// Stream is the consumer's logical-offset view of a Ring. Positional reads
// via Seek and Read never free memory; SeekRelease additionally publishes
// a release watermark handing the consumed prefix back to the producer,
// provided dequeueing is currently allowed.
//
// The consumer-side cursor and flags are confined to the single consumer
// goroutine; only Write and the ring internals are shared with the
// producer.
type Stream struct {
	ring *Ring
	pos  int64
	fill FillFunc

	allowDequeue bool
	eos          bool
}

// Open wraps ring in a Stream. fill may be nil for push-style producers
// that Write concurrently; those readers block until data arrives or the
// ring closes. Dequeueing starts enabled.
func Open(ring *Ring, fill FillFunc) *Stream {
	return &Stream{
		ring:         ring,
		fill:         fill,
		allowDequeue: true,
	}
}

// Read copies bytes at the internal cursor, blocking (or invoking the
// fill callback) while data is not yet buffered. A read that reaches end
// of input returns the bytes copied so far with io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, closed, err := s.ring.copyAt(s.pos, p[total:])
		if err != nil {
			if total > 0 {
				return total, err
			}
			return 0, err
		}
		total += n
		s.pos += int64(n)
		if total == len(p) {
			return total, nil
		}
		if closed || s.eos {
			return total, io.EOF
		}
		if s.fill != nil {
			if s.fill() == 0 {
				s.eos = true
			}
			continue
		}
		s.ring.waitAt(s.pos)
	}
	return total, nil
}

// Seek relocates the internal cursor without releasing buffer memory, so
// the synchronizers may rewind over bytes they have already inspected.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = s.ring.head() + offset
	default:
		return s.pos, io.ErrUnexpectedEOF
	}
	return s.pos, nil
}

// ReadAt is a positional read: seek to off, then read. It never releases
// buffered bytes.
func (s *Stream) ReadAt(off int64, p []byte) (int, error) {
	s.pos = off
	return s.Read(p)
}

// SeekRelease relocates the cursor to off and, when dequeueing is
// allowed, authorizes the producer to reclaim all bytes below it.
func (s *Stream) SeekRelease(off int64) {
	s.pos = off
	if s.allowDequeue {
		s.ring.release(off)
	}
}

// SetDequeue toggles producer-side release and returns the prior setting.
// The type prober suspends dequeueing around trial syncs so probing does
// not drop bytes the session still needs.
func (s *Stream) SetDequeue(allow bool) bool {
	prior := s.allowDequeue
	s.allowDequeue = allow
	return prior
}

// Write pushes bytes on the producer side, accepting as much as currently
// fits. Safe for one producer goroutine concurrent with the consumer.
func (s *Stream) Write(p []byte) (int, error) {
	return s.ring.write(p)
}

// Writer returns an io.Writer that blocks until the full slice is
// accepted, for producers bridging io.Copy-style sources into the ring.
func (s *Stream) Writer() io.Writer {
	return &blockingWriter{ring: s.ring}
}

type blockingWriter struct {
	ring *Ring
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.ring.write(p[total:])
		if err != nil {
			return total, err
		}
		total += n
		if total < len(p) && n == 0 {
			if !w.ring.waitSpace() {
				return total, ErrClosed
			}
		}
	}
	return total, nil
}

// Buffered returns the resident byte count, for producer-side flow
// decisions.
func (s *Stream) Buffered() int {
	return s.ring.used()
}

// Close ends the stream: writes fail, blocked reads drain what remains
// and then return io.EOF.
func (s *Stream) Close() error {
	s.ring.Close()
	return nil
}
