package decode

import (
	"bytes"
	"io"
)

// frameFIFO bridges the per-frame push contract to the pull-style
// io.Reader the MP3 decoder library expects. Reads against an open but
// empty FIFO fail with io.ErrNoProgress rather than blocking, so the
// adapter can detect when the decoder wants more compressed input and
// return control to the caller instead of stalling the pump.
type frameFIFO struct {
	buf    bytes.Buffer
	closed bool
}

func (f *frameFIFO) push(frame []byte) {
	f.buf.Write(frame)
}

func (f *frameFIFO) Read(p []byte) (int, error) {
	if f.buf.Len() == 0 {
		if f.closed {
			return 0, io.EOF
		}
		return 0, io.ErrNoProgress
	}
	return f.buf.Read(p)
}

func (f *frameFIFO) len() int {
	return f.buf.Len()
}

func (f *frameFIFO) close() {
	f.closed = true
}
