package framing

import "encoding/binary"

// memSource is an in-memory Source that records watermark publications
// and dequeue toggles, so tests can assert on release behavior without a
// live ring buffer.
type memSource struct {
	data      []byte
	watermark int64
	dequeue   bool

	dequeueToggles []bool
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data, dequeue: true}
}

func (m *memSource) ReadAt(off int64, p []byte) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(p, m.data[off:]), nil
}

func (m *memSource) SeekRelease(off int64) {
	if m.dequeue && off > m.watermark {
		m.watermark = off
	}
}

func (m *memSource) SetDequeue(allow bool) bool {
	prior := m.dequeue
	m.dequeue = allow
	m.dequeueToggles = append(m.dequeueToggles, allow)
	return prior
}

// Known-good MPEG-1 Layer III 44.1 kHz headers.
const (
	hdrV1L3_128 = 0xFFFB9000 // 128 kbps, no padding, 417 bytes
	hdrV1L3_160 = 0xFFFBA000 // 160 kbps, no padding, 522 bytes
	hdrV1L3_48k = 0xFFFB9400 // 128 kbps at 48 kHz, 384 bytes
)

// mp3Frame builds one synthetic frame: the header followed by zero
// payload bytes out to the size the header implies.
func mp3Frame(header uint32) []byte {
	h, err := ParseHeader(header)
	if err != nil {
		panic(err)
	}
	frame := make([]byte, h.FrameSize)
	binary.BigEndian.PutUint32(frame, header)
	return frame
}

// id3v2 builds an ID3v2 tag with the given payload length encoded as a
// syncsafe integer.
func id3v2(payloadLen int) []byte {
	tag := make([]byte, id3TagLen+payloadLen)
	copy(tag, "ID3")
	tag[3], tag[4] = 4, 0 // version
	tag[6] = byte(payloadLen>>21) & 0x7F
	tag[7] = byte(payloadLen>>14) & 0x7F
	tag[8] = byte(payloadLen>>7) & 0x7F
	tag[9] = byte(payloadLen) & 0x7F
	return tag
}

// adtsFrame builds one synthetic ADTS frame of the given total size with
// a 44.1 kHz stereo AAC-LC header.
func adtsFrame(size int) []byte {
	frame := make([]byte, size)
	frame[0] = 0xFF
	frame[1] = 0xF1                            // MPEG-4, layer 0, no CRC
	frame[2] = 0x40 | 4<<2                     // AAC-LC, sampling index 4 (44100)
	frame[3] = 2<<6 | byte(size>>11)&0x03      // 2 channels, length bits 12..11
	frame[4] = byte(size >> 3)                 // length bits 10..3
	frame[5] = byte(size&0x07)<<5 | 0x1F       // length bits 2..0
	frame[6] = 0xFC
	return frame
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
