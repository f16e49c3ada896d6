package framing

import (
	"encoding/binary"
)

// skipID3 advances past any ID3v2 tags at the start of the stream. The tag
// length is a syncsafe 28-bit integer at bytes 6..9; concatenated tags are
// tolerated. Returns the offset of the first byte after the tags, or false
// if the stream ends inside the 10-byte tag header.
func skipID3(src Source) (int64, bool) {
	var pos int64
	var tag [id3TagLen]byte
	for {
		n, _ := src.ReadAt(pos, tag[:])
		if n < len(tag) {
			return 0, false
		}
		if tag[0] != 'I' || tag[1] != 'D' || tag[2] != '3' {
			return pos, true
		}
		size := int64(tag[6]&0x7F)<<21 | int64(tag[7]&0x7F)<<14 |
			int64(tag[8]&0x7F)<<7 | int64(tag[9]&0x7F)
		pos += id3TagLen + size
	}
}

// ResyncMP3 scans forward from pos for the next confirmed MP3 frame
// boundary. A candidate header must parse cleanly, match the invariant
// bits of matchHeader when matchHeader is non-zero, and chain to
// frameMatchRequired further consistent headers at the offsets its frame
// sizes imply. A rejected candidate resumes scanning one byte later, not
// at the claimed frame size: the size came from an unverified header.
//
// When pos is zero the scan first skips any leading ID3v2 tags. The scan
// gives up after frameResyncMaxCheckBytes or at end of stream, returning
// ok = false. On success it returns the confirmed offset and the raw
// 32-bit header found there.
func ResyncMP3(src Source, matchHeader uint32, pos int64) (int64, uint32, bool) {
	if pos == 0 {
		var ok bool
		if pos, ok = skipID3(src); !ok {
			return 0, 0, false
		}
	}

	start := pos
	buf := make([]byte, frameResyncReadBytes)
	window := buf[:0]
	eos := false

	for {
		if pos >= start+frameResyncMaxCheckBytes {
			return pos, 0, false
		}

		if len(window) < mp3HeaderLen {
			if eos {
				return pos, 0, false
			}
			// Refill behind the unconsumed remainder so the next read
			// continues where the previous buffer ended.
			rem := copy(buf, window)
			n, _ := src.ReadAt(pos+int64(rem), buf[rem:])
			if n <= 0 {
				return pos, 0, false
			}
			eos = n < len(buf)-rem
			window = buf[:rem+n]
			continue
		}

		header := binary.BigEndian.Uint32(window)

		if matchHeader != 0 && header&FixedHeaderMask != matchHeader&FixedHeaderMask {
			pos++
			window = window[1:]
			continue
		}

		h, err := ParseHeader(header)
		if err != nil {
			pos++
			window = window[1:]
			continue
		}

		if confirmMP3(src, pos+int64(h.FrameSize), header) {
			return pos, header, true
		}

		pos++
		window = window[1:]
	}
}

// confirmMP3 chases frameMatchRequired successor headers starting at
// testPos, requiring each to parse and to match the candidate's invariant
// bits. A short read anywhere fails the candidate.
func confirmMP3(src Source, testPos int64, header uint32) bool {
	var tmp [mp3HeaderLen]byte
	for j := 0; j < frameMatchRequired; j++ {
		if n, _ := src.ReadAt(testPos, tmp[:]); n < len(tmp) {
			return false
		}
		test := binary.BigEndian.Uint32(tmp[:])
		if test&FixedHeaderMask != header&FixedHeaderMask {
			return false
		}
		h, err := ParseHeader(test)
		if err != nil {
			return false
		}
		testPos += int64(h.FrameSize)
	}
	return true
}

// InitMP3 syncs to the first confirmed frame of a fresh MP3 stream and
// publishes the release watermark there. The returned header carries the
// session's invariant bits: every later frame must match it under
// FixedHeaderMask.
func InitMP3(src Source) (int64, uint32, error) {
	pos, header, ok := ResyncMP3(src, 0, 0)
	if !ok {
		return 0, 0, ErrResyncExhausted
	}
	src.SeekRelease(pos)

	if _, err := ParseHeader(header); err != nil {
		return 0, 0, err
	}
	return pos, header, nil
}

// NextFrameMP3 reads the next complete MP3 frame at pos into buf. The fast
// path checks the four bytes at pos against the session's fixed header; on
// mismatch the stream has lost sync and the synchronizer relocates it,
// biased toward the original stream parameters. Returns the frame length,
// the advanced position, and ok = false on end of stream or unrecoverable
// desync. Every position advance is published to the source before return
// so the producer may reclaim consumed bytes.
func NextFrameMP3(src Source, pos int64, fixedHeader uint32, buf []byte) (n int, newPos int64, ok bool) {
	newPos = pos
	defer func() {
		if newPos > pos {
			src.SeekRelease(newPos)
		}
	}()

	var hdr [mp3HeaderLen]byte
	var frameSize int
	for {
		if r, _ := src.ReadAt(newPos, hdr[:]); r < len(hdr) {
			return 0, newPos, false
		}
		header := binary.BigEndian.Uint32(hdr[:])

		if header&FixedHeaderMask == fixedHeader&FixedHeaderMask {
			if h, err := ParseHeader(header); err == nil {
				frameSize = h.FrameSize
				break
			}
		}

		// Lost sync.
		p, _, found := ResyncMP3(src, fixedHeader, newPos)
		if !found {
			return 0, newPos, false
		}
		newPos = p
		src.SeekRelease(newPos)
	}

	if frameSize > len(buf) {
		return 0, newPos, false
	}
	if r, _ := src.ReadAt(newPos, buf[:frameSize]); r < frameSize {
		return 0, newPos, false
	}
	newPos += int64(frameSize)
	return frameSize, newPos, true
}
