package framing

// AAC sample rate index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// adtsSyncValid reports whether b starts with the ADTS sync word: 12 set
// bits, MPEG-4 or MPEG-2 ID, layer zero. The CRC-protection bit is masked
// out, so both 7- and 9-byte header variants pass.
func adtsSyncValid(b []byte) bool {
	return b[0] == 0xFF && b[1]&0xF6 == 0xF0
}

// adtsFrameSize extracts the 13-bit frame length spanning header bytes
// 3..5. The length covers the header itself plus the AAC payload.
func adtsFrameSize(b []byte) int {
	return int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5])>>5
}

// ADTSInfo describes the stream parameters carried by a confirmed ADTS
// header, letting an AAC session report its format without a decoder.
type ADTSInfo struct {
	SampleRate int
	Channels   int
}

// ParseADTSInfo decodes sample rate and channel configuration from an
// ADTS header. Returns ErrInvalidHeader on a bad sync word or a reserved
// sampling-frequency index.
func ParseADTSInfo(b []byte) (ADTSInfo, error) {
	if len(b) < adtsHeaderLen || !adtsSyncValid(b) {
		return ADTSInfo{}, ErrInvalidHeader
	}
	srIdx := (b[2] >> 2) & 0x0F
	if int(srIdx) >= len(aacSampleRates) {
		return ADTSInfo{}, ErrInvalidHeader
	}
	channels := int((b[2]&0x01)<<2 | (b[3]>>6)&0x03)
	return ADTSInfo{
		SampleRate: aacSampleRates[srIdx],
		Channels:   channels,
	}, nil
}

// ResyncADTS scans forward from pos for the next confirmed ADTS frame
// boundary. The sync word is the full per-candidate validator; a
// candidate is confirmed by finding frameMatchRequired further sync words
// at the offsets its frame-length fields imply. Same envelope and
// byte-granular backtracking as the MP3 synchronizer, with a 9-byte
// lookahead and no ID3 handling: ADTS streams do not carry ID3 tags.
func ResyncADTS(src Source, pos int64) (int64, bool) {
	start := pos
	buf := make([]byte, frameResyncReadBytes)
	window := buf[:0]
	eos := false

	for {
		if pos >= start+frameResyncMaxCheckBytes {
			return pos, false
		}

		if len(window) < adtsHeaderLen {
			if eos {
				return pos, false
			}
			rem := copy(buf, window)
			n, _ := src.ReadAt(pos+int64(rem), buf[rem:])
			if n <= 0 {
				return pos, false
			}
			eos = n < len(buf)-rem
			window = buf[:rem+n]
			continue
		}

		if !adtsSyncValid(window) {
			pos++
			window = window[1:]
			continue
		}

		if confirmADTS(src, pos+int64(adtsFrameSize(window))) {
			return pos, true
		}

		pos++
		window = window[1:]
	}
}

// confirmADTS chases frameMatchRequired successor sync words starting at
// testPos.
func confirmADTS(src Source, testPos int64) bool {
	var tmp [adtsHeaderLen]byte
	for j := 0; j < frameMatchRequired; j++ {
		if n, _ := src.ReadAt(testPos, tmp[:]); n < len(tmp) {
			return false
		}
		if !adtsSyncValid(tmp[:]) {
			return false
		}
		testPos += int64(adtsFrameSize(tmp[:]))
	}
	return true
}

// InitADTS syncs to the first confirmed frame of a fresh ADTS stream and
// publishes the release watermark there.
func InitADTS(src Source) (int64, error) {
	pos, ok := ResyncADTS(src, 0)
	if !ok {
		return 0, ErrResyncExhausted
	}
	src.SeekRelease(pos)
	return pos, nil
}

// NextFrameADTS reads the next complete ADTS frame at pos into buf,
// resyncing on a failed sync-word check. Analogous to NextFrameMP3.
func NextFrameADTS(src Source, pos int64, buf []byte) (n int, newPos int64, ok bool) {
	newPos = pos
	defer func() {
		if newPos > pos {
			src.SeekRelease(newPos)
		}
	}()

	var hdr [adtsHeaderLen]byte
	var frameSize int
	for {
		if r, _ := src.ReadAt(newPos, hdr[:]); r < len(hdr) {
			return 0, newPos, false
		}
		if adtsSyncValid(hdr[:]) {
			frameSize = adtsFrameSize(hdr[:])
			break
		}

		// Lost sync.
		p, found := ResyncADTS(src, newPos)
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
