package framing

// MP3 frame header masks. Every frame starts with 11 set sync bits; the
// version, layer, and sampling-rate fields additionally never change
// within one stream, so fixedHeaderMask identifies frames belonging to
// the same session during resync.
const (
	headerSyncMask  = 0xFFE00000
	FixedHeaderMask = 0xFFFE0C00
)

// MPEG version codes as they appear in bits 19-20 of the frame header.
const (
	mpegVersion25  = 0
	mpegVersionBad = 1
	mpegVersion2   = 2
	mpegVersion1   = 3
)

// MPEG layer codes as they appear in bits 17-18 of the frame header.
const (
	mpegLayerBad = 0
	mpegLayer3   = 1
	mpegLayer2   = 2
	mpegLayer1   = 3
)

const (
	bitrateIdxFree = 0x0
	bitrateIdxBad  = 0xF
	srIdxReserved  = 0x3
)

// Sample rate tables in Hz, indexed by the 2-bit sampling-rate field,
// one table per MPEG version.
var (
	samplingRateV1  = [3]int{44100, 48000, 32000}
	samplingRateV2  = [3]int{22050, 24000, 16000}
	samplingRateV25 = [3]int{11025, 12000, 8000}
)

// Bitrate tables in kbps, indexed by bitrate field minus one (index 0 is
// free format, index 15 is forbidden; both are rejected before lookup).
// V1 is MPEG-1; V2 covers MPEG-2 and MPEG-2.5.
var (
	bitrateV1L1 = [14]int{32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448}
	bitrateV2L1 = [14]int{32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256}
	bitrateV1L2 = [14]int{32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384}
	bitrateV1L3 = [14]int{32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	bitrateV2L3 = [14]int{8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
)

// Header is an MP3 frame header decoded field by field.
type Header struct {
	Version    string // "1", "2", or "2.5"
	Layer      int    // 1, 2, or 3
	Bitrate    int    // kbps
	SampleRate int    // Hz
	Padding    bool
	FrameSize  int // bytes, including the 4 header bytes
}

// ParseHeader decodes a 32-bit MP3 frame header (big-endian interpretation
// of four consecutive stream bytes). It returns ErrInvalidHeader if any
// field carries a reserved or unusable value: missing sync bits, reserved
// version or layer, free-format or forbidden bitrate, reserved sampling
// rate. Free format is rejected because the frame size is not derivable
// from the header alone.
func ParseHeader(header uint32) (Header, error) {
	var h Header

	if header&headerSyncMask != headerSyncMask {
		return h, ErrInvalidHeader
	}

	version := (header >> 19) & 0x3
	if version == mpegVersionBad {
		return h, ErrInvalidHeader
	}

	layer := (header >> 17) & 0x3
	if layer == mpegLayerBad {
		return h, ErrInvalidHeader
	}

	bitrateIdx := (header >> 12) & 0xF
	if bitrateIdx == bitrateIdxFree || bitrateIdx == bitrateIdxBad {
		return h, ErrInvalidHeader
	}

	srIdx := (header >> 10) & 0x3
	if srIdx == srIdxReserved {
		return h, ErrInvalidHeader
	}

	switch version {
	case mpegVersion1:
		h.Version = "1"
		h.SampleRate = samplingRateV1[srIdx]
	case mpegVersion2:
		h.Version = "2"
		h.SampleRate = samplingRateV2[srIdx]
	default: // mpegVersion25, version 1 already rejected
		h.Version = "2.5"
		h.SampleRate = samplingRateV25[srIdx]
	}

	h.Padding = (header>>9)&0x1 == 1
	pad := 0
	if h.Padding {
		pad = 1
	}

	// Frame size = samples-per-frame * bitrate / 8 / sample rate + padding,
	// with integer truncation matching real-world encoder framing.
	// Samples per frame: Layer I is 384 everywhere, Layer II is 1152
	// everywhere, Layer III is 1152 for MPEG-1 and 576 for MPEG-2/2.5.
	// Layer I padding is one 4-byte slot, other layers pad one byte.
	if layer == mpegLayer1 {
		h.Layer = 1
		if version == mpegVersion1 {
			h.Bitrate = bitrateV1L1[bitrateIdx-1]
		} else {
			h.Bitrate = bitrateV2L1[bitrateIdx-1]
		}
		h.FrameSize = 384*(h.Bitrate*1000)/8/h.SampleRate + pad*4
		return h, nil
	}

	if version == mpegVersion1 {
		if layer == mpegLayer2 {
			h.Layer = 2
			h.Bitrate = bitrateV1L2[bitrateIdx-1]
		} else {
			h.Layer = 3
			h.Bitrate = bitrateV1L3[bitrateIdx-1]
		}
		h.FrameSize = 1152*(h.Bitrate*1000)/8/h.SampleRate + pad
		return h, nil
	}

	h.Bitrate = bitrateV2L3[bitrateIdx-1]
	if layer == mpegLayer3 {
		h.Layer = 3
		h.FrameSize = 576*(h.Bitrate*1000)/8/h.SampleRate + pad
	} else {
		h.Layer = 2
		h.FrameSize = 1152*(h.Bitrate*1000)/8/h.SampleRate + pad
	}
	return h, nil
}
