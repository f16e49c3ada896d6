package framing

import "bytes"

var (
	id3Magic  = []byte("ID3")
	adifMagic = []byte("ADIF")
)

// Probe classifies the stream type by sniffing prefix bytes and
// trial-syncing. An ID3v2 prefix or a successful MP3 resync means MP3; an
// ADIF prefix is rejected outright (unsupported container); otherwise a
// successful ADTS resync means AAC. Trial syncs run with producer-side
// dequeueing suspended so the probe's positional reads do not authorize
// the producer to drop bytes the session still needs.
func Probe(src Source) Type {
	if probeMP3(src) {
		return TypeMP3
	}
	if probeADTS(src) {
		return TypeAAC
	}
	return TypeUnknown
}

func probeMP3(src Source) bool {
	var tag [id3TagLen]byte
	if n, _ := src.ReadAt(0, tag[:]); n < len(tag) {
		return false
	}
	if bytes.HasPrefix(tag[:], id3Magic) {
		return true
	}

	prior := src.SetDequeue(false)
	_, _, ok := ResyncMP3(src, 0, 0)
	src.SetDequeue(prior)
	return ok
}

func probeADTS(src Source) bool {
	var magic [4]byte
	if n, _ := src.ReadAt(0, magic[:]); n < len(magic) {
		return false
	}
	if bytes.Equal(magic[:], adifMagic) {
		return false
	}

	prior := src.SetDequeue(false)
	_, ok := ResyncADTS(src, 0)
	src.SetDequeue(prior)
	return ok
}
