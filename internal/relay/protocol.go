package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/chime/internal/framing"
)

// Wire record layout, one record per frame on the subscriber stream:
//
//	[type:1][length:4 big-endian][payload:length]
//
// The subscriber's first action after opening its stream is to send one
// line naming the stream key; everything after that flows server to
// client.
const recordHeaderSize = 5

// maxRecordPayload bounds a single record so a corrupt length field
// cannot make a reader allocate unboundedly.
const maxRecordPayload = 64 * 1024

// ErrRecordTooLarge is returned when a record length exceeds
// maxRecordPayload.
var ErrRecordTooLarge = errors.New("relay: record payload too large")

// WriteRecord writes one framed record to w.
func WriteRecord(w io.Writer, t framing.Type, payload []byte) error {
	if len(payload) > maxRecordPayload {
		return ErrRecordTooLarge
	}
	var hdr [recordHeaderSize]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("relay: write record header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("relay: write record payload: %w", err)
	}
	return nil
}

// ReadRecord reads one framed record from r, allocating the payload.
func ReadRecord(r io.Reader) (framing.Type, []byte, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return framing.TypeUnknown, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxRecordPayload {
		return framing.TypeUnknown, nil, ErrRecordTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return framing.TypeUnknown, nil, err
	}
	return framing.Type(hdr[0]), payload, nil
}
