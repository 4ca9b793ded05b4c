package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/quillsync/quill/internal/syncerr"
)

// Frame layout: [4-byte big-endian payload length][1-byte envelope type]
// [payload]. The length covers the payload only.
const (
	headerSize = 5

	// MaxFrameSize caps a single payload. A chunk envelope tops out well
	// under 128KiB after JSON base64 overhead, and control envelopes are
	// tiny, so anything larger is a corrupt or hostile stream.
	MaxFrameSize = 4 << 20
)

// WriteFrame marshals v and writes one frame to w.
func WriteFrame(w io.Writer, typ byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSerialization, err, "marshal %s envelope", MsgName(typ))
	}
	if len(payload) > MaxFrameSize {
		return syncerr.New(syncerr.KindSerialization, "%s envelope exceeds frame cap (%d bytes)", MsgName(typ), len(payload))
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(payload)))
	hdr[4] = typ
	if _, err := w.Write(hdr[:]); err != nil {
		return syncerr.Wrap(syncerr.KindNetwork, err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return syncerr.Wrap(syncerr.KindNetwork, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one frame from r and returns its type and raw payload.
// Decoding into a concrete envelope is the caller's job, via Decode, once the
// type is known.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, err
		}
		return 0, nil, syncerr.Wrap(syncerr.KindNetwork, err, "read frame header")
	}
	size := binary.BigEndian.Uint32(hdr[:4])
	if size > MaxFrameSize {
		return 0, nil, syncerr.New(syncerr.KindNetwork, "frame of %d bytes exceeds cap", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, syncerr.Wrap(syncerr.KindNetwork, err, "read %s payload", MsgName(hdr[4]))
	}
	return hdr[4], payload, nil
}

// Decode unmarshals a frame payload into v.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return syncerr.Wrap(syncerr.KindSerialization, err, "decode envelope")
	}
	return nil
}

// DecodeAs is Decode with the expected type checked first, for call sites
// that demand exactly one envelope kind next on the wire.
func DecodeAs[T any](typ, want byte, payload []byte) (T, error) {
	var v T
	if typ != want {
		return v, syncerr.New(syncerr.KindNetwork, "expected %s, got %s", MsgName(want), MsgName(typ))
	}
	if err := Decode(payload, &v); err != nil {
		return v, fmt.Errorf("%s: %w", MsgName(want), err)
	}
	return v, nil
}
