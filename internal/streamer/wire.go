// Package streamer implements the live streaming transport (C6): it
// consumes the same fanned-out AV sink as the recorder and forwards frames
// to a remote endpoint over a persistent websocket connection, framed with
// a fixed 12-byte header. Delivery favors freshness over reliability: on
// backpressure the oldest queued frame of the same type is dropped rather
// than blocking capture.
package streamer

import (
	"encoding/binary"
	"fmt"

	"github.com/doorbelld/doorbelld/internal/media"
)

// wireMagic identifies the start of a frame header ("AV").
const wireMagic = 0x4156

// Frame type byte values, carried in the wire header.
const (
	wireTypeVideo byte = 1
	wireTypeAudio byte = 2
)

// headerSize is the fixed 12-byte wire header: 2B magic + 1B type +
// 1B reserved + 4B sequence + 4B PTS, all big-endian.
const headerSize = 12

// encodeFrame renders one wire message: header followed by the frame's raw
// payload bytes.
func encodeFrame(kind media.Kind, seq uint32, frame media.Frame) []byte {
	var typ byte
	switch kind {
	case media.Audio:
		typ = wireTypeAudio
	case media.Video:
		typ = wireTypeVideo
	}

	buf := make([]byte, headerSize+len(frame.Data))
	binary.BigEndian.PutUint16(buf[0:2], wireMagic)
	buf[2] = typ
	buf[3] = 0 // reserved
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(frame.PTSMillis))
	copy(buf[headerSize:], frame.Data)
	return buf
}

// wireHeader is the decoded form of a frame's fixed header, used by tests
// and by any future receive-side tooling.
type wireHeader struct {
	Type     byte
	Sequence uint32
	PTS      uint32
}

func decodeHeader(buf []byte) (wireHeader, []byte, error) {
	if len(buf) < headerSize {
		return wireHeader{}, nil, fmt.Errorf("streamer: short frame (%d bytes)", len(buf))
	}
	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != wireMagic {
		return wireHeader{}, nil, fmt.Errorf("streamer: bad magic %#x", magic)
	}
	h := wireHeader{
		Type:     buf[2],
		Sequence: binary.BigEndian.Uint32(buf[4:8]),
		PTS:      binary.BigEndian.Uint32(buf[8:12]),
	}
	return h, buf[headerSize:], nil
}
