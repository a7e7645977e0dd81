// Package recorder implements the MP4 segmenter (C4) and the retention
// reaper (C5). Segments are written natively — no FFmpeg subprocess — so
// the recorder has deterministic control over segment boundaries and can
// guarantee moov precedes mdat for progressive playback, which a
// subprocess pipeline cannot promise across a crash mid-segment.
package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// box is an in-memory ISO-BMFF box builder: a 4-byte size, a 4-byte type,
// and a payload that may itself contain nested boxes.
type box struct {
	typ     string
	payload []byte
}

func newBox(typ string) *box {
	return &box{typ: typ}
}

func (b *box) u8(v uint8) *box {
	b.payload = append(b.payload, v)
	return b
}

func (b *box) u16(v uint16) *box {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.payload = append(b.payload, buf[:]...)
	return b
}

func (b *box) u32(v uint32) *box {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.payload = append(b.payload, buf[:]...)
	return b
}

func (b *box) u64(v uint64) *box {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.payload = append(b.payload, buf[:]...)
	return b
}

func (b *box) bytes(v []byte) *box {
	b.payload = append(b.payload, v...)
	return b
}

func (b *box) str4(v string) *box {
	if len(v) != 4 {
		panic(fmt.Sprintf("str4 requires exactly 4 bytes, got %q", v))
	}
	return b.bytes([]byte(v))
}

func (b *box) child(c *box) *box {
	b.bytes(c.encode())
	return b
}

// encode renders the box including its 8-byte header.
func (b *box) encode() []byte {
	var buf bytes.Buffer
	size := uint32(8 + len(b.payload))
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], size)
	copy(hdr[4:8], []byte(b.typ))
	buf.Write(hdr[:])
	buf.Write(b.payload)
	return buf.Bytes()
}

// ftypBox builds the file-type box identifying this as a progressive-
// download-friendly MP4 (isom/mp42 brands, matching the layout a generic
// HTTP client or browser expects without a "moov atom not found" stall).
func ftypBox() []byte {
	b := newBox("ftyp").
		str4("isom").
		u32(512).
		str4("isom").
		str4("mp42")
	return b.encode()
}

// mdatBox wraps raw sample bytes in an mdat box.
func mdatBox(samples []byte) []byte {
	b := newBox("mdat").bytes(samples)
	return b.encode()
}
