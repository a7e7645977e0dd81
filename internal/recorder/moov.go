package recorder

// trackSample records one sample's place in the eventual mdat payload
// along with its duration in the track's timescale.
type trackSample struct {
	size     uint32
	duration uint32 // in track timescale units
	offset   uint32 // absolute byte offset into the segment file, set at finalize time
}

// track accumulates samples for one media track (audio or video) across
// the lifetime of a segment.
type track struct {
	id         uint32
	timescale  uint32
	isVideo    bool
	width      uint32
	height     uint32
	sampleRate uint32
	channels   uint16
	samples    []trackSample
}

func (t *track) totalDuration() uint64 {
	var d uint64
	for _, s := range t.samples {
		d += uint64(s.duration)
	}
	return d
}

// buildMoov renders the movie box for one or more tracks. mvhdDuration and
// each track's own duration are expressed in their respective timescales.
func buildMoov(tracks []*track, movieTimescale uint32, creationTime uint32) []byte {
	var longestMovieDur uint64
	for _, t := range tracks {
		if t.timescale == 0 {
			continue
		}
		movieDur := t.totalDuration() * uint64(movieTimescale) / uint64(t.timescale)
		if movieDur > longestMovieDur {
			longestMovieDur = movieDur
		}
	}

	mvhd := newBox("mvhd").
		u8(0).u8(0).u8(0).u8(0). // version + flags
		u32(creationTime).
		u32(creationTime).
		u32(movieTimescale).
		u32(uint32(longestMovieDur)).
		u32(0x00010000). // rate 1.0
		u16(0x0100).     // volume 1.0
		u16(0).          // reserved
		u32(0).u32(0).   // reserved[2]
		bytes(identityMatrix()).
		bytes(make([]byte, 24)). // pre_defined
		u32(uint32(len(tracks) + 1))

	moov := newBox("moov").child(mvhd)
	for _, t := range tracks {
		moov.child(buildTrak(t, movieTimescale, creationTime))
	}
	return moov.encode()
}

func identityMatrix() []byte {
	m := make([]byte, 36)
	// u,v,w each 4 bytes big-endian fixed-point; identity = [0x10000,0,0, 0,0x10000,0, 0,0,0x40000000]
	vals := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for i, v := range vals {
		m[i*4] = byte(v >> 24)
		m[i*4+1] = byte(v >> 16)
		m[i*4+2] = byte(v >> 8)
		m[i*4+3] = byte(v)
	}
	return m
}

func buildTrak(t *track, movieTimescale, creationTime uint32) *box {
	trackDur := t.totalDuration() * uint64(movieTimescale)
	if t.timescale > 0 {
		trackDur /= uint64(t.timescale)
	}

	tkhd := newBox("tkhd").
		u8(0).u8(0).u8(0).u8(7). // flags: track enabled, in movie, in preview
		u32(creationTime).
		u32(creationTime).
		u32(t.id).
		u32(0). // reserved
		u32(uint32(trackDur)).
		u32(0).u32(0). // reserved[2]
		u16(0).        // layer
		u16(0).        // alternate_group
		u16(boolU16(!t.isVideo)). // volume: 1.0 for audio, 0 for video
		u16(0).
		bytes(identityMatrix()).
		u32(t.width << 16).
		u32(t.height << 16)

	mdia := buildMdia(t, creationTime)

	trak := newBox("trak").child(tkhd).child(mdia)
	return trak
}

func boolU16(b bool) uint16 {
	if b {
		return 0x0100
	}
	return 0
}

func buildMdia(t *track, creationTime uint32) *box {
	mdhd := newBox("mdhd").
		u8(0).u8(0).u8(0).u8(0).
		u32(creationTime).
		u32(creationTime).
		u32(t.timescale).
		u32(uint32(t.totalDuration())).
		u16(0x55c4). // language "und"
		u16(0)

	handlerType, handlerName := "soun", "SoundHandler"
	if t.isVideo {
		handlerType, handlerName = "vide", "VideoHandler"
	}
	hdlr := newBox("hdlr").
		u8(0).u8(0).u8(0).u8(0).
		u32(0). // pre_defined
		str4(handlerType).
		u32(0).u32(0).u32(0). // reserved[3]
		bytes(append([]byte(handlerName), 0))

	minf := buildMinf(t)

	return newBox("mdia").child(mdhd).child(hdlr).child(minf)
}

func buildMinf(t *track) *box {
	minf := newBox("minf")
	if t.isVideo {
		vmhd := newBox("vmhd").u8(0).u8(0).u8(0).u8(1).u16(0).u16(0).u16(0).u16(0)
		minf.child(vmhd)
	} else {
		smhd := newBox("smhd").u8(0).u8(0).u8(0).u8(0).u16(0).u16(0)
		minf.child(smhd)
	}

	dref := newBox("dref").u8(0).u8(0).u8(0).u8(0).u32(1).
		child(newBox("url ").u8(0).u8(0).u8(0).u8(1))
	dinf := newBox("dinf").child(dref)
	minf.child(dinf)

	minf.child(buildStbl(t))
	return minf
}

func buildStbl(t *track) *box {
	stsd := buildStsd(t)
	stts := buildStts(t)
	stsc := buildStsc(t)
	stsz := buildStsz(t)
	stco := buildStco(t)

	return newBox("stbl").child(stsd).child(stts).child(stsc).child(stsz).child(stco)
}

func buildStsd(t *track) *box {
	var entry *box
	if t.isVideo {
		entry = newBox("mjpa").
			bytes(make([]byte, 6)). // reserved
			u16(1).                 // data_reference_index
			u16(0).u16(0).          // pre_defined, reserved
			u32(0).u32(0).u32(0).   // pre_defined[3]
			u16(uint16(t.width)).
			u16(uint16(t.height)).
			u32(0x00480000). // horizresolution 72dpi
			u32(0x00480000). // vertresolution 72dpi
			u32(0).          // reserved
			u16(1).          // frame_count
			bytes(make([]byte, 32)). // compressorname
			u16(0x0018).             // depth
			u16(0xFFFF)              // pre_defined
	} else {
		entry = newBox("sowt").
			bytes(make([]byte, 6)).
			u16(1).
			u16(0).u16(0).
			u32(0).
			u16(t.channels).
			u16(16). // sample size
			u16(0).u16(0).
			u32(t.sampleRate << 16)
	}

	return newBox("stsd").u8(0).u8(0).u8(0).u8(0).u32(1).child(entry)
}

func buildStts(t *track) *box {
	// Run-length encode consecutive equal durations into (count, delta) pairs.
	type run struct {
		count uint32
		delta uint32
	}
	var runs []run
	for _, s := range t.samples {
		if len(runs) > 0 && runs[len(runs)-1].delta == s.duration {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{count: 1, delta: s.duration})
	}

	b := newBox("stts").u8(0).u8(0).u8(0).u8(0).u32(uint32(len(runs)))
	for _, r := range runs {
		b.u32(r.count).u32(r.delta)
	}
	return b
}

func buildStsc(t *track) *box {
	// One sample per chunk throughout: a single entry covering all chunks.
	b := newBox("stsc").u8(0).u8(0).u8(0).u8(0).u32(1)
	b.u32(1).u32(1).u32(1)
	return b
}

func buildStsz(t *track) *box {
	b := newBox("stsz").u8(0).u8(0).u8(0).u8(0).
		u32(0). // sample_size 0 means sizes follow per-entry
		u32(uint32(len(t.samples)))
	for _, s := range t.samples {
		b.u32(s.size)
	}
	return b
}

func buildStco(t *track) *box {
	b := newBox("stco").u8(0).u8(0).u8(0).u8(0).u32(uint32(len(t.samples)))
	for _, s := range t.samples {
		b.u32(s.offset)
	}
	return b
}
