package recorder

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/doorbelld/doorbelld/internal/media"
)

const (
	movieTimescale  = 1000 // milliseconds
	videoTimescale  = 1000
	defaultSampleRate = 48000

	// DefaultCacheSize is the write-behind buffer size absorbing burst
	// writes during Finalize before they reach disk.
	DefaultCacheSize = 16 * 1024
)

// Segment buffers samples for one recording file in memory and only writes
// bytes to disk on Finalize, so a crash mid-segment never leaves a
// half-written mdat with no moov describing it: the file either doesn't
// exist yet or is complete.
type Segment struct {
	path      string
	cacheSize int

	mu        sync.Mutex
	audio     *track
	video     *track
	payload   bytes.Buffer
	started   time.Time
	lastPTS   map[media.Kind]int64
	haveFirst map[media.Kind]bool
}

// NewSegment creates a segment that will be written to path on Finalize.
// caps describes the negotiated audio/video capabilities feeding this
// segment; either may be the zero value if that track is absent. cacheSize
// bounds the write-behind buffer used to flush ftyp/moov/mdat to disk; <=0
// falls back to DefaultCacheSize.
func NewSegment(path string, audioCaps, videoCaps media.Caps, hasAudio, hasVideo bool, cacheSize int) *Segment {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	s := &Segment{
		path:      path,
		cacheSize: cacheSize,
		started:   time.Now(),
		lastPTS:   make(map[media.Kind]int64),
		haveFirst: make(map[media.Kind]bool),
	}
	if hasAudio {
		rate := audioCaps.SampleRate
		if rate == 0 {
			rate = defaultSampleRate
		}
		s.audio = &track{id: 1, timescale: uint32(rate), sampleRate: uint32(rate), channels: uint16(audioCaps.Channels)}
		if s.audio.channels == 0 {
			s.audio.channels = 1
		}
	}
	if hasVideo {
		s.video = &track{id: 2, timescale: videoTimescale, isVideo: true, width: uint32(videoCaps.Width), height: uint32(videoCaps.Height)}
	}
	return s
}

// Append adds one media frame's payload to the segment.
func (s *Segment) Append(frame media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t *track
	switch frame.Kind {
	case media.Audio:
		t = s.audio
	case media.Video:
		t = s.video
	default:
		return fmt.Errorf("recorder: unknown frame kind %d", frame.Kind)
	}
	if t == nil {
		return fmt.Errorf("recorder: segment has no track for frame kind %d", frame.Kind)
	}

	duration := uint32(t.timescale / 30) // placeholder until a real previous-PTS delta exists
	if s.haveFirst[frame.Kind] {
		delta := frame.PTSMillis - s.lastPTS[frame.Kind]
		if delta > 0 {
			duration = uint32(delta * int64(t.timescale) / 1000)
		}
	}
	s.haveFirst[frame.Kind] = true
	s.lastPTS[frame.Kind] = frame.PTSMillis

	offset := uint32(s.payload.Len())
	s.payload.Write(frame.Data)

	t.samples = append(t.samples, trackSample{
		size:     uint32(len(frame.Data)),
		duration: duration,
		offset:   offset, // relative; rewritten to an absolute file offset in Finalize
	})
	return nil
}

// SampleCount reports how many samples (summed across tracks) have been
// buffered so far, used by the recorder to decide when a segment is empty.
func (s *Segment) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.audio != nil {
		n += len(s.audio.samples)
	}
	if s.video != nil {
		n += len(s.video.samples)
	}
	return n
}

// Finalize writes the segment's ftyp, moov, and mdat boxes to disk in that
// order and closes the file. It is a no-op returning nil if no samples were
// ever appended.
func (s *Segment) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SampleCountLocked() == 0 {
		return nil
	}

	var tracks []*track
	if s.audio != nil && len(s.audio.samples) > 0 {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil && len(s.video.samples) > 0 {
		tracks = append(tracks, s.video)
	}

	ftyp := ftypBox()
	creationTime := uint32(s.started.Unix())

	// First pass: moov with relative (pre-mdat) offsets, to measure its size.
	moovPlaceholder := buildMoov(tracks, movieTimescale, creationTime)
	mdatHeaderSize := 8
	base := uint32(len(ftyp)) + uint32(len(moovPlaceholder)) + uint32(mdatHeaderSize)

	for _, t := range tracks {
		for i := range t.samples {
			t.samples[i].offset += base
		}
	}

	moov := buildMoov(tracks, movieTimescale, creationTime)
	if len(moov) != len(moovPlaceholder) {
		// Absolute offsets never change byte width vs. the relative ones, but
		// guard against a future stco/stsz change breaking that assumption.
		return fmt.Errorf("recorder: moov size changed after offset fixup (%d != %d)", len(moov), len(moovPlaceholder))
	}

	mdat := mdatBox(s.payload.Bytes())

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("recorder: create segment %s: %w", s.path, err)
	}
	defer f.Close()

	// Write through a bounded write-behind buffer rather than issuing a
	// syscall per box/chunk; the mdat payload dominates segment size and is
	// written in cacheSize-bounded chunks instead of one giant write.
	w := bufio.NewWriterSize(f, s.cacheSize)
	if _, err := w.Write(ftyp); err != nil {
		return err
	}
	if _, err := w.Write(moov); err != nil {
		return err
	}
	if _, err := w.Write(mdat); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Segment) SampleCountLocked() int {
	n := 0
	if s.audio != nil {
		n += len(s.audio.samples)
	}
	if s.video != nil {
		n += len(s.video.samples)
	}
	return n
}

// Path returns the destination file path for this segment.
func (s *Segment) Path() string { return s.path }
