// Package media holds the data types shared across the capture, recording,
// and streaming pipeline: frames, capability negotiation, and the PTS clock
// rules every sink downstream depends on.
package media

import "time"

// Kind distinguishes the two media types the pipeline carries.
type Kind int

const (
	Audio Kind = iota
	Video
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "audio"
}

// Frame is one unit of encoded or raw media handed from a source to the
// capture engine's fan-out. PTSMillis is always monotonically
// non-decreasing within a single source's frame sequence.
type Frame struct {
	Kind      Kind
	PTSMillis int64
	Data      []byte
	KeyFrame  bool // video only; always true for audio
}

// Caps describes a negotiable set of source parameters. A caller proposes a
// Caps value; NegotiateCaps returns the actual caps the source settled on,
// which may differ from what was proposed.
type Caps struct {
	SampleRate int    // audio: Hz; video: 0 (unused)
	Channels   int    // audio: channel count; video: 0 (unused)
	Width      int    // video: pixels; audio: 0 (unused)
	Height     int    // video: pixels; audio: 0 (unused)
	FrameRate  int    // video: frames/sec; audio: 0 (unused)
	Format     string // audio: "S16_LE" etc.; video: fourcc e.g. "MJPG"
}

// PTSFromSamples computes a PTS in milliseconds from a cumulative sample
// count and sample rate: pts_ms = floor(cumulative_samples * 1000 / sample_rate).
func PTSFromSamples(cumulativeSamples int64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return cumulativeSamples * 1000 / int64(sampleRate)
}

// Clock tracks a monotonically increasing PTS for one source, rejecting
// any computed value that would go backwards relative to the last one
// emitted (the source instead repeats the last value).
type Clock struct {
	last int64
	set  bool
}

// Next returns a PTS value that is never less than the previous one returned.
func (c *Clock) Next(candidate int64) int64 {
	if c.set && candidate < c.last {
		candidate = c.last
	}
	c.last = candidate
	c.set = true
	return candidate
}

// Reset clears the clock, e.g. when a source restarts after a gap.
func (c *Clock) Reset() {
	c.last = 0
	c.set = false
}

// Now is the wall-clock source used for log timestamps and segment naming.
// Exists so tests can substitute a fixed clock.
type Now func() time.Time

// SystemNow is the default Now implementation.
func SystemNow() time.Time { return time.Now() }
