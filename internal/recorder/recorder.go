package recorder

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/media"
)

// namePattern matches the canonical segment filename produced by Name and
// consumed by the reaper. Group order: date, time, tz, index.
var namePattern = regexp.MustCompile(`^capture-(\d{8})_(\d{6})_([A-Za-z0-9+\-]+)-(\d+)\.mp4$`)

// segmentName is the deterministic (slice_index, wall_clock) -> path
// formatter. TZ is the platform strftime-style zone abbreviation ("%Z"),
// not a fixed offset, so names stay correct across a daylight-saving
// transition.
func segmentName(dir string, wall time.Time, sliceIndex int) string {
	zone := wall.Format("MST")
	fname := fmt.Sprintf("capture-%s_%s_%s-%d.mp4", wall.Format("20060102"), wall.Format("150405"), zone, sliceIndex)
	return filepath.Join(dir, fname)
}

// ParseSegmentName extracts the wall-clock time embedded in a segment
// filename. Filenames that don't match the pattern return ok=false so the
// reaper can skip them rather than erroring the whole sweep.
func ParseSegmentName(name string) (wall time.Time, sliceIndex int, ok bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, 0, false
	}
	t, err := time.Parse("20060102150405", m[1]+m[2])
	if err != nil {
		return time.Time{}, 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(m[4], "%d", &idx); err != nil {
		return time.Time{}, 0, false
	}
	return t, idx, true
}

// Config configures a Recorder.
type Config struct {
	Dir           string
	SliceDuration time.Duration // default 10 minutes
	CacheSize     int           // write-behind buffer bytes; default 16 KiB
	Logger        *slog.Logger
	AudioCaps     media.Caps
	VideoCaps     media.Caps
	HasAudio      bool
	HasVideo      bool
	Now           func() time.Time
}

// Recorder implements capture.Sink: it consumes a fanned-out frame stream
// and writes time-sliced MP4 segments, rotating on slice-duration expiry.
// The recorder's open segment is the only file it writes to at any time;
// rotation fully finalizes the previous segment before the next is opened.
type Recorder struct {
	cfg Config

	mu          sync.Mutex
	current     *Segment
	sliceIndex  int
	sliceStart  time.Time
	fatal       error
}

// NewRecorder constructs a Recorder. No segment is opened until the first
// frame arrives.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Dir == "" {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "recorder", "NewRecorder", fmt.Errorf("dir required"))
	}
	if cfg.SliceDuration <= 0 {
		cfg.SliceDuration = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{cfg: cfg}, nil
}

func (r *Recorder) Name() string { return "recorder" }

// Accept implements capture.Sink. It never blocks the caller on I/O beyond
// an in-memory buffer append; Finalize (disk write) only happens at
// rotation boundaries.
func (r *Recorder) Accept(frame media.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fatal != nil {
		return
	}

	now := r.cfg.Now()
	if r.current == nil {
		r.openLocked(now)
	} else if now.Sub(r.sliceStart) >= r.cfg.SliceDuration {
		r.rotateLocked(now)
	}

	if err := r.current.Append(frame); err != nil {
		r.logf("recorder: append failed, aborting segment: %v", err)
		r.abortLocked()
	}
}

func (r *Recorder) openLocked(now time.Time) {
	path := segmentName(r.cfg.Dir, now, r.sliceIndex)
	r.current = NewSegment(path, r.cfg.AudioCaps, r.cfg.VideoCaps, r.cfg.HasAudio, r.cfg.HasVideo, r.cfg.CacheSize)
	r.sliceStart = now
}

// rotateLocked finalizes the previous segment fully before opening the
// next one: the recorder's open segment is the only file it writes to at
// any time, and a finalized segment must be independently playable the
// instant the next one opens.
func (r *Recorder) rotateLocked(now time.Time) {
	prev := r.current
	if err := prev.Finalize(); err != nil {
		r.logf("recorder: finalize failed for %s: %v", prev.Path(), err)
	}
	r.sliceIndex++
	r.openLocked(now)
}

// abortLocked drops the current segment without finalizing it: a best-
// effort close per the failure semantics for filesystem errors mid-segment.
func (r *Recorder) abortLocked() {
	r.current = nil
}

// CurrentPath returns the path of the segment currently being written, or
// "" if none is open. Used by the reaper to avoid deleting an open segment.
func (r *Recorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.Path()
}

// Close finalizes whatever segment is open. Safe to call once at shutdown.
func (r *Recorder) Close() error {
	r.mu.Lock()
	cur := r.current
	r.current = nil
	r.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Finalize()
}

func (r *Recorder) logf(format string, args ...interface{}) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Error(fmt.Sprintf(format, args...))
	}
}
