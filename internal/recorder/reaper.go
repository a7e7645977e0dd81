package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// CurrentPathFunc reports the path of the segment presently being written,
// so the reaper never deletes it. Recorder.CurrentPath satisfies this.
type CurrentPathFunc func() string

// ReaperConfig configures the retention sweep.
type ReaperConfig struct {
	Dir             string
	RetentionHours  int
	Logger          *slog.Logger
	CurrentPath     CurrentPathFunc
	Now             func() time.Time
}

// Reaper periodically deletes recorded segments older than a configured
// horizon by parsing their embedded timestamp.
type Reaper struct {
	cfg ReaperConfig
	mu  sync.Mutex
}

func NewReaper(cfg ReaperConfig) *Reaper {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 24
	}
	return &Reaper{cfg: cfg}
}

// Sweep walks the recording directory once and deletes every segment whose
// embedded timestamp is older than the retention horizon. Two concurrent
// Sweep calls never double-delete: the mutex serializes them.
func (r *Reaper) Sweep() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return fmt.Errorf("recorder: reaper read dir: %w", err)
	}

	var openPath string
	if r.cfg.CurrentPath != nil {
		openPath = r.cfg.CurrentPath()
	}

	cutoff := r.cfg.Now().Add(-time.Duration(r.cfg.RetentionHours) * time.Hour)
	var deleted int
	var freedBytes int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		wall, _, ok := ParseSegmentName(entry.Name())
		if !ok {
			continue // filenames that don't match the pattern are skipped
		}
		if !wall.Before(cutoff) {
			continue
		}

		full := filepath.Join(r.cfg.Dir, entry.Name())
		if full == openPath {
			continue // never delete the currently-open segment
		}

		info, statErr := entry.Info()
		if statErr == nil {
			freedBytes += info.Size()
		}

		if err := os.Remove(full); err != nil {
			r.logf("recorder: reaper failed to delete %s: %v", full, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		r.logf("recorder: reaper deleted %d segment(s), freed %s", deleted, humanize.Bytes(uint64(freedBytes)))
	}
	return nil
}

// TotalSize sums the on-disk size of every segment in the recording
// directory, matching segment filenames only.
func (r *Reaper) TotalSize() (int64, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("recorder: reaper total size: %w", err)
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, _, ok := ParseSegmentName(entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Run blocks, sweeping on the given interval until stop is closed. Intended to
// be started as its own supervised goroutine.
func (r *Reaper) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.Sweep(); err != nil {
				r.logf("recorder: reaper sweep failed: %v", err)
			}
		}
	}
}

func (r *Reaper) logf(format string, args ...interface{}) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}
