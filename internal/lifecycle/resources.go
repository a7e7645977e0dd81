package lifecycle

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// diskLowWarningFraction mirrors the teacher's threshold-pair convention
// (stream.ResourceThresholds: a warning level well below the critical
// one) applied to free disk space instead of process FDs/CPU/memory.
const diskLowWarningFraction = 0.10

// diskUsage holds a single filesystem sample.
type diskUsage struct {
	FreeBytes  uint64
	TotalBytes uint64
}

// lowWarning reports whether free space has fallen below
// diskLowWarningFraction of the total, the same warning/critical
// threshold shape the teacher used for FD/CPU/memory alerts.
func (d diskUsage) lowWarning() bool {
	if d.TotalBytes == 0 {
		return false
	}
	return float64(d.FreeBytes)/float64(d.TotalBytes) < diskLowWarningFraction
}

func (d diskUsage) String() string {
	return fmt.Sprintf("%s free of %s", humanize.Bytes(d.FreeBytes), humanize.Bytes(d.TotalBytes))
}

// statDisk samples free/total bytes for the filesystem backing path.
func statDisk(path string) (diskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return diskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	// #nosec G115 -- Bsize/Blocks/Bavail are platform-sized counters, not user input
	total := uint64(stat.Bsize) * stat.Blocks
	free := uint64(stat.Bsize) * stat.Bavail
	return diskUsage{FreeBytes: free, TotalBytes: total}, nil
}
