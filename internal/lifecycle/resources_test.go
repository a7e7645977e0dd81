package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiskUsageLowWarning(t *testing.T) {
	tests := []struct {
		name string
		d    diskUsage
		want bool
	}{
		{"plenty free", diskUsage{FreeBytes: 80, TotalBytes: 100}, false},
		{"below ten percent", diskUsage{FreeBytes: 5, TotalBytes: 100}, true},
		{"exactly at threshold", diskUsage{FreeBytes: 10, TotalBytes: 100}, false},
		{"zero total never warns", diskUsage{FreeBytes: 0, TotalBytes: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.lowWarning())
		})
	}
}

func TestStatDiskOnRealPath(t *testing.T) {
	d, err := statDisk(t.TempDir())
	assert.NoError(t, err)
	assert.Greater(t, d.TotalBytes, uint64(0))
}

func TestStatDiskOnMissingPath(t *testing.T) {
	_, err := statDisk("/nonexistent/surely/not/here")
	assert.Error(t, err)
}

func TestDiskUsageString(t *testing.T) {
	d := diskUsage{FreeBytes: 1024, TotalBytes: 2048}
	assert.Contains(t, d.String(), "free of")
}
