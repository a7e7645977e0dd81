package videosrc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDeviceNode finds a stable /dev/v4l/by-id symlink for the given
// /dev/videoN node, falling back to the node itself if no persistent
// alias exists. USB cameras can enumerate at a different videoN index
// across reboots; callers that persist a device reference in config
// should store the by-id path when available.
func ResolveDeviceNode(videoNode string) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return videoNode
	}

	target := filepath.Base(videoNode)
	for _, entry := range entries {
		linkPath := filepath.Join(byIDDir, entry.Name())
		resolved, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}
		absTarget, err := filepath.Abs(filepath.Join(byIDDir, resolved))
		if err != nil {
			continue
		}
		if strings.HasSuffix(absTarget, target) {
			return linkPath
		}
	}
	return videoNode
}

// EnumerateVideoNodes lists every /dev/video* node in file-name order
// (so video10 sorts before video2). Nodes reserved for metadata or output-only capture (odd indices
// on many USB UVC cameras) are included; callers should still negotiate
// caps and treat a NOT_SUPPORTED result as "not a capture device."
func EnumerateVideoNodes() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("enumerate /dev: %w", err)
	}

	var nodes []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "video") {
			nodes = append(nodes, filepath.Join("/dev", e.Name()))
		}
	}
	return nodes, nil
}
