package lifecycle

import (
	"fmt"
	"os"

	"github.com/doorbelld/doorbelld/internal/config"
)

// mountStorage implements §4.13 step 1. The target OS already mounts the
// removable storage volume; this validates the directories Lifecycle
// depends on exist (creating them if missing) and are writable before any
// other component tries to use them.
func mountStorage(cfg config.StorageConfig) error {
	for _, dir := range []string{cfg.VideoDir, cfg.AudioDir, cfg.LockDir} {
		if dir == "" {
			continue
		}
		// #nosec G301 -- storage directories are administrator-controlled paths
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("mount storage: create %s: %w", dir, err)
		}
	}

	probe, err := os.CreateTemp(cfg.VideoDir, ".doorbelld-write-test-*")
	if err != nil {
		return fmt.Errorf("mount storage: %s not writable: %w", cfg.VideoDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
