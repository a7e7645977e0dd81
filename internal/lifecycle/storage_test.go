package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/config"
)

func TestMountStorageCreatesMissingDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.StorageConfig{
		VideoDir: filepath.Join(base, "video"),
		AudioDir: filepath.Join(base, "audio"),
		LockDir:  filepath.Join(base, "lock"),
	}

	require.NoError(t, mountStorage(cfg))

	for _, dir := range []string{cfg.VideoDir, cfg.AudioDir, cfg.LockDir} {
		assert.DirExists(t, dir)
	}
}

func TestMountStorageFailsWhenVideoDirPathIsBlockedByAFile(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-directory")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.StorageConfig{VideoDir: filepath.Join(blocker, "video")}
	assert.Error(t, mountStorage(cfg))
}
