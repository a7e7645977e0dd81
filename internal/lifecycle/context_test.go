package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/capture"
	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/kv"
	"github.com/doorbelld/doorbelld/internal/media"
	"github.com/doorbelld/doorbelld/internal/player"
	"github.com/doorbelld/doorbelld/internal/provisioning"
	"github.com/doorbelld/doorbelld/internal/settings"
	"github.com/doorbelld/doorbelld/internal/supervisor"
)

func newTestSystemContext(t *testing.T) *SystemContext {
	t.Helper()
	store := kv.NewMemStore()
	worker, err := player.NewWorker(player.Config{
		AudioDir:       t.TempDir(),
		DecoderFactory: player.DefaultDecoderFactory(),
		OutputFactory:  player.DefaultOutputFactory(),
	})
	require.NoError(t, err)
	t.Cleanup(worker.Exit)

	return &SystemContext{
		cfg:      &config.Config{Storage: config.StorageConfig{VideoDir: t.TempDir()}},
		logger:   slog.Default(),
		kv:       store,
		settings: settings.New(store),
		identity: provisioning.Credentials{DeviceID: "doorbell-test"},
		player:   worker,
		sup:      supervisor.New(supervisor.DefaultConfig()),
	}
}

func TestBellPressedIsBestEffortWithoutControlOrCapture(t *testing.T) {
	sc := newTestSystemContext(t)
	// sc.control and sc.engine are both nil: bellPressed must not panic and
	// must still attempt chime playback.
	assert.NotPanics(t, sc.bellPressed)
}

func TestBellPressedSkipsPlaybackWhenChimeIndexUnreadable(t *testing.T) {
	sc := newTestSystemContext(t)
	sc.kv = brokenStore{}
	sc.settings = settings.New(brokenStore{})
	assert.NotPanics(t, sc.bellPressed)
}

func TestSignalStrengthDBmReportsPlaceholder(t *testing.T) {
	sc := newTestSystemContext(t)
	assert.Equal(t, -50, sc.SignalStrengthDBm())
}

func TestIsActiveFalseWithoutEngine(t *testing.T) {
	sc := newTestSystemContext(t)
	assert.False(t, sc.IsActive())
}

func TestIsActiveTrueWhenEngineRunning(t *testing.T) {
	sc := newTestSystemContext(t)
	engine, err := capture.NewEngine(capture.Config{Audio: noopSource{}})
	require.NoError(t, err)
	sc.engine = engine
	go func() { _ = engine.Run(t.Context()) }()
	require.Eventually(t, func() bool {
		return engine.State() == capture.StateRunning
	}, time.Second, time.Millisecond)
	assert.True(t, sc.IsActive())
}

func TestServicesReflectsSupervisorStatus(t *testing.T) {
	sc := newTestSystemContext(t)
	infos := sc.Services()
	assert.Empty(t, infos)
}

func TestSystemInfoReportsNTPAndDisk(t *testing.T) {
	sc := newTestSystemContext(t)
	sc.ntpStatus = "synced against 2 stratum-1 peers, offset 1ms"
	info := sc.SystemInfo()
	assert.True(t, info.NTPSynced)
	assert.Equal(t, sc.ntpStatus, info.NTPMessage)
	assert.Greater(t, info.DiskTotalBytes, uint64(0))
}

type brokenStore struct{}

func (brokenStore) Get(_ context.Context, _, _ string) (string, bool, error) {
	return "", false, assert.AnError
}
func (brokenStore) Set(_ context.Context, _, _, _ string) error { return nil }
func (brokenStore) Delete(_ context.Context, _, _ string) error { return nil }

var _ kv.Store = brokenStore{}

// noopSource is a capture.Source that blocks until its context is
// cancelled, used to keep an Engine in StateRunning without producing
// frames.
type noopSource struct{}

func (noopSource) ReadFrame(ctx context.Context) (media.Frame, error) {
	<-ctx.Done()
	return media.Frame{}, ctx.Err()
}
