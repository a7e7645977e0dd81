package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/doorbelld/doorbelld/internal/audiosrc"
	"github.com/doorbelld/doorbelld/internal/button"
	"github.com/doorbelld/doorbelld/internal/capture"
	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/control"
	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/health"
	"github.com/doorbelld/doorbelld/internal/heartbeat"
	"github.com/doorbelld/doorbelld/internal/kv"
	"github.com/doorbelld/doorbelld/internal/player"
	"github.com/doorbelld/doorbelld/internal/provisioning"
	"github.com/doorbelld/doorbelld/internal/recorder"
	"github.com/doorbelld/doorbelld/internal/settings"
	"github.com/doorbelld/doorbelld/internal/streamer"
	"github.com/doorbelld/doorbelld/internal/supervisor"
	"github.com/doorbelld/doorbelld/internal/videosrc"

	"log/slog"
)

// Deps lets callers (cmd/doorbelld and tests) substitute the hardware
// collaborators each source/sink normally opens directly, and the BLE
// provisioning collaborator. Nil fields fall back to the real default
// backed by a device string/path from cfg.
type Deps struct {
	AudioDevice    audiosrc.PCMDevice
	VideoDevice    videosrc.Device
	MQTTClient     control.Client
	BLE            provisioning.BLECollaborator
	StreamerDialer streamer.Dialer
	Now            func() time.Time
}

// Build performs §4.13 steps 1-11: mount storage, open KV, load settings,
// resolve network identity/credentials, sync the wall clock, and
// construct (but do not yet start the always-on tasks of) every other
// component. Step 12 (starting capture/reaper) happens in Run.
func Build(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*SystemContext, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	// Step 1: mount storage. The Go rewrite assumes the storage volume is
	// already mounted by the OS; this step validates the directories
	// Lifecycle depends on exist and are writable.
	if err := mountStorage(cfg.Storage); err != nil {
		return nil, doorbellerr.New(doorbellerr.NoResources, "lifecycle", "Build", err)
	}

	// Step 2: initialize KV.
	store, err := kv.Open(cfg.Storage.KVPath)
	if err != nil {
		return nil, doorbellerr.New(doorbellerr.NoResources, "lifecycle", "Build", fmt.Errorf("open kv: %w", err))
	}

	sc := &SystemContext{
		cfg:    cfg,
		logger: logger,
		start:  deps.Now(),
		kv:     store,
	}

	// Step 3: load settings (C10), seeding the configured default the
	// first time the device boots with an empty store.
	sc.settings = settings.New(store)
	if _, ok, err := store.Get(ctx, "settings", "chime_index"); err == nil && !ok {
		_ = sc.settings.SetChimeIndex(ctx, cfg.Settings.DefaultChime)
	}

	// Step 4: initialize network + event dispatch. The target OS network
	// stack is already up by the time this process starts; this step is a
	// named placeholder for that assumption (§9's "Concurrency
	// primitives" note: the Go rewrite doesn't need to bring up a network
	// stack the kernel already manages).
	logf(logger, "lifecycle: network assumed up, proceeding to provisioning")

	// Step 5: resolve Wi-Fi/device credentials, running BLE provisioning
	// until they exist if the device has never been provisioned.
	sc.handoff = provisioning.New(store)
	identity, err := resolveCredentials(ctx, sc.handoff, deps.BLE)
	if err != nil {
		return nil, doorbellerr.New(doorbellerr.Internal, "lifecycle", "Build", fmt.Errorf("resolve credentials: %w", err))
	}
	if identity.DeviceID == "" {
		identity.DeviceID = cfg.Device.DefaultID
	}
	sc.identity = identity

	// Step 6: synchronize wall clock. Fatal on failure per §4.13.
	status, err := syncClock(ctx, cfg.Clock, defaultClockQuery)
	if err != nil {
		return nil, doorbellerr.New(doorbellerr.Timeout, "lifecycle", "Build", fmt.Errorf("clock sync: %w", err))
	}
	sc.ntpStatus = status
	logf(logger, "lifecycle: %s", status)

	// Step 7: initialize control router (C9).
	mqttClient := deps.MQTTClient
	if mqttClient == nil {
		mqttClient, err = newMQTTClient(cfg.Control, identity.DeviceID)
		if err != nil {
			return nil, err
		}
	}
	router, err := control.New(control.Config{
		DeviceID: identity.DeviceID,
		Client:   mqttClient,
		Stream:   sc,
		Settings: sc.settings,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if err := router.Start(); err != nil {
		return nil, doorbellerr.New(doorbellerr.NoResources, "lifecycle", "Build", fmt.Errorf("control start: %w", err))
	}
	sc.control = router

	// Step 8: construct heartbeat (C11); Run starts it.
	heart, err := heartbeat.New(heartbeat.Config{
		Interval:  cfg.Heartbeat.Interval,
		KV:        store,
		Publisher: router,
		Status:    sc,
		FWVersion: cfg.Heartbeat.FWVersion,
		Now:       deps.Now,
	})
	if err != nil {
		return nil, err
	}
	sc.heart = heart

	// Step 9: initialize audio I/O common layer and the audio player (C7).
	audioCaps, videoCaps := negotiatedCaps(cfg)
	audioSrc, err := audiosrc.NewSource(audiosrc.Config{
		DeviceString: cfg.Audio.Device,
		Proposed:     audioCaps,
		ALCGainQ8:    gainDBToQ8(cfg.Audio.ALCGainDB),
		Logger:       logger,
		Device:       deps.AudioDevice,
	})
	if err != nil {
		return nil, err
	}
	sc.audio = audioSrc

	playerWorker, err := player.NewWorker(player.Config{
		AudioDir:       cfg.Storage.AudioDir,
		DecoderFactory: player.DefaultDecoderFactory(),
		OutputFactory:  player.DefaultOutputFactory(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	sc.player = playerWorker

	// Step 10: initialize button (C8), registering the bell callback.
	btn, err := button.New(button.Config{
		Chip:     cfg.Button.Chip,
		Line:     cfg.Button.Line,
		Callback: sc.bellPressed,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	sc.btn = btn

	// Step 11: set up capture (C3) and live streamer (C6). Video is
	// optional: a device-less config runs audio-only.
	var videoSrc *videosrc.Source
	if cfg.Video.Device != "" || deps.VideoDevice != nil {
		videoSrc, err = videosrc.NewSource(videosrc.Config{
			DevicePath: cfg.Video.Device,
			Proposed:   videoCaps,
			Logger:     logger,
			Device:     deps.VideoDevice,
		})
		if err != nil {
			return nil, err
		}
	}
	sc.video = videoSrc

	engine, err := capture.NewEngine(capture.Config{
		Audio:      sc.audio,
		Video:      videoOrNil(sc.video),
		QueueDepth: cfg.Capture.QueueDepth,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	sc.engine = engine

	rec, err := recorder.NewRecorder(recorder.Config{
		Dir:           cfg.Storage.VideoDir,
		SliceDuration: cfg.Recorder.SliceDuration,
		CacheSize:     cfg.Recorder.CacheSize,
		Logger:        logger,
		AudioCaps:     audioCaps,
		VideoCaps:     videoCaps,
		HasAudio:      true,
		HasVideo:      videoSrc != nil,
		Now:           deps.Now,
	})
	if err != nil {
		return nil, err
	}
	sc.recorder = rec
	engine.AddSink(rec)

	sender, err := streamer.NewSender(streamer.Config{
		Endpoint:         cfg.Streamer.Endpoint,
		VideoQueueDepth:  cfg.Streamer.VideoQueueDepth,
		AudioQueueDepth:  cfg.Streamer.AudioQueueDepth,
		ReconnectTimeout: cfg.Streamer.ReconnectTimeout,
		ReconnectCeil:    cfg.Streamer.ReconnectCeil,
		WriteTimeout:     cfg.Streamer.WriteTimeout,
		GraceWindow:      cfg.Streamer.GraceWindow,
		Dialer:           deps.StreamerDialer,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	sc.sender = sender
	engine.AddSink(sender)

	sc.reaper = recorder.NewReaper(recorder.ReaperConfig{
		Dir:            cfg.Storage.VideoDir,
		RetentionHours: cfg.Retention.Hours,
		Logger:         logger,
		CurrentPath:    rec.CurrentPath,
		Now:            deps.Now,
	})

	sc.sup = supervisor.New(supervisor.DefaultConfig())

	return sc, nil
}

// Run implements §4.13 step 12: start the always-on capture task and the
// retention reaper under the inner service-level supervisor, wrap that
// supervisor in a top-level suture.Supervisor for process-level restart,
// and serve the local diagnostics HTTP surface. Blocks until ctx is
// cancelled.
func (sc *SystemContext) Run(ctx context.Context) error {
	if err := sc.sup.Add(sc.engine); err != nil {
		return err
	}
	if err := sc.sup.Add(reaperService{sc.reaper, sc.cfg.Retention.SweepInterval}); err != nil {
		return err
	}
	sc.heart.Start(ctx)

	top := suture.New("doorbelld", suture.Spec{})
	top.Add(supervisorService{sc.sup})

	healthReady := make(chan struct{})
	healthErrCh := make(chan error, 1)
	go func() {
		healthErrCh <- health.ListenAndServeReady(ctx, sc.cfg.Health.Addr, health.NewHandler(sc).WithSystemInfo(sc), healthReady)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- top.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	sc.shutdown()
	return <-healthErrCh
}

func (sc *SystemContext) shutdown() {
	sc.heart.Stop()
	_ = sc.btn.Close()
	sc.player.Exit()
	sc.control.Stop()
	_ = sc.recorder.Close()
	if closer, ok := sc.kv.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// supervisorService adapts internal/supervisor.Supervisor (Run(ctx) error)
// to suture.Service (Serve(ctx) error) so the top-level process
// supervisor can restart the whole service-level tree on a crash.
type supervisorService struct{ sup *supervisor.Supervisor }

func (s supervisorService) Serve(ctx context.Context) error { return s.sup.Run(ctx) }

// reaperService adapts recorder.Reaper's stop-channel Run loop to
// supervisor.Service.
type reaperService struct {
	reaper   *recorder.Reaper
	interval time.Duration
}

func (r reaperService) Name() string { return "reaper" }

func (r reaperService) Run(ctx context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.reaper.Run(stop, r.interval)
	}()
	<-ctx.Done()
	close(stop)
	<-done
	return nil
}

func videoOrNil(v *videosrc.Source) capture.Source {
	if v == nil {
		return nil
	}
	return v
}

// gainDBToQ8 converts a decibel gain into the Q8 fixed-point representation
// audiosrc's ALC stage expects (256 = unity).
func gainDBToQ8(db float64) int {
	if db == 0 {
		return 256
	}
	return int(math.Pow(10, db/20) * 256)
}

func logf(logger *slog.Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Info(fmt.Sprintf(format, args...))
	}
}
