// Package lifecycle implements the startup orchestration and top-level
// process supervision described in spec §4.13 (C13): it owns every other
// component's handle behind one explicit SystemContext rather than the
// ambient globals the original firmware used (spec §9, "Global mutable
// state"), and wires github.com/thejerf/suture/v4 as the outermost
// supervisor restarting the inner internal/supervisor service tree.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/doorbelld/doorbelld/internal/audiosrc"
	"github.com/doorbelld/doorbelld/internal/button"
	"github.com/doorbelld/doorbelld/internal/capture"
	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/control"
	"github.com/doorbelld/doorbelld/internal/health"
	"github.com/doorbelld/doorbelld/internal/heartbeat"
	"github.com/doorbelld/doorbelld/internal/kv"
	"github.com/doorbelld/doorbelld/internal/media"
	"github.com/doorbelld/doorbelld/internal/player"
	"github.com/doorbelld/doorbelld/internal/provisioning"
	"github.com/doorbelld/doorbelld/internal/recorder"
	"github.com/doorbelld/doorbelld/internal/settings"
	"github.com/doorbelld/doorbelld/internal/streamer"
	"github.com/doorbelld/doorbelld/internal/supervisor"
	"github.com/doorbelld/doorbelld/internal/videosrc"
)

// SystemContext owns every long-lived component handle constructed during
// startup. Cross-component effects (the bell callback, control-router
// side effects) reach other components only through this struct's
// methods, never through package-level state.
type SystemContext struct {
	cfg    *config.Config
	logger *slog.Logger
	start  time.Time

	kv        kv.Store
	settings  *settings.Store
	handoff   *provisioning.Handoff
	identity  provisioning.Credentials
	ntpStatus string

	audio    *audiosrc.Source
	video    *videosrc.Source
	engine   *capture.Engine
	recorder *recorder.Recorder
	reaper   *recorder.Reaper
	sender   *streamer.Sender
	player   *player.Worker
	btn      *button.Button
	control  *control.Router
	heart    *heartbeat.Scheduler

	sup *supervisor.Supervisor
}

// StartStream implements control.StreamController's start side: enable
// the live streamer. Capture is always-on once step 12 starts it, so
// "ensure capture running" is satisfied by the supervisor's restart
// policy rather than an explicit restart here.
func (sc *SystemContext) StartStream() error {
	return sc.sender.Enable(context.Background())
}

// StopStream implements control.StreamController's stop side: disable the
// live streamer. Capture (and therefore local recording) continues.
func (sc *SystemContext) StopStream() error {
	return sc.sender.Disable()
}

// SignalStrengthDBm implements heartbeat.StatusSource. No real radio
// exists in this rewrite's target (an already-up Linux network stack); a
// fixed placeholder is reported until a platform-specific Wi-Fi query is
// wired in.
func (sc *SystemContext) SignalStrengthDBm() int { return -50 }

// IsActive implements heartbeat.StatusSource: the device is "active" while
// the capture engine is running.
func (sc *SystemContext) IsActive() bool {
	return sc.engine != nil && sc.engine.State() == capture.StateRunning
}

// Services implements health.StatusProvider from the inner supervisor's
// live status table.
func (sc *SystemContext) Services() []health.ServiceInfo {
	statuses := sc.sup.Status()
	infos := make([]health.ServiceInfo, 0, len(statuses))
	for _, st := range statuses {
		info := health.ServiceInfo{
			Name:     st.Name,
			State:    st.State.String(),
			Uptime:   st.Uptime,
			Healthy:  st.State == supervisor.ServiceStateRunning,
			Restarts: st.Restarts,
		}
		if st.LastError != nil {
			info.Error = st.LastError.Error()
			info.Failures = 1
		}
		infos = append(infos, info)
	}
	return infos
}

// SystemInfo implements health.SystemInfoProvider.
func (sc *SystemContext) SystemInfo() health.SystemInfo {
	info := health.SystemInfo{
		NTPSynced:  sc.ntpStatus != "",
		NTPMessage: sc.ntpStatus,
	}
	if d, err := statDisk(sc.cfg.Storage.VideoDir); err == nil {
		info.DiskFreeBytes = d.FreeBytes
		info.DiskTotalBytes = d.TotalBytes
		info.DiskLowWarning = d.lowWarning()
	}
	return info
}

// bellPressed is the effect registered with the button: publish the bell
// event (C9), check the capture task (C3), and request playback of the
// selected chime (C7). A capture engine that is not running is only
// logged; it is not restarted here. Each sub-effect is independently
// best-effort: a streamer/control failure must never suppress the chime,
// and a chime failure must never suppress the event publish.
func (sc *SystemContext) bellPressed() {
	ctx := context.Background()
	now := time.Now()

	payload, err := bellEventPayload(sc.identity, now)
	if err != nil {
		sc.logf("lifecycle: bell event payload build failed: %v", err)
	} else if sc.control != nil {
		if err := sc.control.PublishBellEvent(payload); err != nil {
			sc.logf("lifecycle: bell event publish failed: %v", err)
		}
	}

	if sc.engine != nil && sc.engine.State() != capture.StateRunning {
		sc.logf("lifecycle: bell press observed capture not running (state=%s)", sc.engine.State())
	}

	idx, err := sc.settings.ChimeIndex(ctx)
	if err != nil {
		sc.logf("lifecycle: chime index lookup failed: %v", err)
		return
	}
	if err := sc.player.PlayIndex(idx); err != nil {
		sc.logf("lifecycle: chime playback failed: %v", err)
	}
}

func (sc *SystemContext) logf(format string, args ...interface{}) {
	if sc.logger != nil {
		sc.logger.Info(fmt.Sprintf(format, args...))
	}
}

func negotiatedCaps(cfg *config.Config) (audioCaps, videoCaps media.Caps) {
	audioCaps = media.Caps{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	videoCaps = media.Caps{Width: cfg.Video.Width, Height: cfg.Video.Height}
	return
}
