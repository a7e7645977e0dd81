// Package videosrc implements the doorbell's video capture source (C2): a
// state-machined wrapper around a V4L2-style MJPEG capture device.
package videosrc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/media"
)

// State mirrors the lifecycle every long-lived doorbelld component follows.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RawFrame is one compressed MJPEG buffer as handed back by the device.
type RawFrame struct {
	Data     []byte
	KeyFrame bool
}

// Device is the hardware collaborator. The default implementation talks to
// a /dev/videoN node via V4L2 ioctls; tests substitute an in-memory fake.
type Device interface {
	Open(proposed media.Caps) (media.Caps, error)
	Read(ctx context.Context) (RawFrame, error)
	Close() error
}

// Config configures a Source.
type Config struct {
	DevicePath string
	Proposed   media.Caps
	Logger     *slog.Logger
	Device     Device // injectable for tests; nil uses the default V4L2 device
}

// Source is the video capture source component.
type Source struct {
	cfg   Config
	state atomic.Int32

	mu         sync.Mutex
	dev        Device
	caps       media.Caps
	frameCount int64
	clock      media.Clock
}

// NewSource constructs a Source in StateIdle. It does not open the device.
func NewSource(cfg Config) (*Source, error) {
	if cfg.DevicePath == "" && cfg.Device == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "videosrc", "NewSource", fmt.Errorf("device path required"))
	}
	s := &Source{cfg: cfg}
	s.state.Store(int32(StateIdle))
	return s, nil
}

func (s *Source) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}

func (s *Source) State() State { return State(s.state.Load()) }

// NegotiateCaps opens the device and caches the negotiated result; the
// caller's proposed value is never mutated.
func (s *Source) NegotiateCaps(proposed media.Caps) (media.Caps, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return media.Caps{}, doorbellerr.New(doorbellerr.InvalidState, "videosrc", "NegotiateCaps", fmt.Errorf("state is %s", s.State()))
	}

	dev := s.cfg.Device
	if dev == nil {
		dev = newV4L2Device(s.cfg.DevicePath)
	}

	negotiated, err := dev.Open(proposed)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return media.Caps{}, doorbellerr.New(doorbellerr.NotSupported, "videosrc", "NegotiateCaps", err)
	}

	s.mu.Lock()
	s.dev = dev
	s.caps = negotiated
	s.mu.Unlock()

	s.state.Store(int32(StateRunning))
	s.logf("videosrc negotiated caps: %+v", negotiated)
	return negotiated, nil
}

func (s *Source) Caps() media.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ReadFrame blocks for the next MJPEG frame and stamps PTS from the
// configured frame rate.
func (s *Source) ReadFrame(ctx context.Context) (media.Frame, error) {
	if s.State() != StateRunning {
		return media.Frame{}, doorbellerr.New(doorbellerr.InvalidState, "videosrc", "ReadFrame", fmt.Errorf("state is %s", s.State()))
	}

	s.mu.Lock()
	dev := s.dev
	caps := s.caps
	s.mu.Unlock()

	raw, err := dev.Read(ctx)
	if err != nil {
		return media.Frame{}, doorbellerr.New(doorbellerr.Internal, "videosrc", "ReadFrame", err)
	}

	fps := caps.FrameRate
	if fps <= 0 {
		fps = 15
	}

	s.mu.Lock()
	s.frameCount++
	pts := s.frameCount * 1000 / int64(fps)
	pts = s.clock.Next(pts)
	s.mu.Unlock()

	return media.Frame{
		Kind:      media.Video,
		PTSMillis: pts,
		Data:      raw.Data,
		KeyFrame:  raw.KeyFrame,
	}, nil
}

// Stop transitions the source to StateStopped and releases the device.
func (s *Source) Stop(ctx context.Context) error {
	for {
		cur := s.State()
		if cur == StateStopped || cur == StateIdle {
			return nil
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
			break
		}
	}

	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()

	var err error
	if dev != nil {
		err = dev.Close()
	}
	s.state.Store(int32(StateStopped))
	return err
}
