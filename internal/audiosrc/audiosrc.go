// Package audiosrc implements the doorbell's audio capture source (C1): a
// state-machined wrapper around a PCM capture device that negotiates
// capabilities once, applies automatic level control, and stamps outgoing
// frames with a monotonic PTS.
package audiosrc

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

// PCMFrame is one buffer of interleaved PCM samples read from a device.
type PCMFrame struct {
	Samples []int16 // interleaved, channels per caps.Channels
}

// PCMDevice is the hardware collaborator; the default implementation talks
// to an ALSA-style capture device string ("hw:0,0"), but tests substitute
// an in-memory fake.
type PCMDevice interface {
	// Open negotiates the closest supported match to proposed and returns
	// the caps actually in effect.
	Open(proposed media.Caps) (media.Caps, error)
	// Read blocks until one frame is available or ctx is cancelled.
	Read(ctx context.Context) (PCMFrame, error)
	Close() error
}

// Config configures a Source.
type Config struct {
	DeviceString string // e.g. "hw:0,0"
	Proposed     media.Caps
	ALCGainQ8    int // per-channel static gain, Q8 fixed point (256 = unity)
	Logger       *slog.Logger
	Device       PCMDevice // injectable for tests; nil uses the default ALSA device
}

// Source is the audio capture source component.
type Source struct {
	cfg   Config
	state atomic.Int32

	mu          sync.Mutex
	dev         PCMDevice
	caps        media.Caps
	cumSamples  int64
	clock       media.Clock
	alcFailures int
}

// NewSource constructs a Source in StateIdle. It does not open the device.
func NewSource(cfg Config) (*Source, error) {
	if cfg.DeviceString == "" && cfg.Device == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "audiosrc", "NewSource", fmt.Errorf("device string required"))
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

// State returns the current lifecycle state.
func (s *Source) State() State { return State(s.state.Load()) }

// NegotiateCaps opens the device (if not already open) and caches the
// negotiated result. The caller's proposed value is never mutated; only
// Source.caps is written.
func (s *Source) NegotiateCaps(proposed media.Caps) (media.Caps, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return media.Caps{}, doorbellerr.New(doorbellerr.InvalidState, "audiosrc", "NegotiateCaps", fmt.Errorf("state is %s", s.State()))
	}

	dev := s.cfg.Device
	if dev == nil {
		dev = newALSADevice(s.cfg.DeviceString)
	}

	negotiated, err := dev.Open(proposed)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return media.Caps{}, doorbellerr.New(doorbellerr.NotSupported, "audiosrc", "NegotiateCaps", err)
	}

	s.mu.Lock()
	s.dev = dev
	s.caps = negotiated
	s.mu.Unlock()

	s.state.Store(int32(StateRunning))
	s.logf("audiosrc negotiated caps: %+v", negotiated)
	return negotiated, nil
}

// Caps returns the last negotiated capabilities.
func (s *Source) Caps() media.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ReadFrame blocks for the next frame, applies ALC, and stamps PTS.
func (s *Source) ReadFrame(ctx context.Context) (media.Frame, error) {
	if s.State() != StateRunning {
		return media.Frame{}, doorbellerr.New(doorbellerr.InvalidState, "audiosrc", "ReadFrame", fmt.Errorf("state is %s", s.State()))
	}

	s.mu.Lock()
	dev := s.dev
	caps := s.caps
	s.mu.Unlock()

	pcm, err := dev.Read(ctx)
	if err != nil {
		return media.Frame{}, doorbellerr.New(doorbellerr.Internal, "audiosrc", "ReadFrame", err)
	}

	applyALC(pcm.Samples, s.cfg.ALCGainQ8, s.onALCFailure)

	channels := caps.Channels
	if channels <= 0 {
		channels = 1
	}
	samplesPerChannel := int64(len(pcm.Samples) / channels)

	s.mu.Lock()
	s.cumSamples += samplesPerChannel
	pts := media.PTSFromSamples(s.cumSamples, caps.SampleRate)
	pts = s.clock.Next(pts)
	s.mu.Unlock()

	return media.Frame{
		Kind:      media.Audio,
		PTSMillis: pts,
		Data:      int16ToBytes(pcm.Samples),
		KeyFrame:  true,
	}, nil
}

func (s *Source) onALCFailure(err error) {
	s.mu.Lock()
	s.alcFailures++
	s.mu.Unlock()
	s.logf("audiosrc ALC bypass after failure: %v", err)
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

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
