package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/media"
	"github.com/doorbelld/doorbelld/internal/util"
)

// State mirrors the lifecycle shared with the other long-lived components.
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

// Source is satisfied by both audiosrc.Source and videosrc.Source.
type Source interface {
	ReadFrame(ctx context.Context) (media.Frame, error)
}

// Sink receives every frame fanned out by the engine. Implementations must
// not block: the engine pushes into a bounded drop-oldest queue per sink and
// a separate goroutine drains it into Sink.Accept.
type Sink interface {
	Name() string
	Accept(media.Frame)
}

// Config configures an Engine.
type Config struct {
	Audio      Source
	Video      Source
	QueueDepth int // per-sink bound; default 64
	Logger     *slog.Logger
}

// Engine owns the source pair and fans frames out to registered sinks.
type Engine struct {
	cfg   Config
	state atomic.Int32

	mu    sync.Mutex
	sinks map[string]*FrameQueue[media.Frame]

	// Audio-clock synchronization state (§4.3 frame routing rule 2): audio
	// PTS is authoritative, and a video frame is dropped rather than
	// reordered if it lags the newest delivered audio PTS by more than one
	// audio frame duration. audioFrameMS is estimated as the smallest
	// positive delta seen between consecutive audio frames' PTS.
	lastAudioPTS int64
	audioFrameMS int64
	haveAudio    bool

	wg sync.WaitGroup
}

// NewEngine constructs an Engine in StateIdle.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Audio == nil && cfg.Video == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "capture", "NewEngine", fmt.Errorf("at least one source required"))
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	e := &Engine{cfg: cfg, sinks: make(map[string]*FrameQueue[media.Frame])}
	e.state.Store(int32(StateIdle))
	return e, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Name satisfies supervisor.Service: the capture loop is supervised as a
// single named task per §5's task table.
func (e *Engine) Name() string { return "capture" }

// AddSink registers a sink and starts a drain goroutine for it. Safe to
// call before or after Run.
func (e *Engine) AddSink(sink Sink) {
	q := NewFrameQueue[media.Frame](e.cfg.QueueDepth)

	e.mu.Lock()
	e.sinks[sink.Name()] = q
	e.mu.Unlock()

	e.wg.Add(1)
	util.SafeGo(fmt.Sprintf("capture-sink-%s", sink.Name()), nil, func() {
		defer e.wg.Done()
		for {
			frame, ok := q.Pop()
			if !ok {
				return
			}
			sink.Accept(frame)
		}
	}, nil)
}

// RemoveSink unregisters and stops draining a sink.
func (e *Engine) RemoveSink(name string) {
	e.mu.Lock()
	q, ok := e.sinks[name]
	delete(e.sinks, name)
	e.mu.Unlock()
	if ok {
		q.Close()
	}
}

// Run starts the capture loop(s) and blocks until ctx is cancelled or a
// source fails. It never returns nil on a source error; callers (the
// supervisor) decide whether to restart.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return doorbellerr.New(doorbellerr.InvalidState, "capture", "Run", fmt.Errorf("state is %s", e.State()))
	}
	defer e.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))

	// The first source failure cancels the other pump so Run returns it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var running sync.WaitGroup

	if e.cfg.Audio != nil {
		running.Add(1)
		go func() {
			defer running.Done()
			errCh <- e.pumpLoop(runCtx, e.cfg.Audio)
		}()
	}
	if e.cfg.Video != nil {
		running.Add(1)
		go func() {
			defer running.Done()
			errCh <- e.pumpLoop(runCtx, e.cfg.Video)
		}()
	}

	go func() {
		running.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	e.mu.Lock()
	for _, q := range e.sinks {
		q.Close()
	}
	e.mu.Unlock()
	e.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if firstErr != nil {
		e.state.Store(int32(StateFailed))
		return doorbellerr.New(doorbellerr.Internal, "capture", "Run", firstErr)
	}
	return nil
}

func (e *Engine) pumpLoop(ctx context.Context, src Source) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.fanOut(frame)
	}
}

func (e *Engine) fanOut(frame media.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if frame.Kind == media.Audio {
		if e.haveAudio {
			if delta := frame.PTSMillis - e.lastAudioPTS; delta > 0 && (e.audioFrameMS == 0 || delta < e.audioFrameMS) {
				e.audioFrameMS = delta
			}
		}
		e.lastAudioPTS = frame.PTSMillis
		e.haveAudio = true
	} else if e.haveAudio && frame.PTSMillis < e.lastAudioPTS-e.audioFrameMS {
		// Stale video relative to the audio clock: dropped, not reordered.
		return
	}

	for _, q := range e.sinks {
		q.Push(frame)
	}
}
