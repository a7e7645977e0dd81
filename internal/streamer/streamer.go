package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/doorbelld/doorbelld/internal/capture"
	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/media"
	"github.com/doorbelld/doorbelld/internal/stream"
)

const (
	defaultVideoQueueDepth = 24
	defaultAudioQueueDepth = 50
	defaultReconnectFloor  = 1 * time.Second
	defaultReconnectCeil   = 30 * time.Second
	defaultGraceWindow     = 2 * time.Second
)

// Conn is the minimal surface the Sender needs from a live connection,
// satisfied by *websocket.Conn and by a fake in tests.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a new Conn to the configured endpoint. The default dials a
// real websocket; tests inject a fake.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

func defaultDialer(ctx context.Context, endpoint string) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("streamer: invalid endpoint %q: %w", endpoint, err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures a Sender.
type Config struct {
	Endpoint         string
	VideoQueueDepth  int
	AudioQueueDepth  int
	ReconnectTimeout time.Duration // initial reconnect delay; doubles to ReconnectCeil
	ReconnectCeil    time.Duration
	WriteTimeout     time.Duration // per-frame socket write deadline
	GraceWindow      time.Duration // Disable() wait for the sender to unwind
	RateLimitBPS     int           // outbound byte-rate cap; 0 disables shaping
	Dialer           Dialer
	Logger           *slog.Logger
}

// Sender implements capture.Sink. While enabled it maintains a persistent
// connection to a remote endpoint and drains two type-segregated bounded
// queues with strict video-over-audio priority, reconnecting with
// exponential backoff on write failure.
type Sender struct {
	cfg Config

	video *capture.FrameQueue[media.Frame]
	audio *capture.FrameQueue[media.Frame]

	enabled  atomic.Bool
	seqVideo atomic.Uint32
	seqAudio atomic.Uint32

	limiter *rate.Limiter

	mu     sync.Mutex
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender constructs a disabled Sender. Call Enable to start connecting.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Endpoint == "" {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "streamer", "NewSender", fmt.Errorf("endpoint required"))
	}
	if cfg.VideoQueueDepth <= 0 {
		cfg.VideoQueueDepth = defaultVideoQueueDepth
	}
	if cfg.AudioQueueDepth <= 0 {
		cfg.AudioQueueDepth = defaultAudioQueueDepth
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = defaultReconnectFloor
	}
	if cfg.ReconnectCeil <= 0 {
		cfg.ReconnectCeil = defaultReconnectCeil
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}
	s := &Sender{
		cfg:   cfg,
		video: capture.NewFrameQueue[media.Frame](cfg.VideoQueueDepth),
		audio: capture.NewFrameQueue[media.Frame](cfg.AudioQueueDepth),
	}
	if cfg.RateLimitBPS > 0 {
		// Burst generously beyond the steady rate so a single oversized
		// keyframe never trips rate.ErrBurstExceeded in WaitN.
		burst := cfg.RateLimitBPS * 2
		if burst < 1<<20 {
			burst = 1 << 20
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitBPS), burst)
	}
	return s, nil
}

func (s *Sender) Name() string { return "streamer" }

// Accept implements capture.Sink: non-blocking enqueue, silently dropped
// when disabled.
func (s *Sender) Accept(frame media.Frame) {
	if !s.enabled.Load() {
		return
	}
	switch frame.Kind {
	case media.Video:
		s.video.Push(frame)
	case media.Audio:
		s.audio.Push(frame)
	}
}

// Enable starts the connection loop and begins accepting frames. Calling
// Enable while already enabled is a no-op.
func (s *Sender) Enable(ctx context.Context) error {
	if !s.enabled.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.runLoop(runCtx)
	}()
	return nil
}

// Disable closes the connection within a bounded grace window, then drains
// and discards every queued frame exactly once.
func (s *Sender) Disable() error {
	if !s.enabled.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.cfg.GraceWindow):
		}
	}

	s.drain(s.video)
	s.drain(s.audio)
	return nil
}

func (s *Sender) drain(q *capture.FrameQueue[media.Frame]) {
	for q.Len() > 0 {
		if _, ok := q.Pop(); !ok {
			return
		}
	}
}

func (s *Sender) runLoop(ctx context.Context) {
	backoff := stream.NewBackoff(s.cfg.ReconnectTimeout, s.cfg.ReconnectCeil, 0)
	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		conn, err := s.cfg.Dialer(ctx, s.cfg.Endpoint)
		if err != nil {
			s.logEvent("stream_failure", err)
			backoff.RecordFailure()
			if werr := backoff.WaitContext(ctx); werr != nil {
				return
			}
			continue
		}

		s.logEvent("stream_recovery", nil)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		err = s.sendLoop(ctx, conn)
		conn.Close()

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logEvent("stream_failure", err)
		}
		backoff.RecordSuccess(time.Since(started))
		if werr := backoff.WaitContext(ctx); werr != nil {
			return
		}
	}
}

// sendLoop drains the two queues with strict video-over-audio priority
// until ctx is cancelled or a write fails.
func (s *Sender) sendLoop(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sent := false
		if frame, ok := tryPop(s.video); ok {
			if err := s.write(ctx, conn, media.Video, frame); err != nil {
				return err
			}
			sent = true
		} else if frame, ok := tryPop(s.audio); ok {
			if err := s.write(ctx, conn, media.Audio, frame); err != nil {
				return err
			}
			sent = true
		}
		_ = sent
	}
}

func tryPop(q *capture.FrameQueue[media.Frame]) (media.Frame, bool) {
	if q.Len() == 0 {
		var zero media.Frame
		return zero, false
	}
	return q.Pop()
}

func (s *Sender) write(ctx context.Context, conn Conn, kind media.Kind, frame media.Frame) error {
	var seq uint32
	switch kind {
	case media.Video:
		seq = s.seqVideo.Add(1) - 1
	case media.Audio:
		seq = s.seqAudio.Add(1) - 1
	}
	msg := encodeFrame(kind, seq, frame)
	if s.limiter != nil {
		if err := s.limiter.WaitN(ctx, len(msg)); err != nil {
			return err
		}
	}
	if s.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *Sender) logEvent(event string, err error) {
	if s.cfg.Logger == nil {
		return
	}
	if err != nil {
		s.cfg.Logger.Warn("streamer event", "event", event, "endpoint", s.cfg.Endpoint, "error", err)
		return
	}
	s.cfg.Logger.Info("streamer event", "event", event, "endpoint", s.cfg.Endpoint)
}
