// Package player implements the audio playback engine (C7): a single
// dedicated worker owns the decoder and output stream lifecycle, serialized
// against synchronous callers by a mutex with a bounded wait, and driven
// asynchronously by a small command mailbox.
package player

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

// Decoder turns an encoded bitstream into PCM samples read out via Read.
// Grounded on the decoder-behind-an-interface shape used to let a player
// swap codec backends without touching session/worker logic.
type Decoder interface {
	Read(p []byte) (int, error)
	Close() error
}

// DecoderFactory constructs a Decoder for a given encoded source.
type DecoderFactory func(r io.ReadCloser) (Decoder, error)

// Output is the PCM sink (the output I2S in the real firmware).
type Output interface {
	Write(p []byte) (int, error)
	Close() error
}

// OutputFactory constructs a fresh Output for a playback session.
type OutputFactory func() (Output, error)

const (
	mailboxDepth  = 8
	minChimeIndex = 0
	maxChimeIndex = 9 // bell_1.aac .. bell_10.aac
	acquireTimeout = 1 * time.Second
)

// commandKind enumerates the player mailbox's variant command.
type commandKind int

const (
	cmdPlayIndex commandKind = iota
	cmdStop
	cmdExit
)

type command struct {
	kind  commandKind
	index int
}

// Config configures a Worker.
type Config struct {
	AudioDir       string
	DecoderFactory DecoderFactory
	OutputFactory  OutputFactory
	Logger         *slog.Logger
}

// Worker owns the decoder/output lifecycle for audio playback and accepts
// commands through a bounded mailbox. Direct synchronous PlayFile callers
// are serialized against the worker session via sessionMu.
type Worker struct {
	cfg Config

	mailbox chan command
	done    chan struct{}

	sessionMu sync.Mutex
	active    *session
}

type session struct {
	stop chan struct{}
	fin  chan struct{}
}

// NewWorker constructs a Worker and starts its goroutine.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.AudioDir == "" {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "player", "NewWorker", fmt.Errorf("audio dir required"))
	}
	w := &Worker{
		cfg:     cfg,
		mailbox: make(chan command, mailboxDepth),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// PlayIndex enqueues a chime playback request. Returns INVALID_ARG for an
// out-of-range index without touching the mailbox.
func (w *Worker) PlayIndex(i int) error {
	if i < minChimeIndex || i > maxChimeIndex {
		return doorbellerr.New(doorbellerr.InvalidArg, "player", "PlayIndex", fmt.Errorf("index %d out of range", i))
	}
	select {
	case w.mailbox <- command{kind: cmdPlayIndex, index: i}:
		return nil
	default:
		return doorbellerr.New(doorbellerr.NoResources, "player", "PlayIndex", fmt.Errorf("mailbox full"))
	}
}

// Stop enqueues a stop request for whatever session is active.
func (w *Worker) Stop() error {
	select {
	case w.mailbox <- command{kind: cmdStop}:
		return nil
	default:
		return doorbellerr.New(doorbellerr.NoResources, "player", "Stop", fmt.Errorf("mailbox full"))
	}
}

// Exit asks the worker goroutine to terminate after finishing any active
// session's unwind.
func (w *Worker) Exit() {
	select {
	case w.mailbox <- command{kind: cmdExit}:
	case <-w.done:
	}
	<-w.done
}

// IndexToPath maps a chime index to its backing file, per the fixed
// bell_<i+1>.aac naming convention.
func (w *Worker) IndexToPath(i int) (string, error) {
	if i < minChimeIndex || i > maxChimeIndex {
		return "", doorbellerr.New(doorbellerr.InvalidArg, "player", "IndexToPath", fmt.Errorf("index %d out of range", i))
	}
	return filepath.Join(w.cfg.AudioDir, fmt.Sprintf("bell_%d.aac", i+1)), nil
}

// PlayFile synchronously plays the file at path, serialized against the
// worker's active session. If the session mutex cannot be acquired within
// acquireTimeout, returns TIMEOUT.
func (w *Worker) PlayFile(path string) error {
	if !w.acquire() {
		return doorbellerr.New(doorbellerr.Timeout, "player", "PlayFile", fmt.Errorf("session busy"))
	}
	defer w.sessionMu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return doorbellerr.New(doorbellerr.InvalidArg, "player", "PlayFile", err)
	}
	return w.runSession(f, nil)
}

func (w *Worker) acquire() bool {
	done := make(chan struct{})
	go func() {
		w.sessionMu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(acquireTimeout):
		return false
	}
}

func (w *Worker) runSession(src io.ReadCloser, stop <-chan struct{}) error {
	if w.cfg.DecoderFactory == nil {
		src.Close()
		return doorbellerr.New(doorbellerr.NotSupported, "player", "runSession", fmt.Errorf("no decoder configured"))
	}
	dec, err := w.cfg.DecoderFactory(src)
	if err != nil {
		src.Close()
		return doorbellerr.New(doorbellerr.Internal, "player", "runSession", err)
	}
	defer dec.Close()

	var out Output
	if w.cfg.OutputFactory != nil {
		out, err = w.cfg.OutputFactory()
		if err != nil {
			return doorbellerr.New(doorbellerr.NoResources, "player", "runSession", err)
		}
		defer out.Close()
	}

	buf := make([]byte, 4096)
	for {
		if stop != nil {
			select {
			case <-stop:
				return nil
			default:
			}
		}
		n, err := dec.Read(buf)
		if n > 0 && out != nil {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return doorbellerr.New(doorbellerr.Internal, "player", "runSession", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return doorbellerr.New(doorbellerr.Internal, "player", "runSession", err)
		}
	}
}

// run is the single mailbox-driven worker goroutine. It implements the
// overlap policy: a new play request arriving while a session is active
// stops the current session and waits for it to unwind before starting.
func (w *Worker) run() {
	defer close(w.done)
	for cmd := range w.mailbox {
		switch cmd.kind {
		case cmdExit:
			w.stopActive()
			return
		case cmdStop:
			w.stopActive()
		case cmdPlayIndex:
			w.stopActive()
			w.startSession(cmd.index)
		}
	}
}

func (w *Worker) startSession(index int) {
	path, err := w.IndexToPath(index)
	if err != nil {
		w.logf("player: %v", err)
		return
	}

	w.sessionMu.Lock()
	s := &session{stop: make(chan struct{}), fin: make(chan struct{})}
	w.active = s
	w.sessionMu.Unlock()

	go func() {
		defer close(s.fin)
		if !w.acquire() {
			w.logf("player: could not acquire session mutex for %s", path)
			return
		}
		defer w.sessionMu.Unlock()

		f, err := os.Open(path)
		if err != nil {
			w.logf("player: open %s: %v", path, err)
			return
		}
		if err := w.runSession(f, s.stop); err != nil {
			w.logf("player: session for %s ended: %v", path, err)
		}
	}()
}

func (w *Worker) stopActive() {
	// active is only touched on the run goroutine. Taking sessionMu here
	// would wait for the playing session itself to finish.
	s := w.active
	w.active = nil
	if s == nil {
		return
	}
	close(s.stop)
	<-s.fin
}

func (w *Worker) logf(format string, args ...interface{}) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}
