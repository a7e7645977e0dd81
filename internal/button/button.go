// Package button implements debounced GPIO button input (C8): the
// interrupt handler only enqueues a timestamp to a bounded queue, and a
// separate servicing goroutine pops events and invokes the registered
// callback in task context, applying the debounce window there rather than
// in the interrupt path.
package button

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

const (
	debounceWindow = 50 * time.Millisecond
	queueDepth     = 8
)

// Config configures a Button.
type Config struct {
	Chip     string // e.g. "gpiochip0"
	Line     int
	Callback func()
	Logger   *slog.Logger
}

// Button watches a single GPIO line for falling-edge presses (active-low
// with an internal pull-up) and delivers debounced press events.
type Button struct {
	cfg    Config
	line   *gpiocdev.Line
	events chan time.Time
	stop   chan struct{}
	done   chan struct{}
}

// New opens the line and starts watching it. Registering a nil callback
// fails INVALID_ARG.
func New(cfg Config) (*Button, error) {
	if cfg.Callback == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "button", "New", fmt.Errorf("callback required"))
	}

	b := &Button{
		cfg:    cfg,
		events: make(chan time.Time, queueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(b.onEdge),
	)
	if err != nil {
		return nil, doorbellerr.New(doorbellerr.NoResources, "button", "New", err)
	}
	b.line = line

	go b.serve()
	return b, nil
}

// newWithoutLine builds a Button whose debounce/servicing loop runs without
// ever opening a real GPIO line, used by tests that exercise onEdge/serve in
// isolation from hardware.
func newWithoutLine(cfg Config) *Button {
	b := &Button{
		cfg:    cfg,
		events: make(chan time.Time, queueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.serve()
	return b
}

// onEdge runs in interrupt/event-delivery context: it only enqueues a
// timestamp, non-blocking, never invoking the callback directly.
func (b *Button) onEdge(evt gpiocdev.LineEvent) {
	select {
	case b.events <- time.Now():
	default:
		// queue full: drop, matching the bounded-queue contract.
	}
}

// serve runs in task context, applying the debounce window and invoking
// the callback outside of interrupt context.
func (b *Button) serve() {
	defer close(b.done)
	var last time.Time
	for {
		select {
		case <-b.stop:
			return
		case t := <-b.events:
			if !last.IsZero() && t.Sub(last) < debounceWindow {
				continue
			}
			last = t
			b.cfg.Callback()
		}
	}
}

// Close stops watching the line and releases it.
func (b *Button) Close() error {
	close(b.stop)
	<-b.done
	if b.line != nil {
		return b.line.Close()
	}
	return nil
}
