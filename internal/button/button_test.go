package button

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/go-gpiocdev"
)

func TestNewRejectsNilCallback(t *testing.T) {
	_, err := New(Config{Chip: "gpiochip0", Line: 4})
	assert.Error(t, err)
}

func TestDebounceSuppressesRapidPresses(t *testing.T) {
	var presses int32
	b := newWithoutLine(Config{Callback: func() { atomic.AddInt32(&presses, 1) }})
	defer b.Close()

	b.onEdge(gpiocdev.LineEvent{})
	b.onEdge(gpiocdev.LineEvent{}) // within debounce window, should be suppressed

	require.Eventually(t, func() bool { return atomic.LoadInt32(&presses) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&presses))
}

func TestPressAfterDebounceWindowIsAccepted(t *testing.T) {
	var presses int32
	b := newWithoutLine(Config{Callback: func() { atomic.AddInt32(&presses, 1) }})
	defer b.Close()

	b.onEdge(gpiocdev.LineEvent{})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&presses) >= 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(debounceWindow + 10*time.Millisecond)
	b.onEdge(gpiocdev.LineEvent{})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&presses) >= 2 }, time.Second, 5*time.Millisecond)
}
