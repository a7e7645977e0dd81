package audiosrc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/media"
)

type fakeDevice struct {
	opened  media.Caps
	frames  [][]int16
	idx     int
	closed  bool
}

func (f *fakeDevice) Open(proposed media.Caps) (media.Caps, error) {
	f.opened = proposed
	negotiated := proposed
	negotiated.SampleRate = 48000 // pretend the device settled on its own rate
	return negotiated, nil
}

func (f *fakeDevice) Read(ctx context.Context) (PCMFrame, error) {
	if f.idx >= len(f.frames) {
		f.idx = 0
	}
	fr := f.frames[f.idx]
	f.idx++
	return PCMFrame{Samples: fr}, nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func newTestSource(t *testing.T, dev PCMDevice) *Source {
	t.Helper()
	s, err := NewSource(Config{
		DeviceString: "hw:0,0",
		Device:       dev,
	})
	require.NoError(t, err)
	return s
}

func TestNegotiateCapsDoesNotMutateCallerInput(t *testing.T) {
	dev := &fakeDevice{frames: [][]int16{{1, 2}}}
	s := newTestSource(t, dev)

	proposed := media.Caps{SampleRate: 44100, Channels: 2, Format: "S16_LE"}
	proposedCopy := proposed

	negotiated, err := s.NegotiateCaps(proposed)
	require.NoError(t, err)

	assert.Equal(t, proposedCopy, proposed, "caller's proposed Caps must never be mutated")
	assert.Equal(t, 48000, negotiated.SampleRate)
	assert.Equal(t, negotiated, s.Caps())
}

func TestNegotiateCapsRejectsFromWrongState(t *testing.T) {
	dev := &fakeDevice{frames: [][]int16{{1, 2}}}
	s := newTestSource(t, dev)

	_, err := s.NegotiateCaps(media.Caps{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	_, err = s.NegotiateCaps(media.Caps{SampleRate: 48000, Channels: 2})
	assert.Error(t, err)
}

func TestReadFramePTSMonotonic(t *testing.T) {
	dev := &fakeDevice{frames: [][]int16{
		{1, 2, 3, 4}, // 2 samples/channel at channels=2
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}}
	s := newTestSource(t, dev)

	_, err := s.NegotiateCaps(media.Caps{SampleRate: 48000, Channels: 2, Format: "S16_LE"})
	require.NoError(t, err)

	ctx := context.Background()
	var last int64 = -1
	for i := 0; i < len(dev.frames); i++ {
		f, err := s.ReadFrame(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f.PTSMillis, last)
		last = f.PTSMillis
	}
}

func TestALCBypassesOnOutOfRangeGain(t *testing.T) {
	dev := &fakeDevice{frames: [][]int16{{100, 200}}}
	s := newTestSource(t, dev)
	s.cfg.ALCGainQ8 = 99999 // out of supported range

	_, err := s.NegotiateCaps(media.Caps{SampleRate: 48000, Channels: 2, Format: "S16_LE"})
	require.NoError(t, err)

	f, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, f.Data)

	s.mu.Lock()
	failures := s.alcFailures
	s.mu.Unlock()
	assert.Equal(t, 1, failures, "ALC failure should be counted, not fatal")
}

func TestStopReleasesDevice(t *testing.T) {
	dev := &fakeDevice{frames: [][]int16{{1, 2}}}
	s := newTestSource(t, dev)

	_, err := s.NegotiateCaps(media.Caps{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, dev.closed)
	assert.Equal(t, StateStopped, s.State())
}
