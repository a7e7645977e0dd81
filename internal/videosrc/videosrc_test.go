package videosrc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/media"
)

type fakeDevice struct {
	frames [][]byte
	idx    int
	closed bool
}

func (f *fakeDevice) Open(proposed media.Caps) (media.Caps, error) {
	c := proposed
	if c.FrameRate <= 0 {
		c.FrameRate = 15
	}
	c.Format = "MJPG"
	return c, nil
}

func (f *fakeDevice) Read(ctx context.Context) (RawFrame, error) {
	fr := f.frames[f.idx%len(f.frames)]
	f.idx++
	return RawFrame{Data: fr, KeyFrame: true}, nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func TestVideoSourcePTSMonotonic(t *testing.T) {
	dev := &fakeDevice{frames: [][]byte{{0xFF, 0xD8}, {0xFF, 0xD9}}}
	s, err := NewSource(Config{DevicePath: "/dev/video0", Device: dev})
	require.NoError(t, err)

	_, err = s.NegotiateCaps(media.Caps{Width: 1280, Height: 720, FrameRate: 15})
	require.NoError(t, err)

	ctx := context.Background()
	var last int64 = -1
	for i := 0; i < 5; i++ {
		f, err := s.ReadFrame(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f.PTSMillis, last)
		last = f.PTSMillis
	}
}

func TestVideoSourceStopClosesDevice(t *testing.T) {
	dev := &fakeDevice{frames: [][]byte{{1}}}
	s, err := NewSource(Config{DevicePath: "/dev/video0", Device: dev})
	require.NoError(t, err)

	_, err = s.NegotiateCaps(media.Caps{})
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, dev.closed)
	assert.Equal(t, StateStopped, s.State())
}
