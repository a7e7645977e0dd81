package streamer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/media"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.msgs = append(c.msgs, cp)
	return nil
}
func (c *fakeConn) Close() error                          { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error     { return nil }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	frame := media.Frame{Kind: media.Video, PTSMillis: 1234, Data: []byte{0xDE, 0xAD}}
	wire := encodeFrame(media.Video, 7, frame)

	hdr, payload, err := decodeHeader(wire)
	require.NoError(t, err)
	assert.Equal(t, wireTypeVideo, hdr.Type)
	assert.Equal(t, uint32(7), hdr.Sequence)
	assert.Equal(t, uint32(1234), hdr.PTS)
	assert.Equal(t, frame.Data, payload)
}

func TestDecodeHeaderRejectsShortOrBadMagic(t *testing.T) {
	_, _, err := decodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)

	bad := make([]byte, headerSize)
	_, _, err = decodeHeader(bad)
	assert.Error(t, err)
}

func TestSenderDropsWhileDisabled(t *testing.T) {
	s, err := NewSender(Config{Endpoint: "ws://example.invalid"})
	require.NoError(t, err)

	s.Accept(media.Frame{Kind: media.Audio})
	assert.Equal(t, 0, s.audio.Len())
}

func TestSenderDeliversFramesOnceEnabled(t *testing.T) {
	conn := &fakeConn{}
	s, err := NewSender(Config{
		Endpoint: "ws://example.invalid",
		Dialer: func(ctx context.Context, endpoint string) (Conn, error) {
			return conn, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Enable(ctx))

	s.Accept(media.Frame{Kind: media.Audio, Data: []byte{1}})
	s.Accept(media.Frame{Kind: media.Video, Data: []byte{2}})

	require.Eventually(t, func() bool { return conn.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disable())
}

func TestSenderFirstWireFrameMatchesHeaderSpec(t *testing.T) {
	conn := &fakeConn{}
	s, err := NewSender(Config{
		Endpoint: "ws://example.invalid",
		Dialer: func(ctx context.Context, endpoint string) (Conn, error) {
			return conn, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Enable(ctx))

	s.Accept(media.Frame{Kind: media.Video, Data: []byte{0xAA}})

	require.Eventually(t, func() bool { return conn.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Disable())

	conn.mu.Lock()
	first := conn.msgs[0]
	conn.mu.Unlock()

	hdr, payload, err := decodeHeader(first)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), hdr.Type, "first video frame on the wire must carry type=0x01 per §6")
	assert.Equal(t, uint32(0), hdr.Sequence, "each type's sequence counter starts at 0")
	assert.Equal(t, []byte{0xAA}, payload)
}

func TestSenderReconnectsOnDialFailure(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	conn := &fakeConn{}

	s, err := NewSender(Config{
		Endpoint: "ws://example.invalid",
		Dialer: func(ctx context.Context, endpoint string) (Conn, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 2 {
				return nil, fmt.Errorf("dial refused")
			}
			return conn, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Enable(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Disable())
}
