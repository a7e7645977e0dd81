package control

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{ err error }

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool  { return true }
func (f *fakeToken) Done() <-chan struct{}           { ch := make(chan struct{}); close(ch); return ch }
func (f *fakeToken) Error() error                    { return f.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeClient struct {
	streamHandler   mqtt.MessageHandler
	settingsHandler mqtt.MessageHandler
	published       []string
}

func (c *fakeClient) Connect() mqtt.Token { return &fakeToken{} }
func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	switch {
	case topic == "doorbell/stream_control/dev1":
		c.streamHandler = cb
	case topic == "doorbell/settings/dev1":
		c.settingsHandler = cb
	}
	return &fakeToken{}
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, topic)
	return &fakeToken{}
}
func (c *fakeClient) Disconnect(quiesce uint) {}
func (c *fakeClient) IsConnected() bool       { return true }

type fakeStream struct {
	started, stopped int
}

func (s *fakeStream) StartStream() error { s.started++; return nil }
func (s *fakeStream) StopStream() error  { s.stopped++; return nil }

type fakeSettings struct {
	lastIndex int
	calls     int
}

func (s *fakeSettings) SetChimeIndex(_ context.Context, i int) error {
	s.calls++
	s.lastIndex = i
	return nil
}

func newTestRouter(t *testing.T) (*Router, *fakeClient, *fakeStream, *fakeSettings) {
	t.Helper()
	client := &fakeClient{}
	stream := &fakeStream{}
	settings := &fakeSettings{}
	r, err := New(Config{DeviceID: "dev1", Client: client, Stream: stream, Settings: settings})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	return r, client, stream, settings
}

func TestStartStreamCommand(t *testing.T) {
	_, client, stream, _ := newTestRouter(t)
	client.streamHandler(nil, &fakeMessage{payload: []byte(`{"action":"start_stream"}`)})
	assert.Equal(t, 1, stream.started)
}

func TestStopStreamCommand(t *testing.T) {
	_, client, stream, _ := newTestRouter(t)
	client.streamHandler(nil, &fakeMessage{payload: []byte(`{"action":"stop_stream"}`)})
	assert.Equal(t, 1, stream.stopped)
}

func TestMalformedStreamControlIgnored(t *testing.T) {
	_, client, stream, _ := newTestRouter(t)
	client.streamHandler(nil, &fakeMessage{payload: []byte(`not json`)})
	assert.Equal(t, 0, stream.started)
	assert.Equal(t, 0, stream.stopped)
}

func TestUnknownStreamActionIgnored(t *testing.T) {
	_, client, stream, _ := newTestRouter(t)
	client.streamHandler(nil, &fakeMessage{payload: []byte(`{"action":"nonsense"}`)})
	assert.Equal(t, 0, stream.started)
	assert.Equal(t, 0, stream.stopped)
}

func TestSetChimeCommand(t *testing.T) {
	_, client, _, settings := newTestRouter(t)
	client.settingsHandler(nil, &fakeMessage{payload: []byte(`{"action":"set_chime","chime_index":3}`)})
	assert.Equal(t, 1, settings.calls)
	assert.Equal(t, 3, settings.lastIndex)
}

func TestPublishHeartbeatUsesDeviceTopic(t *testing.T) {
	r, client, _, _ := newTestRouter(t)
	require.NoError(t, r.PublishHeartbeat([]byte(`{}`)))
	assert.Contains(t, client.published, "doorbell/heartbeat/dev1")
}
