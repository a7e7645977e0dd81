// Package control implements the control router (C9): an MQTT client that
// subscribes to per-device command topics, translates inbound JSON messages
// into pipeline state transitions, and publishes heartbeat/bell events.
// Malformed or out-of-range payloads are logged and ignored; they never
// mutate state.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

const (
	topicStreamControl = "doorbell/stream_control/%s"
	topicSettings      = "doorbell/settings/%s"
	topicHeartbeat     = "doorbell/heartbeat/%s"
	topicBellEvent     = "doorbell/bell_event/%s"

	connectTimeout = 10 * time.Second
)

// StreamController is satisfied by the capture/streamer pairing (C3/C6).
type StreamController interface {
	StartStream() error
	StopStream() error
}

// SettingsStore is satisfied by C10.
type SettingsStore interface {
	SetChimeIndex(ctx context.Context, i int) error
}

// Client is the subset of paho's mqtt.Client this package depends on, kept
// narrow so tests can inject a fake instead of a real broker connection.
type Client interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Config configures a Router.
type Config struct {
	DeviceID string
	Client   Client
	Stream   StreamController
	Settings SettingsStore
	Logger   *slog.Logger
}

type streamControlMsg struct {
	Action string `json:"action"`
}

type settingsMsg struct {
	Action     string `json:"action"`
	ChimeIndex int    `json:"chime_index"`
}

// Router owns the MQTT session and dispatches inbound commands.
type Router struct {
	cfg Config
}

// New validates configuration and constructs a Router. It does not connect;
// call Start for that.
func New(cfg Config) (*Router, error) {
	if cfg.DeviceID == "" {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "control", "New", fmt.Errorf("device id required"))
	}
	if cfg.Client == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "control", "New", fmt.Errorf("client required"))
	}
	return &Router{cfg: cfg}, nil
}

// Start connects and subscribes to this device's command topics.
func (r *Router) Start() error {
	token := r.cfg.Client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return doorbellerr.New(doorbellerr.Timeout, "control", "Start", fmt.Errorf("connect timed out"))
	}
	if err := token.Error(); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "control", "Start", err)
	}

	streamTopic := fmt.Sprintf(topicStreamControl, r.cfg.DeviceID)
	if t := r.cfg.Client.Subscribe(streamTopic, 1, r.onStreamControl); t.Wait() && t.Error() != nil {
		return doorbellerr.New(doorbellerr.Internal, "control", "Start", t.Error())
	}

	settingsTopic := fmt.Sprintf(topicSettings, r.cfg.DeviceID)
	if t := r.cfg.Client.Subscribe(settingsTopic, 1, r.onSettings); t.Wait() && t.Error() != nil {
		return doorbellerr.New(doorbellerr.Internal, "control", "Start", t.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (r *Router) Stop() {
	r.cfg.Client.Disconnect(250)
}

func (r *Router) onStreamControl(_ mqtt.Client, msg mqtt.Message) {
	var m streamControlMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		r.logf("control: malformed stream_control payload: %v", err)
		return
	}
	switch m.Action {
	case "start_stream":
		if err := r.cfg.Stream.StartStream(); err != nil {
			r.logf("control: start_stream failed: %v", err)
		}
	case "stop_stream":
		if err := r.cfg.Stream.StopStream(); err != nil {
			r.logf("control: stop_stream failed: %v", err)
		}
	default:
		r.logf("control: unknown stream_control action %q", m.Action)
	}
}

func (r *Router) onSettings(_ mqtt.Client, msg mqtt.Message) {
	var m settingsMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		r.logf("control: malformed settings payload: %v", err)
		return
	}
	if m.Action != "set_chime" {
		r.logf("control: unknown settings action %q", m.Action)
		return
	}
	if err := r.cfg.Settings.SetChimeIndex(context.Background(), m.ChimeIndex); err != nil {
		r.logf("control: set_chime rejected: %v", err)
	}
}

// PublishHeartbeat publishes a pre-assembled heartbeat payload (C11 builds
// it; this package only knows how to put bytes on the wire).
func (r *Router) PublishHeartbeat(payload []byte) error {
	topic := fmt.Sprintf(topicHeartbeat, r.cfg.DeviceID)
	return r.publish(topic, payload)
}

// PublishBellEvent publishes a pre-assembled bell-press event payload.
func (r *Router) PublishBellEvent(payload []byte) error {
	topic := fmt.Sprintf(topicBellEvent, r.cfg.DeviceID)
	return r.publish(topic, payload)
}

func (r *Router) publish(topic string, payload []byte) error {
	token := r.cfg.Client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(connectTimeout) {
		return doorbellerr.New(doorbellerr.Timeout, "control", "publish", fmt.Errorf("publish to %s timed out", topic))
	}
	if err := token.Error(); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "control", "publish", err)
	}
	return nil
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Warn(fmt.Sprintf(format, args...))
	}
}
