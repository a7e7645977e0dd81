// Package heartbeat implements the periodic health-payload scheduler
// (C11): it fires on an interval, assembles a heartbeat payload from
// device identity (loaded from KV at publish time) and live metrics, and
// asks the control router to publish it.
package heartbeat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/kv"
)

const (
	identityNamespace = "wifi_creds"
	keyDeviceID       = "device_id"
	keyDeviceKey      = "device_key"

	deviceKeyLength = 32

	batteryCritical = 5
	batteryFull     = 100
)

// Publisher is satisfied by control.Router.
type Publisher interface {
	PublishHeartbeat(payload []byte) error
}

// StatusSource reports the live metrics a heartbeat carries. All methods
// must be safe to call from the scheduler's own goroutine.
type StatusSource interface {
	SignalStrengthDBm() int
	IsActive() bool
}

// Payload mirrors the wire shape published to the broker.
type Payload struct {
	DeviceID      string `json:"device_id"`
	DeviceKeyHex  string `json:"device_key"`
	TimestampMS   int64  `json:"timestamp_ms"`
	BatteryLevel  int    `json:"battery_level"`
	SignalDBm     int    `json:"signal_strength_dbm"`
	UptimeSeconds int64  `json:"uptime_s"`
	FWVersion     string `json:"fw_version"`
	IsActive      bool   `json:"is_active"`
}

// Config configures a Scheduler.
type Config struct {
	Interval  time.Duration
	KV        kv.Store
	Publisher Publisher
	Status    StatusSource
	FWVersion string
	Now       func() time.Time
	Rand      *rand.Rand
}

// Scheduler fires a periodic timer that assembles and publishes a
// heartbeat. Battery level is a simulated drift: each tick has a 1-in-3
// chance of decrementing, resetting to full once it reaches the critical
// floor, matching the firmware's mock-battery behavior pending real
// hardware.
type Scheduler struct {
	cfg      Config
	start    time.Time
	mu       sync.Mutex
	battery  int
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "heartbeat", "New", fmt.Errorf("interval must be positive"))
	}
	if cfg.KV == nil || cfg.Publisher == nil || cfg.Status == nil {
		return nil, doorbellerr.New(doorbellerr.InvalidArg, "heartbeat", "New", fmt.Errorf("kv, publisher, and status are required"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Now().UnixNano()))
	}
	return &Scheduler{
		cfg:     cfg,
		start:   cfg.Now(),
		battery: batteryFull,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start fires an immediate heartbeat and then one every Interval, until
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		s.tick(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	payload, err := s.buildPayload(ctx)
	if err != nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = s.cfg.Publisher.PublishHeartbeat(body)
}

func (s *Scheduler) buildPayload(ctx context.Context) (Payload, error) {
	deviceID, _, _ := s.cfg.KV.Get(ctx, identityNamespace, keyDeviceID)
	keyHex, _, _ := s.cfg.KV.Get(ctx, identityNamespace, keyDeviceKey)
	if keyHex == "" {
		keyHex = hex.EncodeToString(make([]byte, deviceKeyLength))
	}

	return Payload{
		DeviceID:      deviceID,
		DeviceKeyHex:  keyHex,
		TimestampMS:   s.cfg.Now().UnixMilli(),
		BatteryLevel:  s.nextBatteryLevel(),
		SignalDBm:     s.cfg.Status.SignalStrengthDBm(),
		UptimeSeconds: int64(s.cfg.Now().Sub(s.start).Seconds()),
		FWVersion:     s.cfg.FWVersion,
		IsActive:      s.cfg.Status.IsActive(),
	}, nil
}

// nextBatteryLevel applies the 1-in-3 decrement-with-reset drift.
func (s *Scheduler) nextBatteryLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Rand.Intn(3) == 0 && s.battery > 0 {
		s.battery--
	}
	if s.battery <= batteryCritical {
		s.battery = batteryFull
	}
	return s.battery
}
